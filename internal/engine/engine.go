// Package engine executes workflow graphs as ordered agent pipelines.
//
// Execution is strictly sequential: nodes run one at a time in resolved
// order, each receiving the previous node's output, and the run halts at
// the first failure. The engine never lets an agent fault escape as a
// panic; every outcome is captured on the execution record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmesh/flowmesh/internal/agent"
	"github.com/flowmesh/flowmesh/internal/execlog"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/pkg/types"
)

// Caller contract violations. These are the only conditions under which
// ExecuteWorkflow returns a non-nil error; every workflow-content failure
// is represented on the returned record instead.
var (
	ErrNilWorkflow      = errors.New("workflow must not be nil")
	ErrEmptyExecutionID = errors.New("execution id must not be empty")
)

// EventSink receives events as an execution progresses. Implementations
// must be safe for concurrent use and must not block for long; the engine
// calls Emit inline between agent invocations.
type EventSink interface {
	Emit(ctx context.Context, executionID string, event *types.EventInput)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, executionID string, event *types.EventInput)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, executionID string, event *types.EventInput) {
	f(ctx, executionID, event)
}

// Engine runs workflows. It is safe for concurrent use across distinct
// execution ids; each invocation owns its execution record exclusively
// until ExecuteWorkflow returns.
type Engine struct {
	registry *agent.Registry
	logs     execlog.Store
	events   EventSink
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventSink routes execution events to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithLogger sets the operational logger. Structured execution log entries
// always go to the execution log store regardless.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine backed by the given agent registry and execution
// log store.
func New(registry *agent.Registry, logs execlog.Store, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		logs:     logs,
		logger:   slog.Default(),
		tracer:   otel.Tracer("flowmesh/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteWorkflow runs every node of the workflow in resolved order,
// threading each node's output into the next, and returns the finalized
// execution record. The record is completed when every node succeeds and
// failed as soon as one node fails; later nodes never run. A non-nil error
// is returned only for caller contract violations detected before any
// execution begins.
//
// The context is checked between node invocations: cancellation fails the
// record before the next node starts but never interrupts a node mid-flight.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf *types.Workflow, input interface{}, executionID string) (*types.Execution, error) {
	if wf == nil {
		return nil, ErrNilWorkflow
	}
	if executionID == "" {
		return nil, ErrEmptyExecutionID
	}

	now := time.Now().UTC()
	exec := &types.Execution{
		ID:         executionID,
		WorkflowID: wf.ID,
		Status:     types.ExecutionStatusRunning,
		Input:      input,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	metrics.ExecutionsActive.Inc()
	defer metrics.ExecutionsActive.Dec()

	ctx, span := e.tracer.Start(ctx, "engine.execute_workflow", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("workflow.name", wf.Name),
		attribute.String("execution.id", executionID),
	))
	defer span.End()

	// A fault anywhere outside the per-node recovery still must surface as
	// a failed record, never a panic across the caller boundary.
	defer func() {
		if r := recover(); r != nil {
			if exec.Status.Terminal() {
				return
			}
			msg := fmt.Sprintf("internal error: %v", r)
			e.logError(ctx, executionID, "engine", msg)
			e.failExecution(ctx, exec, msg)
		}
	}()

	e.logInfo(ctx, executionID, "engine", fmt.Sprintf("Starting workflow execution: %s", wf.Name))
	e.emitExecutionStatus(ctx, exec)

	order := ResolveOrder(wf)
	if len(order) == 0 {
		// An empty graph completes immediately with empty results.
		e.completeExecution(ctx, exec, nil)
		e.logInfo(ctx, executionID, "engine", "Workflow completed: 0 agents executed, 0 tokens used")
		return exec, nil
	}

	currentOutput := input
	for i, node := range order {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.logError(ctx, executionID, node.ID, fmt.Sprintf("Execution cancelled before agent %s: %v", node.Name, ctxErr))
			e.failExecution(ctx, exec, fmt.Sprintf("execution cancelled: %v", ctxErr))
			return exec, nil
		}

		e.logInfo(ctx, executionID, node.ID, fmt.Sprintf("Executing agent: %s", node.Name))
		e.emitAgentRunning(ctx, executionID, node)

		ae := e.runNode(ctx, wf, executionID, node, currentOutput)
		exec.AgentExecutions = append(exec.AgentExecutions, ae)
		exec.UpdatedAt = time.Now().UTC()

		e.observeAgent(node.Type, ae)
		e.emitAgentStatus(ctx, executionID, node, ae)
		e.emitProgress(ctx, executionID, i+1, len(order), node.Name)

		if ae.Status == types.ExecutionStatusFailed {
			e.logError(ctx, executionID, node.ID, fmt.Sprintf("Agent %s failed: %s", node.Name, ae.Error))
			e.failExecution(ctx, exec, ae.Error)
			return exec, nil
		}
		currentOutput = ae.Output
	}

	e.completeExecution(ctx, exec, currentOutput)
	e.logInfo(ctx, executionID, "engine", fmt.Sprintf("Workflow completed: %d agents executed, %d tokens used",
		len(exec.AgentExecutions), exec.Metrics.TotalTokens))
	return exec, nil
}

// Logs returns the structured log entries recorded for an execution, in
// append order.
func (e *Engine) Logs(ctx context.Context, executionID string) ([]execlog.Entry, error) {
	return e.logs.List(ctx, executionID)
}

// runNode constructs and invokes a single agent, returning its finalized
// execution result. Construction failures, agent-reported failures, agent
// errors, and agent panics all land here as a failed result.
func (e *Engine) runNode(ctx context.Context, wf *types.Workflow, executionID string, node types.AgentNode, input interface{}) types.AgentExecution {
	ctx, span := e.tracer.Start(ctx, "engine.execute_agent", trace.WithAttributes(
		attribute.String("agent.id", node.ID),
		attribute.String("agent.type", node.Type),
	))
	defer span.End()

	started := time.Now().UTC()
	ae := types.AgentExecution{
		AgentID:   node.ID,
		AgentName: node.Name,
		Metrics: types.AgentMetrics{
			AgentID:   node.ID,
			AgentName: node.Name,
			StartedAt: started,
			Status:    types.ExecutionStatusRunning,
		},
	}

	res, invokeErr := e.invokeAgent(ctx, wf, executionID, node, input)

	completed := time.Now().UTC()
	ae.Output = res.Output
	ae.Sources = res.Sources
	ae.Metrics.CompletedAt = completed
	ae.Metrics.LatencyMS = completed.Sub(started).Milliseconds()
	ae.Metrics.TokensUsed = res.TokensUsed
	ae.Metrics.Cost = res.Cost

	switch {
	case invokeErr != nil:
		ae.Status = types.ExecutionStatusFailed
		ae.Error = invokeErr.Error()
	case !res.Success:
		ae.Status = types.ExecutionStatusFailed
		ae.Error = res.Error
		if ae.Error == "" {
			ae.Error = "agent reported failure"
		}
	default:
		ae.Status = types.ExecutionStatusCompleted
	}
	ae.Metrics.Status = ae.Status

	if ae.Status == types.ExecutionStatusFailed {
		span.SetStatus(codes.Error, ae.Error)
	}
	return ae
}

// invokeAgent builds the agent from the registry and executes it. A panic
// inside construction or execution is converted to an error so the
// orchestration loop never unwinds.
func (e *Engine) invokeAgent(ctx context.Context, wf *types.Workflow, executionID string, node types.AgentNode, input interface{}) (res agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()

	a, err := e.registry.Create(node.Type, node.ID, node.Config)
	if err != nil {
		return agent.Result{}, err
	}
	return a.Execute(ctx, input, agent.ExecContext{
		WorkflowID:  wf.ID,
		ExecutionID: executionID,
		NodeID:      node.ID,
	})
}

func (e *Engine) completeExecution(ctx context.Context, exec *types.Execution, results interface{}) {
	now := time.Now().UTC()
	exec.Status = types.ExecutionStatusCompleted
	exec.Results = results
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.Metrics = AggregateMetrics(exec.AgentExecutions)

	metrics.ExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Status)).Observe(now.Sub(exec.StartedAt).Seconds())
	e.emitExecutionStatus(ctx, exec)
}

func (e *Engine) failExecution(ctx context.Context, exec *types.Execution, errMsg string) {
	now := time.Now().UTC()
	exec.Status = types.ExecutionStatusFailed
	exec.Error = errMsg
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.Metrics = AggregateMetrics(exec.AgentExecutions)

	metrics.ExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Status)).Observe(now.Sub(exec.StartedAt).Seconds())
	trace.SpanFromContext(ctx).SetStatus(codes.Error, errMsg)
	e.emitExecutionStatus(ctx, exec)
}

func (e *Engine) observeAgent(agentType string, ae types.AgentExecution) {
	metrics.AgentExecutionsTotal.WithLabelValues(agentType, string(ae.Status)).Inc()
	metrics.AgentExecutionDuration.WithLabelValues(agentType).Observe(float64(ae.Metrics.LatencyMS) / 1000.0)
	if ae.Metrics.TokensUsed > 0 {
		metrics.AgentTokensTotal.WithLabelValues(agentType).Add(float64(ae.Metrics.TokensUsed))
	}
	if ae.Metrics.Cost > 0 {
		metrics.AgentCostTotal.WithLabelValues(agentType).Add(ae.Metrics.Cost)
	}
}

// logInfo and logError append to the execution log store and mirror the
// entry to the operational logger.
func (e *Engine) logInfo(ctx context.Context, executionID, component, message string) {
	e.appendLog(ctx, executionID, execlog.LevelInfo, component, message)
}

func (e *Engine) logError(ctx context.Context, executionID, component, message string) {
	e.appendLog(ctx, executionID, execlog.LevelError, component, message)
}

func (e *Engine) appendLog(ctx context.Context, executionID string, level execlog.Level, component, message string) {
	entry := execlog.Entry{
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		Level:       level,
		Component:   component,
		Message:     message,
	}
	if err := e.logs.Append(ctx, entry); err != nil {
		e.logger.Warn("append execution log", "execution_id", executionID, "error", err)
	}

	lvl := slog.LevelInfo
	if level == execlog.LevelError {
		lvl = slog.LevelError
	}
	e.logger.Log(ctx, lvl, message, "execution_id", executionID, "component", component)

	e.emit(ctx, executionID, &types.EventInput{
		Type: types.EventTypeLog,
		Data: types.LogEvent{Level: string(level), Component: component, Message: message},
	})
}

func (e *Engine) emit(ctx context.Context, executionID string, event *types.EventInput) {
	if e.events == nil {
		return
	}
	metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	e.events.Emit(ctx, executionID, event)
}

func (e *Engine) emitExecutionStatus(ctx context.Context, exec *types.Execution) {
	e.emit(ctx, exec.ID, &types.EventInput{
		Type: types.EventTypeExecutionStatus,
		Data: types.ExecutionStatusEvent{Status: exec.Status, Error: exec.Error},
	})
}

func (e *Engine) emitAgentRunning(ctx context.Context, executionID string, node types.AgentNode) {
	e.emit(ctx, executionID, &types.EventInput{
		Type:   types.EventTypeAgentStatus,
		NodeID: node.ID,
		Data: types.AgentStatusEvent{
			AgentID:   node.ID,
			AgentName: node.Name,
			Status:    types.ExecutionStatusRunning,
		},
	})
}

func (e *Engine) emitAgentStatus(ctx context.Context, executionID string, node types.AgentNode, ae types.AgentExecution) {
	e.emit(ctx, executionID, &types.EventInput{
		Type:   types.EventTypeAgentStatus,
		NodeID: node.ID,
		Data: types.AgentStatusEvent{
			AgentID:    ae.AgentID,
			AgentName:  ae.AgentName,
			Status:     ae.Status,
			TokensUsed: ae.Metrics.TokensUsed,
			Cost:       ae.Metrics.Cost,
			LatencyMS:  ae.Metrics.LatencyMS,
			Error:      ae.Error,
		},
	})
}

func (e *Engine) emitProgress(ctx context.Context, executionID string, current, total int, message string) {
	e.emit(ctx, executionID, &types.EventInput{
		Type: types.EventTypeProgress,
		Data: types.ProgressEvent{Current: current, Total: total, Message: message},
	})
}
