package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/flowmesh/flowmesh/internal/agent"
	"github.com/flowmesh/flowmesh/internal/execlog"
	"github.com/flowmesh/flowmesh/pkg/types"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *agent.Registry) {
	t.Helper()

	registry := agent.NewRegistry()
	if err := agent.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append(opts, WithLogger(logger))

	return New(registry, execlog.NewMemoryStore(), opts...), registry
}

// cfgNode builds a node with an explicit type and config.
func cfgNode(id, agentType string, config map[string]interface{}) types.AgentNode {
	return types.AgentNode{ID: id, Type: agentType, Name: id, Config: config}
}

// echoNode builds an echo node reporting the given simulated usage.
func echoNode(id string, tokens int, cost float64) types.AgentNode {
	return cfgNode(id, "echo", map[string]interface{}{
		"tokens_used": tokens,
		"cost":        cost,
	})
}

// stubAgent runs an inline function, for failure-mode tests.
type stubAgent struct {
	fn func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error)
}

func (s *stubAgent) Execute(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error) {
	return s.fn(ctx, input, ec)
}

func registerStub(t *testing.T, r *agent.Registry, agentType string, fn func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error)) {
	t.Helper()
	err := r.Register(agent.Info{Type: agentType, Name: agentType}, func(id string, config map[string]interface{}) (agent.Agent, error) {
		return &stubAgent{fn: fn}, nil
	})
	if err != nil {
		t.Fatalf("register %s: %v", agentType, err)
	}
}

func run(t *testing.T, e *Engine, wf *types.Workflow, input interface{}) *types.Execution {
	t.Helper()
	exec, err := e.ExecuteWorkflow(context.Background(), wf, input, "exec-test")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	return exec
}

func agentIDs(executions []types.AgentExecution) []string {
	ids := make([]string, len(executions))
	for i, ae := range executions {
		ids[i] = ae.AgentID
	}
	return ids
}

func TestExecuteWorkflowChain(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-chain",
		Name: "chain",
		Agents: []types.AgentNode{
			echoNode("a", 10, 0.001),
			echoNode("b", 20, 0.002),
			echoNode("c", 30, 0.003),
		},
		Edges: []types.WorkflowEdge{edge("a", "b"), edge("b", "c")},
	}

	exec := run(t, e, wf, "seed")

	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", exec.Status, exec.Error)
	}
	if exec.Error != "" {
		t.Errorf("expected no error, got %q", exec.Error)
	}
	if exec.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if exec.ID != "exec-test" || exec.WorkflowID != "wf-chain" {
		t.Errorf("record identity wrong: %s/%s", exec.ID, exec.WorkflowID)
	}

	if got := agentIDs(exec.AgentExecutions); len(got) != 3 {
		t.Fatalf("expected 3 agent executions, got %v", got)
	}
	for i, want := range []string{"a", "b", "c"} {
		ae := exec.AgentExecutions[i]
		if ae.AgentID != want {
			t.Errorf("position %d: expected agent %s, got %s", i, want, ae.AgentID)
		}
		if ae.Status != types.ExecutionStatusCompleted {
			t.Errorf("agent %s: expected completed, got %s", ae.AgentID, ae.Status)
		}
	}

	// Echo nodes pass the input through unchanged.
	if exec.Results != "seed" {
		t.Errorf("expected results to be the threaded output, got %v", exec.Results)
	}

	if exec.Metrics == nil {
		t.Fatal("expected aggregate metrics")
	}
	if exec.Metrics.TotalTokens != 60 {
		t.Errorf("expected 60 total tokens, got %d", exec.Metrics.TotalTokens)
	}
	if math.Abs(exec.Metrics.TotalCost-0.006) > 1e-9 {
		t.Errorf("expected total cost 0.006, got %f", exec.Metrics.TotalCost)
	}
	if len(exec.Metrics.Agents) != 3 {
		t.Fatalf("expected 3 per-agent metrics, got %d", len(exec.Metrics.Agents))
	}
	var latencySum int64
	for i, tokens := range []int{10, 20, 30} {
		am := exec.Metrics.Agents[i]
		if am.TokensUsed != tokens {
			t.Errorf("agent %s: expected %d tokens, got %d", am.AgentID, tokens, am.TokensUsed)
		}
		if am.CompletedAt.Before(am.StartedAt) {
			t.Errorf("agent %s: completed before started", am.AgentID)
		}
		latencySum += am.LatencyMS
	}
	if exec.Metrics.TotalLatencyMS != latencySum {
		t.Errorf("total latency %d does not equal sum of agent latencies %d",
			exec.Metrics.TotalLatencyMS, latencySum)
	}
}

func TestExecuteWorkflowThreadsOutputs(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-thread",
		Name: "thread",
		Agents: []types.AgentNode{
			cfgNode("a", "echo", nil),
			cfgNode("b", "template", map[string]interface{}{"template": "{{.}}/b"}),
			cfgNode("c", "template", map[string]interface{}{"template": "{{.text}}/c"}),
		},
		Edges: []types.WorkflowEdge{edge("a", "b"), edge("b", "c")},
	}

	exec := run(t, e, wf, "x")

	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", exec.Status, exec.Error)
	}

	results, ok := exec.Results.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map results, got %T", exec.Results)
	}
	if results["text"] != "x/b/c" {
		t.Errorf("expected x/b/c, got %v", results["text"])
	}

	// Each node's recorded output is what the next node consumed.
	if exec.AgentExecutions[0].Output != "x" {
		t.Errorf("node a output: expected x, got %v", exec.AgentExecutions[0].Output)
	}
	bOut, _ := exec.AgentExecutions[1].Output.(map[string]interface{})
	if bOut["text"] != "x/b" {
		t.Errorf("node b output: expected x/b, got %v", bOut)
	}
}

func TestExecuteWorkflowFailFast(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-fail",
		Name: "failing",
		Agents: []types.AgentNode{
			echoNode("a", 10, 0.001),
			cfgNode("b", "transform", map[string]interface{}{"expression": "no_such_fn("}),
			echoNode("c", 30, 0.003),
		},
		Edges: []types.WorkflowEdge{edge("a", "b"), edge("b", "c")},
	}

	exec := run(t, e, wf, "seed")

	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if exec.Error == "" {
		t.Error("expected execution error to be set")
	}
	if exec.CompletedAt == nil {
		t.Error("expected completed_at on failed execution")
	}
	if exec.Results != nil {
		t.Errorf("expected no results on failure, got %v", exec.Results)
	}

	// The third node never ran.
	if got := agentIDs(exec.AgentExecutions); len(got) != 2 {
		t.Fatalf("expected 2 agent executions, got %v", got)
	}
	if exec.AgentExecutions[0].Status != types.ExecutionStatusCompleted {
		t.Errorf("first agent: expected completed, got %s", exec.AgentExecutions[0].Status)
	}
	last := exec.AgentExecutions[1]
	if last.Status != types.ExecutionStatusFailed {
		t.Errorf("second agent: expected failed, got %s", last.Status)
	}
	if last.Error == "" {
		t.Error("expected error on failed agent execution")
	}
	if exec.Error != last.Error {
		t.Errorf("execution error %q should carry the failing agent's error %q", exec.Error, last.Error)
	}

	// Metrics cover only the executed prefix.
	if exec.Metrics == nil {
		t.Fatal("expected metrics on failed execution")
	}
	if exec.Metrics.TotalTokens != 10 {
		t.Errorf("expected 10 total tokens from the prefix, got %d", exec.Metrics.TotalTokens)
	}
	if len(exec.Metrics.Agents) != 2 {
		t.Errorf("expected 2 per-agent metrics, got %d", len(exec.Metrics.Agents))
	}
}

func TestExecuteWorkflowUnknownAgentType(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:     "wf-unknown",
		Name:   "unknown",
		Agents: []types.AgentNode{cfgNode("a", "llm", nil)},
	}

	exec := run(t, e, wf, nil)

	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "unknown agent type") {
		t.Errorf("expected unknown agent type error, got %q", exec.Error)
	}
	if len(exec.AgentExecutions) != 1 {
		t.Fatalf("expected 1 agent execution, got %d", len(exec.AgentExecutions))
	}
	if exec.AgentExecutions[0].Status != types.ExecutionStatusFailed {
		t.Errorf("expected failed agent execution, got %s", exec.AgentExecutions[0].Status)
	}
}

func TestExecuteWorkflowNoEdges(t *testing.T) {
	e, _ := newTestEngine(t)

	// Without edges the declaration order is the execution order.
	wf := &types.Workflow{
		ID:     "wf-flat",
		Name:   "flat",
		Agents: []types.AgentNode{node("b"), node("a"), node("c")},
	}

	exec := run(t, e, wf, "in")

	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}
	got := agentIDs(exec.AgentExecutions)
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestExecuteWorkflowDiamond(t *testing.T) {
	e, _ := newTestEngine(t)

	// a fans out to b and c, which join at d. Execution is still strictly
	// sequential: each node consumes the output of the node before it in
	// the resolved order.
	wf := &types.Workflow{
		ID:   "wf-diamond",
		Name: "diamond",
		Agents: []types.AgentNode{
			cfgNode("a", "echo", nil),
			cfgNode("b", "template", map[string]interface{}{"template": "{{.}}/b"}),
			cfgNode("c", "template", map[string]interface{}{"template": "{{.text}}/c"}),
			cfgNode("d", "template", map[string]interface{}{"template": "{{.text}}/d"}),
		},
		Edges: []types.WorkflowEdge{
			edge("a", "b"),
			edge("a", "c"),
			edge("b", "d"),
			edge("c", "d"),
		},
	}

	exec := run(t, e, wf, "r")

	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s (error: %s)", exec.Status, exec.Error)
	}

	got := agentIDs(exec.AgentExecutions)
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}

	results, _ := exec.Results.(map[string]interface{})
	if results["text"] != "r/b/c/d" {
		t.Errorf("expected r/b/c/d, got %v", results["text"])
	}
}

func TestExecuteWorkflowEmptyGraph(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{ID: "wf-empty", Name: "empty"}
	exec := run(t, e, wf, "ignored")

	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}
	if exec.Results != nil {
		t.Errorf("expected no results, got %v", exec.Results)
	}
	if len(exec.AgentExecutions) != 0 {
		t.Errorf("expected no agent executions, got %d", len(exec.AgentExecutions))
	}
	if exec.Metrics == nil || exec.Metrics.TotalTokens != 0 {
		t.Errorf("expected zero metrics, got %+v", exec.Metrics)
	}
	if exec.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestExecuteWorkflowContractViolations(t *testing.T) {
	e, _ := newTestEngine(t)
	wf := &types.Workflow{ID: "wf", Name: "wf", Agents: []types.AgentNode{node("a")}}

	t.Run("nil workflow", func(t *testing.T) {
		exec, err := e.ExecuteWorkflow(context.Background(), nil, nil, "exec-1")
		if !errors.Is(err, ErrNilWorkflow) {
			t.Errorf("expected ErrNilWorkflow, got %v", err)
		}
		if exec != nil {
			t.Errorf("expected nil record, got %+v", exec)
		}
	})

	t.Run("empty execution id", func(t *testing.T) {
		exec, err := e.ExecuteWorkflow(context.Background(), wf, nil, "")
		if !errors.Is(err, ErrEmptyExecutionID) {
			t.Errorf("expected ErrEmptyExecutionID, got %v", err)
		}
		if exec != nil {
			t.Errorf("expected nil record, got %+v", exec)
		}
	})
}

func TestExecuteWorkflowAgentPanic(t *testing.T) {
	e, registry := newTestEngine(t)
	registerStub(t, registry, "boom", func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error) {
		panic("kaboom")
	})

	wf := &types.Workflow{
		ID:   "wf-panic",
		Name: "panic",
		Agents: []types.AgentNode{
			cfgNode("a", "boom", nil),
			cfgNode("b", "echo", nil),
		},
		Edges: []types.WorkflowEdge{edge("a", "b")},
	}

	exec := run(t, e, wf, nil)

	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "agent panic") || !strings.Contains(exec.Error, "kaboom") {
		t.Errorf("expected panic message in error, got %q", exec.Error)
	}
	if len(exec.AgentExecutions) != 1 {
		t.Errorf("expected the run to stop at the panicking node, got %d executions", len(exec.AgentExecutions))
	}
}

func TestExecuteWorkflowFactoryPanic(t *testing.T) {
	e, registry := newTestEngine(t)
	err := registry.Register(agent.Info{Type: "badfactory", Name: "badfactory"}, func(id string, config map[string]interface{}) (agent.Agent, error) {
		panic("construction blew up")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	wf := &types.Workflow{
		ID:     "wf-badfactory",
		Name:   "badfactory",
		Agents: []types.AgentNode{cfgNode("a", "badfactory", nil)},
	}

	exec := run(t, e, wf, nil)

	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "agent panic") {
		t.Errorf("expected panic to surface as failure, got %q", exec.Error)
	}
}

func TestExecuteWorkflowAgentFailureModes(t *testing.T) {
	e, registry := newTestEngine(t)
	registerStub(t, registry, "enverr", func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error) {
		return agent.Result{}, errors.New("backend unavailable")
	})
	registerStub(t, registry, "silentfail", func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error) {
		return agent.Result{Success: false}, nil
	})

	t.Run("agent error", func(t *testing.T) {
		wf := &types.Workflow{
			ID:     "wf-enverr",
			Name:   "enverr",
			Agents: []types.AgentNode{cfgNode("a", "enverr", nil)},
		}
		exec := run(t, e, wf, nil)
		if exec.Status != types.ExecutionStatusFailed {
			t.Fatalf("expected failed, got %s", exec.Status)
		}
		if exec.Error != "backend unavailable" {
			t.Errorf("expected agent error message, got %q", exec.Error)
		}
	})

	t.Run("failure without message", func(t *testing.T) {
		wf := &types.Workflow{
			ID:     "wf-silent",
			Name:   "silent",
			Agents: []types.AgentNode{cfgNode("a", "silentfail", nil)},
		}
		exec := run(t, e, wf, nil)
		if exec.Status != types.ExecutionStatusFailed {
			t.Fatalf("expected failed, got %s", exec.Status)
		}
		if exec.Error != "agent reported failure" {
			t.Errorf("expected placeholder failure message, got %q", exec.Error)
		}
	})
}

func TestExecuteWorkflowCancellation(t *testing.T) {
	t.Run("cancelled before start", func(t *testing.T) {
		e, _ := newTestEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		wf := &types.Workflow{
			ID:     "wf-cancel",
			Name:   "cancel",
			Agents: []types.AgentNode{node("a"), node("b")},
			Edges:  []types.WorkflowEdge{edge("a", "b")},
		}

		exec, err := e.ExecuteWorkflow(ctx, wf, nil, "exec-cancelled")
		if err != nil {
			t.Fatalf("ExecuteWorkflow: %v", err)
		}
		if exec.Status != types.ExecutionStatusFailed {
			t.Fatalf("expected failed, got %s", exec.Status)
		}
		if !strings.Contains(exec.Error, "cancelled") {
			t.Errorf("expected cancellation in error, got %q", exec.Error)
		}
		if len(exec.AgentExecutions) != 0 {
			t.Errorf("expected no agent executions, got %d", len(exec.AgentExecutions))
		}
	})

	t.Run("cancelled between nodes", func(t *testing.T) {
		e, registry := newTestEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		registerStub(t, registry, "canceller", func(ctx context.Context, input interface{}, ec agent.ExecContext) (agent.Result, error) {
			cancel()
			return agent.Result{Success: true, Output: input}, nil
		})

		wf := &types.Workflow{
			ID:   "wf-midcancel",
			Name: "midcancel",
			Agents: []types.AgentNode{
				cfgNode("a", "canceller", nil),
				cfgNode("b", "echo", nil),
			},
			Edges: []types.WorkflowEdge{edge("a", "b")},
		}

		exec, err := e.ExecuteWorkflow(ctx, wf, "in", "exec-midcancel")
		if err != nil {
			t.Fatalf("ExecuteWorkflow: %v", err)
		}
		if exec.Status != types.ExecutionStatusFailed {
			t.Fatalf("expected failed, got %s", exec.Status)
		}
		// The cancelling node finished; the next one never started.
		if len(exec.AgentExecutions) != 1 {
			t.Fatalf("expected 1 agent execution, got %d", len(exec.AgentExecutions))
		}
		if exec.AgentExecutions[0].Status != types.ExecutionStatusCompleted {
			t.Errorf("first node should have completed, got %s", exec.AgentExecutions[0].Status)
		}
	})
}

func TestExecuteWorkflowLogs(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-logs",
		Name: "logged-chain",
		Agents: []types.AgentNode{
			echoNode("a", 10, 0),
			echoNode("b", 20, 0),
		},
		Edges: []types.WorkflowEdge{edge("a", "b")},
	}

	exec := run(t, e, wf, "in")
	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}

	entries, err := e.Logs(context.Background(), "exec-test")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d: %+v", len(entries), entries)
	}

	first := entries[0]
	if first.Message != "Starting workflow execution: logged-chain" {
		t.Errorf("unexpected first entry: %q", first.Message)
	}
	if first.Component != "engine" || first.Level != execlog.LevelInfo {
		t.Errorf("first entry metadata wrong: %+v", first)
	}

	if entries[1].Message != "Executing agent: a" || entries[1].Component != "a" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	if entries[2].Message != "Executing agent: b" || entries[2].Component != "b" {
		t.Errorf("unexpected third entry: %+v", entries[2])
	}

	last := entries[3]
	if last.Message != "Workflow completed: 2 agents executed, 30 tokens used" {
		t.Errorf("unexpected final entry: %q", last.Message)
	}
	for _, entry := range entries {
		if entry.ExecutionID != "exec-test" {
			t.Errorf("entry missing execution id: %+v", entry)
		}
		if entry.Timestamp.IsZero() {
			t.Errorf("entry missing timestamp: %+v", entry)
		}
	}
}

func TestExecuteWorkflowFailureLogs(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-faillogs",
		Name: "faillogs",
		Agents: []types.AgentNode{
			cfgNode("bad", "transform", map[string]interface{}{"expression": "no_such_fn("}),
		},
	}

	exec := run(t, e, wf, nil)
	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}

	entries, err := e.Logs(context.Background(), "exec-test")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}

	var sawError bool
	for _, entry := range entries {
		if entry.Level == execlog.LevelError && entry.Component == "bad" {
			sawError = true
			if !strings.Contains(entry.Message, "Agent bad failed") {
				t.Errorf("unexpected error entry message: %q", entry.Message)
			}
		}
	}
	if !sawError {
		t.Error("expected an ERROR entry for the failing agent")
	}
}

// eventCapture records emitted events in order. The engine emits inline
// from the executing goroutine, so no locking is needed within one run.
type eventCapture struct {
	events []*types.EventInput
}

func (c *eventCapture) Emit(ctx context.Context, executionID string, event *types.EventInput) {
	c.events = append(c.events, event)
}

func (c *eventCapture) typesInOrder() []types.EventType {
	var out []types.EventType
	for _, evt := range c.events {
		if evt.Type == types.EventTypeLog {
			continue
		}
		out = append(out, evt.Type)
	}
	return out
}

func TestExecuteWorkflowEvents(t *testing.T) {
	capture := &eventCapture{}
	e, _ := newTestEngine(t, WithEventSink(capture))

	wf := &types.Workflow{
		ID:     "wf-events",
		Name:   "events",
		Agents: []types.AgentNode{echoNode("a", 5, 0)},
	}

	exec := run(t, e, wf, "in")
	if exec.Status != types.ExecutionStatusCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}

	got := capture.typesInOrder()
	want := []types.EventType{
		types.EventTypeExecutionStatus, // running
		types.EventTypeAgentStatus,     // agent running
		types.EventTypeAgentStatus,     // agent completed
		types.EventTypeProgress,
		types.EventTypeExecutionStatus, // completed
	}
	if len(got) != len(want) {
		t.Fatalf("expected event sequence %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected event sequence %v, got %v", want, got)
		}
	}

	// First and last carry the execution status transitions.
	firstData, ok := capture.events[0].Data.(types.ExecutionStatusEvent)
	if !ok || firstData.Status != types.ExecutionStatusRunning {
		t.Errorf("expected initial running status event, got %+v", capture.events[0].Data)
	}

	var lastStatus *types.ExecutionStatusEvent
	for _, evt := range capture.events {
		if evt.Type == types.EventTypeExecutionStatus {
			if data, ok := evt.Data.(types.ExecutionStatusEvent); ok {
				lastStatus = &data
			}
		}
	}
	if lastStatus == nil || lastStatus.Status != types.ExecutionStatusCompleted {
		t.Errorf("expected final completed status event, got %+v", lastStatus)
	}

	// Agent events carry the node id and, once finished, usage figures.
	var finished *types.AgentStatusEvent
	for _, evt := range capture.events {
		if evt.Type != types.EventTypeAgentStatus {
			continue
		}
		if evt.NodeID != "a" {
			t.Errorf("agent event missing node id: %+v", evt)
		}
		if data, ok := evt.Data.(types.AgentStatusEvent); ok && data.Status.Terminal() {
			finished = &data
		}
	}
	if finished == nil {
		t.Fatal("expected a terminal agent status event")
	}
	if finished.TokensUsed != 5 {
		t.Errorf("expected 5 tokens on agent event, got %d", finished.TokensUsed)
	}

	// Progress reports position over the resolved order.
	for _, evt := range capture.events {
		if evt.Type == types.EventTypeProgress {
			data, ok := evt.Data.(types.ProgressEvent)
			if !ok || data.Current != 1 || data.Total != 1 {
				t.Errorf("unexpected progress payload: %+v", evt.Data)
			}
		}
	}
}

func TestExecuteWorkflowFailureEvents(t *testing.T) {
	capture := &eventCapture{}
	e, _ := newTestEngine(t, WithEventSink(capture))

	wf := &types.Workflow{
		ID:     "wf-failevents",
		Name:   "failevents",
		Agents: []types.AgentNode{cfgNode("a", "llm", nil)},
	}

	exec := run(t, e, wf, nil)
	if exec.Status != types.ExecutionStatusFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}

	var last *types.ExecutionStatusEvent
	for _, evt := range capture.events {
		if evt.Type == types.EventTypeExecutionStatus {
			if data, ok := evt.Data.(types.ExecutionStatusEvent); ok {
				last = &data
			}
		}
	}
	if last == nil {
		t.Fatal("expected execution status events")
	}
	if last.Status != types.ExecutionStatusFailed {
		t.Errorf("expected failed status event, got %s", last.Status)
	}
	if last.Error == "" {
		t.Error("expected error on failed status event")
	}
}

func TestExecuteWorkflowConcurrentRuns(t *testing.T) {
	e, _ := newTestEngine(t)

	wf := &types.Workflow{
		ID:   "wf-concurrent",
		Name: "concurrent",
		Agents: []types.AgentNode{
			echoNode("a", 1, 0),
			echoNode("b", 2, 0),
		},
		Edges: []types.WorkflowEdge{edge("a", "b")},
	}

	const runs = 8
	var wg sync.WaitGroup
	results := make([]*types.Execution, runs)
	errs := make([]error, runs)

	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "exec-concurrent-" + string(rune('a'+i))
			results[i], errs[i] = e.ExecuteWorkflow(context.Background(), wf, i, id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		exec := results[i]
		if exec.Status != types.ExecutionStatusCompleted {
			t.Errorf("run %d: expected completed, got %s", i, exec.Status)
		}
		if exec.Metrics.TotalTokens != 3 {
			t.Errorf("run %d: expected 3 tokens, got %d", i, exec.Metrics.TotalTokens)
		}
		// Echo threads the input through untouched.
		if exec.Results != i {
			t.Errorf("run %d: expected results %d, got %v", i, exec.Results, exec.Results)
		}
	}
}
