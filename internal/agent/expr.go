package agent

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprEvaluator evaluates transform expressions with a compiled-program
// cache. One evaluator is shared by every transform agent instance in the
// process; it is safe for concurrent use.
type exprEvaluator struct {
	compiled map[string]*vm.Program
	mu       sync.RWMutex

	// maxExpressionLength limits expression size for security.
	maxExpressionLength int
}

func newExprEvaluator() *exprEvaluator {
	return &exprEvaluator{
		compiled:            make(map[string]*vm.Program),
		maxExpressionLength: 4096,
	}
}

// evaluate compiles (or reuses) the expression and runs it against env.
func (e *exprEvaluator) evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	if len(expression) > e.maxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", e.maxExpressionLength)
	}

	e.mu.RLock()
	prog, ok := e.compiled[expression]
	e.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", expression, err)
		}

		e.mu.Lock()
		e.compiled[expression] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// evaluateBool runs the expression and coerces common scalar results to bool.
func (e *exprEvaluator) evaluateBool(expression string, env map[string]interface{}) (bool, error) {
	result, err := e.evaluate(expression, env)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression %q returned %T, expected bool", expression, result)
	}
}

// exprEnvironment builds the evaluation environment for one invocation:
//
//	{
//	  "input":   <upstream output, or the workflow input for the first node>,
//	  "context": { "workflow_id": ..., "execution_id": ..., "node_id": ... }
//	}
func exprEnvironment(input interface{}, ec ExecContext) map[string]interface{} {
	return map[string]interface{}{
		"input": input,
		"context": map[string]interface{}{
			"workflow_id":  ec.WorkflowID,
			"execution_id": ec.ExecutionID,
			"node_id":      ec.NodeID,
		},
	}
}
