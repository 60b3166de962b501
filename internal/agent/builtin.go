package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
)

// RegisterBuiltins registers the bundled agent types. These are
// demonstrative units that exercise the full contract (outputs, sources,
// token/cost reporting) without any external service behind them.
func RegisterBuiltins(r *Registry) error {
	eval := newExprEvaluator()

	builtins := []struct {
		info    Info
		factory Factory
	}{
		{
			info: Info{
				Type:        "echo",
				Name:        "Echo",
				Description: "Returns its input unchanged, or a configured static reply",
				Category:    "utility",
			},
			factory: newEchoAgent,
		},
		{
			info: Info{
				Type:        "template",
				Name:        "Template",
				Description: "Renders a text/template against the input",
				Category:    "data",
			},
			factory: newTemplateAgent,
		},
		{
			info: Info{
				Type:        "transform",
				Name:        "Transform",
				Description: "Evaluates an expression over the input and emits the result",
				Category:    "data",
			},
			factory: func(id string, config map[string]interface{}) (Agent, error) {
				return newTransformAgent(eval, id, config)
			},
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.info, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// echoAgent returns its input, or the configured reply.
type echoAgent struct {
	id     string
	config map[string]interface{}
}

func newEchoAgent(id string, config map[string]interface{}) (Agent, error) {
	return &echoAgent{id: id, config: config}, nil
}

func (a *echoAgent) Execute(ctx context.Context, input interface{}, ec ExecContext) (Result, error) {
	output := input
	if reply, ok := a.config["reply"]; ok {
		output = reply
	}

	tokens, cost := simulatedUsage(a.config)
	return Result{
		Success:    true,
		Output:     output,
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

// templateAgent renders a text/template with the input as its data. A
// missing or unparsable template is a construction failure.
type templateAgent struct {
	id     string
	config map[string]interface{}
	tmpl   *template.Template
}

func newTemplateAgent(id string, config map[string]interface{}) (Agent, error) {
	raw, ok := configString(config, "template")
	if !ok {
		return nil, errors.New("template agent requires a 'template' config string")
	}
	tmpl, err := template.New(id).Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &templateAgent{id: id, config: config, tmpl: tmpl}, nil
}

func (a *templateAgent) Execute(ctx context.Context, input interface{}, ec ExecContext) (Result, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, input); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("render template: %v", err)}, nil
	}

	tokens, cost := simulatedUsage(a.config)
	return Result{
		Success:    true,
		Output:     map[string]interface{}{"text": buf.String()},
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

// transformAgent evaluates an expression against {input, context}. An
// optional 'when' guard passes the input through untouched when false.
type transformAgent struct {
	id         string
	config     map[string]interface{}
	eval       *exprEvaluator
	expression string
	when       string
}

func newTransformAgent(eval *exprEvaluator, id string, config map[string]interface{}) (Agent, error) {
	expression, ok := configString(config, "expression")
	if !ok {
		return nil, errors.New("transform agent requires an 'expression' config string")
	}
	when, _ := configString(config, "when")
	return &transformAgent{
		id:         id,
		config:     config,
		eval:       eval,
		expression: expression,
		when:       when,
	}, nil
}

func (a *transformAgent) Execute(ctx context.Context, input interface{}, ec ExecContext) (Result, error) {
	env := exprEnvironment(input, ec)
	tokens, cost := simulatedUsage(a.config)

	if a.when != "" {
		pass, err := a.eval.evaluateBool(a.when, env)
		if err != nil {
			return Result{Success: false, Error: err.Error()}, nil
		}
		if !pass {
			return Result{Success: true, Output: input, TokensUsed: tokens, Cost: cost}, nil
		}
	}

	output, err := a.eval.evaluate(a.expression, env)
	if err != nil {
		// A bad expression is workflow content, not an environment fault.
		return Result{Success: false, Error: err.Error()}, nil
	}

	return Result{
		Success:    true,
		Output:     output,
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

// simulatedUsage reads the optional tokens_used/cost config keys the bundled
// agents use to report usage, so metrics paths can be exercised end to end.
func simulatedUsage(config map[string]interface{}) (int, float64) {
	tokens, _ := configInt(config, "tokens_used")
	cost, _ := configFloat(config, "cost")
	return tokens, cost
}

func configString(config map[string]interface{}, key string) (string, bool) {
	if config == nil {
		return "", false
	}
	s, ok := config[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func configInt(config map[string]interface{}, key string) (int, bool) {
	if config == nil {
		return 0, false
	}
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		// JSON numbers decode as float64.
		return int(v), true
	default:
		return 0, false
	}
}

func configFloat(config map[string]interface{}, key string) (float64, bool) {
	if config == nil {
		return 0, false
	}
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
