package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"courtside/pkg/event"
)

// policyRule is a compiled CEL expression evaluated against an event
// and its candidate recipient. It must yield a bool.
type policyRule struct {
	program cel.Program
}

func compileRule(expression string) (policyRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.StringType),
	)
	if err != nil {
		return policyRule{}, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return policyRule{}, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return policyRule{}, fmt.Errorf("rule must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return policyRule{}, fmt.Errorf("CEL program creation error: %w", err)
	}
	return policyRule{program: prg}, nil
}

func (r policyRule) eval(evt *event.Event, username string) (bool, error) {
	out, _, err := r.program.Eval(map[string]any{
		"event": map[string]any{
			"type":       evt.Type,
			"priority":   int64(evt.Priority),
			"target":     string(evt.Target),
			"routingKey": evt.RoutingKey,
			"payload":    map[string]any(evt.Payload),
		},
		"user": username,
	})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule returned %T, want bool", out.Value())
	}
	return allowed, nil
}
