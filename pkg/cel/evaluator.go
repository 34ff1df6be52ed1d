package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Evaluator checks rule expressions against the variables a rule engine exposes:
// the incoming event and the fields derived so far.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// ValidateCondition requires a statically boolean expression.
func (e *Evaluator) ValidateCondition(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("condition must return bool, got %v", ast.OutputType())
	}
	return nil
}

// Evaluate compiles and runs expression once. Used for dry runs of derive-field artifacts.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, event, fields map[string]interface{}) (interface{}, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	if event == nil {
		event = map[string]interface{}{}
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}

	result, _, err := program.ContextEval(ctx, map[string]interface{}{
		"event":  event,
		"fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	return result.Value(), nil
}
