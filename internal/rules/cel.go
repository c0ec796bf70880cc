package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	celOnce sync.Once
	celEnv  *cel.Env
	celErr  error
)

// environment exposes the entity projection as `entity` and the context
// aggregates as `ctx`. Absent aggregates are tested with has(ctx.key).
func environment() (*cel.Env, error) {
	celOnce.Do(func() {
		celEnv, celErr = cel.NewEnv(
			cel.Variable("entity", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("ctx", cel.MapType(cel.StringType, cel.DoubleType)),
		)
		if celErr != nil {
			celErr = fmt.Errorf("failed to create CEL environment: %w", celErr)
		}
	})
	return celEnv, celErr
}

// CELCondition compiles a boolean expression into a rule condition.
func CELCondition(expr string) (domain.Condition, error) {
	env, err := environment()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expr, err)
	}

	return func(e domain.Entity, rc domain.RuleContext) (bool, error) {
		values := rc.Values
		if values == nil {
			values = map[string]float64{}
		}

		out, _, err := program.Eval(map[string]any{
			"entity": e.Fields(),
			"ctx":    values,
		})
		if err != nil {
			return false, fmt.Errorf("evaluation error: %w", err)
		}

		b, ok := out.(types.Bool)
		if !ok {
			return false, fmt.Errorf("condition returned %v", out.Type())
		}
		return bool(b), nil
	}, nil
}

// MustCELCondition is CELCondition for built-in rules; it panics on a bad expression.
func MustCELCondition(expr string) domain.Condition {
	cond, err := CELCondition(expr)
	if err != nil {
		panic(err)
	}
	return cond
}
