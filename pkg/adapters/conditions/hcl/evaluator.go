package hcl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/aescanero/procflow/pkg/ports"
)

var _ ports.ConditionEvaluator = (*Evaluator)(nil)

// Evaluator answers eval conditions written as HCL expressions.
//
// Expressions see two variables: state (the run variables) and payload (the
// triggering event payload). They must produce a bool.
type Evaluator struct {
	functions map[string]function.Function
	parsed    sync.Map
}

// NewEvaluator creates an evaluator with a small function library
func NewEvaluator() *Evaluator {
	return &Evaluator{
		functions: map[string]function.Function{
			"length":   stdlib.LengthFunc,
			"contains": stdlib.ContainsFunc,
			"upper":    stdlib.UpperFunc,
			"lower":    stdlib.LowerFunc,
			"coalesce": stdlib.CoalesceFunc,
			"max":      stdlib.MaxFunc,
			"min":      stdlib.MinFunc,
		},
	}
}

// Validate parses expression without evaluating it
func (e *Evaluator) Validate(expression string) error {
	_, err := e.parse(expression)
	return err
}

// Evaluate implements ports.ConditionEvaluator
func (e *Evaluator) Evaluate(ctx context.Context, expression string, state map[string]any, payload any) (bool, error) {
	expr, err := e.parse(expression)
	if err != nil {
		return false, err
	}

	stateVal, err := toCty(state)
	if err != nil {
		return false, fmt.Errorf("failed to convert state: %w", err)
	}
	payloadVal, err := toCty(payload)
	if err != nil {
		return false, fmt.Errorf("failed to convert payload: %w", err)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"state":   stateVal,
			"payload": payloadVal,
		},
		Functions: e.functions,
	}

	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("failed to evaluate %q: %s", expression, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() {
		return false, fmt.Errorf("expression %q produced no value", expression)
	}
	if val.Type() != cty.Bool {
		return false, fmt.Errorf("expression %q produced %s, not bool", expression, val.Type().FriendlyName())
	}
	return val.True(), nil
}

func (e *Evaluator) parse(expression string) (hclsyntax.Expression, error) {
	if cached, ok := e.parsed.Load(expression); ok {
		return cached.(hclsyntax.Expression), nil
	}
	expr, diags := hclsyntax.ParseExpression([]byte(expression), "condition.hcl", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %q: %s", expression, diags.Error())
	}
	e.parsed.Store(expression, expr)
	return expr, nil
}

// toCty converts JSON compatible Go values through their JSON form
func toCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, err
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(data, ty)
}
