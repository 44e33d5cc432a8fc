package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxExprSteps bounds the work one expression may do.
const maxExprSteps = 1_000_000

// ExprEvaluator evaluates Starlark boolean expressions over adapter output.
type ExprEvaluator struct {
	timeout time.Duration
}

// NewExprEvaluator creates an evaluator. A zero timeout uses the default
// condition timeout.
func NewExprEvaluator(timeout time.Duration) *ExprEvaluator {
	if timeout == 0 {
		timeout = DefaultConditionTimeout
	}
	return &ExprEvaluator{timeout: timeout}
}

// EvalBool evaluates expr with `output` bound to the adapter output and
// returns its truth value.
//
//	output["exists"] and output["size"] > 0
func (ee *ExprEvaluator) EvalBool(ctx context.Context, expr string, output map[string]interface{}) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, ee.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "condition",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxExprSteps)

	type result struct {
		value bool
		err   error
	}
	done := make(chan result, 1)

	go func() {
		ok, err := evalSync(thread, expr, output)
		done <- result{value: ok, err: err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return false, fmt.Errorf("expression timed out after %v", ee.timeout)
	case r := <-done:
		return r.value, r.err
	}
}

func evalSync(thread *starlark.Thread, expr string, output map[string]interface{}) (bool, error) {
	if output == nil {
		output = map[string]interface{}{}
	}
	out, err := toStarlarkValue(output)
	if err != nil {
		return false, fmt.Errorf("failed to convert output: %w", err)
	}

	env := starlark.StringDict{
		"output": out,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	v, err := starlark.Eval(thread, "expect", expr, env)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// toStarlarkValue converts adapter output into Starlark values.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
