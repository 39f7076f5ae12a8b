package trident

import (
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Edge conditions, branch pre-conditions and loop_while expressions share one
// evaluator. The language is boolean expressions over the source node's
// output: comparisons (==, !=, <, >, <=, >=), and/or/not, parentheses,
// dotted field access, and string/number/bool/null literals. The source
// output is bound both as `output` and at the top level, so
// `output.score > 5` and `score > 5` are equivalent.

var conditionCache = struct {
	sync.RWMutex
	programs map[string]*vm.Program
}{programs: make(map[string]*vm.Program)}

func compileCondition(code string) (*vm.Program, error) {
	conditionCache.RLock()
	p, ok := conditionCache.programs[code]
	conditionCache.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(code)
	if err != nil {
		return nil, err
	}

	conditionCache.Lock()
	conditionCache.programs[code] = p
	conditionCache.Unlock()
	return p, nil
}

// EvalCondition evaluates a condition expression against a node output.
// An empty expression is true. The result is coerced to a boolean using
// truthiness rules: nil and zero values are false, everything else true.
func EvalCondition(code string, output map[string]any) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return true, nil
	}

	env := make(map[string]any, len(output)+2)
	for k, v := range output {
		env[k] = v
	}
	env["output"] = output
	// The documented grammar spells nil as `null`.
	env["null"] = nil

	program, err := compileCondition(code)
	if err != nil {
		return false, &ConditionError{Expr: code, Message: "compile failed", Cause: err}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &ConditionError{Expr: code, Message: "evaluation failed", Cause: err}
	}
	return truthy(result), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
