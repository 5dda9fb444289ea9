package report

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FilterEnv is the environment filter expressions are evaluated against.
//
//	blockage_ms >= 200 && stack contains "render"
type FilterEnv struct {
	BlockageMs int64  `expr:"blockage_ms"`
	Stack      string `expr:"stack"`
	HasStack   bool   `expr:"has_stack"`
	Frames     int    `expr:"frames"`
	Source     string `expr:"source"`
}

// Filter selects the records worth writing.
type Filter struct {
	expression string
	program    *vm.Program
}

// NewFilter compiles a boolean expression over FilterEnv.
func NewFilter(expression string) (*Filter, error) {
	program, err := expr.Compile(expression,
		expr.Env(FilterEnv{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return &Filter{expression: expression, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expression
}

// Match reports whether rec passes the filter.
func (f *Filter) Match(rec Record) (bool, error) {
	env := FilterEnv{
		BlockageMs: rec.BlockageMs,
		Frames:     rec.Frames,
		Source:     rec.Source,
	}
	if rec.Stack != nil {
		env.Stack = *rec.Stack
		env.HasStack = true
	}

	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expression, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned non-boolean result: %T", f.expression, result)
	}
	return b, nil
}
