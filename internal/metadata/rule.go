package metadata

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	RuleField      = "field"
	RuleExpression = "expression"
)

// Rule validates a section data record before it is written.
//
// Field rules check one value with Operator (required, min, max, min_length,
// max_length, pattern). Expression rules are boolean expr-lang programs over
// record and action; true means the rule is violated.
type Rule struct {
	Type       string
	Field      string
	Operator   string
	Value      any
	Expression string
	Message    string
	StopOnFail bool

	once    sync.Once
	program *vm.Program
	err     error
}

// Program compiles the expression once. Rules are shared by every request,
// so compilation must not race.
func (r *Rule) Program() (*vm.Program, error) {
	r.once.Do(func() {
		r.program, r.err = expr.Compile(r.Expression, expr.AsBool())
		if r.err != nil {
			r.err = fmt.Errorf("compile expression: %w", r.err)
		}
	})
	return r.program, r.err
}
