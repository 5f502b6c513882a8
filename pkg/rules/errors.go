package rules

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyExpression = errors.New("rules: empty expression")
	ErrUnknownEngine   = errors.New("rules: unknown engine")
)

// RuleError reports a rule that failed to compile or run.
type RuleError struct {
	Engine string
	Expr   string
	Role   string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rules: %s (%s) failed on %q: %v", e.Engine, e.Role, e.Expr, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// ruleError attaches where err came from, once.
func ruleError(engine, expr, role string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RuleError
	if errors.As(err, &existing) {
		return err
	}
	return &RuleError{Engine: engine, Expr: expr, Role: role, Err: err}
}
