// Package rules evaluates expressions against a settings snapshot.
//
// Three engines are available: expr (default), cel and js. The js engine is
// backed by goja and only compiled with the js_eval build tag. Every engine
// sees the snapshot keys as top-level variables, plus now, args, sender and
// role.
package rules

import "time"

// Engine names.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// reserved names are bound by every engine and shadow snapshot keys.
var reserved = []string{"now", "args", "sender", "role", "call"}

// Input is what a rule can see.
type Input struct {
	Snapshot map[string]any
	Args     map[string]any
	// Sender is the role that asked for the evaluation.
	Sender string
	// Role is the role evaluating the rule.
	Role string
	// Now defaults to the wall clock.
	Now time.Time
}

func (in Input) role() string {
	if in.Role == "" {
		return "unknown"
	}
	return in.Role
}

func (in Input) vars() map[string]any {
	vars := make(map[string]any, len(in.Snapshot)+4)
	for key, value := range in.Snapshot {
		vars[key] = value
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	vars["now"] = now
	vars["args"] = args
	vars["sender"] = in.Sender
	vars["role"] = in.Role
	return vars
}

// Evaluator runs source against an Input.
type Evaluator interface {
	Eval(in Input, src string) (any, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(in Input, src string) (any, error)

// Eval implements Evaluator.
func (f EvaluatorFunc) Eval(in Input, src string) (any, error) {
	return f(in, src)
}

// programs gives an engine cached compilation and the shared functions.
type programs struct {
	engine string
	cache  Cache
	funcs  Funcs
}

// load returns the program cached under key or builds and stores it.
func (p programs) load(key string, build func() (any, error)) (any, error) {
	key = p.engine + "\x00" + key
	if p.cache != nil {
		if program, ok := p.cache.Load(key); ok {
			return program, nil
		}
	}
	program, err := build()
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Store(key, program)
	}
	return program, nil
}
