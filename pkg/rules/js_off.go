//go:build !js_eval

package rules

// JSAvailable reports whether the js engine was compiled in.
func JSAvailable() bool { return false }

func newJSEngine(programs) Evaluator { return nil }
