package rules

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Func is a helper callable from rules, by name or through call(name, ...).
type Func func(args ...any) (any, error)

// Funcs is an immutable set of helpers. Names are matched without regard to
// case. The zero value is empty and usable.
type Funcs struct {
	byKey map[string]namedFunc
}

type namedFunc struct {
	name string
	fn   Func
}

// With returns a copy of f that also holds fn under name.
func (f Funcs) With(name string, fn Func) (Funcs, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return f, fmt.Errorf("rules: helper name is empty")
	case fn == nil:
		return f, fmt.Errorf("rules: helper %q is nil", name)
	}
	key := strings.ToLower(name)
	if slices.Contains(reserved, key) {
		return f, fmt.Errorf("rules: helper name %q is reserved", name)
	}
	if _, taken := f.byKey[key]; taken {
		return f, fmt.Errorf("rules: helper %q already defined", name)
	}
	next := make(map[string]namedFunc, len(f.byKey)+1)
	for k, v := range f.byKey {
		next[k] = v
	}
	next[key] = namedFunc{name: name, fn: fn}
	return Funcs{byKey: next}, nil
}

// Call invokes the helper registered as name.
func (f Funcs) Call(name string, args ...any) (any, error) {
	entry, ok := f.byKey[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("rules: no helper named %q", name)
	}
	return entry.fn(args...)
}

// Names lists the helpers as they were spelled when added.
func (f Funcs) Names() []string {
	names := make([]string, 0, len(f.byKey))
	for _, entry := range f.byKey {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of helpers.
func (f Funcs) Len() int {
	return len(f.byKey)
}

// Builtins holds the settings helpers every engine gets by default:
//
//	equalsIgnoreCase(a, b)  case-insensitive string compare
//	hasKey(m, key)          map membership, e.g. hasKey(selectors, "userMenu")
//	hoursSince(ms)          hours since a unix-millisecond stamp such as lastUpdatedSelectors
func Builtins() Funcs {
	var f Funcs
	for _, h := range []struct {
		name string
		fn   Func
	}{
		{"equalsIgnoreCase", equalsIgnoreCase},
		{"hasKey", hasKey},
		{"hoursSince", hoursSince},
	} {
		f, _ = f.With(h.name, h.fn)
	}
	return f
}

func equalsIgnoreCase(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("equalsIgnoreCase: want 2 args, got %d", len(args))
	}
	a, _ := args[0].(string)
	b, _ := args[1].(string)
	return strings.EqualFold(a, b), nil
}

func hasKey(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("hasKey: want 2 args, got %d", len(args))
	}
	key, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("hasKey: key is %T, not string", args[1])
	}
	switch m := args[0].(type) {
	case map[string]any:
		_, found := m[key]
		return found, nil
	case map[string]string:
		_, found := m[key]
		return found, nil
	}
	return false, nil
}

func hoursSince(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("hoursSince: want 1 arg, got %d", len(args))
	}
	var ms int64
	switch v := args[0].(type) {
	case float64:
		ms = int64(v)
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case uint64:
		ms = int64(v)
	default:
		return nil, fmt.Errorf("hoursSince: %T is not a timestamp", args[0])
	}
	return time.Since(time.UnixMilli(ms)).Hours(), nil
}
