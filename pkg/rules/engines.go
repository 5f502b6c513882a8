package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Engines maps engine names to evaluators and logs every evaluation. It is
// immutable once built and safe for concurrent use.
type Engines struct {
	evaluators map[string]Evaluator
	fallback   string
	logger     Logger
}

type engineSettings struct {
	cache    Cache
	funcs    Funcs
	logger   Logger
	fallback string
	custom   map[string]Evaluator
}

// Option configures Engines.
type Option func(*engineSettings)

// WithCache replaces the default bounded program cache. Engines share it
// under distinct keys.
func WithCache(cache Cache) Option {
	return func(s *engineSettings) {
		s.cache = cache
	}
}

// WithFuncs replaces the builtin helpers.
func WithFuncs(funcs Funcs) Option {
	return func(s *engineSettings) {
		s.funcs = funcs
	}
}

// WithFunc adds one helper. Invalid or duplicate names are ignored.
func WithFunc(name string, fn Func) Option {
	return func(s *engineSettings) {
		if next, err := s.funcs.With(name, fn); err == nil {
			s.funcs = next
		}
	}
}

// WithLogger records evaluations.
func WithLogger(logger Logger) Option {
	return func(s *engineSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultEngine names the engine used when a request names none.
func WithDefaultEngine(name string) Option {
	return func(s *engineSettings) {
		s.fallback = normalizeEngine(name)
	}
}

// WithEvaluator adds an engine or replaces a builtin one.
func WithEvaluator(name string, evaluator Evaluator) Option {
	return func(s *engineSettings) {
		if evaluator == nil {
			return
		}
		if s.custom == nil {
			s.custom = map[string]Evaluator{}
		}
		s.custom[normalizeEngine(name)] = evaluator
	}
}

func normalizeEngine(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewEngines builds the expr and cel engines, and js when compiled in.
func NewEngines(opts ...Option) *Engines {
	s := engineSettings{
		cache:    NewCache(DefaultCacheSize),
		funcs:    Builtins(),
		logger:   noopLogger{},
		fallback: EngineExpr,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	shared := func(engine string) programs {
		return programs{engine: engine, cache: s.cache, funcs: s.funcs}
	}
	evaluators := map[string]Evaluator{
		EngineExpr: exprEngine{shared(EngineExpr)},
		EngineCEL:  celEngine{shared(EngineCEL)},
	}
	if js := newJSEngine(shared(EngineJS)); js != nil {
		evaluators[EngineJS] = js
	}
	for name, evaluator := range s.custom {
		evaluators[name] = evaluator
	}
	return &Engines{evaluators: evaluators, fallback: s.fallback, logger: s.logger}
}

// Names lists the available engines.
func (e *Engines) Names() []string {
	names := make([]string, 0, len(e.evaluators))
	for name := range e.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves name, or the default engine when name is blank.
func (e *Engines) Lookup(name string) (string, Evaluator, error) {
	name = normalizeEngine(name)
	if name == "" {
		name = e.fallback
	}
	evaluator, ok := e.evaluators[name]
	if !ok {
		return name, nil, fmt.Errorf("%w %q", ErrUnknownEngine, name)
	}
	return name, evaluator, nil
}

// Evaluate runs src on engine. Failures are returned as *RuleError.
func (e *Engines) Evaluate(in Input, engine, src string) (any, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmptyExpression
	}
	name, evaluator, err := e.Lookup(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	value, err := evaluator.Eval(in, src)
	err = ruleError(name, src, in.role(), err)
	e.logger.LogEvaluation(LogEvent{
		Engine:   name,
		Expr:     src,
		Role:     in.role(),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}
