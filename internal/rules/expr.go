package rules

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/weft/pkg/schema"
)

// ExprEvaluator runs visibility rules through expr-lang/expr. It supports
// optional chaining (?.), nil coalescing (??) and the usual array and string
// helpers, which covers the typical "node.metadata?.draft != true" rules.
// Thread-safe: compiled *vm.Program objects are cached and reused.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Name returns the evaluator identifier.
func (e *ExprEvaluator) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) a rule and runs it against the
// provided data, which is injected as the expression environment.
func (e *ExprEvaluator) Evaluate(ctx context.Context, rule string, data map[string]any) (any, error) {
	if rule == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "empty expr rule")
	}

	prg, err := e.getOrCompile(rule, data)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidOperation,
			"expr evaluation failed for %q: %s", rule, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"rule": rule})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new
// one. The data map is used to infer the environment for compilation.
func (e *ExprEvaluator) getOrCompile(rule string, data map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[rule]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[rule]; ok {
		return prg, nil
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := expr.Compile(rule,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"expr compile error in %q: %s", rule, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"rule": rule})
	}

	e.cache[rule] = prg
	return prg, nil
}

var _ Evaluator = (*ExprEvaluator)(nil)
