package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/weft/pkg/schema"
)

// CELEvaluator runs visibility rules through Google's Common Expression
// Language inside a sandboxed environment. The environment exposes three
// top-level variables:
//   - node:    map(string, dyn) — id, type, title, content, metadata, config
//   - project: map(string, dyn) — id, title, description, settings
//   - meta:    map(string, dyn) — shorthand for the node's metadata
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEvaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEvaluator creates a CELEvaluator with the sandboxed environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("node", mapType),
		cel.Variable("project", mapType),
		cel.Variable("meta", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the evaluator identifier.
func (e *CELEvaluator) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a rule and evaluates it.
// Missing environment keys default to empty maps so a rule over an absent
// variable fails cleanly instead of panicking.
func (e *CELEvaluator) Evaluate(ctx context.Context, rule string, data map[string]any) (any, error) {
	if rule == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "empty CEL rule")
	}

	prg, err := e.getOrCompile(rule)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidOperation,
			"CEL evaluation failed for %q: %s", rule, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"rule": rule})
	}
	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEvaluator) getOrCompile(rule string) (cel.Program, error) {
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

	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"CEL compile error in %q: %s", rule, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"rule": rule})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput,
			"CEL program error for %q: %s", rule, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"rule": rule})
	}

	e.cache[rule] = prg
	return prg, nil
}

// buildActivation fills in empty maps for missing environment keys.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, 3)
	for _, key := range []string{"node", "project", "meta"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Evaluator = (*CELEvaluator)(nil)
