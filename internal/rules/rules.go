package rules

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/weft/pkg/schema"
)

// Evaluator runs one visibility rule against graph data. Two implementations:
// Expr (default) and CEL (rules prefixed "cel:").
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, rule string, data map[string]any) (any, error)
}

const celPrefix = "cel:"

// Engine dispatches visibility rules to the right evaluator backend.
type Engine struct {
	expr Evaluator
	cel  Evaluator
	log  *slog.Logger
}

// NewEngine builds an Engine with both backends ready.
func NewEngine(log *slog.Logger) (*Engine, error) {
	celEval, err := NewCELEvaluator()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		expr: NewExprEvaluator(),
		cel:  celEval,
		log:  log,
	}, nil
}

// Visibility evaluates all of a node's visibility rules against the node and
// its project. Every rule must hold for the node to be visible. A malformed
// or failing rule never hides the node: it logs a warning and counts as
// visible, so a bad rule cannot make content unreachable.
func (e *Engine) Visibility(ctx context.Context, node *schema.Node, project *schema.Project) bool {
	if node == nil || len(node.Visibility) == 0 {
		return true
	}

	data := ruleData(node, project)
	for name, raw := range node.Visibility {
		rule, ok := raw.(string)
		if !ok || strings.TrimSpace(rule) == "" {
			e.log.WarnContext(ctx, "skipping non-string visibility rule",
				slog.String("rule", name), slog.String("node_id", node.ID))
			continue
		}

		eval := e.expr
		if strings.HasPrefix(rule, celPrefix) {
			eval = e.cel
			rule = strings.TrimPrefix(rule, celPrefix)
		}

		out, err := eval.Evaluate(ctx, rule, data)
		if err != nil {
			e.log.WarnContext(ctx, "visibility rule failed, treating as visible",
				slog.String("rule", name), slog.String("node_id", node.ID),
				slog.String("engine", eval.Name()), slog.String("error", err.Error()))
			continue
		}
		if !truthy(out) {
			return false
		}
	}
	return true
}

// ruleData builds the evaluation environment: node, project and meta maps.
func ruleData(node *schema.Node, project *schema.Project) map[string]any {
	n := map[string]any{
		"id":         node.ID,
		"type":       node.Type,
		"title":      node.Title,
		"content":    node.Content,
		"ai_visible": node.AIVisible,
		"metadata":   mapOrEmpty(node.Metadata),
		"config":     mapOrEmpty(node.Config),
	}
	p := map[string]any{}
	if project != nil {
		p = map[string]any{
			"id":          project.ID,
			"title":       project.Title,
			"description": project.Description,
			"settings":    mapOrEmpty(project.Settings),
		}
	}
	return map[string]any{
		"node":    n,
		"project": p,
		"meta":    mapOrEmpty(node.Metadata),
	}
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// truthy interprets a rule result: booleans directly, nil as false, numbers
// as non-zero, everything else as true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
