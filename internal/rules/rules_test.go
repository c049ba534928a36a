package rules

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weft/pkg/schema"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(slog.Default())
	require.NoError(t, err)
	return e
}

func testNode(visibility map[string]any) *schema.Node {
	return &schema.Node{
		ID:         "n1_scene",
		Type:       "text",
		Title:      "Scene",
		Content:    "body",
		Metadata:   map[string]any{"draft": true, "score": 7},
		Visibility: visibility,
	}
}

func TestVisibility_NoRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	assert.True(t, e.Visibility(ctx, testNode(nil), nil))
	assert.True(t, e.Visibility(ctx, testNode(map[string]any{}), nil))
	assert.True(t, e.Visibility(ctx, nil, nil))
}

func TestVisibility_ExprRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rule string
		want bool
	}{
		{"passes", `node.type == "text"`, true},
		{"fails", `node.type == "image"`, false},
		{"metadata lookup", `meta.draft == true`, true},
		{"optional chaining on absent", `node.metadata?.missing == nil`, true},
		{"numeric comparison", `meta.score > 5`, true},
		{"numeric comparison fails", `meta.score > 10`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := testNode(map[string]any{"rule": tc.rule})
			assert.Equal(t, tc.want, e.Visibility(ctx, n, nil))
		})
	}
}

func TestVisibility_CELRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	n := testNode(map[string]any{"rule": `cel:node.type == "text"`})
	assert.True(t, e.Visibility(ctx, n, nil))

	n = testNode(map[string]any{"rule": `cel:node.type == "image"`})
	assert.False(t, e.Visibility(ctx, n, nil))
}

func TestVisibility_ProjectEnv(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	p := &schema.Project{ID: "p1", Title: "pilot", Settings: map[string]any{"stage": "review"}}

	n := testNode(map[string]any{"rule": `project.settings.stage == "review"`})
	assert.True(t, e.Visibility(ctx, n, p))

	n = testNode(map[string]any{"rule": `cel:project.settings.stage == "review"`})
	assert.True(t, e.Visibility(ctx, n, p))

	// Absent project resolves to an empty map, not an error.
	n = testNode(map[string]any{"rule": `project?.title == "pilot"`})
	assert.False(t, e.Visibility(ctx, n, nil))
}

func TestVisibility_AllRulesMustHold(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	n := testNode(map[string]any{
		"a": `node.type == "text"`,
		"b": `meta.score > 10`,
	})
	assert.False(t, e.Visibility(ctx, n, nil))
}

func TestVisibility_MalformedRuleIsVisible(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	cases := map[string]map[string]any{
		"syntax error":    {"rule": `node.type ===`},
		"cel syntax":      {"rule": `cel:node.type ===`},
		"non-string rule": {"rule": 42},
		"blank rule":      {"rule": "   "},
	}
	for name, vis := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, e.Visibility(ctx, testNode(vis), nil))
		})
	}
}

func TestExprEvaluator_CachesPrograms(t *testing.T) {
	e := NewExprEvaluator()
	ctx := context.Background()
	data := map[string]any{"node": map[string]any{"type": "text"}}

	out, err := e.Evaluate(ctx, `node.type == "text"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	require.Len(t, e.cache, 1)
	_, err = e.Evaluate(ctx, `node.type == "text"`, data)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestCELEvaluator_Errors(t *testing.T) {
	e, err := NewCELEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Evaluate(ctx, "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidInput, schema.ErrCode(err))

	_, err = e.Evaluate(ctx, `node.type ==`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidInput, schema.ErrCode(err))
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{0, false},
		{3, true},
		{0.0, false},
		{1.5, true},
		{"", false},
		{"x", true},
		{[]any{}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, truthy(tc.in), "truthy(%v)", tc.in)
	}
}
