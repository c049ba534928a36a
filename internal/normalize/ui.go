// Package normalize coerces partial, untrusted shape data (canvas descriptors,
// connection lists, visibility flags) into canonical structures that satisfy
// the engine invariants. All functions are pure.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"

	"github.com/rendis/weft/pkg/schema"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3}$|^#[0-9a-fA-F]{6}$`)

// DefaultUI returns the engine-default canvas descriptor anchored at the origin.
func DefaultUI() schema.UI {
	return schema.UI{
		Color: schema.DefaultColor,
		BBox: schema.BBox{
			X1: 0, Y1: 0,
			X2: schema.DefaultNodeWidth,
			Y2: schema.DefaultNodeHeight,
		},
	}
}

// UI validates and repairs a partial canvas descriptor. The color falls back
// to the default on pattern mismatch; bbox coordinates are coerced to finite
// numbers with per-field defaults, then a degenerate or inverted extent is
// repaired by re-deriving X2/Y2 from X1/Y1 plus the default node size.
//
// Repair makes the final invariant check effectively unreachable for finite
// inputs; it fails only if the repaired box still violates X2>X1 && Y2>Y1.
func UI(partial any) (schema.UI, error) {
	out := DefaultUI()

	m, _ := asMap(partial)
	if c, ok := m["color"].(string); ok && colorPattern.MatchString(c) {
		out.Color = c
	}

	if bm, ok := asMap(m["bbox"]); ok {
		out.BBox.X1 = finiteOr(bm["x1"], out.BBox.X1)
		out.BBox.Y1 = finiteOr(bm["y1"], out.BBox.Y1)
		out.BBox.X2 = finiteOr(bm["x2"], out.BBox.X2)
		out.BBox.Y2 = finiteOr(bm["y2"], out.BBox.Y2)
	}

	if out.BBox.X2 <= out.BBox.X1 {
		out.BBox.X2 = out.BBox.X1 + schema.DefaultNodeWidth
	}
	if out.BBox.Y2 <= out.BBox.Y1 {
		out.BBox.Y2 = out.BBox.Y1 + schema.DefaultNodeHeight
	}

	if !out.BBox.Valid() {
		return schema.UI{}, schema.NewError(schema.ErrCodeInvalidInput,
			"bbox cannot be repaired to a positive extent")
	}
	return out, nil
}

// MergeUI applies patch semantics over a stored descriptor: JSON null resets
// to the engine default, an omitted field keeps the current value, anything
// else replaces the corresponding sub-field. The merged result is re-normalized.
func MergeUI(current schema.UI, patch json.RawMessage) (schema.UI, error) {
	switch schema.StateOf(patch) {
	case schema.FieldAbsent:
		return UI(uiToMap(current))
	case schema.FieldNull:
		return DefaultUI(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return schema.UI{}, schema.NewError(schema.ErrCodeInvalidInput, "ui patch must be an object").WithCause(err)
	}

	merged := uiToMap(current)
	def := DefaultUI()
	if raw, ok := fields["color"]; ok {
		switch schema.StateOf(raw) {
		case schema.FieldNull:
			merged["color"] = def.Color
		case schema.FieldValue:
			var v any
			_ = json.Unmarshal(raw, &v)
			merged["color"] = v
		}
	}
	if raw, ok := fields["bbox"]; ok {
		switch schema.StateOf(raw) {
		case schema.FieldNull:
			merged["bbox"] = map[string]any{"x1": def.BBox.X1, "y1": def.BBox.Y1, "x2": def.BBox.X2, "y2": def.BBox.Y2}
		case schema.FieldValue:
			var v any
			_ = json.Unmarshal(raw, &v)
			merged["bbox"] = v
		}
	}
	return UI(merged)
}

// AIVisible coerces an untrusted flag: booleans pass through, numbers map via
// v != 0, anything else (including absence) yields true.
func AIVisible(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return true
		}
		return f != 0
	default:
		return true
	}
}

func uiToMap(ui schema.UI) map[string]any {
	return map[string]any{
		"color": ui.Color,
		"bbox": map[string]any{
			"x1": ui.BBox.X1, "y1": ui.BBox.Y1,
			"x2": ui.BBox.X2, "y2": ui.BBox.Y2,
		},
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}, false
	}
	return m, true
}

// finiteOr coerces v to a finite float64, falling back to def. Numeric strings
// are accepted because canvas payloads arrive through lossy JSON layers.
func finiteOr(v any, def float64) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}
