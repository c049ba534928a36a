// Package layout computes canvas placements for nodes materialized by the
// transformer. All functions are pure; callers seed node bounding boxes from
// the returned points.
package layout

import "github.com/rendis/weft/pkg/schema"

// Spacing constants for generated subgraphs.
const (
	// HorizontalStep separates a tree child from its parent column.
	HorizontalStep = 320.0
	// VerticalStep separates fanned siblings.
	VerticalStep = 120.0
	// DepthStagger nudges alternating depth levels sideways so edges at
	// different levels do not overlap visually.
	DepthStagger = 40.0
	// SplitGap separates split segments from the right border of their source.
	SplitGap = 80.0
)

// FanOffset returns the vertical fan multiplier for sibling index i in a
// tree import: 0, -1, +2, -3, +4, ... Index 0 sits on the parent's row, odd
// indices go above, even indices below, with magnitude growing per index.
func FanOffset(index int) int {
	if index%2 == 1 {
		return -index
	}
	return index
}

// TreeChildPlacement positions a tree child one horizontal step to the right
// of its parent, fanned vertically by sibling index, with an alternating
// per-depth horizontal stagger. depth is the child's depth (root entries are 0).
func TreeChildPlacement(parent schema.Point, depth, index int) schema.Point {
	stagger := DepthStagger
	if depth%2 == 1 {
		stagger = -DepthStagger
	}
	return schema.Point{
		X: parent.X + HorizontalStep + stagger,
		Y: parent.Y + float64(FanOffset(index))*VerticalStep,
	}
}

// FanPlacement positions sibling index of count split segments to the right
// of the anchor box, fanned symmetrically around the anchor's vertical
// center: offset (index - (count-1)/2) * VerticalStep. A single sibling
// centers exactly on the anchor. The returned point is the top-left corner
// of a default-height node whose center lands on the computed row.
func FanPlacement(anchor schema.BBox, count, index int) schema.Point {
	offset := (float64(index) - float64(count-1)/2) * VerticalStep
	return schema.Point{
		X: anchor.X2 + SplitGap,
		Y: anchor.CenterY() + offset - schema.DefaultNodeHeight/2,
	}
}

// BoxAt builds a default-sized bounding box with its top-left corner at p.
func BoxAt(p schema.Point) schema.BBox {
	return schema.BBox{
		X1: p.X,
		Y1: p.Y,
		X2: p.X + schema.DefaultNodeWidth,
		Y2: p.Y + schema.DefaultNodeHeight,
	}
}
