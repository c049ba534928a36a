package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/weft/pkg/schema"
)

// maxTitleRunes is the visible-character clamp applied to every derived title.
const maxTitleRunes = 80

// Naming modes for split titles.
const (
	NamingAuto   = "auto"
	NamingManual = "manual"
)

// Segment is one node of a hierarchical split tree. Segments exist only
// during a single split operation; execution turns each into a persisted
// node plus an edge to its parent (the source node for depth 0).
type Segment struct {
	// Path is the dot-separated sibling-index string, e.g. "0.2".
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
	Order    int    `json:"order"`
	Siblings int    `json:"siblings"`
	Content  string `json:"content"`
	Title    string `json:"title"`

	Children []*Segment `json:"children,omitempty"`
}

// SplitConfig is the two-level delimiter configuration for a text split.
// Delimiters are matched as literal substrings, never as patterns.
type SplitConfig struct {
	Separator    string `json:"separator"`
	SubSeparator string `json:"sub_separator,omitempty"`

	// Naming selects title derivation: NamingAuto derives titles from
	// content, NamingManual honors Titles entries keyed by segment path.
	Naming string            `json:"naming,omitempty"`
	Titles map[string]string `json:"titles,omitempty"`

	// TextOps, when non-empty, are applied against the source content
	// before segmentation, so a caller can split a pending edit without
	// persisting it first. The source node itself is not modified.
	TextOps []schema.TextOp `json:"text_operations,omitempty"`
}

// segmentContent splits content on the configured delimiters and derives a
// title per segment. Whitespace around delimiters is trimmed and empty parts
// are dropped. A top-level segment that does not split into at least two
// parts on the sub-separator stays a leaf.
func segmentContent(content string, cfg SplitConfig) []*Segment {
	parts := splitParts(content, cfg.Separator)
	segments := make([]*Segment, 0, len(parts))
	for i, part := range parts {
		seg := &Segment{
			Path:     fmt.Sprintf("%d", i),
			Depth:    0,
			Order:    i,
			Siblings: len(parts),
			Content:  part,
		}
		if cfg.SubSeparator != "" {
			subParts := splitParts(part, cfg.SubSeparator)
			if len(subParts) > 1 {
				for j, sub := range subParts {
					seg.Children = append(seg.Children, &Segment{
						Path:     fmt.Sprintf("%d.%d", i, j),
						Depth:    1,
						Order:    j,
						Siblings: len(subParts),
						Content:  sub,
					})
				}
			}
		}
		segments = append(segments, seg)
	}

	for _, seg := range segments {
		seg.Title = deriveTitle(seg, cfg)
		for _, sub := range seg.Children {
			sub.Title = deriveTitle(sub, cfg)
		}
	}
	return segments
}

// splitParts splits on a literal delimiter, trims whitespace around each
// part, and discards empties.
func splitParts(content, separator string) []string {
	var raw []string
	if separator == "" {
		raw = []string{content}
	} else {
		raw = strings.Split(content, separator)
	}
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// deriveTitle picks a segment title: an explicit manual title when naming is
// manual, else the cleaned first non-blank content line, else a positional
// fallback.
func deriveTitle(seg *Segment, cfg SplitConfig) string {
	if cfg.Naming == NamingManual {
		if manual, ok := cfg.Titles[seg.Path]; ok && strings.TrimSpace(manual) != "" {
			return clampTitle(strings.TrimSpace(manual))
		}
	}
	if line := firstLineTitle(seg.Content); line != "" {
		return clampTitle(line)
	}
	if seg.Depth == 0 {
		return fmt.Sprintf("Segment %d", seg.Order+1)
	}
	return fmt.Sprintf("Sub-segment %s", seg.Path)
}

var (
	headingMarker = regexp.MustCompile(`^\s*(#{1,6}|>+)\s*`)
	listMarker    = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
	emphasisRunes = strings.NewReplacer("*", "", "_", "", "`", "", "~", "")
	spaceRun      = regexp.MustCompile(`\s+`)
)

// firstLineTitle extracts the first non-blank line of content and strips
// markdown noise: heading, blockquote, list and numbering markers at the
// front, emphasis characters inline, collapsed whitespace.
func firstLineTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		line = headingMarker.ReplaceAllString(line, "")
		line = listMarker.ReplaceAllString(line, "")
		line = emphasisRunes.Replace(line)
		line = spaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
		return line
	}
	return ""
}

// clampTitle limits a title to maxTitleRunes visible characters, appending
// an ellipsis when truncated.
func clampTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}
