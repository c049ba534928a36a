package schema

import (
	"bytes"
	"encoding/json"
)

// TextOp is one primitive text-patch instruction. Exactly one of the three
// fields is meaningful: Retain copies n characters, Delete skips n characters,
// Insert appends text at the cursor.
type TextOp struct {
	Retain int    `json:"retain,omitempty"`
	Delete int    `json:"delete,omitempty"`
	Insert string `json:"insert,omitempty"`
}

// Retain builds a retain operation.
func Retain(n int) TextOp { return TextOp{Retain: n} }

// Delete builds a delete operation.
func Delete(n int) TextOp { return TextOp{Delete: n} }

// Insert builds an insert operation.
func Insert(text string) TextOp { return TextOp{Insert: text} }

// IsRetain reports whether op is a retain.
func (op TextOp) IsRetain() bool { return op.Retain != 0 }

// IsDelete reports whether op is a delete.
func (op TextOp) IsDelete() bool { return op.Delete != 0 }

// IsInsert reports whether op is an insert.
func (op TextOp) IsInsert() bool { return op.Insert != "" }

// FieldState is the tri-state of a patch field as it arrived on the wire.
type FieldState int

const (
	// FieldAbsent means the field was omitted: keep the current value.
	FieldAbsent FieldState = iota
	// FieldNull means the field was an explicit JSON null: reset to default.
	FieldNull
	// FieldValue means the field carries a replacement value.
	FieldValue
)

// StateOf classifies a raw patch field.
func StateOf(raw json.RawMessage) FieldState {
	switch {
	case len(raw) == 0:
		return FieldAbsent
	case bytes.Equal(bytes.TrimSpace(raw), []byte("null")):
		return FieldNull
	default:
		return FieldValue
	}
}

// NodeInput is the payload for creating a node. UI and AIVisible are untyped
// because they arrive untrusted and pass through normalization.
type NodeInput struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Visibility  map[string]any `json:"visibility,omitempty"`
	UI          any            `json:"ui,omitempty"`
	AIVisible   any            `json:"ai_visible,omitempty"`
	Connections any            `json:"connections,omitempty"`
}

// NodePatch is a partial node update. Each field is independently tri-state
// (see StateOf): omitted keeps the stored value, JSON null resets to the
// engine default, anything else replaces.
type NodePatch struct {
	Type        json.RawMessage `json:"type,omitempty"`
	Title       json.RawMessage `json:"title,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	ContentType json.RawMessage `json:"content_type,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Visibility  json.RawMessage `json:"visibility,omitempty"`
	UI          json.RawMessage `json:"ui,omitempty"`
	AIVisible   json.RawMessage `json:"ai_visible,omitempty"`
	Connections json.RawMessage `json:"connections,omitempty"`

	// TextOps, when non-empty, are applied against the stored content to
	// compute the new content before persisting. They are never persisted
	// themselves and take precedence over Content.
	TextOps []TextOp `json:"text_operations,omitempty"`
}

// EdgeInput is the payload for connecting two nodes.
type EdgeInput struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Label        string `json:"label,omitempty"`
	Routing      string `json:"routing,omitempty"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Edge mutation outcomes. Duplicate creation and deletion of an absent edge
// are benign races (double-click connect, cascade already removed the row),
// not errors.
const (
	EdgeCreated   = "created"
	EdgeDuplicate = "duplicate"
	EdgeDeleted   = "deleted"
	EdgeAbsent    = "absent"
)

// CreateEdgeResult reports the outcome of a connect call along with the
// refreshed project view.
type CreateEdgeResult struct {
	Status  string       `json:"status"`
	Notice  string       `json:"notice,omitempty"`
	Edge    *Edge        `json:"edge,omitempty"`
	Project *ProjectView `json:"project"`
}

// DeleteEdgeResult reports the outcome of a disconnect call.
type DeleteEdgeResult struct {
	Status  string       `json:"status"`
	Notice  string       `json:"notice,omitempty"`
	Project *ProjectView `json:"project"`
}
