package normalize

import (
	"encoding/json"

	"github.com/rendis/weft/pkg/schema"
)

// Connections filters a partial connection summary down to well-formed
// entries. An entry needs a non-empty string edge_id and endpoint id;
// routing defaults to the empty string. Entries failing the shape check are
// silently dropped — callers routinely hand over stale or truncated caches
// and a partial view is more useful than a rejection.
func Connections(partial any) schema.Connections {
	out := schema.Connections{
		Incoming: []schema.IncomingRef{},
		Outgoing: []schema.OutgoingRef{},
	}
	m, ok := asMap(partial)
	if !ok {
		return out
	}

	if list, ok := m["incoming"].([]any); ok {
		for _, entry := range list {
			em, ok := asMap(entry)
			if !ok {
				continue
			}
			edgeID, _ := em["edge_id"].(string)
			from, _ := em["from"].(string)
			if edgeID == "" || from == "" {
				continue
			}
			routing, _ := em["routing"].(string)
			out.Incoming = append(out.Incoming, schema.IncomingRef{EdgeID: edgeID, From: from, Routing: routing})
		}
	}
	if list, ok := m["outgoing"].([]any); ok {
		for _, entry := range list {
			em, ok := asMap(entry)
			if !ok {
				continue
			}
			edgeID, _ := em["edge_id"].(string)
			to, _ := em["to"].(string)
			if edgeID == "" || to == "" {
				continue
			}
			routing, _ := em["routing"].(string)
			out.Outgoing = append(out.Outgoing, schema.OutgoingRef{EdgeID: edgeID, To: to, Routing: routing})
		}
	}
	return out
}

// MergeConnections applies patch semantics over a stored summary: JSON null
// resets to an empty summary, an omitted patch keeps the current value,
// anything else replaces the corresponding direction list before re-filtering.
func MergeConnections(current schema.Connections, patch json.RawMessage) schema.Connections {
	switch schema.StateOf(patch) {
	case schema.FieldAbsent:
		return current
	case schema.FieldNull:
		return schema.Connections{Incoming: []schema.IncomingRef{}, Outgoing: []schema.OutgoingRef{}}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return current
	}

	merged := connectionsToMap(current)
	for _, dir := range []string{"incoming", "outgoing"} {
		raw, ok := fields[dir]
		if !ok {
			continue
		}
		switch schema.StateOf(raw) {
		case schema.FieldNull:
			merged[dir] = []any{}
		case schema.FieldValue:
			var v any
			_ = json.Unmarshal(raw, &v)
			merged[dir] = v
		}
	}
	return Connections(merged)
}

func connectionsToMap(c schema.Connections) map[string]any {
	incoming := make([]any, 0, len(c.Incoming))
	for _, ref := range c.Incoming {
		incoming = append(incoming, map[string]any{"edge_id": ref.EdgeID, "from": ref.From, "routing": ref.Routing})
	}
	outgoing := make([]any, 0, len(c.Outgoing))
	for _, ref := range c.Outgoing {
		outgoing = append(outgoing, map[string]any{"edge_id": ref.EdgeID, "to": ref.To, "routing": ref.Routing})
	}
	return map[string]any{"incoming": incoming, "outgoing": outgoing}
}
