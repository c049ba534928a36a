// Package textpatch computes and applies minimal retain/insert/delete
// operation sequences over string content. It has no storage dependency and
// works in runes so multi-byte content patches cleanly.
package textpatch

import (
	"strings"

	"github.com/rendis/weft/pkg/schema"
)

// Diff computes an operation sequence transforming before into after: the
// longest common prefix and the disjoint longest common suffix are retained,
// the differing middle of before is deleted and the differing middle of after
// inserted. Identical strings yield an empty sequence.
func Diff(before, after string) []schema.TextOp {
	if before == after {
		return nil
	}

	b := []rune(before)
	a := []rune(after)

	prefix := 0
	for prefix < len(b) && prefix < len(a) && b[prefix] == a[prefix] {
		prefix++
	}

	// Suffix must not overlap the prefix on either side.
	suffix := 0
	for suffix < len(b)-prefix && suffix < len(a)-prefix &&
		b[len(b)-1-suffix] == a[len(a)-1-suffix] {
		suffix++
	}

	var ops []schema.TextOp
	if prefix > 0 {
		ops = appendOp(ops, schema.Retain(prefix))
	}
	if mid := len(b) - prefix - suffix; mid > 0 {
		ops = appendOp(ops, schema.Delete(mid))
	}
	if mid := a[prefix : len(a)-suffix]; len(mid) > 0 {
		ops = appendOp(ops, schema.Insert(string(mid)))
	}
	if suffix > 0 {
		ops = appendOp(ops, schema.Retain(suffix))
	}
	return ops
}

// appendOp appends op, coalescing it with the previous operation when both
// are of the same kind.
func appendOp(ops []schema.TextOp, op schema.TextOp) []schema.TextOp {
	if len(ops) > 0 {
		last := &ops[len(ops)-1]
		switch {
		case op.IsRetain() && last.IsRetain():
			last.Retain += op.Retain
			return ops
		case op.IsDelete() && last.IsDelete():
			last.Delete += op.Delete
			return ops
		case op.IsInsert() && last.IsInsert():
			last.Insert += op.Insert
			return ops
		}
	}
	return append(ops, op)
}

// Apply walks ops left-to-right against a cursor into base. Retain copies and
// advances, delete advances without copying, insert appends without moving
// the cursor. Any unconsumed tail of base is appended afterwards, so
// operations need not retain to the end. An empty sequence returns base
// unchanged.
func Apply(base string, ops []schema.TextOp) (string, error) {
	if len(ops) == 0 {
		return base, nil
	}

	runes := []rune(base)
	var sb strings.Builder
	cursor := 0

	for _, op := range ops {
		switch {
		case op.Retain != 0:
			if op.Retain < 0 || cursor+op.Retain > len(runes) {
				return "", schema.NewErrorf(schema.ErrCodeInvalidOperation,
					"retain %d out of bounds at offset %d of %d", op.Retain, cursor, len(runes))
			}
			sb.WriteString(string(runes[cursor : cursor+op.Retain]))
			cursor += op.Retain
		case op.Delete != 0:
			if op.Delete < 0 || cursor+op.Delete > len(runes) {
				return "", schema.NewErrorf(schema.ErrCodeInvalidOperation,
					"delete %d out of bounds at offset %d of %d", op.Delete, cursor, len(runes))
			}
			cursor += op.Delete
		case op.Insert != "":
			sb.WriteString(op.Insert)
		}
	}

	sb.WriteString(string(runes[cursor:]))
	return sb.String(), nil
}
