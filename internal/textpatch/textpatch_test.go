package textpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/weft/pkg/schema"
)

func TestDiff_Identical(t *testing.T) {
	assert.Empty(t, Diff("hello", "hello"))
	assert.Empty(t, Diff("", ""))
}

func TestDiff_Shapes(t *testing.T) {
	tests := []struct {
		name           string
		before, after  string
		want           []schema.TextOp
	}{
		{"append", "abc", "abcdef", []schema.TextOp{schema.Retain(3), schema.Insert("def")}},
		{"prepend", "abc", "xabc", []schema.TextOp{schema.Insert("x"), schema.Retain(3)}},
		{"truncate", "abcdef", "abc", []schema.TextOp{schema.Retain(3), schema.Delete(3)}},
		{"replace middle", "abcdef", "abXYef", []schema.TextOp{schema.Retain(2), schema.Delete(2), schema.Insert("XY"), schema.Retain(2)}},
		{"full replace", "abc", "xyz", []schema.TextOp{schema.Delete(3), schema.Insert("xyz")}},
		{"from empty", "", "abc", []schema.TextOp{schema.Insert("abc")}},
		{"to empty", "abc", "", []schema.TextOp{schema.Delete(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Diff(tt.before, tt.after))
		})
	}
}

func TestDiff_DisjointSuffix(t *testing.T) {
	// "aa" -> "aaa": prefix consumes both chars of before; the suffix scan
	// must not overlap it.
	ops := Diff("aa", "aaa")
	got, err := Apply("aa", ops)
	require.NoError(t, err)
	assert.Equal(t, "aaa", got)
}

func TestRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"", ""},
		{"", "content"},
		{"content", ""},
		{"hello world", "hello brave world"},
		{"aaaa", "aa"},
		{"aa", "aaaa"},
		{"The quick brown fox", "The slow brown dog"},
		{"line1\nline2\nline3", "line1\nline2b\nline3"},
		{"ünïcödé ⚡", "ünïcödé text ⚡"},
		{"日本語のテキスト", "日本語の長いテキスト"},
		{"same", "same"},
	}
	for _, p := range pairs {
		ops := Diff(p[0], p[1])
		got, err := Apply(p[0], ops)
		require.NoError(t, err)
		assert.Equal(t, p[1], got, "round trip %q -> %q", p[0], p[1])
	}
}

func TestApply_AutoRetainsTail(t *testing.T) {
	got, err := Apply("abcdef", []schema.TextOp{schema.Retain(1), schema.Insert("X")})
	require.NoError(t, err)
	assert.Equal(t, "aXbcdef", got)
}

func TestApply_EmptyOps(t *testing.T) {
	got, err := Apply("unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", got)
}

func TestApply_Bounds(t *testing.T) {
	tests := []struct {
		name string
		ops  []schema.TextOp
	}{
		{"retain past end", []schema.TextOp{schema.Retain(10)}},
		{"negative retain", []schema.TextOp{schema.Retain(-1)}},
		{"delete past end", []schema.TextOp{schema.Delete(10)}},
		{"negative delete", []schema.TextOp{schema.Delete(-2)}},
		{"cumulative overrun", []schema.TextOp{schema.Retain(2), schema.Delete(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply("abc", tt.ops)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeInvalidOperation, schema.ErrCode(err))
		})
	}
}

func TestApply_MultiByteCursor(t *testing.T) {
	// Cursor arithmetic is rune-based: retaining 2 over a multi-byte string
	// keeps two characters, not two bytes.
	got, err := Apply("héllo", []schema.TextOp{schema.Retain(2), schema.Delete(3), schema.Insert("y")})
	require.NoError(t, err)
	assert.Equal(t, "héy", got)
}
