package articulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "simple object",
			input: `prefix {"a": 1} suffix`,
			want:  `{"a": 1}`,
			ok:    true,
		},
		{
			name:  "nested objects",
			input: `{"a": {"b": {"c": 3}}}`,
			want:  `{"a": {"b": {"c": 3}}}`,
			ok:    true,
		},
		{
			name:  "braces inside string",
			input: `{"text": "not a } brace {"}`,
			want:  `{"text": "not a } brace {"}`,
			ok:    true,
		},
		{
			name:  "single quoted string with brace",
			input: `{'text': 'keep } going'}`,
			want:  `{'text': 'keep } going'}`,
			ok:    true,
		},
		{
			name:  "escaped quote",
			input: `{"text": "say \" } done"}`,
			want:  `{"text": "say \" } done"}`,
			ok:    true,
		},
		{
			name:  "unbalanced",
			input: `{"a": 1`,
			ok:    false,
		},
		{
			name:  "no object",
			input: "plain text only",
			ok:    false,
		},
		{
			name:  "chinese content",
			input: `说明 {"label": "继续（锁定）", "input": "确认锁定风格：日漫2D"} 结束`,
			want:  `{"label": "继续（锁定）", "input": "确认锁定风格：日漫2D"}`,
			ok:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, ok := ScanJSONObject(tt.input, 0)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestScanJSONObjectFromOffset(t *testing.T) {
	input := `{"first": 1} middle {"second": 2}`
	obj, end, ok := ScanJSONObject(input, 0)
	require.True(t, ok)
	assert.Equal(t, `{"first": 1}`, obj)

	obj, _, ok = ScanJSONObject(input, end)
	require.True(t, ok)
	assert.Equal(t, `{"second": 2}`, obj)
}

func TestFindJSONCandidates(t *testing.T) {
	input := "noise {\"a\":1} more {\"b\":{\"c\":2}} tail"
	got := FindJSONCandidates(input)
	require.Len(t, got, 2)
	assert.Equal(t, `{"a":1}`, got[0])
	assert.Equal(t, `{"b":{"c":2}}`, got[1])

	assert.Empty(t, FindJSONCandidates("no objects here"))
}
