package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

func TestParseRaw(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		items, err := ParseRaw(`{"email_id":"1","urgency":"urgent","category":"work","confidence":0.7,"rationale":"r"}`)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "1", items[0].EmailID)
		require.NotNil(t, items[0].Confidence)
		assert.InDelta(t, 0.7, *items[0].Confidence, 1e-9)
	})

	t.Run("fenced array", func(t *testing.T) {
		items, err := ParseRaw("```json\n[{\"email_id\":\"1\",\"urgency\":\"fyi\",\"confidence\":\"0.3\"},{\"email_id\":\"2\",\"urgency\":\"spam\"}]\n```")
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.NotNil(t, items[0].Confidence)
		assert.InDelta(t, 0.3, *items[0].Confidence, 1e-9)
		assert.Nil(t, items[1].Confidence)
	})

	t.Run("plain fence", func(t *testing.T) {
		items, err := ParseRaw("```\n{\"urgency\":\"meeting\",\"confidence\":null}\n```")
		require.NoError(t, err)
		assert.Equal(t, "meeting", items[0].Urgency)
		assert.Nil(t, items[0].Confidence)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseRaw("not json")
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseRaw("  ")
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{`0.5`, ptr(0.5)},
		{`"0.25"`, ptr(0.25)},
		{`"85%"`, ptr(0.85)},
		{`"high"`, nil},
		{`null`, nil},
		{``, nil},
		{`"NaN"`, nil},
	}
	for _, tt := range tests {
		got := parseConfidence([]byte(tt.in))
		if tt.want == nil {
			assert.Nil(t, got, "input %s", tt.in)
			continue
		}
		require.NotNil(t, got, "input %s", tt.in)
		assert.InDelta(t, *tt.want, *got, 1e-9)
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "to_respond", normalizeLabel("  To-Respond "))
	assert.Equal(t, "meeting_request", normalizeLabel("Meeting Request"))
	assert.Equal(t, "", normalizeLabel("   "))
}
