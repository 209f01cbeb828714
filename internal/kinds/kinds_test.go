package kinds_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stillpoint/internal/domain"
	"stillpoint/internal/kinds"
)

func TestLookupUnknownKind(t *testing.T) {
	_, err := kinds.Lookup("podcast")
	var verr kinds.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kind", verr.Field)
}

func TestTaggedKindsExcludeTaxonomyAndIdeas(t *testing.T) {
	tagged := kinds.TaggedKinds()
	assert.Len(t, tagged, 7)
	assert.NotContains(t, tagged, domain.KindFocus)
	assert.NotContains(t, tagged, domain.KindIdea)
}

func TestDecodeStripsMarkupAndExtractsFocus(t *testing.T) {
	d, err := kinds.Lookup("affirmation")
	require.NoError(t, err)
	got, err := d.Decode(map[string]any{
		"text":      "<b>Breathe</b> & relax",
		"focus_ids": []any{"calm", "calm", "sleep"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Breathe & relax", got.Payload.Name())
	assert.Equal(t, []string{"calm", "sleep"}, got.FocusIDs)
	assert.Equal(t, "Breathe & relax", got.Fields["text"])
	_, stored := got.Fields[kinds.FocusField]
	assert.False(t, stored, "focus ids live in the relation, not the payload")
}

func TestDecodeDoesNotRevivePlainTextMarkup(t *testing.T) {
	d, err := kinds.Lookup("affirmation")
	require.NoError(t, err)
	for name, in := range map[string]string{
		"encoded":        "Rest &lt;script&gt;alert(1)&lt;/script&gt;",
		"double encoded": "Rest &amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
		"encoded tag":    "Rest &lt;img src=x onerror=alert(1)&gt;",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := d.Decode(map[string]any{"text": in})
			require.NoError(t, err)
			text := got.Fields["text"].(string)
			assert.Equal(t, "Rest", text)
			assert.NotContains(t, text, "<")
		})
	}

	got, err := d.Decode(map[string]any{"text": "1 &lt; 2 is fine"})
	require.NoError(t, err)
	assert.Equal(t, "1 < 2 is fine", got.Payload.Name(), "a bare comparison is text, not markup")
}

func TestDecodeValidation(t *testing.T) {
	cases := []struct {
		name  string
		kind  string
		raw   map[string]any
		field string
	}{
		{"missing payload", "affirmation", nil, "payload"},
		{"required text", "affirmation", map[string]any{"category": "x"}, "text"},
		{"unknown field", "gratitude", map[string]any{"text": "sun", "mood": "ok"}, "payload"},
		{"focus on untagged kind", "idea", map[string]any{"title": "x", "focus_ids": []any{"a"}}, "focus_ids"},
		{"nested pattern", "breathwork", map[string]any{"title": "Box", "pattern": map[string]any{"inhale": 0, "exhale": 4}}, "pattern.inhale"},
		{"bad color", "focus", map[string]any{"name": "Calm", "color": "blue"}, "color"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := kinds.Lookup(tc.kind)
			require.NoError(t, err)
			_, err = d.Decode(tc.raw)
			var verr kinds.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestDecodeMediaReference(t *testing.T) {
	d, err := kinds.Lookup("meditation")
	require.NoError(t, err)
	assert.True(t, d.HasMedia())
	got, err := d.Decode(map[string]any{"title": "Body scan", "audio": "scan.mp3", "duration_seconds": 600})
	require.NoError(t, err)
	assert.Equal(t, "scan.mp3", got.Payload.Media())
}

func TestFromStringsCoercesCells(t *testing.T) {
	d, err := kinds.Lookup("breathwork")
	require.NoError(t, err)
	raw, err := d.FromStrings(map[string]string{
		"title":     "Box breathing",
		"cycles":    "4",
		"pattern":   `{"inhale":4,"hold":4,"exhale":4,"hold_after":4}`,
		"focus_ids": "calm; focus",
		"audio":     "",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, raw["cycles"])
	assert.Equal(t, []any{"calm", "focus"}, raw["focus_ids"])
	_, hasAudio := raw["audio"]
	assert.False(t, hasAudio)

	got, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "Box breathing", got.Payload.Name())

	_, err = d.FromStrings(map[string]string{"cycles": "four"})
	var verr kinds.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cycles", verr.Field)
}
