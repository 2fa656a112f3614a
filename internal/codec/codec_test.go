package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestNormalizeTrimsAndDedupesLabels(t *testing.T) {
	m := Metadata{
		Title:  "  Write spec  ",
		Notes:  strp("  body  "),
		Labels: []Label{{Name: "b"}, {Name: "a"}, {Name: "a"}},
		Status: "needsAction",
	}
	got := Normalize(m)
	assert.Equal(t, "Write spec", got.Title)
	assert.Equal(t, "body", *got.Notes)
	require.Len(t, got.Labels, 2)
	assert.Equal(t, "a", got.Labels[0].Name)
	assert.Equal(t, "b", got.Labels[1].Name)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	m := Metadata{Title: " X ", Labels: []Label{{Name: "z"}, {Name: "a"}}}
	once := Normalize(m)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestHashEqualIffFieldwiseEqual(t *testing.T) {
	a := Metadata{Title: "T", Status: "needsAction", Priority: "none"}
	b := Metadata{Title: "T", Status: "needsAction", Priority: "none"}
	c := Metadata{Title: "T", Status: "completed", Priority: "none"}

	assert.Equal(t, Hash(a), Hash(b))
	assert.NotEqual(t, Hash(a), Hash(c))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Normalize(Metadata{
		Title:     "Write spec",
		Notes:     strp("some body text"),
		DueDate:   strp("2026-01-15"),
		Priority:  "high",
		Labels:    []Label{{Name: "work", Color: "blue"}},
		Status:    "needsAction",
		TimeBlock: strp("morning"),
	})

	payload := EncodeForRemote(m)
	decoded := Normalize(DecodeFromRemote(payload))

	assert.Equal(t, m, decoded)
}

func TestDecodeFromRemoteWithoutMarkerDefaultsPriority(t *testing.T) {
	notes := "plain note, no envelope"
	payload := RemotePayload{Title: "T", Notes: &notes, Status: "needsAction"}

	decoded := DecodeFromRemote(payload)

	assert.Equal(t, "none", decoded.Priority)
	assert.Empty(t, decoded.Labels)
	require.NotNil(t, decoded.Notes)
	assert.Equal(t, notes, *decoded.Notes)
}

func TestDiffFieldNames(t *testing.T) {
	a := Metadata{Title: "A", Status: "needsAction", Labels: []Label{{Name: "x"}}}
	b := Metadata{Title: "B", Status: "completed", Labels: []Label{{Name: "x"}, {Name: "y"}}}

	dirty := Diff(a, b)
	assert.ElementsMatch(t, []string{"title", "status", "labels"}, dirty)
}

func TestDiffEmptyWhenEqual(t *testing.T) {
	a := Metadata{Title: " A ", Status: "needsAction"}
	b := Metadata{Title: "A", Status: "needsAction"}
	assert.Empty(t, Diff(a, b))
}

func TestSubtaskHashStableOverNormalization(t *testing.T) {
	a := SubtaskMetadata{Title: "  sub  ", Position: "0001"}
	b := SubtaskMetadata{Title: "sub", Position: "0001"}
	assert.Equal(t, HashSubtask(a), HashSubtask(b))
}
