package roster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot(t *testing.T) {
	loadedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	snap, dups := NewSnapshot([]Entry{
		{ID: "A1", Name: "Alice"},
		{ID: "B2", Name: "Bob"},
	}, loadedAt)

	assert.Empty(t, dups)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, loadedAt, snap.LoadedAt())

	e, ok := snap.Lookup("B2")
	require.True(t, ok)
	assert.Equal(t, "Bob", e.Name)

	assert.True(t, snap.Has("A1"))
	assert.False(t, snap.Has("C3"))
}

func TestNewSnapshot_DuplicateIDsLastWriteWinsInPlace(t *testing.T) {
	snap, dups := NewSnapshot([]Entry{
		{ID: "A1", Name: "Alice"},
		{ID: "B2", Name: "Bob"},
		{ID: "A1", Name: "Alicia"},
	}, time.Now())

	assert.Equal(t, []string{"A1"}, dups)
	assert.Equal(t, []Entry{
		{ID: "A1", Name: "Alicia"},
		{ID: "B2", Name: "Bob"},
	}, snap.Entries())
}

func TestSnapshot_EntriesIsACopy(t *testing.T) {
	snap, _ := NewSnapshot([]Entry{{ID: "A1", Name: "Alice"}}, time.Now())

	entries := snap.Entries()
	entries[0].Name = "Mallory"

	e, _ := snap.Lookup("A1")
	assert.Equal(t, "Alice", e.Name)
}

func TestSnapshot_IsStale(t *testing.T) {
	loadedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	snap, _ := NewSnapshot(nil, loadedAt)

	assert.False(t, snap.IsStale(loadedAt.Add(59*time.Second), time.Minute))
	assert.True(t, snap.IsStale(loadedAt.Add(time.Minute), time.Minute))
	assert.False(t, snap.IsStale(loadedAt.Add(24*time.Hour), 0), "non-positive ttl never expires")
}

func TestSnapshot_WithEntries(t *testing.T) {
	loadedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	snap, _ := NewSnapshot([]Entry{{ID: "A1", Name: "Alice"}}, loadedAt)

	merged, added := snap.withEntries([]Entry{
		{ID: "A1", Name: "Someone Else"},
		{ID: "Z9", Name: "Zed"},
		{ID: "Z9", Name: "Zed Again"},
	})

	assert.Equal(t, []string{"Z9"}, added)
	assert.Equal(t, loadedAt, merged.LoadedAt())
	assert.Equal(t, 2, merged.Len())

	e, _ := merged.Lookup("A1")
	assert.Equal(t, "Alice", e.Name, "existing entries are not overwritten")

	assert.False(t, snap.Has("Z9"), "original snapshot is untouched")
}
