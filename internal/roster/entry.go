package roster

import "time"

// Entry is one roster row: a unique identifier (student number) and the
// display name shown next to it.
type Entry struct {
	ID   string `json:"MSSV"`
	Name string `json:"Name"`
}

// Snapshot is an immutable view of the roster as loaded at LoadedAt.
//
// Design choices:
//   - Entries keeps upstream order; index gives O(1) lookups.
//   - A Snapshot is never mutated after construction. Reloads and
//     out-of-band merges build a new value and swap the pointer.
type Snapshot struct {
	entries  []Entry
	index    map[string]int
	loadedAt time.Time
}

// NewSnapshot builds a snapshot from entries.
//
// Duplicate ids are resolved last-write-wins in place: the entry keeps the
// position of the first occurrence and takes the name of the last one. The
// duplicated ids are returned so the caller can log them.
func NewSnapshot(entries []Entry, loadedAt time.Time) (*Snapshot, []string) {
	s := &Snapshot{
		entries:  make([]Entry, 0, len(entries)),
		index:    make(map[string]int, len(entries)),
		loadedAt: loadedAt,
	}

	var dups []string
	for _, e := range entries {
		if pos, ok := s.index[e.ID]; ok {
			s.entries[pos].Name = e.Name
			dups = append(dups, e.ID)
			continue
		}
		s.index[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return s, dups
}

// Lookup returns the entry for id.
func (s *Snapshot) Lookup(id string) (Entry, bool) {
	pos, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// Has reports whether id is on the roster.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Entries returns a copy of the roster in upstream order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Snapshot) Len() int { return len(s.entries) }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// IsStale checks whether the snapshot is older than ttl at the given time.
// A non-positive ttl means the snapshot never goes stale.
func (s *Snapshot) IsStale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.loadedAt) >= ttl
}

// withEntries returns a copy of s extended by the entries whose id is not
// already present, along with the ids that were added. LoadedAt is kept so
// merging never extends freshness.
func (s *Snapshot) withEntries(extra []Entry) (*Snapshot, []string) {
	out := &Snapshot{
		entries:  make([]Entry, len(s.entries), len(s.entries)+len(extra)),
		index:    make(map[string]int, len(s.index)+len(extra)),
		loadedAt: s.loadedAt,
	}
	copy(out.entries, s.entries)
	for id, pos := range s.index {
		out.index[id] = pos
	}

	var added []string
	for _, e := range extra {
		if _, ok := out.index[e.ID]; ok {
			continue
		}
		out.index[e.ID] = len(out.entries)
		out.entries = append(out.entries, e)
		added = append(added, e.ID)
	}
	return out, added
}
