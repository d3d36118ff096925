// Package convlog keeps the append-only, importance-tagged record of past
// conversations. Records are immutable once written except for reference
// counting and importance escalation; only the retention sweep deletes.
package convlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/hearthd/hearth/internal/memory"
)

// Importance is the retention tier of a conversation record.
type Importance string

const (
	Trivial   Importance = "trivial"
	Normal    Importance = "normal"
	Important Importance = "important"
	Pinned    Importance = "pinned"
)

// Valid reports whether i is a known importance tier.
func (i Importance) Valid() bool {
	switch i {
	case Trivial, Normal, Important, Pinned:
		return true
	}
	return false
}

// Retention maps importance tiers to their maximum age in days. Pinned
// records are never swept.
type Retention struct {
	TrivialDays   int
	NormalDays    int
	ImportantDays int
}

// DefaultRetention returns the standard retention windows.
func DefaultRetention() Retention {
	return Retention{TrivialDays: 7, NormalDays: 30, ImportantDays: 90}
}

func (r Retention) windowFor(i Importance) (time.Duration, bool) {
	switch i {
	case Trivial:
		return time.Duration(r.TrivialDays) * 24 * time.Hour, true
	case Normal:
		return time.Duration(r.NormalDays) * 24 * time.Hour, true
	case Important:
		return time.Duration(r.ImportantDays) * 24 * time.Hour, true
	default: // pinned
		return 0, false
	}
}

// Record is one stored conversation summary.
type Record struct {
	ID           string     `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	Summary      string     `json:"summary"`
	Topics       []string   `json:"topics,omitempty"`
	FactsLearned []string   `json:"facts_learned,omitempty"`
	Mood         string     `json:"mood,omitempty"`
	Importance   Importance `json:"importance"`
	// PinnedFrom remembers the tier a pinned record reverts to on unpin.
	PinnedFrom Importance `json:"pinned_from,omitempty"`
	// ReferencedCount counts confirmed uses by consolidation or recall,
	// not query traffic.
	ReferencedCount int `json:"referenced_count"`
}

// Log owns all conversation records. Not safe for concurrent use; the
// engine serializes writers.
type Log struct {
	retention Retention
	newID     func() string

	records []*Record
	byID    map[string]*Record

	lastSweep time.Time
}

// New creates an empty conversation log.
func New(retention Retention, newID func() string) *Log {
	return &Log{
		retention: retention,
		newID:     newID,
		byID:      make(map[string]*Record),
	}
}

// Append stores a new record and assigns its id. Importance defaults to
// normal when unset.
func (l *Log) Append(rec Record, now time.Time) (Record, error) {
	if rec.Importance == "" {
		rec.Importance = Normal
	}
	if !rec.Importance.Valid() {
		return Record{}, fmt.Errorf("append conversation: unknown importance %q: %w", rec.Importance, memory.ErrPrecondition)
	}
	rec.ID = l.newID()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.ReferencedCount = 0
	rec.PinnedFrom = ""
	cp := rec
	l.records = append(l.records, &cp)
	l.byID[cp.ID] = &cp
	return cp, nil
}

// Pin escalates a record to pinned, remembering its prior tier.
func (l *Log) Pin(id string) (Record, error) {
	r, ok := l.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("pin conversation %s: %w", id, memory.ErrNotFound)
	}
	if r.Importance != Pinned {
		r.PinnedFrom = r.Importance
		r.Importance = Pinned
	}
	return *r, nil
}

// Unpin reverts a pinned record to the tier it had before pinning.
func (l *Log) Unpin(id string) (Record, error) {
	r, ok := l.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("unpin conversation %s: %w", id, memory.ErrNotFound)
	}
	if r.Importance == Pinned {
		r.Importance = r.PinnedFrom
		if r.Importance == "" {
			r.Importance = Normal
		}
		r.PinnedFrom = ""
	}
	return *r, nil
}

// Sweep deletes every record older than its importance tier allows,
// regardless of how often it was referenced. Pinned records are never
// deleted. Destructive and irreversible; an empty pass is success.
func (l *Log) Sweep(now time.Time) (removed int, err error) {
	if now.Before(l.lastSweep) {
		return 0, fmt.Errorf("sweep at %s precedes last pass %s: %w", now.Format(time.RFC3339), l.lastSweep.Format(time.RFC3339), memory.ErrPrecondition)
	}
	l.lastSweep = now

	kept := l.records[:0]
	for _, r := range l.records {
		window, bounded := l.retention.windowFor(r.Importance)
		if bounded && now.Sub(r.Timestamp) > window {
			delete(l.byID, r.ID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return removed, nil
}

// Get returns a copy of the record with the given id.
func (l *Log) Get(id string) (Record, error) {
	r, ok := l.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("conversation %s: %w", id, memory.ErrNotFound)
	}
	return *r, nil
}

// Recent returns copies of up to n records, most recent first. A read-only
// query: it does not touch reference counts.
func (l *Log) Recent(n int) []Record {
	out := make([]Record, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *l.records[i])
	}
	return out
}

// RecentAbove is Recent restricted to records at or above the given
// importance floor (trivial < normal < important < pinned).
func (l *Log) RecentAbove(floor Importance, n int) []Record {
	out := make([]Record, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		if tierRank(l.records[i].Importance) >= tierRank(floor) {
			out = append(out, *l.records[i])
		}
	}
	return out
}

func tierRank(i Importance) int {
	switch i {
	case Trivial:
		return 0
	case Normal:
		return 1
	case Important:
		return 2
	case Pinned:
		return 3
	}
	return -1
}

// ByTopic returns copies of records covering the topic, most recent
// first. Matching is case-insensitive on whole topic strings.
func (l *Log) ByTopic(topic string) []Record {
	var out []Record
	for i := len(l.records) - 1; i >= 0; i-- {
		for _, t := range l.records[i].Topics {
			if strings.EqualFold(t, topic) {
				out = append(out, *l.records[i])
				break
			}
		}
	}
	return out
}

// MarkReferenced increments the reference count of records actually
// surfaced to a consolidation or recall operation. Unknown ids are
// skipped; the count measures genuine relevance signal.
func (l *Log) MarkReferenced(ids ...string) {
	for _, id := range ids {
		if r, ok := l.byID[id]; ok {
			r.ReferencedCount++
		}
	}
}

// Len reports the number of stored records.
func (l *Log) Len() int { return len(l.records) }

// Export returns the serializable state of the log in append order.
func (l *Log) Export() []Record {
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	return out
}

// Restore replaces the log's contents from a persisted document.
func (l *Log) Restore(records []Record) error {
	byID := make(map[string]*Record, len(records))
	list := make([]*Record, 0, len(records))
	for i := range records {
		r := records[i]
		if r.ID == "" {
			return fmt.Errorf("conversation with empty id: %w", memory.ErrCorruptState)
		}
		if _, dup := byID[r.ID]; dup {
			return fmt.Errorf("duplicate conversation id %s: %w", r.ID, memory.ErrCorruptState)
		}
		if !r.Importance.Valid() {
			return fmt.Errorf("conversation %s has unknown importance %q: %w", r.ID, r.Importance, memory.ErrCorruptState)
		}
		cp := r
		byID[cp.ID] = &cp
		list = append(list, &cp)
	}
	l.records = list
	l.byID = byID
	return nil
}
