package memory

import (
	"fmt"
	"sort"
	"time"
)

// Kind tags a keyed entry. Preferences and routines share one lifecycle;
// only the tag and routine bookkeeping differ.
type Kind string

const (
	KindPreference Kind = "preference"
	KindRoutine    Kind = "routine"
)

// Entry is a keyed preference or routine with the same confidence
// lifecycle as a LearnedFact, addressed by key instead of id.
type Entry struct {
	Key                string    `json:"key"`
	Value              string    `json:"value"`
	Kind               Kind      `json:"kind"`
	Confidence         float64   `json:"confidence"`
	Source             string    `json:"source"`
	LearnedAt          time.Time `json:"learned_at"`
	LastReinforcedAt   time.Time `json:"last_reinforced_at,omitzero"`
	ReinforcementCount int       `json:"reinforcement_count"`
	// ObservationCount is maintained for routines promoted from patterns.
	ObservationCount int       `json:"observation_count,omitempty"`
	Status           Status    `json:"status"`
	DecayBase        time.Time `json:"decay_base"`
}

// KeyedStore owns preference or routine entries. Writing an existing key
// updates in place; there are never two entries for one key.
type KeyedStore struct {
	policy Policy
	kind   Kind

	entries map[string]*Entry

	lastDecay time.Time
}

// NewKeyedStore creates an empty store for the given kind.
func NewKeyedStore(policy Policy, kind Kind) *KeyedStore {
	return &KeyedStore{
		policy:  policy,
		kind:    kind,
		entries: make(map[string]*Entry),
	}
}

// Set creates or updates the entry for key. An update keeps the original
// LearnedAt and resets the decay clock, since a rewrite is fresh evidence.
func (s *KeyedStore) Set(key, value string, confidence float64, source string, now time.Time) Entry {
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Key: key, Kind: s.kind, LearnedAt: now}
		s.entries[key] = e
	}
	e.Value = value
	e.Confidence = round(Clamp(confidence))
	e.Source = source
	e.DecayBase = now
	e.Status = s.policy.StatusFor(e.Confidence)
	return *e
}

// SetObserved is Set for routines carrying an observation count.
func (s *KeyedStore) SetObserved(key, value string, confidence float64, source string, observations int, now time.Time) Entry {
	e := s.Set(key, value, confidence, source, now)
	s.entries[key].ObservationCount = observations
	e.ObservationCount = observations
	return e
}

// Reinforce boosts an entry's confidence and resets its decay clock.
func (s *KeyedStore) Reinforce(key string, now time.Time) (Entry, error) {
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("reinforce %s %q: %w", s.kind, key, ErrNotFound)
	}
	e.Confidence = s.policy.Reinforced(e.Confidence)
	e.LastReinforcedAt = now
	e.DecayBase = now
	e.ReinforcementCount++
	e.Status = s.policy.StatusFor(e.Confidence)
	return *e, nil
}

// Get returns a copy of the entry for key.
func (s *KeyedStore) Get(key string) (Entry, error) {
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("%s %q: %w", s.kind, key, ErrNotFound)
	}
	return *e, nil
}

// ApplyDecay decays every non-forgotten entry by whole elapsed weeks,
// identical to the fact contract.
func (s *KeyedStore) ApplyDecay(now time.Time) (changed int, err error) {
	if now.Before(s.lastDecay) {
		return 0, fmt.Errorf("decay at %s precedes last pass %s: %w", now.Format(time.RFC3339), s.lastDecay.Format(time.RFC3339), ErrPrecondition)
	}
	s.lastDecay = now

	for _, e := range s.entries {
		if e.Status == StatusForgotten {
			continue
		}
		weeks := WholeWeeks(e.DecayBase, now)
		if weeks == 0 {
			continue
		}
		e.Confidence = s.policy.Decayed(e.Confidence, weeks)
		e.DecayBase = e.DecayBase.Add(time.Duration(weeks) * week)
		e.Status = s.policy.StatusFor(e.Confidence)
		changed++
	}
	return changed, nil
}

// Active returns copies of entries with status active, sorted by key.
func (s *KeyedStore) Active() []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.Status == StatusActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// All returns copies of every entry, sorted by key.
func (s *KeyedStore) All() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len reports the number of entries.
func (s *KeyedStore) Len() int { return len(s.entries) }

// Prune permanently removes forgotten entries and returns the removed copies.
func (s *KeyedStore) Prune() []Entry {
	var removed []Entry
	for key, e := range s.entries {
		if e.Status == StatusForgotten {
			removed = append(removed, *e)
			delete(s.entries, key)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Key < removed[j].Key })
	return removed
}

// Export returns the serializable state of the store.
func (s *KeyedStore) Export() []Entry {
	return s.All()
}

// Restore replaces the store's contents from a persisted document.
func (s *KeyedStore) Restore(entries []Entry) error {
	m := make(map[string]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		if e.Key == "" {
			return fmt.Errorf("%s entry with empty key: %w", s.kind, ErrCorruptState)
		}
		if _, dup := m[e.Key]; dup {
			return fmt.Errorf("duplicate %s key %q: %w", s.kind, e.Key, ErrCorruptState)
		}
		e.Kind = s.kind
		e.Confidence = Clamp(e.Confidence)
		e.Status = s.policy.StatusFor(e.Confidence)
		if e.DecayBase.IsZero() {
			e.DecayBase = e.LearnedAt
		}
		cp := e
		m[e.Key] = &cp
	}
	s.entries = m
	return nil
}
