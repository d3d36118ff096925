// Package memory holds the confidence lifecycle shared by learned facts
// and keyed preference/routine entries: decay over elapsed weeks,
// reinforcement, and the active/faded/forgotten status machine.
package memory

import (
	"fmt"
	"sort"
	"time"
)

// LearnedFact is a single durable belief about the occupant.
type LearnedFact struct {
	ID                 string    `json:"id"`
	Statement          string    `json:"statement"`
	Confidence         float64   `json:"confidence"`
	Source             string    `json:"source"`
	LearnedAt          time.Time `json:"learned_at"`
	LastReinforcedAt   time.Time `json:"last_reinforced_at,omitzero"`
	ReinforcementCount int       `json:"reinforcement_count"`
	Status             Status    `json:"status"`
	// Contradicts lists fact IDs this fact conflicts with. Kept symmetric
	// by the store; never contains the fact's own ID.
	Contradicts []string `json:"contradicts,omitempty"`
	// DecayBase is the timestamp decay has been applied up to. Advancing it
	// by whole weeks on each pass makes decay idempotent for a given now.
	DecayBase time.Time `json:"decay_base"`
}

// Conflict reports one side of a symmetric contradiction.
type Conflict struct {
	FactID        string `json:"fact_id"`
	ConflictsWith string `json:"conflicts_with"`
}

// EquivalenceFunc decides whether two statements describe the same fact.
// Supplied by the caller; the store never deduplicates by content itself.
type EquivalenceFunc func(a, b string) bool

// FactStore owns all LearnedFact records. Not safe for concurrent use;
// the engine serializes writers per store.
type FactStore struct {
	policy Policy
	equiv  EquivalenceFunc
	newID  func() string

	facts []*LearnedFact
	byID  map[string]*LearnedFact

	lastDecay time.Time
}

// NewFactStore creates an empty fact store. equiv may be nil, in which
// case Learn never reports duplicates.
func NewFactStore(policy Policy, equiv EquivalenceFunc, newID func() string) *FactStore {
	return &FactStore{
		policy: policy,
		equiv:  equiv,
		newID:  newID,
		byID:   make(map[string]*LearnedFact),
	}
}

// Learn appends a new fact. Returns ErrDuplicateFact if an active fact is
// judged equivalent; the caller resolves that (usually by reinforcing).
func (s *FactStore) Learn(statement string, confidence float64, source string, now time.Time) (LearnedFact, error) {
	if s.equiv != nil {
		for _, f := range s.facts {
			if f.Status == StatusActive && s.equiv(f.Statement, statement) {
				return LearnedFact{}, fmt.Errorf("learn %q: equivalent to active fact %s: %w", statement, f.ID, ErrDuplicateFact)
			}
		}
	}

	f := &LearnedFact{
		ID:         s.newID(),
		Statement:  statement,
		Confidence: round(Clamp(confidence)),
		Source:     source,
		LearnedAt:  now,
		DecayBase:  now,
	}
	f.Status = s.policy.StatusFor(f.Confidence)
	s.facts = append(s.facts, f)
	s.byID[f.ID] = f
	return *f, nil
}

// Reinforce boosts a fact's confidence and resets its decay clock.
func (s *FactStore) Reinforce(id string, now time.Time) (LearnedFact, error) {
	f, ok := s.byID[id]
	if !ok {
		return LearnedFact{}, fmt.Errorf("reinforce fact %s: %w", id, ErrNotFound)
	}
	f.Confidence = s.policy.Reinforced(f.Confidence)
	f.LastReinforcedAt = now
	f.DecayBase = now
	f.ReinforcementCount++
	f.Status = s.policy.StatusFor(f.Confidence)
	return *f, nil
}

// ApplyDecay subtracts DecayPerWeek for each whole week elapsed since each
// fact's decay base, then recomputes status. Forgotten facts are skipped.
// Passing a now earlier than the previous decay pass is a precondition
// error; an empty pass is success.
func (s *FactStore) ApplyDecay(now time.Time) (changed int, err error) {
	if now.Before(s.lastDecay) {
		return 0, fmt.Errorf("decay at %s precedes last pass %s: %w", now.Format(time.RFC3339), s.lastDecay.Format(time.RFC3339), ErrPrecondition)
	}
	s.lastDecay = now

	for _, f := range s.facts {
		if f.Status == StatusForgotten {
			continue
		}
		weeks := WholeWeeks(f.DecayBase, now)
		if weeks == 0 {
			continue
		}
		f.Confidence = s.policy.Decayed(f.Confidence, weeks)
		f.DecayBase = f.DecayBase.Add(time.Duration(weeks) * week)
		f.Status = s.policy.StatusFor(f.Confidence)
		changed++
	}
	return changed, nil
}

// Get returns a copy of the fact with the given id.
func (s *FactStore) Get(id string) (LearnedFact, error) {
	f, ok := s.byID[id]
	if !ok {
		return LearnedFact{}, fmt.Errorf("fact %s: %w", id, ErrNotFound)
	}
	return *f, nil
}

// ActiveFacts returns copies of all facts with status active, in learn
// order. Faded and forgotten facts stay queryable through All.
func (s *FactStore) ActiveFacts() []LearnedFact {
	var out []LearnedFact
	for _, f := range s.facts {
		if f.Status == StatusActive {
			out = append(out, *f)
		}
	}
	return out
}

// All returns copies of every fact regardless of status.
func (s *FactStore) All() []LearnedFact {
	out := make([]LearnedFact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, *f)
	}
	return out
}

// Len reports the number of stored facts.
func (s *FactStore) Len() int { return len(s.facts) }

// Prune permanently removes forgotten facts and returns the removed
// copies. Explicit and irreversible; decay alone never deletes.
func (s *FactStore) Prune() []LearnedFact {
	var removed []LearnedFact
	kept := s.facts[:0]
	for _, f := range s.facts {
		if f.Status == StatusForgotten {
			removed = append(removed, *f)
			delete(s.byID, f.ID)
			continue
		}
		kept = append(kept, f)
	}
	s.facts = kept
	if len(removed) == 0 {
		return removed
	}
	// Drop dangling contradiction references to pruned facts.
	gone := make(map[string]bool, len(removed))
	for _, r := range removed {
		gone[r.ID] = true
	}
	for _, f := range s.facts {
		f.Contradicts = withoutIDs(f.Contradicts, gone)
	}
	return removed
}

// RecordContradiction marks two facts as mutually contradictory. The
// relation is stored symmetrically; resolution is the caller's decision.
func (s *FactStore) RecordContradiction(aID, bID string) error {
	if aID == bID {
		return fmt.Errorf("fact %s cannot contradict itself: %w", aID, ErrPrecondition)
	}
	a, ok := s.byID[aID]
	if !ok {
		return fmt.Errorf("contradiction fact %s: %w", aID, ErrNotFound)
	}
	b, ok := s.byID[bID]
	if !ok {
		return fmt.Errorf("contradiction fact %s: %w", bID, ErrNotFound)
	}
	a.Contradicts = appendID(a.Contradicts, bID)
	b.Contradicts = appendID(b.Contradicts, aID)
	return nil
}

// Conflicts returns every recorded contradiction touching the given fact
// IDs. Unknown IDs yield no conflicts rather than an error so callers can
// batch-check freshly learned statements.
func (s *FactStore) Conflicts(ids ...string) []Conflict {
	var out []Conflict
	for _, id := range ids {
		f, ok := s.byID[id]
		if !ok {
			continue
		}
		for _, other := range f.Contradicts {
			out = append(out, Conflict{FactID: id, ConflictsWith: other})
		}
	}
	return out
}

// Export returns the serializable state of the store.
func (s *FactStore) Export() []LearnedFact {
	return s.All()
}

// Restore replaces the store's contents from a persisted document,
// verifying the contradiction invariants. Violations surface as
// ErrCorruptState; the data is never silently repaired.
func (s *FactStore) Restore(facts []LearnedFact) error {
	byID := make(map[string]*LearnedFact, len(facts))
	list := make([]*LearnedFact, 0, len(facts))
	for i := range facts {
		f := facts[i]
		if f.ID == "" {
			return fmt.Errorf("fact with empty id: %w", ErrCorruptState)
		}
		if _, dup := byID[f.ID]; dup {
			return fmt.Errorf("duplicate fact id %s: %w", f.ID, ErrCorruptState)
		}
		f.Confidence = Clamp(f.Confidence)
		f.Status = s.policy.StatusFor(f.Confidence)
		if f.DecayBase.IsZero() {
			f.DecayBase = f.LearnedAt
		}
		cp := f
		byID[f.ID] = &cp
		list = append(list, &cp)
	}
	for _, f := range list {
		for _, other := range f.Contradicts {
			if other == f.ID {
				return fmt.Errorf("fact %s contradicts itself: %w", f.ID, ErrCorruptState)
			}
			o, ok := byID[other]
			if !ok {
				return fmt.Errorf("fact %s contradicts unknown fact %s: %w", f.ID, other, ErrCorruptState)
			}
			if !containsID(o.Contradicts, f.ID) {
				return fmt.Errorf("asymmetric contradiction between %s and %s: %w", f.ID, other, ErrCorruptState)
			}
		}
	}
	s.facts = list
	s.byID = byID
	return nil
}

func appendID(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	ids = append(ids, id)
	sort.Strings(ids)
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func withoutIDs(ids []string, drop map[string]bool) []string {
	kept := ids[:0]
	for _, v := range ids {
		if !drop[v] {
			kept = append(kept, v)
		}
	}
	return kept
}
