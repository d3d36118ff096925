package engine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/consolidate"
	"github.com/hearthd/hearth/internal/convlog"
	"github.com/hearthd/hearth/internal/journal"
	"github.com/hearthd/hearth/internal/memory"
	"github.com/hearthd/hearth/internal/pattern"
	"github.com/hearthd/hearth/internal/people"
)

// promotedRoutineConfidence is the starting confidence of a routine born
// from a promoted pattern. It then lives the normal decay lifecycle.
const promotedRoutineConfidence = 0.7

// conversationFactConfidence is the starting confidence of a fact learned
// as a side effect of saving a conversation.
const conversationFactConfidence = 0.7

// LearnFact stores a new fact. A statement equivalent to an active fact
// reinforces that fact instead of duplicating it; the returned bool
// reports which happened.
func (e *Engine) LearnFact(statement string, confidence float64, source string) (memory.LearnedFact, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.learnFactLocked(statement, confidence, source)
}

func (e *Engine) learnFactLocked(statement string, confidence float64, source string) (memory.LearnedFact, bool, error) {
	now := e.clk.Now()

	for _, existing := range e.facts.ActiveFacts() {
		if statementsEquivalent(existing.Statement, statement) {
			f, err := e.facts.Reinforce(existing.ID, now)
			if err != nil {
				return memory.LearnedFact{}, false, err
			}
			if err := e.persistProfile(); err != nil {
				return memory.LearnedFact{}, false, err
			}
			e.journalEvent(journal.KindFactReinforced, map[string]any{"id": f.ID, "confidence": f.Confidence})
			e.log.Info("fact reinforced instead of duplicated",
				zap.String("id", f.ID), zap.Float64("confidence", f.Confidence))
			return f, true, nil
		}
	}

	f, err := e.facts.Learn(statement, confidence, source, now)
	if err != nil {
		return memory.LearnedFact{}, false, err
	}
	if err := e.persistProfile(); err != nil {
		return memory.LearnedFact{}, false, err
	}
	e.journalEvent(journal.KindFactLearned, map[string]any{"id": f.ID, "source": source})
	e.log.Info("fact learned", zap.String("id", f.ID), zap.Float64("confidence", f.Confidence))
	return f, false, nil
}

// ReinforceFact boosts a fact by id.
func (e *Engine) ReinforceFact(id string) (memory.LearnedFact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.facts.Reinforce(id, e.clk.Now())
	if err != nil {
		return memory.LearnedFact{}, err
	}
	if err := e.persistProfile(); err != nil {
		return memory.LearnedFact{}, err
	}
	e.journalEvent(journal.KindFactReinforced, map[string]any{"id": f.ID, "confidence": f.Confidence})
	return f, nil
}

// RecordContradiction marks two facts as conflicting. Both survive; the
// occupant resolves the conflict, not the engine.
func (e *Engine) RecordContradiction(aID, bID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.facts.RecordContradiction(aID, bID); err != nil {
		return err
	}
	if err := e.persistProfile(); err != nil {
		return err
	}
	e.journalEvent(journal.KindFactContradicted, map[string]any{"a": aID, "b": bID})
	return nil
}

// Facts returns active facts, or every fact when includeFaded is set.
func (e *Engine) Facts(includeFaded bool) []memory.LearnedFact {
	e.mu.Lock()
	defer e.mu.Unlock()
	if includeFaded {
		return e.facts.All()
	}
	return e.facts.ActiveFacts()
}

// Conflicts lists recorded contradictions touching the given fact ids.
func (e *Engine) Conflicts(ids ...string) []memory.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.facts.Conflicts(ids...)
}

// SetPreference writes a keyed preference.
func (e *Engine) SetPreference(key, value string, confidence float64, source string) (memory.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.prefs.Set(key, value, confidence, source, e.clk.Now())
	if err := e.persistProfile(); err != nil {
		return memory.Entry{}, err
	}
	e.journalEvent(journal.KindFactLearned, map[string]any{"preference": key})
	return entry, nil
}

// ReinforcePreference boosts a preference by key.
func (e *Engine) ReinforcePreference(key string) (memory.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.prefs.Reinforce(key, e.clk.Now())
	if err != nil {
		return memory.Entry{}, err
	}
	if err := e.persistProfile(); err != nil {
		return memory.Entry{}, err
	}
	e.journalEvent(journal.KindFactReinforced, map[string]any{"preference": key})
	return entry, nil
}

// Preferences returns active preference entries.
func (e *Engine) Preferences() []memory.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs.Active()
}

// Routines returns active routine entries.
func (e *Engine) Routines() []memory.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routines.Active()
}

// routineSink feeds promoted patterns into the routines store.
type routineSink struct {
	store *memory.KeyedStore
}

func (s routineSink) SetRoutine(key, value, source string, observations int, now time.Time) {
	s.store.SetObserved(key, value, promotedRoutineConfidence, source, observations, now)
}

// observationWindow is the half-width of the time window one observation
// claims around its clock time.
const observationWindow = 15

// shapeForEvent buckets an event time into a day class (weekdays or
// weekends) and a window around its clock time, so repeated events at
// roughly the same hour coalesce into one pattern.
func shapeForEvent(at time.Time) pattern.Shape {
	var days []time.Weekday
	switch at.Weekday() {
	case time.Saturday, time.Sunday:
		days = []time.Weekday{time.Sunday, time.Saturday}
	default:
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	minute := at.Hour()*60 + at.Minute()
	start, end := minute-observationWindow, minute+observationWindow
	if start < 0 {
		start = 0
	}
	if end > 23*60+59 {
		end = 23*60 + 59
	}
	return pattern.Shape{Days: days, StartMinute: start, EndMinute: end}
}

// RecordObservation feeds one timestamped behavioral event into the
// detector and promotes any pattern that now qualifies. Returns the
// touched pattern and the patterns promoted by this event.
func (e *Engine) RecordObservation(kind string, at time.Time) (pattern.Pattern, []pattern.Pattern, error) {
	return e.RecordShapedObservation(kind, shapeForEvent(at), at)
}

// RecordShapedObservation is RecordObservation for callers that already
// know the recurrence shape instead of a single event time.
func (e *Engine) RecordShapedObservation(kind string, shape pattern.Shape, at time.Time) (pattern.Pattern, []pattern.Pattern, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.detector.RecordObservation(kind, shape, at)
	promoted := e.detector.PromoteAll(routineSink{e.routines}, e.clk.Now())

	if err := e.persistPatterns(); err != nil {
		return pattern.Pattern{}, nil, err
	}
	if len(promoted) > 0 {
		if err := e.persistProfile(); err != nil {
			return pattern.Pattern{}, nil, err
		}
	}

	e.journalEvent(journal.KindObservation, map[string]any{"kind": kind, "pattern": p.ID, "count": p.ObservationCount})
	for _, pr := range promoted {
		e.journalEvent(journal.KindPatternPromoted, map[string]any{"pattern": pr.ID, "routine": pr.RoutineKey()})
		e.log.Info("pattern promoted to routine",
			zap.String("pattern", pr.ID), zap.String("routine", pr.RoutineKey()),
			zap.Int("observations", pr.ObservationCount))
	}
	return p, promoted, nil
}

// Patterns returns every tracked pattern, candidates and promoted alike.
func (e *Engine) Patterns() []pattern.Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detector.All()
}

// SaveConversation appends a conversation record and learns any facts it
// carried at conversation confidence.
func (e *Engine) SaveConversation(rec convlog.Record) (convlog.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	saved, err := e.convs.Append(rec, e.clk.Now())
	if err != nil {
		return convlog.Record{}, err
	}
	if err := e.persistConversations(); err != nil {
		return convlog.Record{}, err
	}

	for _, statement := range rec.FactsLearned {
		if _, _, err := e.learnFactLocked(statement, conversationFactConfidence, "conversation"); err != nil {
			e.log.Warn("fact from conversation not learned", zap.String("statement", statement), zap.Error(err))
		}
	}

	e.journalEvent(journal.KindConversationSaved, map[string]any{"id": saved.ID, "importance": saved.Importance})
	return saved, nil
}

// PinConversation protects a record from retention sweeps.
func (e *Engine) PinConversation(id string) (convlog.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.convs.Pin(id)
	if err != nil {
		return convlog.Record{}, err
	}
	return rec, e.persistConversations()
}

// UnpinConversation reverts a pinned record to its prior tier.
func (e *Engine) UnpinConversation(id string) (convlog.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.convs.Unpin(id)
	if err != nil {
		return convlog.Record{}, err
	}
	return rec, e.persistConversations()
}

// RecentConversations returns up to n records, most recent first.
func (e *Engine) RecentConversations(n int) []convlog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.Recent(n)
}

// ConversationsAbout returns records covering a topic, most recent first.
func (e *Engine) ConversationsAbout(topic string) []convlog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.ByTopic(topic)
}

// ProcessMention routes a person mention through the relationship graph.
func (e *Engine) ProcessMention(m people.Mention) (people.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.graph.ProcessMention(m, e.clk.Now())
	if err := e.persistPeople(); err != nil {
		return people.Outcome{}, err
	}
	e.journalEvent(journal.KindMentionProcessed, map[string]any{"name": m.Name, "action": out.Action})
	if out.Action == people.ActionAmbiguous {
		e.log.Info("mention ambiguous, clarification queued",
			zap.String("name", m.Name), zap.Int("matches", len(out.Matches)))
	}
	return out, nil
}

// ResolveClarification settles a queued ambiguous mention.
func (e *Engine) ResolveClarification(name, chosenKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.graph.ResolveClarification(name, chosenKey, e.clk.Now()); err != nil {
		return err
	}
	return e.persistPeople()
}

// PendingClarification returns the oldest queued clarification, if any.
func (e *Engine) PendingClarification() (people.Clarification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.PendingClarification()
}

// People returns every tracked person, most mentioned first.
func (e *Engine) People() []people.Person {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.All()
}

// RunDecay applies the weekly confidence decay across facts, preferences
// and routines.
func (e *Engine) RunDecay() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	changed := 0
	for _, apply := range []func(time.Time) (int, error){
		e.facts.ApplyDecay, e.prefs.ApplyDecay, e.routines.ApplyDecay,
	} {
		n, err := apply(now)
		if err != nil {
			return changed, err
		}
		changed += n
	}
	if changed > 0 {
		if err := e.persistProfile(); err != nil {
			return changed, err
		}
	}
	e.journalEvent(journal.KindDecayPass, map[string]any{"changed": changed})
	e.log.Info("decay pass complete", zap.Int("changed", changed))
	return changed, nil
}

// PruneForgotten permanently deletes forgotten facts and entries.
func (e *Engine) PruneForgotten() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := len(e.facts.Prune()) + len(e.prefs.Prune()) + len(e.routines.Prune())
	if removed == 0 {
		return 0, nil
	}
	if err := e.persistProfile(); err != nil {
		return removed, err
	}
	e.log.Info("forgotten memories pruned", zap.Int("removed", removed))
	return removed, nil
}

// RunSweep deletes conversation records past their retention window.
func (e *Engine) RunSweep() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed, err := e.convs.Sweep(e.clk.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := e.persistConversations(); err != nil {
			return removed, err
		}
	}
	e.journalEvent(journal.KindSweepPass, map[string]any{"removed": removed})
	e.log.Info("retention sweep complete", zap.Int("removed", removed))
	return removed, nil
}

// RunConsolidation rebuilds the understanding snapshot from current
// state. The previous snapshot is only replaced once the new one is
// built and persisted; conversations that fed the build are marked
// referenced.
func (e *Engine) RunConsolidation() (consolidate.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	window := time.Duration(e.cfg.Retention.ConsolidationDays) * 24 * time.Hour

	var conversations []convlog.Record
	for _, rec := range e.convs.RecentAbove(convlog.Normal, e.convs.Len()) {
		if now.Sub(rec.Timestamp) <= window {
			conversations = append(conversations, rec)
		}
	}

	in := consolidate.Input{
		Facts:         e.facts.ActiveFacts(),
		Preferences:   e.prefs.Active(),
		Routines:      e.routines.Active(),
		Promoted:      e.detector.Promoted(),
		Candidates:    e.detector.Promotable(),
		Conversations: conversations,
	}

	snap, err := consolidate.Build(in, now)
	if err != nil {
		return consolidate.Snapshot{}, fmt.Errorf("consolidate: %w", err)
	}

	prev := e.understanding
	e.understanding = snap
	if err := e.persistUnderstanding(); err != nil {
		e.understanding = prev
		return consolidate.Snapshot{}, err
	}

	ids := make([]string, len(conversations))
	for i, rec := range conversations {
		ids[i] = rec.ID
	}
	e.convs.MarkReferenced(ids...)
	if len(ids) > 0 {
		if err := e.persistConversations(); err != nil {
			return consolidate.Snapshot{}, err
		}
	}

	e.journalEvent(journal.KindConsolidation, map[string]any{
		"themes": len(snap.Themes), "open_questions": len(snap.OpenQuestions),
	})
	e.log.Info("consolidation complete",
		zap.Int("themes", len(snap.Themes)),
		zap.Int("conversations", len(conversations)))
	return snap, nil
}

// Understanding returns the latest snapshot and whether one exists yet.
func (e *Engine) Understanding() (consolidate.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.understanding, !e.understanding.LastConsolidated.IsZero()
}

// Status is an at-a-glance summary of everything the engine holds.
type Status struct {
	ActiveFacts      int       `json:"active_facts"`
	TotalFacts       int       `json:"total_facts"`
	Preferences      int       `json:"preferences"`
	Routines         int       `json:"routines"`
	Patterns         int       `json:"patterns"`
	PromotedPatterns int       `json:"promoted_patterns"`
	Conversations    int       `json:"conversations"`
	People           int       `json:"people"`
	LastConsolidated time.Time `json:"last_consolidated,omitzero"`
}

// ReadView is the surface a prompt-builder consumes: everything still
// believed, the latest understanding if one exists, and the same state
// rendered as a compact prose block.
type ReadView struct {
	ActiveFacts       []memory.LearnedFact  `json:"active_facts"`
	ActivePreferences []memory.Entry        `json:"active_preferences"`
	ActiveRoutines    []memory.Entry        `json:"active_routines"`
	Understanding     *consolidate.Snapshot `json:"understanding,omitempty"`
	Context           string                `json:"context"`
}

// View returns the current non-decayed state across all stores.
func (e *Engine) View() ReadView {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := ReadView{
		ActiveFacts:       e.facts.ActiveFacts(),
		ActivePreferences: e.prefs.Active(),
		ActiveRoutines:    e.routines.Active(),
	}
	if !e.understanding.LastConsolidated.IsZero() {
		snap := e.understanding
		v.Understanding = &snap
	}
	v.Context = renderContext(v, e.graph.All())
	return v
}

// contextPeople caps how many people the prose block names.
const contextPeople = 5

// renderContext turns the read view into the prose block a dialogue
// generator receives.
func renderContext(v ReadView, persons []people.Person) string {
	var b strings.Builder

	if len(v.ActiveFacts) > 0 {
		b.WriteString("Known about the occupant:\n")
		for _, f := range v.ActiveFacts {
			fmt.Fprintf(&b, "- %s\n", f.Statement)
		}
	}
	if len(v.ActivePreferences) > 0 {
		b.WriteString("Preferences:\n")
		for _, p := range v.ActivePreferences {
			fmt.Fprintf(&b, "- %s: %s\n", p.Key, p.Value)
		}
	}
	if len(v.ActiveRoutines) > 0 {
		b.WriteString("Routines:\n")
		for _, r := range v.ActiveRoutines {
			fmt.Fprintf(&b, "- %s\n", r.Value)
		}
	}
	if len(persons) > 0 {
		b.WriteString("People:\n")
		for i, p := range persons {
			if i == contextPeople {
				break
			}
			fmt.Fprintf(&b, "- %s\n", p.Summary())
		}
	}
	if v.Understanding != nil {
		fmt.Fprintf(&b, "Understanding: %s\n", v.Understanding.PersonalitySketch)
		if v.Understanding.CurrentSituation != "" {
			fmt.Fprintf(&b, "%s\n", v.Understanding.CurrentSituation)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Snapshot reports current store sizes.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		ActiveFacts:      len(e.facts.ActiveFacts()),
		TotalFacts:       e.facts.Len(),
		Preferences:      e.prefs.Len(),
		Routines:         e.routines.Len(),
		Patterns:         len(e.detector.All()),
		PromotedPatterns: len(e.detector.Promoted()),
		Conversations:    e.convs.Len(),
		People:           e.graph.Len(),
		LastConsolidated: e.understanding.LastConsolidated,
	}
}
