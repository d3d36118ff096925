// Package engine wires the memory stores together behind a single
// facade: it owns locking, id generation, persistence and journaling so
// the stores themselves can stay plain data structures. Every mutation
// is persisted before it is acknowledged to the caller.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/clock"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/consolidate"
	"github.com/hearthd/hearth/internal/convlog"
	"github.com/hearthd/hearth/internal/journal"
	"github.com/hearthd/hearth/internal/memory"
	"github.com/hearthd/hearth/internal/pattern"
	"github.com/hearthd/hearth/internal/people"
	"github.com/hearthd/hearth/internal/persist"
)

// Engine is the single entry point for all memory operations.
type Engine struct {
	cfg *config.Config
	log *zap.Logger
	clk clock.Clock

	store *persist.Store
	jrnl  *journal.Journal

	mu            sync.Mutex
	facts         *memory.FactStore
	prefs         *memory.KeyedStore
	routines      *memory.KeyedStore
	detector      *pattern.Detector
	convs         *convlog.Log
	graph         *people.Graph
	understanding consolidate.Snapshot
}

// profileDocument is the persisted shape of the user profile: facts plus
// both keyed stores in one document.
type profileDocument struct {
	Facts       []memory.LearnedFact `json:"facts"`
	Preferences []memory.Entry       `json:"preferences"`
	Routines    []memory.Entry       `json:"routines"`
}

// New opens the state directory and journal, restores any persisted
// documents and returns a ready engine. Missing documents mean a fresh
// start; documents that exist but fail validation abort startup.
func New(cfg *config.Config, log *zap.Logger, clk clock.Clock) (*Engine, error) {
	store, err := persist.NewStore(cfg.Storage.StateDir)
	if err != nil {
		return nil, err
	}
	jrnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return nil, err
	}

	policy := memory.Policy{
		DecayPerWeek:       cfg.Memory.DecayPerWeek,
		ReinforcementBoost: cfg.Memory.ReinforcementBoost,
		FadeThreshold:      cfg.Memory.FadeThreshold,
		ForgetThreshold:    cfg.Memory.ForgetThreshold,
	}
	retention := convlog.Retention{
		TrivialDays:   cfg.Retention.TrivialDays,
		NormalDays:    cfg.Retention.NormalDays,
		ImportantDays: cfg.Retention.ImportantDays,
	}

	newID := ulidFactory(clk)
	e := &Engine{
		cfg:      cfg,
		log:      log,
		clk:      clk,
		store:    store,
		jrnl:     jrnl,
		facts:    memory.NewFactStore(policy, statementsEquivalent, newID),
		prefs:    memory.NewKeyedStore(policy, memory.KindPreference),
		routines: memory.NewKeyedStore(policy, memory.KindRoutine),
		detector: pattern.NewDetector(cfg.Patterns.MinObservations, cfg.Patterns.MinConfidence, newID),
		convs:    convlog.New(retention, newID),
		graph:    people.NewGraph(newID),
	}

	if err := e.restore(); err != nil {
		jrnl.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the journal handle. State documents need no teardown:
// every mutation already left them consistent.
func (e *Engine) Close() error {
	return e.jrnl.Close()
}

// ulidFactory builds a monotonic ULID generator driven by the engine
// clock, so ids sort by creation time even under a manual test clock.
func ulidFactory(clk clock.Clock) func() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(clk.Now().UnixNano())), 0)
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(clk.Now()), entropy).String()
	}
}

// statementsEquivalent reports whether two fact statements say the same
// thing: equal after normalization, or nearly so by bigram overlap.
func statementsEquivalent(a, b string) bool {
	na, nb := normalizeStatement(a), normalizeStatement(b)
	if na == nb {
		return true
	}
	return bigramJaccard(na, nb) >= 0.9
}

func normalizeStatement(s string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func bigramJaccard(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	ba := make(map[string]bool, len(a)-1)
	for i := 0; i < len(a)-1; i++ {
		ba[a[i:i+2]] = true
	}
	bb := make(map[string]bool, len(b)-1)
	for i := 0; i < len(b)-1; i++ {
		bb[b[i:i+2]] = true
	}
	shared := 0
	for bg := range ba {
		if bb[bg] {
			shared++
		}
	}
	union := len(ba) + len(bb) - shared
	return float64(shared) / float64(union)
}

// restore loads every persisted document. fs.ErrNotExist is a fresh
// store; anything else aborts startup rather than guessing.
func (e *Engine) restore() error {
	var profile profileDocument
	if err := e.readDoc(persist.ProfileDoc, &profile); err != nil {
		return err
	}
	if err := e.facts.Restore(profile.Facts); err != nil {
		return fmt.Errorf("restore facts: %w", err)
	}
	if err := e.prefs.Restore(profile.Preferences); err != nil {
		return fmt.Errorf("restore preferences: %w", err)
	}
	if err := e.routines.Restore(profile.Routines); err != nil {
		return fmt.Errorf("restore routines: %w", err)
	}

	var patterns []pattern.Pattern
	if err := e.readDoc(persist.PatternsDoc, &patterns); err != nil {
		return err
	}
	if err := e.detector.Restore(patterns); err != nil {
		return fmt.Errorf("restore patterns: %w", err)
	}

	var conversations []convlog.Record
	if err := e.readDoc(persist.ConversationsDoc, &conversations); err != nil {
		return err
	}
	if err := e.convs.Restore(conversations); err != nil {
		return fmt.Errorf("restore conversations: %w", err)
	}

	var graphDoc people.Document
	if err := e.readDoc(persist.PeopleDoc, &graphDoc); err != nil {
		return err
	}
	if err := e.graph.Restore(graphDoc); err != nil {
		return fmt.Errorf("restore people: %w", err)
	}

	if err := e.readDoc(persist.UnderstandingDoc, &e.understanding); err != nil {
		return err
	}
	return nil
}

func (e *Engine) readDoc(name string, v any) error {
	err := e.store.Read(name, v)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (e *Engine) persistProfile() error {
	return e.store.Write(persist.ProfileDoc, profileDocument{
		Facts:       e.facts.Export(),
		Preferences: e.prefs.Export(),
		Routines:    e.routines.Export(),
	})
}

func (e *Engine) persistPatterns() error {
	return e.store.Write(persist.PatternsDoc, e.detector.Export())
}

func (e *Engine) persistConversations() error {
	return e.store.Write(persist.ConversationsDoc, e.convs.Export())
}

func (e *Engine) persistPeople() error {
	return e.store.Write(persist.PeopleDoc, e.graph.Export())
}

func (e *Engine) persistUnderstanding() error {
	return e.store.Write(persist.UnderstandingDoc, e.understanding)
}

// journalEvent appends to the evidence journal. Journal failures are
// logged, never surfaced: losing evidence must not fail the operation
// whose state change already persisted.
func (e *Engine) journalEvent(kind string, detail any) {
	if err := e.jrnl.Append(kind, detail, e.clk.Now()); err != nil {
		e.log.Warn("journal append failed", zap.String("kind", kind), zap.Error(err))
	}
}
