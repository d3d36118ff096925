package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/internal/clock"
	"github.com/hearthd/hearth/internal/config"
	"github.com/hearthd/hearth/internal/convlog"
	"github.com/hearthd/hearth/internal/logging"
	"github.com/hearthd/hearth/internal/memory"
	"github.com/hearthd/hearth/internal/people"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // a Monday

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.StateDir = dir
	cfg.Storage.JournalPath = filepath.Join(dir, "journal.db")
	cfg.Logging.LogPath = ""
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *clock.Manual, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	clk := clock.NewManual(t0)
	e, err := New(cfg, logging.NewNop(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, clk, cfg
}

func reopen(t *testing.T, cfg *config.Config, clk clock.Clock) *Engine {
	t.Helper()
	e, err := New(cfg, logging.NewNop(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLearnFactAndRestart(t *testing.T) {
	e, clk, cfg := newTestEngine(t)

	f, reinforced, err := e.LearnFact("Works from home on Fridays", 0.8, "stated")
	require.NoError(t, err)
	assert.False(t, reinforced)
	assert.Equal(t, memory.StatusActive, f.Status)

	require.NoError(t, e.Close())
	e2 := reopen(t, cfg, clk)

	facts := e2.Facts(false)
	require.Len(t, facts, 1)
	assert.Equal(t, f.ID, facts[0].ID)
	assert.Equal(t, "Works from home on Fridays", facts[0].Statement)
}

func TestEquivalentStatementReinforces(t *testing.T) {
	e, _, _ := newTestEngine(t)

	f, _, err := e.LearnFact("Drinks coffee every morning.", 0.7, "stated")
	require.NoError(t, err)

	got, reinforced, err := e.LearnFact("drinks coffee every morning", 0.5, "conversation")
	require.NoError(t, err)
	assert.True(t, reinforced)
	assert.Equal(t, f.ID, got.ID)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, 1, got.ReinforcementCount)
	assert.Len(t, e.Facts(false), 1)
}

func TestContradictionKeepsBothFacts(t *testing.T) {
	e, _, _ := newTestEngine(t)

	a, _, err := e.LearnFact("Is vegetarian", 0.8, "stated")
	require.NoError(t, err)
	b, _, err := e.LearnFact("Ordered a steak yesterday", 0.6, "conversation")
	require.NoError(t, err)

	require.NoError(t, e.RecordContradiction(a.ID, b.ID))

	conflicts := e.Conflicts(a.ID)
	require.Len(t, conflicts, 1)
	assert.Equal(t, b.ID, conflicts[0].ConflictsWith)
	assert.Len(t, e.Facts(false), 2)
}

func TestDecayFadesUnreinforcedFacts(t *testing.T) {
	e, clk, _ := newTestEngine(t)

	f, _, err := e.LearnFact("Plays tennis on Saturdays", 0.8, "stated")
	require.NoError(t, err)

	clk.Advance(5 * 7 * 24 * time.Hour)
	changed, err := e.RunDecay()
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	assert.Empty(t, e.Facts(false))
	all := e.Facts(true)
	require.Len(t, all, 1)
	assert.Equal(t, f.ID, all[0].ID)
	assert.Equal(t, memory.StatusFaded, all[0].Status)
	assert.InDelta(t, 0.3, all[0].Confidence, 1e-9)
}

func TestObservationsPromoteIntoRoutine(t *testing.T) {
	e, _, cfg := newTestEngine(t)

	// Five weekday departures around 08:15.
	for day := 0; day < 5; day++ {
		at := t0.AddDate(0, 0, day).Add(-45 * time.Minute) // 08:15 each weekday
		p, promoted, err := e.RecordObservation("departure", at)
		require.NoError(t, err)
		assert.Equal(t, day+1, p.ObservationCount)
		if day < cfg.Patterns.MinObservations-1 {
			assert.Empty(t, promoted)
		} else {
			require.Len(t, promoted, 1)
			assert.True(t, promoted[0].Promoted)
		}
	}

	routines := e.Routines()
	require.Len(t, routines, 1)
	assert.Equal(t, "departure_weekdays_0815", routines[0].Key)
	assert.Equal(t, "departure around 08:15 on weekdays", routines[0].Value)
	assert.Equal(t, 5, routines[0].ObservationCount)
	assert.Equal(t, "pattern", routines[0].Source)
}

func TestPromotionSurvivesRestart(t *testing.T) {
	e, clk, cfg := newTestEngine(t)
	for day := 0; day < 5; day++ {
		_, _, err := e.RecordObservation("departure", t0.AddDate(0, 0, day))
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	e2 := reopen(t, cfg, clk)
	patterns := e2.Patterns()
	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].Promoted)
	assert.Len(t, e2.Routines(), 1)

	// Further observations keep counting without re-promoting.
	_, promoted, err := e2.RecordObservation("departure", t0.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Empty(t, promoted)
	assert.Equal(t, 6, e2.Patterns()[0].ObservationCount)
}

func TestSaveConversationLearnsFacts(t *testing.T) {
	e, _, _ := newTestEngine(t)

	rec, err := e.SaveConversation(convlog.Record{
		Summary:      "Talked about the new job",
		Topics:       []string{"work"},
		FactsLearned: []string{"Started a new job at the library"},
		Importance:   convlog.Important,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	facts := e.Facts(false)
	require.Len(t, facts, 1)
	assert.Equal(t, "Started a new job at the library", facts[0].Statement)
	assert.Equal(t, "conversation", facts[0].Source)
	assert.InDelta(t, 0.7, facts[0].Confidence, 1e-9)
}

func TestSweepRespectsPin(t *testing.T) {
	e, clk, _ := newTestEngine(t)

	kept, err := e.SaveConversation(convlog.Record{Summary: "keep me", Importance: convlog.Trivial})
	require.NoError(t, err)
	_, err = e.SaveConversation(convlog.Record{Summary: "drop me", Importance: convlog.Trivial})
	require.NoError(t, err)

	_, err = e.PinConversation(kept.ID)
	require.NoError(t, err)

	clk.Advance(10 * 24 * time.Hour)
	removed, err := e.RunSweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	recent := e.RecentConversations(10)
	require.Len(t, recent, 1)
	assert.Equal(t, kept.ID, recent[0].ID)
}

func TestConsolidationBuildsAndMarksReferences(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, _, err := e.LearnFact("Drinks coffee every morning", 0.9, "stated")
	require.NoError(t, err)
	rec, err := e.SaveConversation(convlog.Record{
		Summary: "Found a new coffee roaster",
		Topics:  []string{"coffee"},
	})
	require.NoError(t, err)

	snap, err := e.RunConsolidation()
	require.NoError(t, err)
	assert.Equal(t, t0, snap.LastConsolidated)
	require.NotEmpty(t, snap.Themes)
	assert.Equal(t, "coffee", snap.Themes[0].Theme)

	got, ok := e.Understanding()
	assert.True(t, ok)
	assert.Equal(t, snap, got)

	// The conversation fed the build, so its reference count moved.
	refreshed := e.RecentConversations(1)
	require.Len(t, refreshed, 1)
	assert.Equal(t, rec.ID, refreshed[0].ID)
	assert.Equal(t, 1, refreshed[0].ReferencedCount)
}

func TestConsolidationOnEmptyStateFails(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.RunConsolidation()
	assert.ErrorIs(t, err, memory.ErrPrecondition)
	_, ok := e.Understanding()
	assert.False(t, ok)
}

func TestConsolidationWindowExcludesOldConversations(t *testing.T) {
	e, clk, _ := newTestEngine(t)

	old, err := e.SaveConversation(convlog.Record{Summary: "ancient coffee chat", Topics: []string{"coffee"}, Importance: convlog.Important})
	require.NoError(t, err)

	clk.Advance(40 * 24 * time.Hour)
	_, _, err = e.LearnFact("Drinks coffee every morning", 0.9, "stated")
	require.NoError(t, err)

	_, err = e.RunConsolidation()
	require.NoError(t, err)

	// Outside the 30-day window: not referenced.
	all := e.RecentConversations(10)
	require.Len(t, all, 1)
	assert.Equal(t, old.ID, all[0].ID)
	assert.Zero(t, all[0].ReferencedCount)
}

func TestUnderstandingSurvivesRestart(t *testing.T) {
	e, clk, cfg := newTestEngine(t)
	_, _, err := e.LearnFact("Works as a nurse", 0.8, "stated")
	require.NoError(t, err)
	snap, err := e.RunConsolidation()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2 := reopen(t, cfg, clk)
	got, ok := e2.Understanding()
	assert.True(t, ok)
	assert.Equal(t, snap.PersonalitySketch, got.PersonalitySketch)
	assert.Equal(t, snap.LastConsolidated.UTC(), got.LastConsolidated.UTC())
}

func TestProcessMentionRoundTrip(t *testing.T) {
	e, clk, cfg := newTestEngine(t)

	out, err := e.ProcessMention(people.Mention{Name: "Sarah", RelationshipType: "friend", Details: []string{"loves hiking"}})
	require.NoError(t, err)
	assert.Equal(t, people.ActionCreated, out.Action)

	require.NoError(t, e.Close())
	e2 := reopen(t, cfg, clk)

	all := e2.People()
	require.Len(t, all, 1)
	assert.Equal(t, "Sarah", all[0].Name)
	require.Len(t, all[0].Details, 1)
}

func TestPruneForgotten(t *testing.T) {
	e, clk, _ := newTestEngine(t)

	_, _, err := e.LearnFact("Briefly mentioned liking jazz", 0.2, "conversation")
	require.NoError(t, err)

	clk.Advance(2 * 7 * 24 * time.Hour)
	_, err = e.RunDecay()
	require.NoError(t, err)

	removed, err := e.PruneForgotten()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, e.Facts(true))
}

func TestViewExposesActiveStateOnly(t *testing.T) {
	e, clk, _ := newTestEngine(t)

	_, _, err := e.LearnFact("Works as a nurse", 0.8, "stated")
	require.NoError(t, err)
	_, _, err = e.LearnFact("Mentioned liking jazz once", 0.2, "conversation")
	require.NoError(t, err)
	_, err = e.SetPreference("coffee", "oat milk flat white", 0.8, "stated")
	require.NoError(t, err)

	v := e.View()
	require.Len(t, v.ActiveFacts, 1)
	assert.Equal(t, "Works as a nurse", v.ActiveFacts[0].Statement)
	assert.Len(t, v.ActivePreferences, 1)
	assert.Nil(t, v.Understanding)
	assert.Contains(t, v.Context, "- Works as a nurse")
	assert.Contains(t, v.Context, "- coffee: oat milk flat white")
	assert.NotContains(t, v.Context, "jazz")

	_, err = e.RunConsolidation()
	require.NoError(t, err)
	v = e.View()
	require.NotNil(t, v.Understanding)
	assert.Equal(t, clk.Now(), v.Understanding.LastConsolidated)
}

func TestSnapshotCounts(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, _, err := e.LearnFact("Works as a nurse", 0.8, "stated")
	require.NoError(t, err)
	_, err = e.SetPreference("coffee", "oat milk flat white", 0.8, "stated")
	require.NoError(t, err)
	_, err = e.SaveConversation(convlog.Record{Summary: "hello"})
	require.NoError(t, err)
	_, err = e.ProcessMention(people.Mention{Name: "Tom", RelationshipType: "brother"})
	require.NoError(t, err)

	s := e.Snapshot()
	assert.Equal(t, 1, s.ActiveFacts)
	assert.Equal(t, 1, s.Preferences)
	assert.Equal(t, 1, s.Conversations)
	assert.Equal(t, 1, s.People)
	assert.True(t, s.LastConsolidated.IsZero())
}
