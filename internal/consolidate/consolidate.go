// Package consolidate synthesizes facts, patterns and conversations into
// a single replaceable understanding snapshot. It is a read-only fan-in:
// the builder never mutates its inputs, and the same inputs always yield
// the same snapshot.
package consolidate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hearthd/hearth/internal/convlog"
	"github.com/hearthd/hearth/internal/memory"
	"github.com/hearthd/hearth/internal/pattern"
)

// Theme is one recurring thread across the evidence.
type Theme struct {
	Theme      string   `json:"theme"`
	Evidence   []string `json:"evidence"`
	Confidence float64  `json:"confidence"`
}

// Snapshot is the singleton understanding view. It is wholly replaced by
// each consolidation run; it is derived state, never a source of truth.
type Snapshot struct {
	LastConsolidated   time.Time `json:"last_consolidated"`
	PersonalitySketch  string    `json:"personality_sketch,omitempty"`
	CurrentSituation   string    `json:"current_situation,omitempty"`
	CommunicationNotes string    `json:"communication_notes,omitempty"`
	Themes             []Theme   `json:"themes,omitempty"`
	OpenQuestions      []string  `json:"open_questions,omitempty"`
}

// Input is the point-in-time view gathered from the three stores.
// Conversations arrive non-trivial only, most recent first, capped by the
// caller; Candidates are promotable-but-unpromoted patterns, a weak signal.
type Input struct {
	Facts         []memory.LearnedFact
	Preferences   []memory.Entry
	Routines      []memory.Entry
	Promoted      []pattern.Pattern
	Candidates    []pattern.Pattern
	Conversations []convlog.Record
}

// Empty reports whether there is nothing at all to synthesize.
func (in Input) Empty() bool {
	return len(in.Facts) == 0 && len(in.Preferences) == 0 && len(in.Routines) == 0 &&
		len(in.Promoted) == 0 && len(in.Candidates) == 0 && len(in.Conversations) == 0
}

const maxThemes = 8

// Build produces a fresh snapshot from the gathered input. Consolidating
// a fully empty state is a precondition error; an empty pattern detector
// or conversation log individually is fine.
func Build(in Input, now time.Time) (Snapshot, error) {
	if in.Empty() {
		return Snapshot{}, fmt.Errorf("consolidation: all stores empty: %w", memory.ErrPrecondition)
	}

	snap := Snapshot{
		LastConsolidated:   now,
		Themes:             themes(in),
		OpenQuestions:      openQuestions(in),
		PersonalitySketch:  personalitySketch(in),
		CurrentSituation:   currentSituation(in),
		CommunicationNotes: communicationNotes(in),
	}
	return snap, nil
}

// evidence is one string of input with the class of store it came from.
type evidence struct {
	text   string
	source string // fact, preference, routine, pattern, conversation
}

func gatherEvidence(in Input) []evidence {
	var ev []evidence
	for _, f := range in.Facts {
		ev = append(ev, evidence{f.Statement, "fact"})
	}
	for _, p := range in.Preferences {
		ev = append(ev, evidence{p.Key + ": " + p.Value, "preference"})
	}
	for _, r := range in.Routines {
		ev = append(ev, evidence{r.Value, "routine"})
	}
	for _, p := range in.Promoted {
		ev = append(ev, evidence{p.Description, "pattern"})
	}
	for _, p := range in.Candidates {
		ev = append(ev, evidence{p.Description, "pattern"})
	}
	for _, c := range in.Conversations {
		for _, topic := range c.Topics {
			ev = append(ev, evidence{topic, "conversation"})
		}
		ev = append(ev, evidence{c.Summary, "conversation"})
	}
	return ev
}

// themes groups evidence strings by shared significant keyword. A theme
// needs at least two distinct evidence strings; its confidence rises with
// the number of independent source classes backing it.
func themes(in Input) []Theme {
	type bucket struct {
		texts   []string
		seen    map[string]bool
		sources map[string]bool
	}
	buckets := make(map[string]*bucket)

	for _, ev := range gatherEvidence(in) {
		for _, kw := range keywords(ev.text) {
			b, ok := buckets[kw]
			if !ok {
				b = &bucket{seen: make(map[string]bool), sources: make(map[string]bool)}
				buckets[kw] = b
			}
			if !b.seen[ev.text] {
				b.seen[ev.text] = true
				b.texts = append(b.texts, ev.text)
			}
			b.sources[ev.source] = true
		}
	}

	var out []Theme
	for kw, b := range buckets {
		if len(b.texts) < 2 {
			continue
		}
		sort.Strings(b.texts)
		conf := 0.4 + 0.2*float64(len(b.sources)-1)
		if conf > 1 {
			conf = 1
		}
		out = append(out, Theme{Theme: kw, Evidence: b.texts, Confidence: conf})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if len(out[i].Evidence) != len(out[j].Evidence) {
			return len(out[i].Evidence) > len(out[j].Evidence)
		}
		return out[i].Theme < out[j].Theme
	})
	if len(out) > maxThemes {
		out = out[:maxThemes]
	}
	return out
}

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "around": true,
	"because": true, "before": true, "being": true, "between": true,
	"could": true, "does": true, "early": true, "every": true,
	"from": true, "have": true, "into": true, "just": true, "late": true,
	"like": true, "likes": true, "more": true, "most": true, "much": true,
	"often": true, "only": true, "over": true, "quite": true,
	"really": true, "seems": true, "some": true, "sometimes": true,
	"talked": true, "that": true, "their": true, "them": true,
	"there": true, "they": true, "this": true, "typically": true,
	"under": true, "usually": true, "very": true, "want": true,
	"wants": true, "week": true, "weekdays": true, "weekends": true,
	"when": true, "will": true, "with": true, "would": true,
}

// keywords extracts the significant lowercased words of a string.
func keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		if len(f) < 4 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// gapProbe names a knowledge gap and how an active fact base answers it.
type gapProbe struct {
	question  string
	satisfied func(in Input) bool
}

var gapProbes = []gapProbe{
	{
		question: "What does their typical daily schedule look like?",
		satisfied: func(in Input) bool {
			return len(in.Routines) > 0 || len(in.Promoted) > 0
		},
	},
	{
		question: "What do they do for work?",
		satisfied: func(in Input) bool {
			return factMentions(in, "work", "works", "job", "career", "office", "profession", "engineer", "teacher", "studies")
		},
	},
	{
		question: "What do they like to eat and drink?",
		satisfied: func(in Input) bool {
			return factMentions(in, "coffee", "tea", "food", "eats", "drinks", "meal", "cooking", "vegetarian", "vegan", "breakfast", "dinner") ||
				len(in.Preferences) > 0
		},
	},
	{
		question: "What do they enjoy outside of work?",
		satisfied: func(in Input) bool {
			return factMentions(in, "hobby", "enjoys", "plays", "reads", "music", "sport", "running", "hiking", "painting", "gaming", "travel")
		},
	},
	{
		question: "How do they prefer to communicate?",
		satisfied: func(in Input) bool {
			withMood := 0
			for _, c := range in.Conversations {
				if c.Mood != "" {
					withMood++
				}
			}
			return withMood >= 3
		},
	},
}

// factMentions reports whether any active fact or preference contains one
// of the given words.
func factMentions(in Input, words ...string) bool {
	match := func(text string) bool {
		lower := strings.ToLower(text)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	for _, f := range in.Facts {
		if match(f.Statement) {
			return true
		}
	}
	for _, p := range in.Preferences {
		if match(p.Key + " " + p.Value) {
			return true
		}
	}
	return false
}

// openQuestions lists the named gaps still unanswered by active state.
func openQuestions(in Input) []string {
	var out []string
	for _, probe := range gapProbes {
		if !probe.satisfied(in) {
			out = append(out, probe.question)
		}
	}
	return out
}

const maxSketchFacts = 3

// personalitySketch renders a short deterministic description from the
// strongest facts and routines.
func personalitySketch(in Input) string {
	facts := append([]memory.LearnedFact(nil), in.Facts...)
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].Confidence > facts[j].Confidence })
	if len(facts) > maxSketchFacts {
		facts = facts[:maxSketchFacts]
	}

	var parts []string
	for _, f := range facts {
		parts = append(parts, lowerFirst(f.Statement))
	}
	if len(parts) == 0 {
		if len(in.Routines) == 0 && len(in.Promoted) == 0 {
			return "Still forming a picture of who they are."
		}
		return "Known so far mostly through their routines rather than what they have shared."
	}

	sketch := "Seems to be someone who " + strings.Join(parts, "; ") + "."
	if len(in.Routines) > 0 || len(in.Promoted) > 0 {
		sketch += " Their days follow recognizable routines."
	}
	return sketch
}

// currentSituation reflects the most recent substantive conversation.
func currentSituation(in Input) string {
	if len(in.Conversations) == 0 {
		return ""
	}
	latest := in.Conversations[0]
	s := "Recently discussed: " + latest.Summary
	if latest.Mood != "" {
		s += " (mood: " + latest.Mood + ")"
	}
	return s
}

// communicationNotes summarizes the prevailing conversational mood.
func communicationNotes(in Input) string {
	tally := make(map[string]int)
	for _, c := range in.Conversations {
		if c.Mood != "" {
			tally[c.Mood]++
		}
	}
	if len(tally) == 0 {
		return ""
	}
	moods := make([]string, 0, len(tally))
	for m := range tally {
		moods = append(moods, m)
	}
	// Highest count wins; ties break alphabetically for determinism.
	sort.Slice(moods, func(i, j int) bool {
		if tally[moods[i]] != tally[moods[j]] {
			return tally[moods[i]] > tally[moods[j]]
		}
		return moods[i] < moods[j]
	})
	return "Conversations tend to feel " + moods[0] + "."
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
