// Package people tracks the occupant's relationships: friends, family and
// colleagues mentioned in conversation, with fuzzy name lookup and
// disambiguation. Per-person details carry the same confidence idea as
// learned facts and are reinforced when restated.
package people

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hearthd/hearth/internal/memory"
)

// Detail is one fact learned about a person.
type Detail struct {
	Fact       string    `json:"fact"`
	Confidence float64   `json:"confidence"`
	LearnedAt  time.Time `json:"learned_at"`
}

// Visit records that a person is expected to come by.
type Visit struct {
	When    string    `json:"when"`
	Note    string    `json:"note,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Person is one tracked relationship.
type Person struct {
	Key              string    `json:"key"`
	Name             string    `json:"name"`
	Aliases          []string  `json:"aliases,omitempty"`
	RelationshipType string    `json:"relationship_type"`
	Details          []Detail  `json:"details,omitempty"`
	FirstMentioned   time.Time `json:"first_mentioned"`
	LastMentioned    time.Time `json:"last_mentioned"`
	MentionCount     int       `json:"mention_count"`
	ExpectedVisits   []Visit   `json:"expected_visits,omitempty"`
}

// closeTypes are relationship types rendered with priority in context.
var closeTypes = map[string]bool{
	"family": true, "friend": true, "partner": true, "roommate": true,
	"brother": true, "sister": true, "mother": true, "father": true,
	"parent": true, "son": true, "daughter": true, "spouse": true,
	"wife": true, "husband": true,
}

// Close reports whether the person belongs to the inner circle.
func (p Person) Close() bool { return closeTypes[p.RelationshipType] }

// Summary renders the person as one compact prompt-context line.
func (p Person) Summary() string {
	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteString(" (")
	sb.WriteString(p.RelationshipType)
	sb.WriteString(")")
	for i, d := range p.Details {
		if i == 2 {
			break
		}
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(d.Fact)
	}
	if n := len(p.ExpectedVisits); n > 0 {
		sb.WriteString("; expecting a visit ")
		sb.WriteString(p.ExpectedVisits[n-1].When)
	}
	return sb.String()
}

// Match is one fuzzy lookup hit.
type Match struct {
	Key       string  `json:"key"`
	Score     float64 `json:"score"`
	MatchedOn string  `json:"matched_on"`
}

// Mention is the parsed reference to a person arriving from the
// conversation pipeline.
type Mention struct {
	Name             string
	RelationshipType string
	Details          []string
	Visiting         bool
	VisitTime        string
}

// Action classifies the outcome of processing a mention.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionAmbiguous Action = "ambiguous"
)

// Outcome reports what ProcessMention did.
type Outcome struct {
	Action  Action  `json:"action"`
	Key     string  `json:"key,omitempty"`
	Matches []Match `json:"matches,omitempty"`
}

// Clarification is a queued question about an ambiguous name.
type Clarification struct {
	Name    string    `json:"name"`
	Keys    []string  `json:"keys"`
	AddedAt time.Time `json:"added_at"`
}

// Graph owns all tracked people. Not safe for concurrent use; the engine
// serializes writers.
type Graph struct {
	newID func() string

	people  map[string]*Person
	order   []string
	pending []Clarification
}

// NewGraph creates an empty relationship graph.
func NewGraph(newID func() string) *Graph {
	return &Graph{
		newID:  newID,
		people: make(map[string]*Person),
	}
}

// matchThreshold is the minimum bigram similarity for a name hit.
const matchThreshold = 0.5

// similarity scores two names by bigram Jaccard overlap, a cheap proxy
// that needs no embeddings.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for bg := range ba {
		if bb[bg] {
			shared++
		}
	}
	union := len(ba) + len(bb) - shared
	if union == 0 {
		return 1
	}
	return float64(shared) / float64(union)
}

func bigrams(s string) map[string]bool {
	if len(s) < 2 {
		return nil
	}
	m := make(map[string]bool, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		m[s[i:i+2]] = true
	}
	return m
}

// FindByName returns fuzzy matches for a name, best first. Primary names,
// aliases and partial containment all count.
func (g *Graph) FindByName(name string) []Match {
	nameLower := strings.ToLower(strings.TrimSpace(name))
	var matches []Match

	for _, key := range g.order {
		p := g.people[key]
		if score := similarity(name, p.Name); score >= matchThreshold {
			matches = append(matches, Match{Key: key, Score: score, MatchedOn: "name"})
			continue
		}
		matched := false
		for _, alias := range p.Aliases {
			if score := similarity(name, alias); score >= matchThreshold {
				matches = append(matches, Match{Key: key, Score: score, MatchedOn: "alias"})
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		// "Marcus" should still hit "Marcus from Brooklyn".
		if nameLower != "" && strings.Contains(strings.ToLower(p.Name), nameLower) {
			matches = append(matches, Match{Key: key, Score: 0.8, MatchedOn: "partial"})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

// Get returns a copy of the person with the given key.
func (g *Graph) Get(key string) (Person, error) {
	p, ok := g.people[key]
	if !ok {
		return Person{}, fmt.Errorf("person %q: %w", key, memory.ErrNotFound)
	}
	return *p, nil
}

// Add creates a new person and returns their key.
func (g *Graph) Add(name, relationshipType string, details []string, now time.Time) Person {
	if relationshipType == "" {
		relationshipType = "acquaintance"
	}
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	if relationshipType != "acquaintance" {
		key += "_" + relationshipType
	}
	if _, taken := g.people[key]; taken {
		id := g.newID()
		key += "_" + strings.ToLower(id[len(id)-4:])
	}

	p := &Person{
		Key:              key,
		Name:             name,
		RelationshipType: relationshipType,
		FirstMentioned:   now,
		LastMentioned:    now,
		MentionCount:     1,
	}
	for _, d := range details {
		p.Details = append(p.Details, Detail{Fact: d, Confidence: 0.7, LearnedAt: now})
	}
	g.people[key] = p
	g.order = append(g.order, key)
	return *p
}

// AddDetail records a fact about a person. Restating an existing detail
// reinforces its confidence instead of duplicating it.
func (g *Graph) AddDetail(key, fact string, now time.Time) error {
	p, ok := g.people[key]
	if !ok {
		return fmt.Errorf("person %q: %w", key, memory.ErrNotFound)
	}
	for i := range p.Details {
		if strings.EqualFold(p.Details[i].Fact, fact) {
			p.Details[i].Confidence = memory.Clamp(p.Details[i].Confidence + 0.1)
			return nil
		}
	}
	p.Details = append(p.Details, Detail{Fact: fact, Confidence: 0.7, LearnedAt: now})
	return nil
}

// RecordMention bumps the mention bookkeeping for a person.
func (g *Graph) RecordMention(key string, now time.Time) error {
	p, ok := g.people[key]
	if !ok {
		return fmt.Errorf("person %q: %w", key, memory.ErrNotFound)
	}
	p.MentionCount++
	p.LastMentioned = now
	return nil
}

// ExpectVisit records that a person is expected to come by.
func (g *Graph) ExpectVisit(key, when, note string, now time.Time) error {
	p, ok := g.people[key]
	if !ok {
		return fmt.Errorf("person %q: %w", key, memory.ErrNotFound)
	}
	if when == "" {
		when = "soon"
	}
	p.ExpectedVisits = append(p.ExpectedVisits, Visit{When: when, Note: note, AddedAt: now})
	return nil
}

// ProcessMention handles one parsed mention end to end: create on no
// match, update on a single match, auto-resolve or queue a clarification
// when several people share the name.
func (g *Graph) ProcessMention(m Mention, now time.Time) Outcome {
	matches := g.FindByName(m.Name)

	if len(matches) == 0 {
		p := g.Add(m.Name, m.RelationshipType, m.Details, now)
		if m.Visiting {
			_ = g.ExpectVisit(p.Key, m.VisitTime, "", now)
		}
		return Outcome{Action: ActionCreated, Key: p.Key}
	}

	key := ""
	if len(matches) == 1 {
		key = matches[0].Key
	} else if resolved, ok := g.autoResolve(matches, m.RelationshipType, now); ok {
		key = resolved
	}

	if key == "" {
		g.queueClarification(m.Name, matches, now)
		return Outcome{Action: ActionAmbiguous, Matches: matches}
	}

	_ = g.RecordMention(key, now)
	if m.RelationshipType != "" && m.RelationshipType != "acquaintance" {
		g.people[key].RelationshipType = m.RelationshipType
	}
	for _, d := range m.Details {
		_ = g.AddDetail(key, d, now)
	}
	if m.Visiting {
		_ = g.ExpectVisit(key, m.VisitTime, "", now)
	}
	return Outcome{Action: ActionUpdated, Key: key}
}

// autoResolve tries to pick one person from several matches: relationship
// hint first, then a mention within the last week, then a pending visit.
func (g *Graph) autoResolve(matches []Match, relationshipHint string, now time.Time) (string, bool) {
	if relationshipHint != "" && relationshipHint != "acquaintance" {
		if key, ok := uniqueMatch(matches, func(p *Person) bool { return p.RelationshipType == relationshipHint }, g.people); ok {
			return key, true
		}
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	if key, ok := uniqueMatch(matches, func(p *Person) bool { return p.LastMentioned.After(weekAgo) }, g.people); ok {
		return key, true
	}
	if key, ok := uniqueMatch(matches, func(p *Person) bool { return len(p.ExpectedVisits) > 0 }, g.people); ok {
		return key, true
	}
	return "", false
}

func uniqueMatch(matches []Match, pred func(*Person) bool, people map[string]*Person) (string, bool) {
	found := ""
	for _, m := range matches {
		if pred(people[m.Key]) {
			if found != "" {
				return "", false
			}
			found = m.Key
		}
	}
	return found, found != ""
}

func (g *Graph) queueClarification(name string, matches []Match, now time.Time) {
	kept := g.pending[:0]
	for _, c := range g.pending {
		if !strings.EqualFold(c.Name, name) {
			kept = append(kept, c)
		}
	}
	g.pending = kept

	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.Key
	}
	g.pending = append(g.pending, Clarification{Name: name, Keys: keys, AddedAt: now})
}

// PendingClarification returns the oldest queued clarification, if any.
func (g *Graph) PendingClarification() (Clarification, bool) {
	if len(g.pending) == 0 {
		return Clarification{}, false
	}
	return g.pending[0], true
}

// ResolveClarification settles an ambiguous name on the chosen person.
func (g *Graph) ResolveClarification(name, chosenKey string, now time.Time) error {
	if _, ok := g.people[chosenKey]; !ok {
		return fmt.Errorf("person %q: %w", chosenKey, memory.ErrNotFound)
	}
	kept := g.pending[:0]
	for _, c := range g.pending {
		if !strings.EqualFold(c.Name, name) {
			kept = append(kept, c)
		}
	}
	g.pending = kept
	return g.RecordMention(chosenKey, now)
}

// All returns copies of every person, most mentioned first.
func (g *Graph) All() []Person {
	out := make([]Person, 0, len(g.order))
	for _, key := range g.order {
		out = append(out, *g.people[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MentionCount > out[j].MentionCount })
	return out
}

// Len reports the number of tracked people.
func (g *Graph) Len() int { return len(g.people) }

// Document is the persisted form of the graph.
type Document struct {
	People  []Person        `json:"people"`
	Pending []Clarification `json:"pending_clarifications,omitempty"`
}

// Export returns the serializable state of the graph in insertion order.
func (g *Graph) Export() Document {
	doc := Document{Pending: append([]Clarification(nil), g.pending...)}
	for _, key := range g.order {
		doc.People = append(doc.People, *g.people[key])
	}
	return doc
}

// Restore replaces the graph's contents from a persisted document.
func (g *Graph) Restore(doc Document) error {
	people := make(map[string]*Person, len(doc.People))
	order := make([]string, 0, len(doc.People))
	for i := range doc.People {
		p := doc.People[i]
		if p.Key == "" {
			return fmt.Errorf("person with empty key: %w", memory.ErrCorruptState)
		}
		if _, dup := people[p.Key]; dup {
			return fmt.Errorf("duplicate person key %q: %w", p.Key, memory.ErrCorruptState)
		}
		cp := p
		people[p.Key] = &cp
		order = append(order, p.Key)
	}
	g.people = people
	g.order = order
	g.pending = append([]Clarification(nil), doc.Pending...)
	return nil
}
