package tally

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

// RunContext carries everything one tally run shares across its phases.
// Nothing in it is process-wide.
type RunContext struct {
	ID       uuid.UUID
	Quest    string
	Options  Options
	Comparer *text.Comparer
	Parser   *votes.Parser
	Records  *VotingRecords
	Plans    *PlanRegistry
}

// NewRunContext creates a context for a run over quest
func NewRunContext(quest string, opts Options) (*RunContext, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tally options: %w", err)
	}

	comparer, err := text.NewComparer(opts.ComparisonMode, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	return &RunContext{
		ID:       uuid.New(),
		Quest:    quest,
		Options:  opts,
		Comparer: comparer,
		Parser:   votes.NewParser(votes.ForcedCategory{Force: opts.ForcedCategory}),
		Records:  NewVotingRecords(comparer),
		Plans:    NewPlanRegistry(comparer),
	}, nil
}

// VotingRecords maps every known voter to their most recent post
type VotingRecords struct {
	mu       sync.RWMutex
	comparer *text.Comparer
	latest   map[string]votes.Origin
}

// NewVotingRecords creates empty records matching names with c
func NewVotingRecords(c *text.Comparer) *VotingRecords {
	return &VotingRecords{
		comparer: c,
		latest:   make(map[string]votes.Origin),
	}
}

// Reset forgets every voter
func (r *VotingRecords) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = make(map[string]votes.Origin)
}

// Record notes a post by a voter. A post with a higher number, or the same
// number recorded later, becomes the voter's latest.
func (r *VotingRecords) Record(o votes.Origin) {
	if strings.TrimSpace(o.Name) == "" {
		return
	}
	key := r.comparer.Key(o.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.latest[key]; ok && prev.PostNumber > o.PostNumber {
		return
	}
	r.latest[key] = o
}

// Latest returns the voter's most recent post origin
func (r *VotingRecords) Latest(name string) (votes.Origin, bool) {
	key := r.comparer.Key(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.latest[key]
	return o, ok
}

// Known reports whether name belongs to a recorded voter
func (r *VotingRecords) Known(name string) bool {
	_, ok := r.Latest(name)
	return ok
}

// IsLatest reports whether o is its voter's most recent post
func (r *VotingRecords) IsLatest(o votes.Origin) bool {
	latest, ok := r.Latest(o.Name)
	return ok && latest.PostID == o.PostID
}

// Voters returns every recorded voter name, sorted
func (r *VotingRecords) Voters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.latest))
	for _, o := range r.latest {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of recorded voters
func (r *VotingRecords) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.latest)
}

// PostIDs returns each voter's latest post id
func (r *VotingRecords) PostIDs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.latest))
	for _, o := range r.latest {
		out[o.Name] = o.PostID
	}
	return out
}

// Snapshot copies the records for later Restore
func (r *VotingRecords) Snapshot() map[string]votes.Origin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]votes.Origin, len(r.latest))
	for k, v := range r.latest {
		out[k] = v
	}
	return out
}

// Restore replaces the records with a snapshot
func (r *VotingRecords) Restore(snapshot map[string]votes.Origin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = make(map[string]votes.Origin, len(snapshot))
	for k, v := range snapshot {
		r.latest[k] = v
	}
}

// Plan is a named, reusable block of vote lines
type Plan struct {
	Name   string
	Kind   votes.PlanKind
	Origin votes.Origin

	// Block holds a content plan's header and children
	Block votes.VoteLineBlock

	// Definer is the post whose working vote a label plan stands for
	Definer *votes.Post
}

// PlanRegistry holds the plans defined in a run. The first definition of
// a name wins.
type PlanRegistry struct {
	comparer *text.Comparer
	byKey    map[string]*Plan
	order    []*Plan
}

// NewPlanRegistry creates an empty registry matching names with c
func NewPlanRegistry(c *text.Comparer) *PlanRegistry {
	return &PlanRegistry{comparer: c, byKey: make(map[string]*Plan)}
}

// Register adds p unless a plan with the same name exists
func (r *PlanRegistry) Register(p *Plan) bool {
	key := r.comparer.Key(p.Name)
	if _, ok := r.byKey[key]; ok {
		return false
	}
	r.byKey[key] = p
	r.order = append(r.order, p)
	return true
}

// Lookup finds a plan by name
func (r *PlanRegistry) Lookup(name string) (*Plan, bool) {
	p, ok := r.byKey[r.comparer.Key(name)]
	return p, ok
}

// Plans returns every plan in registration order
func (r *PlanRegistry) Plans() []*Plan {
	return append([]*Plan(nil), r.order...)
}

// Len returns the number of registered plans
func (r *PlanRegistry) Len() int {
	return len(r.order)
}

// Reset forgets every plan
func (r *PlanRegistry) Reset() {
	r.byKey = make(map[string]*Plan)
	r.order = nil
}
