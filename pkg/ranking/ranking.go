package ranking

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

// Method selects a ranked tally algorithm
type Method int

const (
	MethodRIRV Method = iota
	MethodSchulze
	MethodBaldwin
	MethodWilson
)

// DefaultMethod tolerates partial rankings best
const DefaultMethod = MethodRIRV

func (m Method) String() string {
	switch m {
	case MethodSchulze:
		return "schulze"
	case MethodBaldwin:
		return "baldwin"
	case MethodWilson:
		return "wilson"
	default:
		return "rirv"
	}
}

// ParseMethod converts a configuration value into a Method
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rirv", "rated_instant_runoff":
		return MethodRIRV, nil
	case "schulze":
		return MethodSchulze, nil
	case "baldwin":
		return MethodBaldwin, nil
	case "wilson":
		return MethodWilson, nil
	default:
		return DefaultMethod, fmt.Errorf("unknown ranking method: %q", s)
	}
}

// Ballot is one voter's ranking within a task. Lower rank numbers are
// better; equal numbers are ties. Candidates the voter did not rank are
// below every ranked candidate.
type Ballot struct {
	Voter       string
	Ranks       map[string]int
	Disapproved []string
}

func (b Ballot) rank(candidate string) (int, bool) {
	r, ok := b.Ranks[candidate]
	return r, ok
}

// Placement is one candidate's position in a ranking
type Placement struct {
	Candidate string
	Position  int
	Score     float64
}

// Ranking is a strict total order, best first
type Ranking []Placement

// Candidates returns the ranked candidate names in order
func (r Ranking) Candidates() []string {
	return lo.Map(r, func(p Placement, _ int) string { return p.Candidate })
}

// Winner returns the first-placed candidate
func (r Ranking) Winner() (string, bool) {
	if len(r) == 0 {
		return "", false
	}
	return r[0].Candidate, true
}

// Options tunes the algorithms that need parameters
type Options struct {
	// TopRanks is how many top ranks count as approval for Wilson scoring
	TopRanks int
	// Confidence is the Wilson interval confidence level
	Confidence float64
}

// DefaultOptions returns the standard tuning
func DefaultOptions() Options {
	return Options{TopRanks: 3, Confidence: 0.95}
}

// Ranker computes a ranking from ballots
type Ranker interface {
	Method() Method
	Rank(ballots []Ballot) Ranking
}

type rankerFunc struct {
	method Method
	fn     func([]Ballot) Ranking
}

func (r rankerFunc) Method() Method                { return r.method }
func (r rankerFunc) Rank(ballots []Ballot) Ranking { return r.fn(ballots) }

// New returns the ranker for method
func New(method Method, opts Options) Ranker {
	if opts.TopRanks <= 0 {
		opts.TopRanks = DefaultOptions().TopRanks
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = DefaultOptions().Confidence
	}

	switch method {
	case MethodSchulze:
		return rankerFunc{method, Schulze}
	case MethodBaldwin:
		return rankerFunc{method, Baldwin}
	case MethodWilson:
		return rankerFunc{method, func(b []Ballot) Ranking { return Wilson(b, opts.TopRanks, opts.Confidence) }}
	default:
		return rankerFunc{MethodRIRV, RIRV}
	}
}

// candidates returns every candidate named on any ballot, sorted
func candidates(ballots []Ballot) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, b := range ballots {
		for c := range b.Ranks {
			set.Add(c)
		}
		for _, c := range b.Disapproved {
			set.Add(c)
		}
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}

// fromEliminations builds a ranking from the survivors and the elimination
// rounds, last eliminated placed first
func fromEliminations(survivors []string, rounds [][]string, scores map[string]float64) Ranking {
	var order []string
	order = append(order, sortedCopy(survivors)...)
	for i := len(rounds) - 1; i >= 0; i-- {
		order = append(order, sortedCopy(rounds[i])...)
	}

	out := make(Ranking, len(order))
	for i, c := range order {
		out[i] = Placement{Candidate: c, Position: i + 1, Score: scores[c]}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
