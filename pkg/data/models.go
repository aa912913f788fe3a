package data

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"quest_tally/pkg/ranking"
	"quest_tally/pkg/tally"
	"quest_tally/pkg/votes"
)

var (
	ErrInvalidID    = errors.New("invalid identifier")
	ErrInvalidQuest = errors.New("invalid quest")
	ErrInvalidTime  = errors.New("invalid timestamp")
)

// Snapshot is the persisted outcome of one tally run
type Snapshot struct {
	ID            string            `json:"id"`
	RunID         string            `json:"run_id"`
	Quest         string            `json:"quest"`
	Method        string            `json:"method"`
	PartitionMode string            `json:"partition_mode"`
	Posts         int               `json:"posts"`
	Voters        int               `json:"voters"`
	Entries       []SnapshotEntry   `json:"entries"`
	Rankings      []SnapshotRanking `json:"rankings"`
	Flagged       []FlaggedPost     `json:"flagged,omitempty"`
	Hash          string            `json:"hash"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
	CreatedAt     time.Time         `json:"created_at"`
}

// SnapshotEntry is one stored vote block and its supporters
type SnapshotEntry struct {
	Category string   `json:"category"`
	Task     string   `json:"task,omitempty"`
	Content  string   `json:"content"`
	Voters   []string `json:"voters"`
}

// SnapshotRanking is the ranked result for one category and task
type SnapshotRanking struct {
	Category   string            `json:"category"`
	Task       string            `json:"task,omitempty"`
	Placements []RankedCandidate `json:"placements"`
}

// RankedCandidate is one option's place in a ranking
type RankedCandidate struct {
	Candidate string  `json:"candidate"`
	Position  int     `json:"position"`
	Score     float64 `json:"score"`
}

// FlaggedPost records a post whose references could not all be resolved
type FlaggedPost struct {
	Author     string `json:"author"`
	PostNumber int    `json:"post_number"`
	Status     string `json:"status"`
}

// NewSnapshot converts a tally result into a snapshot ready for storage
func NewSnapshot(res *tally.Result) (*Snapshot, error) {
	if res == nil {
		return nil, errors.New("result cannot be nil")
	}

	s := &Snapshot{
		ID:            uuid.New().String(),
		RunID:         res.RunID.String(),
		Quest:         res.Quest,
		Method:        res.Options.RankedMethod.String(),
		PartitionMode: res.Options.PartitionMode.String(),
		Posts:         res.Posts,
		Voters:        res.Voters,
		StartedAt:     res.StartedAt.UTC(),
		CompletedAt:   res.CompletedAt.UTC(),
		CreatedAt:     time.Now().UTC(),
	}

	for _, cat := range votes.Categories {
		for _, e := range res.Storage.Entries(cat) {
			s.Entries = append(s.Entries, SnapshotEntry{
				Category: string(cat),
				Task:     e.Block.Task(),
				Content:  e.Block.String(),
				Voters:   e.VoterNames(),
			})
		}

		ranked := res.Rankings[cat]
		tasks := lo.Keys(ranked)
		sort.Strings(tasks)
		for _, task := range tasks {
			s.Rankings = append(s.Rankings, SnapshotRanking{
				Category: string(cat),
				Task:     task,
				Placements: lo.Map(ranked[task], func(p ranking.Placement, _ int) RankedCandidate {
					return RankedCandidate{Candidate: p.Candidate, Position: p.Position, Score: p.Score}
				}),
			})
		}
	}

	s.Flagged = lo.Map(res.Flagged, func(p tally.PostStatus, _ int) FlaggedPost {
		return FlaggedPost{Author: p.Author, PostNumber: p.PostNumber, Status: p.Status}
	})

	s.UpdateHash()
	return s, s.Validate()
}

// Validate checks if the snapshot is valid
func (s *Snapshot) Validate() error {
	if _, err := uuid.Parse(s.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if s.Quest == "" {
		return ErrInvalidQuest
	}
	if s.CompletedAt.IsZero() || s.CompletedAt.Before(s.StartedAt) {
		return ErrInvalidTime
	}
	return nil
}

// UpdateHash fingerprints the stored votes and rankings. Two runs over
// the same thread state produce the same hash.
func (s *Snapshot) UpdateHash() {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%s|%s|", s.Quest, s.Method, s.PartitionMode)
	for _, e := range s.Entries {
		fmt.Fprintf(hasher, "%s|%s|%q|%q\n", e.Category, e.Task, e.Content, e.Voters)
	}
	for _, r := range s.Rankings {
		fmt.Fprintf(hasher, "%s|%s", r.Category, r.Task)
		for _, p := range r.Placements {
			fmt.Fprintf(hasher, "|%q:%d:%g", p.Candidate, p.Position, p.Score)
		}
		hasher.Write([]byte("\n"))
	}
	s.Hash = hex.EncodeToString(hasher.Sum(nil))
}

// Winner returns the top placement for a category and task
func (s *Snapshot) Winner(cat votes.Category, task string) (string, bool) {
	r, ok := lo.Find(s.Rankings, func(r SnapshotRanking) bool {
		return r.Category == string(cat) && r.Task == task
	})
	if !ok || len(r.Placements) == 0 {
		return "", false
	}
	return r.Placements[0].Candidate, true
}
