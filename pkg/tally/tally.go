package tally

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quest_tally/pkg/ranking"
	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

// Rankings holds ranked results by category, then task
type Rankings map[votes.Category]map[string]ranking.Ranking

// PostStatus describes how a post's references were resolved
type PostStatus struct {
	Author       string
	PostID       string
	PostNumber   int
	Status       string
	ForceProcess bool
	Degraded     []string
}

// Result is the outcome of a tally run
type Result struct {
	RunID       uuid.UUID
	Quest       string
	Options     Options
	StartedAt   time.Time
	CompletedAt time.Time

	Storage  StorageSnapshot
	Rankings Rankings

	// Flagged lists posts whose references did not resolve cleanly
	Flagged []PostStatus

	Posts  int
	Voters int
	Plans  []string
}

// Winner returns the first-placed candidate for a ranked category and task
func (r *Result) Winner(cat votes.Category, task string) (string, bool) {
	return r.Rankings[cat][task].Winner()
}

// Tally runs the tally pipeline for one quest's storage. Runs are
// serialized; storage reads may happen concurrently with a run.
type Tally struct {
	logger  *zap.Logger
	metrics *Metrics
	events  *broadcaster
	storage *VoteStorage

	runMu sync.Mutex

	mu       sync.RWMutex
	opts     Options
	rc       *RunContext
	posts    []*votes.Post
	rankings Rankings
	last     *Result
}

// New creates a Tally with the given options
func New(opts Options, logger *zap.Logger) (*Tally, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tally options: %w", err)
	}
	c, err := text.NewComparer(opts.ComparisonMode, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Tally{
		logger:  logger,
		metrics: NewMetrics(),
		events:  newBroadcaster(),
		storage: NewVoteStorage(c, NewVotingRecords(c)),
		opts:    opts,
	}, nil
}

// Options returns the options the next run will use
func (t *Tally) Options() Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opts
}

// SetOptions changes the options for subsequent runs
func (t *Tally) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid tally options: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts = opts
	return nil
}

// Metrics returns the run metrics
func (t *Tally) Metrics() *Metrics {
	return t.metrics
}

// Storage returns the canonical vote storage
func (t *Tally) Storage() *VoteStorage {
	return t.storage
}

// Result returns the latest result, or nil before the first run completes
func (t *Tally) Result() *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Posts returns the status of every vote post from the latest run
func (t *Tally) Posts() []PostStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return statuses(t.posts, false)
}

// Subscribe returns a channel receiving phase events. Events are dropped
// when the buffer is full.
func (t *Tally) Subscribe(buffer int) <-chan PhaseEvent {
	return t.events.subscribe(buffer)
}

// Unsubscribe stops and closes a subscription
func (t *Tally) Unsubscribe(ch <-chan PhaseEvent) {
	t.events.unsubscribe(ch)
}

// Close closes every subscription
func (t *Tally) Close() {
	t.events.closeAll()
}

type step struct {
	phase Phase
	run   func() int
}

// Run tallies raw posts for quest. The context is checked between phases;
// on cancellation storage keeps the state of the last completed phase and
// the error wraps both ErrCancelled and the context error.
func (t *Tally) Run(ctx context.Context, quest string, raw []votes.RawPost) (*Result, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	start := time.Now()
	t.metrics.IncrementRunsStarted()

	rc, err := NewRunContext(quest, t.Options())
	if err != nil {
		t.metrics.IncrementRunsFailed()
		return nil, err
	}
	logger := t.logger.With(zap.String("quest", quest), zap.String("runID", rc.ID.String()))
	logger.Debug("Starting tally run",
		zap.Int("posts", len(raw)),
		zap.String("partitionMode", rc.Options.PartitionMode.String()),
		zap.String("rankedMethod", rc.Options.RankedMethod.String()),
		zap.String("comparison", rc.Options.ComparisonMode.String()))

	t.storage.Rebind(rc.Comparer, rc.Records)
	t.mu.Lock()
	t.rc = rc
	t.posts = nil
	t.rankings = nil
	t.last = nil
	t.mu.Unlock()

	pipeline := NewPipeline(rc, t.logger)
	var partitioned []partitionedVote
	forced := 0

	steps := []step{
		{PhaseParse, func() int { return pipeline.Parse(raw) }},
		{PhaseContentPlans, pipeline.ExtractContentPlans},
		{PhaseLabelPlansMulti, func() int { return pipeline.ExtractLabelPlans(true) }},
		{PhaseLabelPlansSingle, func() int { return pipeline.ExtractLabelPlans(false) }},
		{PhaseWorkingVotes, pipeline.AssignWorkingVotes},
		{PhaseResolution, func() int {
			_, forced = pipeline.Resolve()
			return forced
		}},
		{PhasePartition, func() int {
			partitioned = partitionPosts(pipeline.Tallied(), rc.Options.PartitionMode)
			return len(partitioned)
		}},
		{PhaseStorage, func() int {
			for _, pv := range partitioned {
				t.storage.Add(pv.block, pv.origin)
			}
			return t.storage.Len()
		}},
	}

	for _, s := range steps {
		if err := t.cancelled(ctx, rc); err != nil {
			logger.Info("Tally run cancelled", zap.String("before", string(s.phase)))
			return nil, err
		}
		n := s.run()
		logger.Debug("Phase complete", zap.String("phase", string(s.phase)), zap.Int("count", n))
		t.publish(rc, s.phase, n)
	}

	rankings, err := t.rank(ctx, rc)
	if err != nil {
		logger.Info("Tally run cancelled", zap.String("during", string(PhaseRanking)))
		return nil, err
	}
	t.publish(rc, PhaseRanking, countRankings(rankings))

	result := &Result{
		RunID:       rc.ID,
		Quest:       quest,
		Options:     rc.Options,
		StartedAt:   start,
		CompletedAt: time.Now(),
		Storage:     t.storage.Snapshot(),
		Rankings:    rankings,
		Flagged:     statuses(pipeline.Posts(), true),
		Posts:       len(pipeline.Posts()),
		Voters:      rc.Records.Len(),
		Plans:       planNames(rc.Plans),
	}

	t.mu.Lock()
	t.posts = pipeline.Posts()
	t.rankings = rankings
	t.last = result
	t.mu.Unlock()

	t.metrics.IncrementRunsCompleted()
	t.metrics.AddForcedPosts(forced)
	t.metrics.UpdateAverageLatency(result.CompletedAt.Sub(start))

	if forced > 0 {
		logger.Warn("Tally completed with forced resolution", zap.Int("forcedPosts", forced))
	}
	logger.Info("Tally complete",
		zap.Int("posts", result.Posts),
		zap.Int("voters", result.Voters),
		zap.Int("entries", result.Storage.Len()),
		zap.Duration("elapsed", result.CompletedAt.Sub(start)))
	t.publish(rc, PhaseComplete, result.Storage.Len())

	return result, nil
}

// Merge merges other into keep and re-ranks
func (t *Tally) Merge(keep, other votes.VoteLineBlock) (UndoAction, error) {
	return t.mutate(func(s *VoteStorage) (UndoAction, error) { return s.Merge(keep, other) })
}

// Join moves the named voters onto into and re-ranks
func (t *Tally) Join(voters []string, into votes.VoteLineBlock) (UndoAction, error) {
	return t.mutate(func(s *VoteStorage) (UndoAction, error) { return s.Join(voters, into) })
}

// Delete removes blocks and re-ranks
func (t *Tally) Delete(blocks ...votes.VoteLineBlock) (UndoAction, error) {
	return t.mutate(func(s *VoteStorage) (UndoAction, error) { return s.Delete(blocks...) })
}

// Undo reverses the last storage mutation and re-ranks
func (t *Tally) Undo() (UndoAction, error) {
	return t.mutate(func(s *VoteStorage) (UndoAction, error) { return s.Undo() })
}

func (t *Tally) mutate(fn func(*VoteStorage) (UndoAction, error)) (UndoAction, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.RLock()
	rc := t.rc
	t.mu.RUnlock()
	if rc == nil {
		return UndoAction{}, ErrNoRun
	}

	action, err := fn(t.storage)
	if err != nil {
		return UndoAction{}, err
	}

	rankings, err := t.rank(context.Background(), rc)
	if err != nil {
		return action, err
	}

	t.mu.Lock()
	t.rankings = rankings
	if t.last != nil {
		updated := *t.last
		updated.Storage = t.storage.Snapshot()
		updated.Rankings = rankings
		t.last = &updated
	}
	t.mu.Unlock()

	t.logger.Info("Applied storage change",
		zap.String("quest", rc.Quest),
		zap.String("action", action.Description()),
		zap.Int("undoDepth", t.storage.UndoCount()))
	return action, nil
}

func (t *Tally) rank(ctx context.Context, rc *RunContext) (Rankings, error) {
	ranker := ranking.New(rc.Options.RankedMethod, rc.Options.Ranking)
	out := make(Rankings)

	for _, cat := range votes.Categories {
		if !cat.IsRanked() {
			continue
		}
		entries := t.storage.Entries(cat)
		if len(entries) == 0 {
			continue
		}

		byTask := Ballots(entries)
		tasks := make([]string, 0, len(byTask))
		for task := range byTask {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)

		out[cat] = make(map[string]ranking.Ranking, len(tasks))
		for _, task := range tasks {
			if err := t.cancelled(ctx, rc); err != nil {
				return nil, err
			}
			out[cat][task] = ranker.Rank(byTask[task])
		}
	}
	return out, nil
}

func (t *Tally) cancelled(ctx context.Context, rc *RunContext) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	t.metrics.IncrementRunsCancelled()
	t.publish(rc, PhaseCancelled, 0)
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func (t *Tally) publish(rc *RunContext, phase Phase, count int) {
	t.events.publish(PhaseEvent{
		RunID: rc.ID,
		Quest: rc.Quest,
		Phase: phase,
		Count: count,
		At:    time.Now(),
	})
}

type partitionedVote struct {
	block  votes.VoteLineBlock
	origin votes.Origin
}

func partitionPosts(posts []*votes.Post, mode votes.PartitionMode) []partitionedVote {
	var out []partitionedVote
	for _, post := range posts {
		for _, b := range votes.Partition(post.WorkingVote, mode) {
			out = append(out, partitionedVote{block: b, origin: post.Origin})
		}
	}
	return out
}

func statuses(posts []*votes.Post, flaggedOnly bool) []PostStatus {
	var out []PostStatus
	for _, p := range posts {
		if flaggedOnly && !p.Flagged() {
			continue
		}
		out = append(out, PostStatus{
			Author:       p.Origin.Name,
			PostID:       p.Origin.PostID,
			PostNumber:   p.Origin.PostNumber,
			Status:       p.Status(),
			ForceProcess: p.ForceProcess,
			Degraded:     append([]string(nil), p.Degraded...),
		})
	}
	return out
}

func planNames(r *PlanRegistry) []string {
	plans := r.Plans()
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.Name
	}
	return names
}

func countRankings(r Rankings) int {
	n := 0
	for _, byTask := range r {
		n += len(byTask)
	}
	return n
}
