package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"quest_tally/pkg/config"
	"quest_tally/pkg/data"
	"quest_tally/pkg/forum"
	"quest_tally/pkg/tally"
	"quest_tally/pkg/utils"
	"quest_tally/pkg/votes"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already scheduled")
	ErrStopped     = errors.New("scheduler stopped")
)

// JobStatus represents the current state of a quest job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job re-tallies one quest thread. A job without a schedule only runs
// through RunNow.
type Job struct {
	ID           string
	Quest        string
	Schedule     string
	Source       forum.PostSource
	Forum        forum.Kind
	LastRun      time.Time
	NextRun      time.Time
	Status       JobStatus
	Error        error
	Runs         int
	LastSnapshot string
	CronID       cron.EntryID

	schedule cron.Schedule
	tally    *tally.Tally
}

// JobInfo is a point-in-time copy of a job's state
type JobInfo struct {
	ID           string
	Quest        string
	Schedule     string
	Forum        forum.Kind
	LastRun      time.Time
	NextRun      time.Time
	Status       JobStatus
	Error        error
	Runs         int
	LastSnapshot string
}

// RunReport describes one completed job run
type RunReport struct {
	JobID    string
	Result   *tally.Result
	Snapshot *data.Snapshot
	// Saved is false when the tally matched the latest stored snapshot
	Saved    bool
	Duration time.Duration
}

// Scheduler manages periodic re-tally jobs
type Scheduler struct {
	cron       *cron.Cron
	jobs       map[string]*Job
	config     *config.SchedConfig
	opts       tally.Options
	repo       data.Repository
	logger     *zap.Logger
	metrics    *SchedulerMetrics
	registerer prometheus.Registerer
	workerPool chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// SchedulerMetrics tracks scheduler performance
type SchedulerMetrics struct {
	JobsScheduled  int64
	RunsCompleted  int64
	RunsFailed     int64
	RunsUnchanged  int64
	AverageLatency time.Duration
	ConcurrentRuns int
	LastUpdate     time.Time
	mu             sync.RWMutex
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	JobsScheduled  int64
	JobsActive     int
	RunsCompleted  int64
	RunsFailed     int64
	RunsUnchanged  int64
	AverageLatency time.Duration
	ConcurrentRuns int
	LastUpdate     time.Time
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.SchedConfig, opts tally.Options, repo data.Repository, logger *zap.Logger) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max_concurrent must be positive")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tally options: %w", err)
	}
	if repo == nil {
		repo = data.NewMemoryRepository()
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.Named("scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:       make(map[string]*Job),
		config:     cfg,
		opts:       opts,
		repo:       repo,
		logger:     logger,
		metrics:    &SchedulerMetrics{},
		workerPool: make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// UseRegisterer exports each quest's tally metrics under a quest label.
// Quests scheduled earlier are registered immediately.
func (s *Scheduler) UseRegisterer(reg prometheus.Registerer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registerer = reg
	for quest, job := range s.jobs {
		if err := s.questRegisterer(quest).Register(job.tally.Metrics()); err != nil {
			return fmt.Errorf("registering metrics for %s: %w", quest, err)
		}
	}
	return nil
}

func (s *Scheduler) questRegisterer(quest string) prometheus.Registerer {
	return prometheus.WrapRegistererWith(prometheus.Labels{"quest": quest}, s.registerer)
}

// Start begins firing scheduled jobs
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", s.config.MaxConcurrent),
		zap.Int("jobs", len(s.ListJobs())))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")

	s.cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		job.tally.Close()
	}
}

// ScheduleQuest registers a quest. An empty schedule registers the quest
// for RunNow only.
func (s *Scheduler) ScheduleQuest(quest, schedule string, src forum.PostSource) (JobInfo, error) {
	if quest == "" {
		return JobInfo{}, fmt.Errorf("quest cannot be empty")
	}
	if src == nil {
		return JobInfo{}, fmt.Errorf("post source cannot be nil")
	}
	var sched cron.Schedule
	if schedule != "" {
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return JobInfo{}, fmt.Errorf("invalid cron schedule: %w", err)
		}
		sched = parsed
	}
	if s.ctx.Err() != nil {
		return JobInfo{}, ErrStopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[quest]; exists {
		return JobInfo{}, fmt.Errorf("%w: %s", ErrJobExists, quest)
	}

	t, err := tally.New(s.opts, utils.LoggerWithContext(s.logger, zap.String("quest", quest)))
	if err != nil {
		return JobInfo{}, err
	}

	job := &Job{
		ID:       uuid.New().String(),
		Quest:    quest,
		Schedule: schedule,
		Source:   src,
		Forum:    src.Kind(),
		Status:   JobStatusPending,
		tally:    t,
	}

	if s.registerer != nil {
		if err := s.questRegisterer(quest).Register(t.Metrics()); err != nil {
			t.Close()
			return JobInfo{}, fmt.Errorf("registering metrics: %w", err)
		}
	}

	if sched != nil {
		job.schedule = sched
		job.CronID = s.cron.Schedule(sched, cron.FuncJob(func() {
			if _, err := s.runJob(s.ctx, job); err != nil {
				s.logger.Warn("Scheduled run failed", zap.String("quest", quest), zap.Error(err))
			}
		}))
		job.NextRun = sched.Next(time.Now())
	}
	s.jobs[quest] = job

	s.metrics.mu.Lock()
	s.metrics.JobsScheduled++
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Info("Quest scheduled",
		zap.String("quest", quest),
		zap.String("jobID", job.ID),
		zap.String("schedule", schedule),
		zap.Stringer("forum", job.Forum))

	return job.info(), nil
}

// UnscheduleQuest removes a quest's job
func (s *Scheduler) UnscheduleQuest(quest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[quest]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, quest)
	}

	if job.CronID != 0 {
		s.cron.Remove(job.CronID)
	}
	if s.registerer != nil {
		s.questRegisterer(quest).Unregister(job.tally.Metrics())
	}
	job.tally.Close()
	delete(s.jobs, quest)

	s.logger.Info("Quest unscheduled", zap.String("quest", quest))
	return nil
}

// RunNow runs a quest's job immediately and waits for the outcome
func (s *Scheduler) RunNow(ctx context.Context, quest string) (*RunReport, error) {
	s.mu.RLock()
	job, exists := s.jobs[quest]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, quest)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.runJob(ctx, job)
}

// GetJob returns a quest's job state
func (s *Scheduler) GetJob(quest string) (JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[quest]
	if !exists {
		return JobInfo{}, fmt.Errorf("%w: %s", ErrJobNotFound, quest)
	}
	return job.info(), nil
}

// Tally returns the tally engine bound to a quest
func (s *Scheduler) Tally(quest string) (*tally.Tally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[quest]
	if !exists {
		return nil, false
	}
	return job.tally, true
}

// ListJobs returns every job ordered by quest
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.info())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Quest < jobs[j].Quest })
	return jobs
}

// Stats returns current scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	active := len(s.jobs)
	s.mu.RUnlock()

	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SchedulerStats{
		JobsScheduled:  s.metrics.JobsScheduled,
		JobsActive:     active,
		RunsCompleted:  s.metrics.RunsCompleted,
		RunsFailed:     s.metrics.RunsFailed,
		RunsUnchanged:  s.metrics.RunsUnchanged,
		AverageLatency: s.metrics.AverageLatency,
		ConcurrentRuns: s.metrics.ConcurrentRuns,
		LastUpdate:     s.metrics.LastUpdate,
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) (*RunReport, error) {
	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()

	s.mu.Lock()
	job.Status = JobStatusRunning
	job.LastRun = start
	s.mu.Unlock()
	s.adjustConcurrent(1)
	defer s.adjustConcurrent(-1)

	report, err := s.execute(ctx, job)

	s.mu.Lock()
	job.Runs++
	job.Error = err
	switch {
	case err == nil:
		job.Status = JobStatusComplete
		job.LastSnapshot = report.Snapshot.ID
	case errors.Is(err, tally.ErrCancelled) || errors.Is(err, context.Canceled):
		job.Status = JobStatusCancelled
	default:
		job.Status = JobStatusFailed
	}
	if job.schedule != nil {
		job.NextRun = job.schedule.Next(time.Now())
	}
	s.mu.Unlock()

	elapsed := time.Since(start)
	s.metrics.mu.Lock()
	switch {
	case err != nil:
		s.metrics.RunsFailed++
	case !report.Saved:
		s.metrics.RunsCompleted++
		s.metrics.RunsUnchanged++
	default:
		s.metrics.RunsCompleted++
	}
	s.metrics.AverageLatency = (s.metrics.AverageLatency*9 + elapsed) / 10
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	if err != nil {
		return nil, err
	}
	report.Duration = elapsed

	s.logger.Info("Quest run completed",
		zap.String("quest", job.Quest),
		zap.String("snapshot", report.Snapshot.ID),
		zap.Bool("saved", report.Saved),
		zap.Duration("duration", elapsed))
	return report, nil
}

func (s *Scheduler) execute(ctx context.Context, job *Job) (*RunReport, error) {
	var posts []votes.RawPost
	retry := &utils.RetryConfig{
		MaxAttempts:      s.config.RetryAttempts + 1,
		InitialDelay:     s.config.RetryDelay,
		MaxDelay:         8 * s.config.RetryDelay,
		BackoffFactor:    2.0,
		MaxJitterPercent: 0.2,
	}
	attempt := 0
	err := utils.RetryWithBackoff(ctx, func() error {
		attempt++
		var fetchErr error
		posts, fetchErr = job.Source.FetchPosts(ctx)
		if fetchErr != nil {
			s.logger.Warn("Fetching posts failed",
				zap.String("quest", job.Quest),
				zap.Int("attempt", attempt),
				zap.Error(fetchErr))
		}
		return fetchErr
	}, retry)
	if err != nil {
		return nil, fmt.Errorf("fetching posts: %w", err)
	}

	res, err := job.tally.Run(ctx, job.Quest, posts)
	if err != nil {
		return nil, err
	}

	snapshot, err := data.NewSnapshot(res)
	if err != nil {
		return nil, fmt.Errorf("building snapshot: %w", err)
	}

	report := &RunReport{JobID: job.ID, Result: res, Snapshot: snapshot}

	latest, err := s.repo.LatestSnapshot(ctx, job.Quest)
	switch {
	case err == nil && latest.Hash == snapshot.Hash:
		report.Snapshot = latest
		return report, nil
	case err != nil && !errors.Is(err, data.ErrNotFound):
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}

	if err := s.repo.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}
	report.Saved = true
	return report, nil
}

func (s *Scheduler) adjustConcurrent(delta int) {
	s.metrics.mu.Lock()
	s.metrics.ConcurrentRuns += delta
	s.metrics.mu.Unlock()
}

func (j *Job) info() JobInfo {
	return JobInfo{
		ID:           j.ID,
		Quest:        j.Quest,
		Schedule:     j.Schedule,
		Forum:        j.Forum,
		LastRun:      j.LastRun,
		NextRun:      j.NextRun,
		Status:       j.Status,
		Error:        j.Error,
		Runs:         j.Runs,
		LastSnapshot: j.LastSnapshot,
	}
}
