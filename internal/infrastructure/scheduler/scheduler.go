// Package scheduler runs the engine's periodic maintenance jobs: the
// nightly item recalibration pass and the weekly mastery replay sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skillforge/mastery-engine/pkg/logger"
)

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("scheduler: job cannot be nil")

	// ErrNilSchedule is returned when registering a job without a schedule.
	ErrNilSchedule = errors.New("scheduler: schedule cannot be nil")

	// ErrJobAlreadyExists is returned on duplicate job names.
	ErrJobAlreadyExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound is returned when a named job is not registered.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("scheduler: already running")

	// ErrNotRunning is returned when Stop is called before Start.
	ErrNotRunning = errors.New("scheduler: not running")
)

// Job is a unit of scheduled work. Run receives a context that is
// cancelled when the scheduler stops; long jobs must honor it.
type Job interface {
	Name() string
	Run(ctx context.Context) error
	Description() string
}

// Schedule decides when a job runs next.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time

	String() string
}

// JobResult records one completed execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// entry is a registered job plus its run bookkeeping.
type entry struct {
	job       Job
	schedule  Schedule
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Logger for structured logging.
	Logger *logger.Logger

	// Timezone anchors cron evaluation (default UTC). The nightly
	// recalibration window is defined in this zone.
	Timezone *time.Location

	// MaxHistorySize bounds the kept run history.
	MaxHistorySize int
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:         logger.Default(),
		Timezone:       time.UTC,
		MaxHistorySize: 200,
	}
}

// Scheduler owns a set of jobs and runs each when its schedule fires.
// Jobs run on their own goroutines; two different jobs may overlap,
// but a job never overlaps itself because its next run is computed
// from the previous run's start.
type Scheduler struct {
	mu sync.Mutex

	log        *logger.Logger
	tz         *time.Location
	maxHistory int

	entries map[string]*entry
	history []JobResult

	running bool
	wake    chan struct{}
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 200
	}
	return &Scheduler{
		log:        config.Logger.With(logger.Component("scheduler")),
		tz:         config.Timezone,
		maxHistory: config.MaxHistorySize,
		entries:    make(map[string]*entry),
		wake:       make(chan struct{}, 1),
	}
}

// Register adds a job under its Name. Registering after Start is
// allowed; the loop picks the new job up on its next wake.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now().In(s.tz)),
	}
	s.entries[name] = e

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.String("next_run", e.nextRun.Format(time.RFC3339)),
	)
	s.poke()
	return nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel

	s.done.Add(1)
	go s.loop(loopCtx)

	s.log.Info("scheduler started", logger.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels the loop and waits for in-flight jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.done.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// poke wakes the loop so it recomputes its sleep deadline.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop sleeps until the earliest due job, fires everything due, and
// repeats. A wake poke (new registration) re-evaluates early.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.done.Done()

	for {
		timer := time.NewTimer(s.untilNextDue())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// untilNextDue returns the sleep duration to the earliest nextRun,
// capped so clock drift never parks the loop for long.
func (s *Scheduler) untilNextDue() time.Duration {
	const maxSleep = time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.tz)
	wait := maxSleep
	for _, e := range s.entries {
		if d := e.nextRun.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue starts every job whose nextRun has passed.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now().In(s.tz)

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !now.Before(e.nextRun) {
			e.nextRun = e.schedule.Next(now)
			e.runCount++
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.done.Add(1)
		go func(e *entry) {
			defer s.done.Done()
			s.execute(ctx, e)
		}(e)
	}
}

// execute runs one job and records the outcome.
func (s *Scheduler) execute(ctx context.Context, e *entry) {
	name := e.job.Name()
	startedAt := time.Now()
	s.log.Info("job started", logger.String("job", name))

	err := e.job.Run(ctx)

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Success:     err == nil,
		Error:       err,
	}
	result.Duration = result.CompletedAt.Sub(startedAt)

	s.mu.Lock()
	if err != nil {
		e.failCount++
	}
	s.history = append(s.history, result)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
			logger.Err(err),
		)
		return
	}
	s.log.Info("job completed",
		logger.String("job", name),
		logger.Duration("duration", result.Duration),
	)
}

// RunNow executes a registered job immediately, outside its schedule.
// Used by operators after changing item pools or model parameters.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[jobName]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	s.execute(ctx, e)

	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.history[len(s.history)-1]
	return &last, last.Error
}

// JobInfo describes a registered job for status reporting.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.schedule.String(),
			NextRun:     e.nextRun,
			RunCount:    e.runCount,
			FailCount:   e.failCount,
		})
	}
	return out
}

// History returns up to limit most recent job results.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}
