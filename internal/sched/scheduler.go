// Package sched runs the maintenance jobs that keep long sessions
// healthy: provider health retests, conversation autosave, and the
// backup retention sweep. Jobs are registered with cron schedules
// (descriptors like "@every 30s" included) and run serially from one
// tick loop, so a job never overlaps itself or its peers.
package sched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/forge/internal/observability"
)

// cronParser accepts standard 5-field expressions, 6-field with
// seconds, and descriptors (@hourly, @every 30s).
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// JobFunc is one maintenance job run.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      JobFunc

	// guarded by Scheduler.mu
	enabled   bool
	nextRun   time.Time
	lastRun   time.Time
	lastError string
	runs      int
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name      string
	Schedule  string
	Enabled   bool
	Runs      int
	NextRun   time.Time
	LastRun   time.Time
	LastError string
}

// Scheduler ticks registered jobs until stopped.
type Scheduler struct {
	logger *observability.Logger
	now    func() time.Time
	tick   time.Duration

	mu      sync.Mutex
	jobs    []*job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTick overrides the tick interval.
func WithTick(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

// New returns a scheduler with no jobs.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: observability.NewLogger(observability.LogConfig{Output: io.Discard}),
		now:    time.Now,
		tick:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a named job. The first run happens at the schedule's
// next fire time, not immediately.
func (s *Scheduler) Add(name, spec string, run JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	if run == nil {
		return fmt.Errorf("job %q has a nil run function", name)
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule for %q: %w", name, err)
	}
	next := schedule.Next(s.now())
	if next.IsZero() {
		return fmt.Errorf("schedule %q for job %q never fires", spec, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %q already registered", name)
		}
	}
	s.jobs = append(s.jobs, &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		run:      run,
		enabled:  true,
		nextRun:  next,
	})
	return nil
}

// Start begins the tick loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info(ctx, "maintenance scheduler started",
		"jobs", count,
		"tick", s.tick,
	)
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// Stop cancels the tick loop and waits for an in-flight run to
// finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info(ctx, "maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes every due job immediately and returns how many
// ran. The tick loop calls this; tests call it directly.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// RunJob triggers a job by name regardless of its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	now := s.now()
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	target.lastRun = now
	s.mu.Unlock()

	err := s.execute(ctx, target)
	s.finish(ctx, target, now, err)
	return err
}

// Jobs returns a snapshot of every registered job.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:      j.name,
			Schedule:  j.spec,
			Enabled:   j.enabled,
			Runs:      j.runs,
			NextRun:   j.nextRun,
			LastRun:   j.lastRun,
			LastError: j.lastError,
		})
	}
	return out
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	ran := 0
	for _, j := range jobs {
		s.mu.Lock()
		due := j.enabled && !j.nextRun.IsZero() && !now.Before(j.nextRun)
		if due {
			j.lastRun = now
		}
		s.mu.Unlock()
		if !due {
			continue
		}

		err := s.execute(ctx, j)
		s.finish(ctx, j, now, err)
		ran++
	}
	return ran
}

// execute runs one job, converting a panic into an error so a bad
// job cannot take the scheduler down.
func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "maintenance job panicked",
				"job", j.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	err = j.run(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug(ctx, "maintenance job ran",
		"job", j.name,
		"duration", time.Since(start),
	)
	return nil
}

// finish records the run outcome and advances the schedule. A
// schedule with no next fire time disables the job.
func (s *Scheduler) finish(ctx context.Context, j *job, now time.Time, err error) {
	if err != nil {
		s.logger.Warn(ctx, "maintenance job failed",
			"job", j.name,
			"error", err,
		)
	}
	next := j.schedule.Next(now)

	s.mu.Lock()
	j.runs++
	if err != nil {
		j.lastError = err.Error()
	} else {
		j.lastError = ""
	}
	if next.IsZero() {
		j.enabled = false
		j.nextRun = time.Time{}
	} else {
		j.nextRun = next
	}
	s.mu.Unlock()

	if next.IsZero() {
		s.logger.Warn(ctx, "maintenance schedule exhausted, job disabled", "job", j.name)
	}
}
