// Package scheduler runs discoverd's periodic jobs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/logging"
)

// TaskFunc performs one run of a task. ctx is cancelled when the
// scheduler stops or the task times out.
type TaskFunc func(ctx context.Context) error

// Schedule defines when a task should run.
type Schedule interface {
	// Next returns the next time the task should run after the given time.
	Next(after time.Time) time.Time
}

// IntervalSchedule runs a task at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an interval schedule.
func Every(d time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: d}
}

// Next returns the next run time.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.Interval)
}

// Task is a scheduled job. At most one run of a task is in flight at a
// time; a due run is skipped while the previous one is still going.
type Task struct {
	ID         string
	Name       string
	Schedule   Schedule
	Func       TaskFunc
	RunOnStart bool
	Timeout    time.Duration
}

// TaskStatus is the run history of a task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
	SkipCount    int64         `json:"skip_count"`
}

type taskEntry struct {
	task   *Task
	status TaskStatus
}

// Scheduler manages and runs scheduled tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*taskEntry
	logger  *logging.Logger
	clock   clock.Clock
	tick    time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the clock used to decide when tasks are due.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTick sets how often due tasks are checked. Defaults to one second.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New creates a new scheduler.
func New(logger *logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks: make(map[string]*taskEntry),
		tick:  time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(logger).WithComponent("scheduler")
	s.clock = clock.OrReal(s.clock)
	return s
}

// AddTask adds a task to the scheduler.
func (s *Scheduler) AddTask(task *Task) error {
	switch {
	case task.ID == "":
		return fmt.Errorf("task ID is required")
	case task.Schedule == nil:
		return fmt.Errorf("task %s: schedule is required", task.ID)
	case task.Func == nil:
		return fmt.Errorf("task %s: function is required", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	entry := &taskEntry{
		task:   task,
		status: TaskStatus{ID: task.ID, Name: task.Name},
	}
	entry.status.NextRun = task.Schedule.Next(s.clock.Now())
	s.tasks[task.ID] = entry

	s.logger.Info("task added", "id", task.ID, "name", task.Name)
	if s.running && task.RunOnStart {
		s.launch(entry)
	}
	return nil
}

// GetStatus returns the status of all tasks, sorted by name.
func (s *Scheduler) GetStatus() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		statuses = append(statuses, entry.status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.logger.Info("scheduler started")

	for _, entry := range s.tasks {
		if entry.task.RunOnStart {
			s.launch(entry)
		}
	}

	s.wg.Add(1)
	go s.run(s.ctx)
}

// Stop stops the scheduler and waits for running tasks to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue()
		}
	}
}

func (s *Scheduler) runDue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	now := s.clock.Now()
	for _, entry := range s.tasks {
		if now.Before(entry.status.NextRun) {
			continue
		}
		if entry.status.Running {
			entry.status.SkipCount++
			entry.status.NextRun = entry.task.Schedule.Next(now)
			s.logger.Warn("previous run still in progress, skipping", "id", entry.task.ID)
			continue
		}
		s.launch(entry)
	}
}

// launch starts one run of entry. s.mu must be held.
func (s *Scheduler) launch(entry *taskEntry) {
	entry.status.Running = true
	s.wg.Add(1)
	go s.execute(s.ctx, entry)
}

func (s *Scheduler) execute(parent context.Context, entry *taskEntry) {
	defer s.wg.Done()

	task := entry.task
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	s.logger.Debug("executing task", "id", task.ID)
	start := s.clock.Now()
	err := s.safeRun(ctx, task)
	duration := s.clock.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.status.Running = false
	entry.status.LastRun = start
	entry.status.LastDuration = duration
	entry.status.RunCount++
	entry.status.NextRun = task.Schedule.Next(s.clock.Now())
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", duration)
		return
	}
	entry.status.LastError = ""
	s.logger.Debug("task completed", "id", task.ID, "duration", duration)
}

func (s *Scheduler) safeRun(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Func(ctx)
}
