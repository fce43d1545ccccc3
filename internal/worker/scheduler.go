package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martinsuchenak/beacond/internal/log"
)

const (
	TaskPruneLocations = "prune-locations"
	TaskRefreshStale   = "refresh-stale"

	// DefaultRefreshBatch is how many stale records one refresh run handles
	DefaultRefreshBatch = 100
)

// LocationPruner deletes location samples recorded before a cutoff
type LocationPruner interface {
	PruneLocationSamples(before time.Time) (int64, error)
}

// StaleRefresher refetches stale cached metadata
type StaleRefresher interface {
	RefreshStale(ctx context.Context, limit int) (int, error)
}

// TaskHandler is the function executed by a task
type TaskHandler func(ctx context.Context) error

// Task is a registered recurring task
type Task struct {
	Name     string
	Schedule string
	LastRun  *time.Time
	LastErr  error
	Handler  TaskHandler

	entryID cron.EntryID
	running bool
}

// Scheduler runs maintenance tasks on cron schedules
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*Task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewScheduler creates a new scheduler. Schedules accept the standard five
// field format and descriptors such as @hourly or @every 10m.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// RegisterTask adds a task under name. An empty schedule disables the task.
func (s *Scheduler) RegisterTask(name, schedule string, handler TaskHandler) error {
	if schedule == "" {
		log.Debug("Task disabled", "task", name)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	task := &Task{Name: name, Schedule: schedule, Handler: handler}
	id, err := s.cron.AddFunc(schedule, func() { s.RunTask(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", schedule, name, err)
	}
	task.entryID = id
	s.tasks[name] = task

	log.Info("Task registered", "task", name, "schedule", schedule)
	return nil
}

// RegisterPrune registers the location retention task
func (s *Scheduler) RegisterPrune(schedule string, store LocationPruner, retention time.Duration) error {
	if retention <= 0 {
		log.Debug("Location retention disabled")
		return nil
	}
	return s.RegisterTask(TaskPruneLocations, schedule, func(ctx context.Context) error {
		cutoff := s.now().Add(-retention).UTC()
		removed, err := store.PruneLocationSamples(cutoff)
		if err != nil {
			return fmt.Errorf("pruning location samples: %w", err)
		}
		log.Info("Location samples pruned", "removed", removed, "before", cutoff)
		return nil
	})
}

// RegisterRefresh registers the stale metadata refresh task
func (s *Scheduler) RegisterRefresh(schedule string, refresher StaleRefresher, batch int) error {
	if batch <= 0 {
		batch = DefaultRefreshBatch
	}
	return s.RegisterTask(TaskRefreshStale, schedule, func(ctx context.Context) error {
		_, err := refresher.RefreshStale(ctx, batch)
		return err
	})
}

// Tasks returns a snapshot of the registered tasks
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	return tasks
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.cron.Start()
	log.Info("Starting background scheduler", "tasks", len(s.tasks))
}

// Stop gracefully stops the scheduler and waits for running tasks
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Info("Stopping background scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// RunTask runs the named task now unless it is already running. It returns
// false when the task is unknown or busy.
func (s *Scheduler) RunTask(name string) bool {
	s.mu.Lock()
	task, ok := s.tasks[name]
	if !ok || task.running || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	task.running = true
	now := s.now()
	task.LastRun = &now
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	log.Debug("Running task", "task", name)
	err := task.Handler(s.ctx)

	s.mu.Lock()
	task.running = false
	task.LastErr = err
	s.mu.Unlock()

	if err != nil {
		log.Error("Task failed", "task", name, "error", err)
	} else {
		log.Debug("Task completed", "task", name)
	}
	return true
}
