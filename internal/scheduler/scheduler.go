// Package scheduler starts configured tasks on a cron schedule. Starts go
// through the shared controller, so a schedule that fires while another task
// runs is rejected and skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/taskpipe/internal/config"
	"github.com/anstrom/taskpipe/internal/errors"
	"github.com/anstrom/taskpipe/internal/logging"
	"github.com/anstrom/taskpipe/internal/pipeline"
	"github.com/anstrom/taskpipe/internal/progress"
	"github.com/anstrom/taskpipe/internal/tasks"
	"github.com/anstrom/taskpipe/internal/tasks/batchdownload"
	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
)

// Starter starts a task. *pipeline.Controller implements it.
type Starter interface {
	Start(ctx context.Context, strategy tasks.Strategy, obs progress.Observer) (*pipeline.Task, error)
}

// StrategyFactory builds a fresh strategy for one run of a schedule. The
// returned cleanup, if any, runs after the task finishes.
type StrategyFactory func(sc config.ScheduleConfig) (tasks.Strategy, func() error, error)

// Strategies returns the factory for the built-in task kinds.
func Strategies(nmapCfg nmapscan.Config, downloadCfg batchdownload.Config) StrategyFactory {
	return func(sc config.ScheduleConfig) (tasks.Strategy, func() error, error) {
		switch sc.Kind {
		case tasks.KindScan:
			s, err := nmapscan.New(sc.Target, nmapCfg)
			return s, nil, err
		case tasks.KindDownload:
			s, err := batchdownload.New(sc.URLs, downloadCfg)
			if err != nil {
				return nil, nil, err
			}
			return s, s.Cleanup, nil
		default:
			return nil, nil, errors.ErrConfigInvalid("kind", sc.Kind)
		}
	}
}

// Scheduler manages cron-triggered task starts.
type Scheduler struct {
	cron     *cron.Cron
	starter  Starter
	build    StrategyFactory
	observer progress.Observer
	logger   *logging.Logger

	mu      sync.RWMutex
	jobs    map[string]*ScheduledJob
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob is the state of one schedule.
type ScheduledJob struct {
	Config     config.ScheduleConfig
	CronID     cron.EntryID
	LastRun    time.Time
	NextRun    time.Time
	LastTaskID string
	Runs       int
	Rejected   int
}

// New creates a stopped scheduler. obs receives the progress of every
// scheduled task.
func New(starter Starter, build StrategyFactory, obs progress.Observer, logger *logging.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		starter:  starter,
		build:    build,
		observer: obs,
		logger:   logger.WithComponent("scheduler"),
		jobs:     make(map[string]*ScheduledJob),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddJob registers a schedule.
func (s *Scheduler) AddJob(sc config.ScheduleConfig) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("schedule %q: %w", sc.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[sc.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeValidation, "schedule already exists", "name", sc.Name)
	}

	name := sc.Name
	id, err := s.cron.AddFunc(sc.Cron, func() { s.execute(name) })
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "failed to add schedule", err)
	}
	s.jobs[name] = &ScheduledJob{Config: sc, CronID: id}
	s.logger.Info("Schedule added", "name", name, "cron", sc.Cron, "kind", sc.Kind)
	return nil
}

// RemoveJob unregisters a schedule.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[name]
	if !exists {
		return errors.NewTaskError(errors.CodeInvalidState, "Schedule not found").WithContext("name", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)
	return nil
}

// Jobs returns a snapshot of all schedules sorted by name.
func (s *Scheduler) Jobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		if entry := s.cron.Entry(job.CronID); entry.Valid() {
			snapshot.NextRun = entry.Next
		}
		jobs = append(jobs, snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Config.Name < jobs[j].Config.Name })
	return jobs
}

// Start begins firing schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops firing schedules and cancels tasks it started. It waits for
// in-progress start calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// RunNow fires a schedule immediately.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NewTaskError(errors.CodeInvalidState, "Schedule not found").WithContext("name", name)
	}
	return s.execute(name)
}

func (s *Scheduler) execute(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return nil
	}
	sc := job.Config
	job.LastRun = time.Now()
	s.mu.Unlock()

	log := s.logger.WithFields("schedule", name, "kind", sc.Kind)

	strategy, cleanup, err := s.build(sc)
	if err != nil {
		log.Error("Failed to build scheduled task", "error", err)
		return err
	}

	task, err := s.starter.Start(s.ctx, strategy, s.observer)
	if err != nil {
		if cleanup != nil {
			if cerr := cleanup(); cerr != nil {
				log.Warn("Task cleanup failed", "error", cerr)
			}
		}
		s.mu.Lock()
		if errors.IsCode(err, errors.CodeTaskRunning) {
			job.Rejected++
		}
		s.mu.Unlock()
		if errors.IsCode(err, errors.CodeTaskRunning) {
			log.Warn("Scheduled start skipped, a task is already running")
		} else {
			log.Error("Scheduled start failed", "error", err)
		}
		return err
	}

	s.mu.Lock()
	job.Runs++
	job.LastTaskID = task.ID
	s.mu.Unlock()
	log.Info("Scheduled task started", "task_id", task.ID)

	if cleanup != nil {
		go func() {
			<-task.Done()
			if err := cleanup(); err != nil {
				log.Warn("Task cleanup failed", "task_id", task.ID, "error", err)
			}
		}()
	}
	return nil
}
