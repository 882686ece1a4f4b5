// Package jobs runs the engine's periodic maintenance work on cron
// schedules: the escalation recovery sweep and retention.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StopTimeout bounds how long Stop waits for running jobs.
const StopTimeout = 30 * time.Second

// Job describes a registered job.
type Job struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  time.Time  `json:"next_run"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	RunCount int64      `json:"run_count"`

	entryID cron.EntryID
}

// Runner owns a cron instance. A job that is still running when its next
// activation comes is skipped, and a panicking job is recovered.
type Runner struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	logger  *logrus.Logger
	mu      sync.RWMutex
	running bool
}

func NewRunner(log *logrus.Logger) *Runner {
	cronLogger := logger.NewCronLogger(log)
	return &Runner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.Recover(cronLogger),
				cron.SkipIfStillRunning(cronLogger),
			),
		),
		jobs:   make(map[string]*Job),
		logger: log,
	}
}

// Add registers fn under name. Names are unique.
func (r *Runner) Add(name, schedule string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s is already registered", name)
	}

	job := &Job{Name: name, Schedule: schedule}
	entryID, err := r.cron.AddFunc(schedule, func() {
		r.execute(job, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	job.entryID = entryID
	r.jobs[name] = job

	r.logger.WithFields(logrus.Fields{
		"job":      name,
		"schedule": schedule,
	}).Info("Job scheduled")
	return nil
}

// Remove unregisters a job.
func (r *Runner) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	r.cron.Remove(job.entryID)
	delete(r.jobs, name)
	return nil
}

func (r *Runner) execute(job *Job, fn func()) {
	start := time.Now()
	fn()

	r.mu.Lock()
	job.LastRun = &start
	job.RunCount++
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"job":      job.Name,
		"duration": time.Since(start),
	}).Debug("Job finished")
}

func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("job runner is already running")
	}
	r.cron.Start()
	r.running = true
	r.logger.Info("Job runner started")
	return nil
}

// Stop stops scheduling and waits up to StopTimeout for running jobs.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("job runner is not running")
	}
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
		r.logger.Info("All jobs completed")
	case <-time.After(StopTimeout):
		r.logger.Warn("Timeout waiting for jobs to complete")
	}
	return nil
}

func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Jobs lists the registered jobs by name.
func (r *Runner) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		copied := *job
		copied.NextRun = r.cron.Entry(job.entryID).Next
		jobs = append(jobs, copied)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}
