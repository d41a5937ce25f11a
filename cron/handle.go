package cron

import (
	"sync"

	rcron "github.com/robfig/cron/v3"
)

// Status of a scheduled job.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusStopped:
		return true
	}
	return false
}

// Handle controls a scheduled job. A recurring job that fails reports
// StatusFailed and keeps its schedule; a one-off job that fails is done.
type Handle interface {
	ID() int64
	Cancel()
	Status() Status
	Err() error
	Done() <-chan struct{}
}

type job struct {
	scheduler *Scheduler
	id        int64
	entryID   rcron.EntryID
	done      chan struct{}

	mu     sync.RWMutex
	status Status
	err    error
	once   sync.Once
}

func (j *job) ID() int64 { return j.id }

func (j *job) Cancel() {
	j.scheduler.cancel(j.id)
	j.finish(StatusCanceled, nil)
}

func (j *job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *job) Done() <-chan struct{} { return j.done }

func (j *job) setStatus(status Status, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.terminal() {
		return
	}
	j.status = status
	j.err = err
}

// finish moves the job to a final status once.
func (j *job) finish(status Status, err error) {
	j.once.Do(func() {
		j.mu.Lock()
		j.status = status
		j.err = err
		j.mu.Unlock()
		close(j.done)
	})
}
