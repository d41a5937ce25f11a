package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/runner"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler runs periodic and one-off jobs. Each run goes through a
// runner.Handler, so retries, timeouts and run limits from the job's
// HandlerConfig apply.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	parser       Parser
	logger       biocore.Logger
	logLevel     LogLevel
	errorHandler func(error)
	baseCtx      context.Context

	nextID int64
	jobs   map[int64]*job
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		logger:   biocore.NewFmtLogger(nil),
		baseCtx:  context.Background(),
		jobs:     make(map[int64]*job),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled job failed: %s", biocore.ErrorMessage(err))
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// Register adds a recurring job. It matches biocore.CronRegisterFunc so the
// scheduler can back a command Registry.
func (s *Scheduler) Register(opts biocore.HandlerConfig, handler func() error) error {
	_, err := s.ScheduleCron(opts, handler)
	return err
}

// ScheduleCron schedules handler by cron expression. handler is one of
// func(), func() error or func(context.Context) error.
func (s *Scheduler) ScheduleCron(opts biocore.HandlerConfig, handler any) (Handle, error) {
	if opts.Expression == "" {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, "cron expression cannot be empty", nil, nil)
	}
	run, err := s.runnable(opts, handler)
	if err != nil {
		return nil, err
	}

	j := s.newJob()
	entryID, err := s.cron.AddJob(opts.Expression, rcron.FuncJob(func() {
		if j.Status().terminal() {
			return
		}
		j.setStatus(StatusRunning, nil)
		if err := run(s.runContext()); err != nil {
			j.setStatus(StatusFailed, err)
			s.errorHandler(err)
			return
		}
		if !j.Status().terminal() {
			j.setStatus(StatusIdle, nil)
		}
	}))
	if err != nil {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, fmt.Sprintf("invalid cron expression %q", opts.Expression), err, nil)
	}
	j.entryID = entryID
	s.store(j)
	return j, nil
}

// ScheduleAfter runs handler once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, opts biocore.HandlerConfig, handler any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), opts, handler)
}

// ScheduleAt runs handler once at the given time.
func (s *Scheduler) ScheduleAt(at time.Time, opts biocore.HandlerConfig, handler any) (Handle, error) {
	run, err := s.runnable(opts, handler)
	if err != nil {
		return nil, err
	}

	j := s.newJob()
	s.store(j)

	go func() {
		timer := time.NewTimer(max(time.Until(at), 0))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-j.Done():
			return
		}
		if j.Status().terminal() {
			return
		}
		j.setStatus(StatusRunning, nil)
		err := run(s.runContext())
		s.forget(j.id)
		if err != nil {
			j.finish(StatusFailed, err)
			s.errorHandler(err)
			return
		}
		j.finish(StatusCompleted, nil)
	}()

	return j, nil
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start begins executing cron jobs. Runs use ctx as their parent context.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx != nil {
		s.mu.Lock()
		s.baseCtx = ctx
		s.mu.Unlock()
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waits for running jobs up to ctx, and marks
// every pending job stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	if ctx != nil {
		select {
		case <-done.Done():
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	pending := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		pending = append(pending, j)
	}
	s.jobs = make(map[int64]*job)
	s.mu.Unlock()

	for _, j := range pending {
		if j.entryID > 0 {
			s.cron.Remove(j.entryID)
		}
		if !j.Status().terminal() {
			j.finish(StatusStopped, nil)
		}
	}
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) runnable(opts biocore.HandlerConfig, handler any) (func(context.Context) error, error) {
	var fn func(context.Context) error
	switch h := handler.(type) {
	case func():
		fn = func(context.Context) error { h(); return nil }
	case func() error:
		fn = func(context.Context) error { return h() }
	case func(context.Context) error:
		fn = h
	default:
		return nil, biocore.NewError(biocore.ErrInvalidConfig, fmt.Sprintf("unsupported handler type %T", handler), nil, nil)
	}

	runnerOpts := append(runner.FromConfig(opts),
		runner.WithName("cron"),
		runner.WithLogger(s.logger),
		runner.WithErrorHandler(nil),
	)
	exec := runner.NewHandler(runnerOpts...)
	return func(ctx context.Context) error {
		return exec.Run(ctx, fn)
	}, nil
}

func (s *Scheduler) cancel(id int64) {
	if j := s.forget(id); j != nil && j.entryID > 0 {
		s.cron.Remove(j.entryID)
	}
}

func (s *Scheduler) forget(id int64) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	delete(s.jobs, id)
	return j
}

func (s *Scheduler) store(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.id] = j
}

func (s *Scheduler) newJob() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return &job{
		scheduler: s,
		id:        s.nextID,
		status:    StatusScheduled,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) build() []rcron.Option {
	opts := []rcron.Option{
		rcron.WithChain(rcron.Recover(cronLogger{logger: s.logger, level: LogLevelError})),
		rcron.WithLogger(cronLogger{logger: s.logger, level: s.logLevel}),
	}
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}
	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}
	return opts
}
