// Package cron runs named background jobs, such as the Parquet refresh of
// the tool host, on cron schedules.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	rcron "github.com/robfig/cron/v3"
)

const stopTimeout = 5 * time.Second

// Job is a named task. Schedule is a five-field cron expression or a
// descriptor such as "@hourly" or "@every 10m".
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// State records the outcome of a job's runs.
type State struct {
	Runs       int
	LastRunAt  time.Time
	LastStatus string // "ok" or "error"
	LastError  string
}

type Service struct {
	logger *slog.Logger
	cron   *rcron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	state   map[string]State
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	started bool
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	adapter := slogAdapter{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger: logger,
		cron: rcron.New(
			rcron.WithLogger(adapter),
			rcron.WithChain(rcron.Recover(adapter), rcron.SkipIfStillRunning(adapter)),
		),
		jobs:   make(map[string]Job),
		state:  make(map[string]State),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers job. Names are unique and the schedule must parse.
func (s *Service) AddJob(job Job) error {
	if job.Name == "" {
		return errors.New("job name is empty")
	}
	if job.Run == nil {
		return errors.Newf("job %s has no run func", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return errors.Newf("job %s already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) }); err != nil {
		return errors.Wrapf(err, "schedule %q of job %s", job.Schedule, job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start runs the scheduler until Stop is called or ctx is done.
func (s *Service) Start(ctx context.Context) {
	stopCh := make(chan struct{})
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
}

// Stop cancels running jobs and waits briefly for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	s.cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	s.logger.Info("scheduler stopped")
}

// RunNow runs the named job immediately on the caller's goroutine.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return errors.Newf("job %s not found", name)
	}
	return s.execute(job)
}

// State returns the recorded state of the named job.
func (s *Service) State(name string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[name]
	return st, ok
}

func (s *Service) execute(job Job) error {
	start := time.Now()
	err := job.Run(s.ctx)

	s.mu.Lock()
	st := s.state[job.Name]
	st.Runs++
	st.LastRunAt = start
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
	}
	s.state[job.Name] = st
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "err", err)
	} else {
		s.logger.Info("job finished", "job", job.Name, "duration", time.Since(start))
	}
	return err
}

// slogAdapter lets the scheduler log through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
