package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Service owns the scheduled jobs. One loop goroutine keeps a single timer
// armed for the earliest due job; every mutation wakes it to re-arm.
type Service struct {
	opts  ServiceOptions
	store Store
	now   func() time.Time

	mu      sync.Mutex
	jobs    map[string]*Job
	started bool
	stopped bool

	wake       chan struct{}
	stopCh     chan struct{}
	loopDone   chan struct{}
	runs       sync.WaitGroup
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// NewService creates a new cron service
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if opts.RunTurn == nil {
		return nil, fmt.Errorf("run turn callback is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.FailurePhrases == nil {
		opts.FailurePhrases = DefaultFailurePhrases
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:       opts,
		store:      opts.Store,
		now:        now,
		jobs:       make(map[string]*Job),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}, nil
}

// Start replays persisted jobs and starts the scheduler loop. Jobs added
// before Start keep their names; a persisted job with the same name is
// ignored.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.started = true
	s.mu.Unlock()

	loaded, err := s.store.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	s.mu.Lock()
	now := s.now()
	for _, job := range loaded {
		if _, exists := s.jobs[job.Name]; exists {
			log.Warn().Str("job", job.Name).Msg("Persisted job shadowed by configured job")
			continue
		}
		if err := job.Trigger.Validate(); err != nil {
			log.Warn().Err(err).Str("job", job.Name).Msg("Dropping persisted job with invalid trigger")
			continue
		}
		job.Persisted = true
		// A job that was running when the process died fires again.
		job.State.RunningAt = nil
		if job.NextRunAt.IsZero() {
			if next, err := job.Trigger.Next(now); err == nil {
				job.NextRunAt = next
			}
		}
		s.jobs[job.Name] = job
	}
	count := len(s.jobs)
	s.mu.Unlock()

	observability.SetJobsScheduled(count)
	log.Info().Int("jobCount", count).Int("loaded", len(loaded)).Msg("Cron service started")

	go s.loop()
	return nil
}

// Stop halts the loop, cancels running firings and waits for them.
// Interrupted firings are not counted as attempts.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.stopCh)
		<-s.loopDone
	}
	s.cancelRuns()
	s.runs.Wait()

	log.Info().Msg("Cron service stopped")
	return nil
}

// AddJob creates a new cron job
func (s *Service) AddJob(ctx context.Context, params AddParams) (*Job, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	now := s.now()
	if params.ExpiresAt != nil && !now.Before(*params.ExpiresAt) {
		return nil, fmt.Errorf("invalid job: expiry is in the past")
	}
	next, err := params.Trigger.Next(now)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	job := &Job{
		Name:      strings.TrimSpace(params.Name),
		Trigger:   params.Trigger,
		Payload:   params.Payload,
		Persisted: params.Persisted,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: now,
		NextRunAt: next,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if _, exists := s.jobs[job.Name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	if job.Persisted {
		if err := s.store.Save(ctx, job); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to persist job: %w", err)
		}
	}
	s.jobs[job.Name] = job
	count := len(s.jobs)
	out := job.clone()
	s.mu.Unlock()

	log.Info().
		Str("job", job.Name).
		Str("trigger", string(job.Trigger.Kind)).
		Time("nextRun", job.NextRunAt).
		Bool("persisted", job.Persisted).
		Msg("Job created")

	observability.SetJobsScheduled(count)
	observability.RecordJobAudit(ctx, job.Name, "add", job.Payload.ChatID, map[string]interface{}{"trigger": job.Trigger.Kind})
	s.emit(Event{Action: EventAdded, Job: job.Name, NextRunAt: &out.NextRunAt})
	s.signal()
	return out, nil
}

// CancelJob deletes a job. A firing already in progress completes but its
// outcome is discarded.
func (s *Service) CancelJob(ctx context.Context, name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if job.Persisted {
		if err := s.store.Delete(ctx, name); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to delete job: %w", err)
		}
	}
	delete(s.jobs, name)
	count := len(s.jobs)
	s.mu.Unlock()

	log.Info().Str("job", name).Msg("Job cancelled")

	observability.SetJobsScheduled(count)
	observability.RecordJobAudit(ctx, name, "cancel", job.Payload.ChatID, nil)
	s.emit(Event{Action: EventCancelled, Job: name, RetryCount: job.RetryCount})
	s.signal()
	return nil
}

// GetJob returns a copy of the named job.
func (s *Service) GetJob(name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return job.clone(), nil
}

// ListJobs returns copies of all jobs ordered by next run.
func (s *Service) ListJobs() []*Job {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.clone())
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].NextRunAt.Equal(jobs[j].NextRunAt) {
			return jobs[i].NextRunAt.Before(jobs[j].NextRunAt)
		}
		return jobs[i].Name < jobs[j].Name
	})
	return jobs
}

// RunNow makes the named job due immediately.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if job.State.RunningAt != nil {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already running", name)
	}
	job.NextRunAt = s.now()
	s.persistLocked(ctx, job)
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop() {
	defer close(s.loopDone)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		s.fireDue()

		var timerC <-chan time.Time
		if delay, ok := s.nextDelay(); ok {
			timer.Reset(delay)
			timerC = timer.C
		}

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timerC:
		}
	}
}

// nextDelay returns the time until the earliest idle job is due.
func (s *Service) nextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, job := range s.jobs {
		if job.State.RunningAt != nil {
			continue
		}
		if earliest.IsZero() || job.NextRunAt.Before(earliest) {
			earliest = job.NextRunAt
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	delay := earliest.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

// fireDue deletes expired due jobs and starts a firing for the rest.
func (s *Service) fireDue() {
	now := s.now()

	var events []Event
	var due []*Job

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	for name, job := range s.jobs {
		if job.State.RunningAt != nil || job.NextRunAt.After(now) {
			continue
		}
		if job.Expired(now) {
			delete(s.jobs, name)
			s.deleteLocked(context.Background(), job)
			events = append(events, Event{Action: EventExpired, Job: name, RetryCount: job.RetryCount})
			log.Info().Str("job", name).Msg("Job expired before firing")
			continue
		}
		started := now
		job.State.RunningAt = &started
		s.persistLocked(context.Background(), job)
		due = append(due, job.clone())
	}
	count := len(s.jobs)
	for range due {
		s.runs.Add(1)
	}
	s.mu.Unlock()

	if len(events) > 0 {
		observability.SetJobsScheduled(count)
	}
	s.emit(events...)
	for _, job := range due {
		go s.run(job)
	}
}

func (s *Service) run(job *Job) {
	defer s.runs.Done()

	ctx := tracing.PropagateToJob(s.runCtx, job.Name)
	ctx = tracing.WithChatID(ctx, job.Payload.ChatID)
	ctx, span := tracing.StartSpan(ctx, "deedee.cron", "cron.fire",
		attribute.String("job", job.Name),
		attribute.Int("retry_count", job.RetryCount),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	logger.Info().Int("retryCount", job.RetryCount).Msg("Firing job")
	s.emit(Event{Action: EventFired, Job: job.Name, RetryCount: job.RetryCount})

	runCtx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	reply, err := s.invoke(runCtx, job)
	cancel()

	if err == nil {
		if phrase := s.failurePhrase(reply); phrase != "" {
			err = fmt.Errorf("reply contains failure phrase %q", phrase)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Msg("Job firing failed")
	}

	s.complete(ctx, job.Name, err)
}

func (s *Service) invoke(ctx context.Context, job *Job) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job run panicked: %v", r)
		}
	}()
	return s.opts.RunTurn(ctx, job)
}

func (s *Service) failurePhrase(reply string) string {
	folded := strings.ToLower(reply)
	for _, phrase := range s.opts.FailurePhrases {
		if phrase != "" && strings.Contains(folded, strings.ToLower(phrase)) {
			return phrase
		}
	}
	return ""
}

// complete applies a firing's outcome to the job's persisted state.
func (s *Service) complete(ctx context.Context, name string, runErr error) {
	now := s.now()

	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok || job.State.RunningAt == nil {
		s.mu.Unlock()
		log.Debug().Str("job", name).Msg("Job removed while running, discarding outcome")
		return
	}
	job.State.RunningAt = nil

	if s.runCtx.Err() != nil {
		// Shutting down: the attempt is not counted and replays on restart.
		s.mu.Unlock()
		return
	}

	job.State.LastRunAt = &now
	var events []Event
	var escalated *Job

	if runErr == nil {
		job.State.LastStatus = StatusOK
		job.State.LastError = ""
		events = append(events, Event{Action: EventSucceeded, Job: name, RetryCount: job.RetryCount})

		if job.Trigger.Recurring() {
			s.advanceLocked(ctx, job, now)
		} else {
			delete(s.jobs, name)
			s.deleteLocked(ctx, job)
		}
	} else {
		job.State.LastStatus = StatusError
		job.State.LastError = runErr.Error()
		events = append(events, Event{Action: EventFailed, Job: name, RetryCount: job.RetryCount, Error: runErr.Error()})

		switch {
		case job.Trigger.Recurring():
			// The next natural firing is the retry.
			s.advanceLocked(ctx, job, now)
		case job.RetryCount+1 < s.opts.MaxRetries:
			job.RetryCount++
			job.NextRunAt = now.Add(s.opts.Backoff)
			s.persistLocked(ctx, job)
			next := job.NextRunAt
			events = append(events, Event{Action: EventRescheduled, Job: name, RetryCount: job.RetryCount, NextRunAt: &next})
		default:
			delete(s.jobs, name)
			s.deleteLocked(ctx, job)
			escalated = job.clone()
			events = append(events, Event{Action: EventEscalated, Job: name, RetryCount: job.RetryCount, Error: runErr.Error()})
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	observability.SetJobsScheduled(count)
	s.emit(events...)

	if escalated != nil {
		log.Error().Str("job", name).Int("retryCount", escalated.RetryCount).Err(runErr).Msg("Job retries exhausted, escalating")
		observability.RecordJobAudit(ctx, name, "escalate", escalated.Payload.ChatID, map[string]interface{}{"error": runErr.Error()})
		s.escalate(ctx, escalated, runErr)
	}
	s.signal()
}

// advanceLocked moves a recurring job to its next natural firing.
func (s *Service) advanceLocked(ctx context.Context, job *Job, now time.Time) {
	job.RetryCount = 0
	next, err := job.Trigger.Next(now)
	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("Failed to calculate next run, removing job")
		delete(s.jobs, job.Name)
		s.deleteLocked(ctx, job)
		return
	}
	job.NextRunAt = next
	s.persistLocked(ctx, job)
}

func (s *Service) escalate(ctx context.Context, job *Job, cause error) {
	if s.opts.Escalate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job", job.Name).Msg("Escalation panicked")
		}
	}()
	s.opts.Escalate(ctx, job, cause)
}

func (s *Service) persistLocked(ctx context.Context, job *Job) {
	if !job.Persisted {
		return
	}
	if err := s.store.Save(ctx, job); err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("Failed to persist job state")
	}
}

func (s *Service) deleteLocked(ctx context.Context, job *Job) {
	if !job.Persisted {
		return
	}
	if err := s.store.Delete(ctx, job.Name); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("job", job.Name).Msg("Failed to delete persisted job")
	}
}

func (s *Service) emit(events ...Event) {
	for _, evt := range events {
		observability.RecordJobEvent(string(evt.Action))
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(evt)
		}
	}
}
