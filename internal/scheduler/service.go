package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/model"
	"schedbot/internal/store"
	"schedbot/pkg/logx"
)

func New(cfg Config, st *store.Store, exec Executor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		store: st,
		exec:  exec,
		jobs:  map[string]*jobEntry{},
	}
}

// Start loads every persisted task, arms its trigger and starts the cron
// loop. Paused tasks are armed but held inactive, so resuming needs no
// re-registration.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.loc = s.loadLocationLocked()
	s.runCtx = ctx
	// SecondOptional keeps the parser compatible with both 5- and 6-field specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))

	tasks, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.registerLocked(t); err != nil {
			s.log.Error("task restore failed", logx.Int64("id", t.ID), logx.Err(err))
		}
	}

	s.c.Start()
	s.started = true
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the cron loop and all one-time timers. In-flight executions run
// to completion; only future firings are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	for _, e := range s.jobs {
		if e.timer != nil {
			_ = e.timer.Stop()
			e.timer = nil
		}
	}
	s.jobs = map[string]*jobEntry{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("scheduler stopped")
}

// registerLocked arms a trigger for the task, replacing any armed trigger
// with the same job id. Call with s.mu held.
func (s *Service) registerLocked(t model.Task) error {
	jobID := t.JobID()
	if jobID == "" {
		return model.Validationf("task must be persisted before scheduling")
	}

	var prevVer uint64
	if old, ok := s.jobs[jobID]; ok {
		prevVer = old.ver
		s.cancelEntryLocked(jobID, old)
	}

	e := &jobEntry{task: t, paused: t.Paused, ver: prevVer + 1}
	loc := t.Location()

	switch t.Schedule.Kind {
	case model.ScheduleDaily:
		if s.c == nil {
			return nil // not started yet; Start() will re-register
		}
		eid, err := s.c.AddFunc(t.Schedule.CronSpec(loc), func() { s.fire(jobID) })
		if err != nil {
			return err
		}
		e.entryID = eid
	case model.ScheduleInterval:
		if s.c == nil {
			return nil
		}
		// First fire is one interval after registration, never immediate.
		e.entryID = s.c.Schedule(cron.Every(t.Schedule.Every), cron.FuncJob(func() { s.fire(jobID) }))
	case model.ScheduleOnce:
		// A run time already in the past still fires, at the next tick.
		delay := time.Until(t.Schedule.RunAt.In(loc))
		if delay < 0 {
			delay = 0
		}
		ver := e.ver
		e.timer = time.AfterFunc(delay, func() { s.fireOnce(jobID, ver) })
	default:
		return model.Validationf("unknown schedule kind %d", t.Schedule.Kind)
	}

	s.jobs[jobID] = e
	s.log.Debug("trigger armed",
		logx.String("job", jobID),
		logx.String("kind", t.Schedule.Kind.String()),
		logx.Bool("paused", e.paused),
		logx.Time("next", t.Schedule.NextFire(time.Now(), loc)))
	return nil
}

// cancelEntryLocked tears down the armed trigger of e without touching the
// jobs map. Call with s.mu held.
func (s *Service) cancelEntryLocked(jobID string, e *jobEntry) {
	if e.entryID != 0 && s.c != nil {
		s.c.Remove(e.entryID)
		e.entryID = 0
	}
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
}

// Cancel deregisters the trigger for jobID, leaving the store untouched.
// Cancelling an unknown job is tolerated so deletion stays idempotent under
// crash or retry.
func (s *Service) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		s.log.Debug("cancel for unknown job", logx.String("job", jobID))
		return false
	}
	s.cancelEntryLocked(jobID, e)
	delete(s.jobs, jobID)
	s.log.Debug("trigger cancelled", logx.String("job", jobID))
	return true
}

// fire handles a due cron/interval trigger. The pause check here suppresses
// trigger-driven firings only; manual runs bypass it.
func (s *Service) fire(jobID string) {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.paused {
		s.mu.Unlock()
		s.log.Debug("firing suppressed, job paused", logx.String("job", jobID))
		return
	}
	task := e.task
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	// Each firing runs on its own goroutine so a slow generation never delays
	// other jobs' trigger checks.
	go s.exec.Execute(ctx, task, false)
}

// fireOnce handles a due one-time timer. A stale callback from a replaced
// registration is detected by version and ignored.
func (s *Service) fireOnce(jobID string, ver uint64) {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	if !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	if e.paused {
		// The timer elapsed while the job was paused. Keep the entry; resume
		// re-arms it and the past run time fires as immediate catch-up.
		e.spent = true
		s.mu.Unlock()
		s.log.Debug("one-time firing suppressed, job paused", logx.String("job", jobID))
		return
	}
	task := e.task
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	go s.exec.Execute(ctx, task, false)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid default timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
