package scheduler

import (
	"context"
	"time"

	"schedbot/internal/model"
	"schedbot/pkg/logx"
)

// AddDaily creates and arms a daily (or weekday-restricted) task.
// days may be nil for every day.
func (s *Service) AddDaily(ctx context.Context, chatID int64, hour, minute int, tz string, days []string, prompt, name string) (model.Task, error) {
	t := model.Task{
		ChatID:   chatID,
		Prompt:   prompt,
		Name:     name,
		Timezone: s.effectiveTZ(tz),
		Schedule: model.Schedule{Kind: model.ScheduleDaily, Hour: hour, Minute: minute, Days: days},
	}
	return s.add(ctx, t)
}

// AddInterval creates and arms a fixed-interval task. The first fire is one
// interval after creation.
func (s *Service) AddInterval(ctx context.Context, chatID int64, every time.Duration, prompt string) (model.Task, error) {
	t := model.Task{
		ChatID:   chatID,
		Prompt:   prompt,
		Timezone: s.effectiveTZ(""),
		Schedule: model.Schedule{Kind: model.ScheduleInterval, Every: every},
	}
	return s.add(ctx, t)
}

// AddOnce creates and arms a one-time task. A run time already in the past
// fires at the next tick rather than being dropped.
func (s *Service) AddOnce(ctx context.Context, chatID int64, runAt time.Time, tz, prompt string) (model.Task, error) {
	t := model.Task{
		ChatID:   chatID,
		Prompt:   prompt,
		Timezone: s.effectiveTZ(tz),
		Schedule: model.Schedule{Kind: model.ScheduleOnce, RunAt: runAt},
	}
	return s.add(ctx, t)
}

// add validates, persists, then arms. Persist-before-arm keeps the trigger
// table consistent with the store: a store failure leaves nothing armed.
func (s *Service) add(ctx context.Context, t model.Task) (model.Task, error) {
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	saved, err := s.store.Add(ctx, t)
	if err != nil {
		return model.Task{}, err
	}

	s.mu.Lock()
	regErr := s.registerLocked(saved)
	s.mu.Unlock()
	if regErr != nil {
		s.log.Error("trigger registration failed", logx.Int64("id", saved.ID), logx.Err(regErr))
		return model.Task{}, regErr
	}
	s.log.Info("task added",
		logx.Int64("id", saved.ID),
		logx.Int64("chat", saved.ChatID),
		logx.String("kind", saved.Schedule.Kind.String()))
	return saved, nil
}

// List returns the chat's tasks with their computed next fire times.
func (s *Service) List(ctx context.Context, chatID int64) ([]TaskInfo, error) {
	tasks, err := s.store.List(ctx, chatID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskInfo{Task: t, Next: t.Schedule.NextFire(now, t.Location())})
	}
	return out, nil
}

// Pause suppresses future trigger-driven firings without deregistering the
// trigger. Pausing an already-paused task is a no-op success.
func (s *Service) Pause(ctx context.Context, id, chatID int64) error {
	return s.setPaused(ctx, id, chatID, true)
}

// Resume reactivates a paused trigger.
func (s *Service) Resume(ctx context.Context, id, chatID int64) error {
	return s.setPaused(ctx, id, chatID, false)
}

func (s *Service) setPaused(ctx context.Context, id, chatID int64, paused bool) error {
	found, err := s.store.SetPaused(ctx, id, chatID, paused)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jobID := model.Task{ID: id}.JobID()
	e, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	e.paused = paused
	e.task.Paused = paused
	if !paused && e.spent {
		// One-time trigger elapsed during the pause; re-arm so it catches up.
		e.spent = false
		if err := s.registerLocked(e.task); err != nil {
			s.log.Error("one-time re-arm failed", logx.String("job", jobID), logx.Err(err))
		}
	}
	s.log.Debug("trigger pause state changed", logx.String("job", jobID), logx.Bool("paused", paused))
	return nil
}

// Delete removes the task from the store and deregisters its trigger.
func (s *Service) Delete(ctx context.Context, id, chatID int64) error {
	found, err := s.store.Delete(ctx, id, chatID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	s.Cancel(model.Task{ID: id}.JobID())
	s.log.Info("task deleted", logx.Int64("id", id), logx.Int64("chat", chatID))
	return nil
}

// EditPrompt replaces the task's prompt. The armed trigger is untouched; the
// pipeline re-reads the store before each run, so the next firing uses the
// new prompt.
func (s *Service) EditPrompt(ctx context.Context, id, chatID int64, prompt string) error {
	found, err := s.store.UpdatePrompt(ctx, id, chatID, prompt)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	s.mu.Lock()
	if e, ok := s.jobs[model.Task{ID: id}.JobID()]; ok {
		e.task.Prompt = prompt
	}
	s.mu.Unlock()
	return nil
}

// RunNow executes the task out of band. The trigger is bypassed, the pause
// check does not apply, and a one-time schedule is not consumed.
func (s *Service) RunNow(ctx context.Context, id, chatID int64) error {
	t, found, err := s.store.Get(ctx, id, chatID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	go s.exec.Execute(runCtx, t, true)
	return nil
}

// Status reports a snapshot of the trigger table.
func (s *Service) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Running: s.started, Jobs: len(s.jobs)}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	} else {
		snap.Timezone = s.cfg.Timezone
	}
	for _, e := range s.jobs {
		if e.paused {
			snap.Paused++
		} else {
			snap.Active++
		}
	}
	return snap
}

func (s *Service) effectiveTZ(tz string) string {
	if tz != "" {
		return tz
	}
	if s.cfg.Timezone != "" {
		return s.cfg.Timezone
	}
	return "UTC"
}
