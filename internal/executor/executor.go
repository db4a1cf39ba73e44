package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/store"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// Generator produces content for a prompt. Implementations must mark
// transient failures with Retryable/RetryableAfter; anything else aborts the
// execution immediately.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Sink delivers results to a chat. Deliver sends destination-formatted text;
// a structural rejection is reported by wrapping ErrFormatRejected.
// DeliverPlain is the unformatted fallback.
type Sink interface {
	Deliver(ctx context.Context, chatID int64, html tgui.H) error
	DeliverPlain(ctx context.Context, chatID int64, text string) error
}

// TriggerCanceller deregisters an armed trigger by job id. Implemented by
// the scheduler service; bound after construction to break the wiring cycle.
type TriggerCanceller interface {
	Cancel(jobID string) bool
}

// Config controls the pipeline.
type Config struct {
	// ResponseMaxChars clamps generated content before delivery.
	ResponseMaxChars int
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryBase is the first backoff delay; it doubles up to RetryMaxDelay.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// HistorySize bounds the in-memory run history (default 100).
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.ResponseMaxChars <= 0 {
		c.ResponseMaxChars = 3500
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// RunRecord is one completed execution in the history ring.
type RunRecord struct {
	JobID    string
	ChatID   int64
	Manual   bool
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

// Pipeline executes a fired task: generate with retry, clamp, format,
// deliver with fallback, notify on failure, and consume one-time schedules.
type Pipeline struct {
	cfg   Config
	log   logx.Logger
	store *store.Store
	gen   Generator
	sink  Sink

	tmu      sync.Mutex
	triggers TriggerCanceller

	rmu       sync.Mutex
	retryMax  int
	retryBase time.Duration
	retryCap  time.Duration

	hmu     sync.Mutex
	history []RunRecord
}

func New(cfg Config, st *store.Store, gen Generator, sink Sink, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:       cfg,
		log:       log,
		store:     st,
		gen:       gen,
		sink:      sink,
		retryMax:  cfg.RetryMax,
		retryBase: cfg.RetryBase,
		retryCap:  cfg.RetryMaxDelay,
	}
}

// SetRetryPolicy replaces the retry budget and backoff at runtime, for config
// reloads. Non-positive durations keep their current values.
func (p *Pipeline) SetRetryPolicy(max int, base, maxDelay time.Duration) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	if max >= 0 {
		p.retryMax = max
	}
	if base > 0 {
		p.retryBase = base
	}
	if maxDelay > 0 {
		p.retryCap = maxDelay
	}
}

func (p *Pipeline) retryPolicy() (max int, base, maxDelay time.Duration) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	return p.retryMax, p.retryBase, p.retryCap
}

// BindTriggers wires the trigger canceller. Must be called before the first
// one-time task fires; the scheduler and pipeline reference each other, so
// this happens after both are constructed.
func (p *Pipeline) BindTriggers(tc TriggerCanceller) {
	p.tmu.Lock()
	p.triggers = tc
	p.tmu.Unlock()
}

// Execute runs one firing of the task. Errors never propagate to the caller:
// failures are logged, reported to the destination chat, and recorded in the
// run history. A panic-free return is part of the contract with the
// scheduler loop.
func (p *Pipeline) Execute(ctx context.Context, task model.Task, manual bool) {
	start := time.Now()

	if !manual {
		// Re-read the pause state so a pause that raced an already-armed
		// firing wins: no generation call, no delivery, no consumption.
		current, found, err := p.store.Get(ctx, task.ID, task.ChatID)
		if err != nil {
			p.log.Error("pre-run store read failed", logx.String("job", task.JobID()), logx.Err(err))
			p.record(task, manual, start, 0, err)
			return
		}
		if !found {
			p.log.Debug("task vanished before run", logx.String("job", task.JobID()))
			return
		}
		if current.Paused {
			p.log.Debug("run skipped, task paused", logx.String("job", task.JobID()))
			return
		}
		task = current
	}

	// One-time schedules are consumed exactly once per trigger-driven firing,
	// success or failure. Manual runs never consume.
	if task.Schedule.Kind == model.ScheduleOnce && !manual {
		defer p.consume(task)
	}

	content, attempts, err := p.generate(ctx, task.Prompt)
	if err != nil {
		p.log.Warn("generation failed",
			logx.String("job", task.JobID()),
			logx.Int("attempts", attempts),
			logx.Err(err))
		p.notifyFailure(ctx, task)
		p.record(task, manual, start, attempts, err)
		return
	}

	clamped := tgui.Clamp(content, p.cfg.ResponseMaxChars)
	formatted := tgui.H(tgui.Clamp(string(tgui.Esc(clamped)), p.cfg.ResponseMaxChars))

	if err := p.sink.Deliver(ctx, task.ChatID, formatted); err != nil {
		if errors.Is(err, ErrFormatRejected) {
			p.log.Warn("formatted delivery rejected, falling back to plain",
				logx.String("job", task.JobID()), logx.Err(err))
			err = p.sink.DeliverPlain(ctx, task.ChatID, clamped)
		}
		if err != nil {
			p.log.Error("delivery failed", logx.String("job", task.JobID()), logx.Err(err))
			p.record(task, manual, start, attempts, err)
			return
		}
	}

	p.log.Info("task executed",
		logx.String("job", task.JobID()),
		logx.Bool("manual", manual),
		logx.Int("attempts", attempts),
		logx.Duration("took", time.Since(start)))
	p.record(task, manual, start, attempts, nil)
}

// generate calls the generator, retrying transient failures with exponential
// backoff. It returns the last error once the attempt budget is exhausted.
func (p *Pipeline) generate(ctx context.Context, prompt string) (string, int, error) {
	retryMax, retryBase, retryCap := p.retryPolicy()
	maxAttempts := 1 + retryMax
	delay := retryBase

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := p.gen.Generate(ctx, prompt)
		if err == nil {
			return content, attempt, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxAttempts {
			return "", attempt, err
		}

		wait := delay
		if hint, ok := retryAfterHint(err); ok {
			wait = hint
		}
		if wait > retryCap {
			wait = retryCap
		}
		p.log.Debug("generation retry scheduled",
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", wait),
			logx.Err(err))

		tmr := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return "", attempt, ctx.Err()
		case <-tmr.C:
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
	return "", maxAttempts, lastErr
}

// notifyFailure tells the destination the run failed. The message is escaped
// for the channel and deliberately generic; internals stay in the logs.
func (p *Pipeline) notifyFailure(ctx context.Context, task model.Task) {
	msg := fmt.Sprintf("Could not generate a response for %s. It will be retried on the next firing.", task.DisplayName())
	if task.Schedule.Kind == model.ScheduleOnce {
		msg = fmt.Sprintf("Could not generate a response for %s.", task.DisplayName())
	}
	if err := p.sink.Deliver(ctx, task.ChatID, tgui.Esc(msg)); err != nil {
		p.log.Error("failure notification undeliverable",
			logx.String("job", task.JobID()), logx.Err(err))
	}
}

// consume deletes a fired one-time task from the store and deregisters its
// trigger. Both halves tolerate the other already being gone.
func (p *Pipeline) consume(task model.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.store.Delete(ctx, task.ID, task.ChatID); err != nil {
		p.log.Error("one-time cleanup failed", logx.String("job", task.JobID()), logx.Err(err))
	}
	p.tmu.Lock()
	tc := p.triggers
	p.tmu.Unlock()
	if tc != nil {
		tc.Cancel(task.JobID())
	}
	p.log.Debug("one-time task consumed", logx.String("job", task.JobID()))
}

func (p *Pipeline) record(task model.Task, manual bool, start time.Time, attempts int, err error) {
	rec := RunRecord{
		JobID:    task.JobID(),
		ChatID:   task.ChatID,
		Manual:   manual,
		Started:  start,
		Duration: time.Since(start),
		Attempts: attempts,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	p.hmu.Lock()
	p.history = append(p.history, rec)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
	p.hmu.Unlock()
}

// History returns a copy of the recent run records, oldest first.
func (p *Pipeline) History() []RunRecord {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	out := make([]RunRecord, len(p.history))
	copy(out, p.history)
	return out
}
