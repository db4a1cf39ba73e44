package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/store"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

type fakeGen struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (g *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	return g.fn(n)
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSink struct {
	mu        sync.Mutex
	html      []string
	plain     []string
	rejectAll bool
}

func (s *fakeSink) Deliver(ctx context.Context, chatID int64, html tgui.H) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectAll {
		return fmt.Errorf("%w: bad entity", ErrFormatRejected)
	}
	s.html = append(s.html, string(html))
	return nil
}

func (s *fakeSink) DeliverPlain(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plain = append(s.plain, text)
	return nil
}

func (s *fakeSink) htmlSent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.html...)
}

func (s *fakeSink) plainSent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.plain...)
}

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (c *fakeCanceller) Cancel(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, jobID)
	return true
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "exec.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addDaily(t *testing.T, st *store.Store, chatID int64, prompt string) model.Task {
	t.Helper()
	saved, err := st.Add(context.Background(), model.Task{
		ChatID:   chatID,
		Prompt:   prompt,
		Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleDaily, Hour: 9, Minute: 0},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return saved
}

func fastCfg() Config {
	return Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 1, "say hi")

	gen := &fakeGen{fn: func(call int) (string, error) {
		if call < 3 {
			return "", Retryable(errors.New("flaky"))
		}
		return "hello <world>", nil
	}}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	p.Execute(context.Background(), task, false)

	if gen.callCount() != 3 {
		t.Fatalf("generator called %d times, want 3", gen.callCount())
	}
	html := sink.htmlSent()
	if len(html) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(html))
	}
	if !strings.Contains(html[0], "&lt;world&gt;") {
		t.Fatalf("content not escaped: %q", html[0])
	}
	hist := p.History()
	if len(hist) != 1 || hist[0].Attempts != 3 || hist[0].Error != "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestExecuteFatalErrorAbortsImmediately(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 2, "doomed")

	gen := &fakeGen{fn: func(call int) (string, error) {
		return "", errors.New("invalid request")
	}}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	p.Execute(context.Background(), task, false)

	if gen.callCount() != 1 {
		t.Fatalf("fatal error retried: %d calls", gen.callCount())
	}
	// The chat still gets a failure notice.
	if len(sink.htmlSent()) != 1 {
		t.Fatalf("failure notification missing: %v", sink.htmlSent())
	}
	hist := p.History()
	if len(hist) != 1 || hist[0].Error == "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestExecuteRetryBudgetExhausted(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 3, "never works")

	gen := &fakeGen{fn: func(call int) (string, error) {
		return "", RetryableAfter(errors.New("rate limited"), time.Millisecond)
	}}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	p.Execute(context.Background(), task, false)

	if gen.callCount() != 3 {
		t.Fatalf("generator called %d times, want 1+2 retries", gen.callCount())
	}
	notices := sink.htmlSent()
	if len(notices) != 1 || !strings.Contains(notices[0], "retried on the next firing") {
		t.Fatalf("failure notice = %v", notices)
	}
}

func TestExecuteSkipsPausedTask(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 4, "quiet")
	if _, err := st.SetPaused(context.Background(), task.ID, task.ChatID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	gen := &fakeGen{fn: func(call int) (string, error) { return "noise", nil }}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	// A trigger firing that raced the pause must not generate or deliver.
	p.Execute(context.Background(), task, false)
	if gen.callCount() != 0 || len(sink.htmlSent()) != 0 {
		t.Fatal("paused task executed")
	}

	// A manual run bypasses the pause.
	p.Execute(context.Background(), task, true)
	if gen.callCount() != 1 || len(sink.htmlSent()) != 1 {
		t.Fatal("manual run did not execute")
	}
}

func TestExecuteUsesFreshPrompt(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 5, "stale prompt")
	if _, err := st.UpdatePrompt(context.Background(), task.ID, task.ChatID, "fresh prompt"); err != nil {
		t.Fatalf("update: %v", err)
	}

	var got string
	gen := &fakeGen{fn: func(call int) (string, error) { return "ok", nil }}
	sink := &fakeSink{}
	p := New(fastCfg(), st, &promptRecorder{inner: gen, got: &got}, sink, logx.Nop())

	p.Execute(context.Background(), task, false)
	if got != "fresh prompt" {
		t.Fatalf("generated with %q, want the stored prompt", got)
	}
}

type promptRecorder struct {
	inner Generator
	got   *string
}

func (r *promptRecorder) Generate(ctx context.Context, prompt string) (string, error) {
	*r.got = prompt
	return r.inner.Generate(ctx, prompt)
}

func TestExecuteConsumesOneTimeTask(t *testing.T) {
	st := newTestStore(t)
	saved, err := st.Add(context.Background(), model.Task{
		ChatID:   6,
		Prompt:   "fire once",
		Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleOnce, RunAt: time.Now().Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	gen := &fakeGen{fn: func(call int) (string, error) { return "done", nil }}
	sink := &fakeSink{}
	canc := &fakeCanceller{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())
	p.BindTriggers(canc)

	p.Execute(context.Background(), saved, false)

	_, found, err := st.Get(context.Background(), saved.ID, saved.ChatID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("one-time task not consumed after firing")
	}
	canc.mu.Lock()
	cancelled := len(canc.cancelled)
	canc.mu.Unlock()
	if cancelled != 1 {
		t.Fatalf("trigger cancellations = %d, want 1", cancelled)
	}
}

func TestExecuteManualDoesNotConsumeOneTime(t *testing.T) {
	st := newTestStore(t)
	saved, err := st.Add(context.Background(), model.Task{
		ChatID:   7,
		Prompt:   "preview",
		Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleOnce, RunAt: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	gen := &fakeGen{fn: func(call int) (string, error) { return "preview text", nil }}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())
	p.BindTriggers(&fakeCanceller{})

	p.Execute(context.Background(), saved, true)

	_, found, err := st.Get(context.Background(), saved.ID, saved.ChatID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("manual run consumed the one-time schedule")
	}
}

func TestExecuteFormatRejectedFallsBackToPlain(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 8, "markup heavy")

	gen := &fakeGen{fn: func(call int) (string, error) { return "odd <payload", nil }}
	sink := &fakeSink{rejectAll: true}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	p.Execute(context.Background(), task, false)

	plain := sink.plainSent()
	if len(plain) != 1 {
		t.Fatalf("plain fallbacks = %d, want 1", len(plain))
	}
	if plain[0] != "odd <payload" {
		t.Fatalf("fallback should carry unescaped text, got %q", plain[0])
	}
	hist := p.History()
	if len(hist) != 1 || hist[0].Error != "" {
		t.Fatalf("fallback delivery should count as success: %+v", hist)
	}
}

func TestExecuteSuppressedFiringDoesNotConsumeOnce(t *testing.T) {
	st := newTestStore(t)
	saved, err := st.Add(context.Background(), model.Task{
		ChatID:   10,
		Prompt:   "held back",
		Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleOnce, RunAt: time.Now().Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := st.SetPaused(context.Background(), saved.ID, saved.ChatID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	gen := &fakeGen{fn: func(call int) (string, error) { return "never", nil }}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())
	p.BindTriggers(&fakeCanceller{})

	p.Execute(context.Background(), saved, false)

	if gen.callCount() != 0 {
		t.Fatal("paused one-time task generated content")
	}
	_, found, err := st.Get(context.Background(), saved.ID, saved.ChatID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("suppressed firing consumed the one-time schedule")
	}
}

func TestExecuteVanishedTaskIsNoOp(t *testing.T) {
	st := newTestStore(t)
	task := addDaily(t, st, 9, "gone soon")
	if _, err := st.Delete(context.Background(), task.ID, task.ChatID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	gen := &fakeGen{fn: func(call int) (string, error) { return "zombie", nil }}
	sink := &fakeSink{}
	p := New(fastCfg(), st, gen, sink, logx.Nop())

	p.Execute(context.Background(), task, false)
	if gen.callCount() != 0 || len(sink.htmlSent()) != 0 {
		t.Fatal("deleted task executed")
	}
}
