package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"schedbot/internal/model"
	"schedbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAssignsID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	task := model.Task{
		ChatID:   100,
		Prompt:   "weather summary",
		Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleDaily, Hour: 8, Minute: 0},
	}
	saved, err := s.Add(ctx, task)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("Add did not assign an id")
	}

	second, err := s.Add(ctx, task)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if second.ID <= saved.ID {
		t.Fatalf("ids not increasing: %d then %d", saved.ID, second.ID)
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	runAt := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	tasks := []model.Task{
		{
			ChatID: 1, Prompt: "daily", Timezone: "Europe/Madrid", Name: "brief",
			Schedule: model.Schedule{Kind: model.ScheduleDaily, Hour: 7, Minute: 45, Days: []string{"mon", "wed", "fri"}},
		},
		{
			ChatID: 1, Prompt: "interval", Timezone: "UTC", IsReminder: true,
			Schedule: model.Schedule{Kind: model.ScheduleInterval, Every: 90 * time.Minute},
		},
		{
			ChatID: 1, Prompt: "once", Timezone: "UTC",
			Schedule: model.Schedule{Kind: model.ScheduleOnce, RunAt: runAt},
		},
	}

	for _, task := range tasks {
		saved, err := s.Add(ctx, task)
		if err != nil {
			t.Fatalf("Add(%s): %v", task.Schedule.Kind, err)
		}
		got, found, err := s.Get(ctx, saved.ID, task.ChatID)
		if err != nil || !found {
			t.Fatalf("Get(%d): found=%v err=%v", saved.ID, found, err)
		}
		if got.Prompt != task.Prompt || got.Timezone != task.Timezone ||
			got.Name != task.Name || got.IsReminder != task.IsReminder {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, task)
		}
		if got.Schedule.Kind != task.Schedule.Kind {
			t.Fatalf("kind = %v, want %v", got.Schedule.Kind, task.Schedule.Kind)
		}
		switch task.Schedule.Kind {
		case model.ScheduleDaily:
			if got.Schedule.Hour != 7 || got.Schedule.Minute != 45 {
				t.Fatalf("daily time = %02d:%02d", got.Schedule.Hour, got.Schedule.Minute)
			}
			if len(got.Schedule.Days) != 3 || got.Schedule.Days[1] != "wed" {
				t.Fatalf("days = %v", got.Schedule.Days)
			}
		case model.ScheduleInterval:
			if got.Schedule.Every != 90*time.Minute {
				t.Fatalf("interval = %v", got.Schedule.Every)
			}
		case model.ScheduleOnce:
			if !got.Schedule.RunAt.Equal(runAt) {
				t.Fatalf("run_at = %v, want %v", got.Schedule.RunAt, runAt)
			}
		}
	}
}

func TestChatIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	saved, err := s.Add(ctx, model.Task{
		ChatID: 1, Prompt: "mine", Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleDaily, Hour: 9},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A foreign chat must see nothing, and its view must be identical to a
	// missing record.
	if _, found, err := s.Get(ctx, saved.ID, 2); err != nil || found {
		t.Fatalf("foreign Get: found=%v err=%v", found, err)
	}
	list, err := s.List(ctx, 2)
	if err != nil || len(list) != 0 {
		t.Fatalf("foreign List: %v, err=%v", list, err)
	}
	if ok, err := s.Delete(ctx, saved.ID, 2); err != nil || ok {
		t.Fatalf("foreign Delete: ok=%v err=%v", ok, err)
	}
	if ok, err := s.UpdatePrompt(ctx, saved.ID, 2, "stolen"); err != nil || ok {
		t.Fatalf("foreign UpdatePrompt: ok=%v err=%v", ok, err)
	}
	if ok, err := s.SetPaused(ctx, saved.ID, 2, true); err != nil || ok {
		t.Fatalf("foreign SetPaused: ok=%v err=%v", ok, err)
	}

	// Owner still sees the untouched task.
	got, found, err := s.Get(ctx, saved.ID, 1)
	if err != nil || !found {
		t.Fatalf("owner Get: found=%v err=%v", found, err)
	}
	if got.Prompt != "mine" || got.Paused {
		t.Fatalf("task mutated through foreign chat: %+v", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	saved, err := s.Add(ctx, model.Task{
		ChatID: 5, Prompt: "p", Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleDaily},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err := s.Delete(ctx, saved.ID, 5)
	if err != nil || !ok {
		t.Fatalf("first Delete: ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(ctx, saved.ID, 5)
	if err != nil || ok {
		t.Fatalf("second Delete: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Delete(ctx, 9999, 5); err != nil || ok {
		t.Fatalf("Delete of unknown id: ok=%v err=%v", ok, err)
	}
}

func TestSetPausedPersists(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	saved, err := s.Add(ctx, model.Task{
		ChatID: 3, Prompt: "p", Timezone: "UTC",
		Schedule: model.Schedule{Kind: model.ScheduleInterval, Every: 10 * time.Minute},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ok, err := s.SetPaused(ctx, saved.ID, 3, true); err != nil || !ok {
		t.Fatalf("SetPaused: ok=%v err=%v", ok, err)
	}
	got, _, err := s.Get(ctx, saved.ID, 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Paused {
		t.Fatal("paused flag not persisted")
	}
}

func TestMigratesOldSchema(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "old.db")

	// Build a database at schema version 1 (before the optional columns) with
	// one pre-existing row.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec(migrations[0]); err != nil {
		t.Fatalf("create v1 schema: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO tasks (chat_id, prompt, hour, minute, timezone) VALUES (9, 'legacy', 6, 15, 'UTC')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	s, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open over old schema: %v", err)
	}
	defer s.Close()

	got, found, err := s.Get(context.Background(), 1, 9)
	if err != nil || !found {
		t.Fatalf("Get legacy row: found=%v err=%v", found, err)
	}
	// Missing optional columns default to their neutral values.
	if got.Paused || got.IsReminder || got.Name != "" {
		t.Fatalf("legacy defaults wrong: %+v", got)
	}
	if got.Schedule.Kind != model.ScheduleDaily || got.Schedule.Hour != 6 || got.Schedule.Minute != 15 {
		t.Fatalf("legacy schedule wrong: %+v", got.Schedule)
	}

	// Re-opening must not reapply migrations.
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s2.Close()
}
