package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"schedbot/internal/model"
)

const taskColumns = "id, chat_id, prompt, hour, minute, timezone, run_at, paused, interval_minutes, name, days_of_week, is_reminder"

// Add persists a new task and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, t model.Task) (model.Task, error) {
	var runAt any
	var intervalMin any
	switch t.Schedule.Kind {
	case model.ScheduleOnce:
		runAt = t.Schedule.RunAt.Format(time.RFC3339)
	case model.ScheduleInterval:
		intervalMin = int64(t.Schedule.Every / time.Minute)
	}
	var days any
	if len(t.Schedule.Days) > 0 {
		days = strings.Join(t.Schedule.Days, ",")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (chat_id, prompt, hour, minute, timezone, run_at, paused, interval_minutes, name, days_of_week, is_reminder)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ChatID, t.Prompt, t.Schedule.Hour, t.Schedule.Minute, t.Timezone,
		runAt, boolInt(t.Paused), intervalMin, nullStr(t.Name), days, boolInt(t.IsReminder),
	)
	if err != nil {
		return model.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Task{}, err
	}
	t.ID = id
	return t, nil
}

// Get fetches a task by id, scoped to the owning chat. A mismatched chat id
// behaves exactly like a missing row.
func (s *Store) Get(ctx context.Context, id, chatID int64) (model.Task, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND chat_id = ?`, id, chatID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, err
	}
	return t, true, nil
}

// List returns the chat's tasks ordered by id.
func (s *Store) List(ctx context.Context, chatID int64) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE chat_id = ? ORDER BY id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// UpdatePrompt replaces the prompt of an owned task.
func (s *Store) UpdatePrompt(ctx context.Context, id, chatID int64, prompt string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET prompt = ? WHERE id = ? AND chat_id = ?`, prompt, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetPaused flips the persisted paused flag of an owned task.
func (s *Store) SetPaused(ctx context.Context, id, chatID int64, paused bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET paused = ? WHERE id = ? AND chat_id = ?`, boolInt(paused), id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes an owned task. Deleting a missing or foreign row reports
// found=false without error, so deletion is idempotent.
func (s *Store) Delete(ctx context.Context, id, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// LoadAll returns every task across all chats. Startup recovery only.
func (s *Store) LoadAll(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (model.Task, error) {
	var (
		t           model.Task
		hour        int
		minute      int
		runAt       sql.NullString
		paused      int64
		intervalMin sql.NullInt64
		name        sql.NullString
		days        sql.NullString
		isReminder  int64
	)
	err := r.Scan(&t.ID, &t.ChatID, &t.Prompt, &hour, &minute, &t.Timezone,
		&runAt, &paused, &intervalMin, &name, &days, &isReminder)
	if err != nil {
		return model.Task{}, err
	}
	t.Paused = paused != 0
	t.IsReminder = isReminder != 0
	t.Name = name.String

	// Derive the schedule kind from the populated columns. Missing optional
	// columns scan as NULL and fall through to the daily default.
	switch {
	case runAt.Valid && runAt.String != "":
		at, perr := time.Parse(time.RFC3339, runAt.String)
		if perr != nil {
			return model.Task{}, perr
		}
		t.Schedule = model.Schedule{Kind: model.ScheduleOnce, RunAt: at}
	case intervalMin.Valid && intervalMin.Int64 > 0:
		t.Schedule = model.Schedule{Kind: model.ScheduleInterval, Every: time.Duration(intervalMin.Int64) * time.Minute}
	default:
		sched := model.Schedule{Kind: model.ScheduleDaily, Hour: hour, Minute: minute}
		if days.Valid && strings.TrimSpace(days.String) != "" {
			sched.Days = strings.Split(days.String, ",")
		}
		t.Schedule = sched
	}
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
