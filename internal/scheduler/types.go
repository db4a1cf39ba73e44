package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/model"
	"schedbot/internal/store"
	"schedbot/pkg/logx"
)

// ErrNotFound is returned for operations on a task that does not exist or is
// not owned by the calling chat. Ownership mismatches are deliberately
// indistinguishable from missing tasks.
var ErrNotFound = errors.New("task not found")

// Config controls trigger behavior.
type Config struct {
	// Timezone is the default IANA zone used when a task does not carry one.
	Timezone string
}

// Executor runs a fired task's pipeline. Implemented by executor.Pipeline.
type Executor interface {
	Execute(ctx context.Context, task model.Task, manual bool)
}

// jobEntry is one armed trigger in the in-memory table.
//
// Exactly one of entryID (cron/interval) or timer (one-time) is set.
// paused holds the trigger armed but inactive; the entry stays registered so
// resume needs no re-registration.
type jobEntry struct {
	task    model.Task
	paused  bool
	entryID cron.EntryID
	timer   *time.Timer
	ver     uint64 // one-time: stale timer callbacks check this
	spent   bool   // one-time: timer elapsed while paused; re-arm on resume
}

// Service is the scheduler core: it owns the job table, arms triggers and
// dispatches due firings to the executor.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	store *store.Store
	exec  Executor

	c    *cron.Cron
	loc  *time.Location
	jobs map[string]*jobEntry

	runCtx  context.Context
	started bool
}

// TaskInfo pairs a task with its computed next fire time for display.
type TaskInfo struct {
	Task model.Task
	Next time.Time
}

// Snapshot is a lightweight status view.
type Snapshot struct {
	Running  bool
	Timezone string
	Jobs     int
	Active   int
	Paused   int
}
