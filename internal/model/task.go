package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind is the discriminator of the Schedule union.
type ScheduleKind int

const (
	// ScheduleDaily fires every day (or on selected weekdays) at HH:MM.
	ScheduleDaily ScheduleKind = iota
	// ScheduleInterval fires every Every, starting one interval after arming.
	ScheduleInterval
	// ScheduleOnce fires exactly once at RunAt, then the task is consumed.
	ScheduleOnce
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleDaily:
		return "daily"
	case ScheduleInterval:
		return "interval"
	case ScheduleOnce:
		return "once"
	default:
		return "unknown"
	}
}

// MaxIntervalMinutes caps interval schedules at one day.
const MaxIntervalMinutes = 1440

// Schedule is a tagged union over the three schedule kinds. Only the fields
// of the active Kind are meaningful; the union shape makes the
// mutual-exclusivity invariant structural rather than checked.
type Schedule struct {
	Kind ScheduleKind

	// Daily
	Hour   int
	Minute int
	Days   []string // normalized 3-letter weekday abbreviations; empty = every day

	// Interval
	Every time.Duration

	// Once
	RunAt time.Time
}

// Weekdays are the accepted day-of-week abbreviations, in cron order.
var Weekdays = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func validWeekday(d string) bool {
	for _, w := range Weekdays {
		if d == w {
			return true
		}
	}
	return false
}

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the in-range invariants of the active variant.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleDaily:
		if s.Hour < 0 || s.Hour > 23 {
			return Validationf("hour %d out of range (0-23)", s.Hour)
		}
		if s.Minute < 0 || s.Minute > 59 {
			return Validationf("minute %d out of range (0-59)", s.Minute)
		}
		for _, d := range s.Days {
			if !validWeekday(d) {
				return Validationf("invalid day %q", d)
			}
		}
		return nil
	case ScheduleInterval:
		if s.Every < time.Minute {
			return Validationf("interval must be at least 1 minute")
		}
		if s.Every > MaxIntervalMinutes*time.Minute {
			return Validationf("interval must be at most %d minutes", MaxIntervalMinutes)
		}
		return nil
	case ScheduleOnce:
		if s.RunAt.IsZero() {
			return Validationf("run time required for one-time schedule")
		}
		return nil
	default:
		return Validationf("unknown schedule kind %d", s.Kind)
	}
}

// CronSpec renders the daily variant as a robfig/cron expression in loc.
// Only valid for ScheduleDaily.
func (s Schedule) CronSpec(loc *time.Location) string {
	dow := "*"
	if len(s.Days) > 0 {
		dow = strings.Join(s.Days, ",")
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", loc.String(), s.Minute, s.Hour, dow)
}

// NextFire computes the next trigger time after now.
//
// For a one-time schedule whose RunAt is already past, it returns now:
// the job still fires once (immediate catch-up), it is never dropped.
func (s Schedule) NextFire(now time.Time, loc *time.Location) time.Time {
	switch s.Kind {
	case ScheduleDaily:
		dow := "*"
		if len(s.Days) > 0 {
			dow = strings.Join(s.Days, ",")
		}
		sched, err := dailyParser.Parse(fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, dow))
		if err != nil {
			return time.Time{}
		}
		return sched.Next(now.In(loc))
	case ScheduleInterval:
		return now.Add(s.Every)
	case ScheduleOnce:
		at := s.RunAt.In(loc)
		if at.Before(now) {
			return now
		}
		return at
	default:
		return time.Time{}
	}
}

// Task is a persisted unit of scheduled work.
type Task struct {
	ID         int64 // 0 until the store assigns one
	ChatID     int64
	Prompt     string
	Schedule   Schedule
	Timezone   string // IANA zone name
	Paused     bool
	Name       string
	IsReminder bool
}

// JobID is the stable key the trigger engine uses to register, replace and
// cancel firings. Empty for unsaved tasks.
func (t Task) JobID() string {
	if t.ID == 0 {
		return ""
	}
	return fmt.Sprintf("task-%d", t.ID)
}

// DisplayName returns a human-readable label for lists and logs.
func (t Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	if t.ID != 0 {
		return fmt.Sprintf("Task #%d", t.ID)
	}
	return "Task"
}

// Location resolves the task's timezone, defaulting to UTC when unset or bad.
// Validation of user-supplied zones happens at parse time; this is the
// last-resort fallback for already-persisted rows.
func (t Task) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// Validate checks all task invariants that do not require I/O.
func (t Task) Validate() error {
	if t.ChatID == 0 {
		return Validationf("chat id required")
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return Validationf("prompt required")
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return Validationf("invalid timezone %q", t.Timezone)
	}
	return t.Schedule.Validate()
}
