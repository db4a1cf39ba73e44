package scheduler

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/model"
)

// TimeSpec is the result of parsing a user-supplied time specification.
// RunAt is zero for a recurring HH:MM spec; for an absolute timestamp it is
// normalized to the target timezone and Hour/Minute are derived from it.
type TimeSpec struct {
	Hour     int
	Minute   int
	RunAt    time.Time
	Timezone string
}

// absoluteLayouts are the accepted timestamp forms without an explicit
// offset; they are interpreted in the default timezone.
var absoluteLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimeSpec parses either "HH:MM" (recurring) or an ISO 8601 timestamp
// (one-time). A trailing "Z" or explicit offset is honored; a bare timestamp
// is interpreted in defaultTZ. Failures are validation errors, never panics.
func ParseTimeSpec(raw, defaultTZ string) (TimeSpec, error) {
	cleaned := strings.TrimSpace(raw)
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return TimeSpec{}, model.Validationf("invalid timezone %q; use an IANA zone like UTC or Europe/Madrid", defaultTZ)
	}

	// A date separator marks an absolute timestamp.
	if strings.ContainsAny(cleaned, "T-") {
		runAt, perr := parseAbsolute(cleaned, loc)
		if perr != nil {
			return TimeSpec{}, perr
		}
		runAt = runAt.In(loc)
		return TimeSpec{Hour: runAt.Hour(), Minute: runAt.Minute(), RunAt: runAt, Timezone: defaultTZ}, nil
	}

	parts := strings.Split(cleaned, ":")
	if len(parts) != 2 {
		return TimeSpec{}, model.Validationf("invalid time %q; use HH:MM or ISO 8601", raw)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil {
		return TimeSpec{}, model.Validationf("invalid time %q; use HH:MM or ISO 8601", raw)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeSpec{}, model.Validationf("hour or minute out of range in %q", raw)
	}
	return TimeSpec{Hour: hour, Minute: minute, Timezone: defaultTZ}, nil
}

func parseAbsolute(s string, loc *time.Location) (time.Time, error) {
	// Zero-offset suffix is plain UTC.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04Z07:00", s); err == nil {
		return t, nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, model.Validationf("invalid timestamp %q; use ISO 8601 like 2026-09-01T14:30", s)
}

var reInterval = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?$`)

// ParseInterval parses "Xh", "Xm" or "XhYm" (case-insensitive) into a
// duration between 1 minute and 24 hours.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := reInterval.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, model.Validationf("invalid interval %q; use forms like 30m, 2h or 1h30m", raw)
	}
	var minutes int
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, model.Validationf("invalid interval %q", raw)
		}
		minutes += h * 60
	}
	if m[2] != "" {
		mm, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, model.Validationf("invalid interval %q", raw)
		}
		minutes += mm
	}
	if minutes < 1 {
		return 0, model.Validationf("interval must be at least 1 minute")
	}
	if minutes > model.MaxIntervalMinutes {
		return 0, model.Validationf("interval must be at most %d minutes", model.MaxIntervalMinutes)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// ParseDays parses a comma-separated, case-insensitive weekday list into
// normalized lowercase 3-letter abbreviations, order preserved.
func ParseDays(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		day := strings.ToLower(strings.TrimSpace(p))
		if day == "" {
			continue
		}
		valid := false
		for _, w := range model.Weekdays {
			if day == w {
				valid = true
				break
			}
		}
		if !valid {
			return nil, model.Validationf("invalid day %q; use 3-letter names like mon,wed,fri", strings.TrimSpace(p))
		}
		out = append(out, day)
	}
	if len(out) == 0 {
		return nil, model.Validationf("no days given; use 3-letter names like mon,wed,fri")
	}
	return out, nil
}
