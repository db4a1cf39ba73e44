package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"schedbot/pkg/logx"
)

// Parse decodes raw config bytes strictly: unknown fields and trailing
// content are errors. Defaults and env fallbacks are applied before
// validation.
func Parse(path string, data []byte) (*Config, error) {
	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse %s config: trailing content after document", format)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Manager holds the current config and re-reads its file on change.
type Manager struct {
	path string
	log  logx.Logger
	cur  atomic.Pointer[Config]
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, log: log}
}

// Load reads and parses the config file and makes it current.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(m.path, data)
	if err != nil {
		return nil, err
	}
	m.cur.Store(cfg)
	return cfg, nil
}

// Get returns the current config. Callers must not mutate it.
func (m *Manager) Get() *Config {
	return m.cur.Load()
}

// Watch re-loads the file when it changes and calls onChange with the new
// config. A broken edit is logged and skipped; the previous config stays
// current. Watch blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(m.path); err != nil {
		return fmt.Errorf("watch %s: %w", m.path, err)
	}

	// Editors often write via rename, producing a burst of events.
	// Debounce and re-add the path in case the inode was replaced.
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			m.log.Warn("config watcher error", logx.Err(err))

		case <-fire:
			timer = nil
			fire = nil
			_ = w.Remove(m.path)
			if err := w.Add(m.path); err != nil {
				m.log.Warn("config re-watch failed", logx.Err(err))
			}
			cfg, err := m.Load()
			if err != nil {
				if errors.Is(err, io.EOF) || os.IsNotExist(err) {
					// Mid-rename read; wait for the next event.
					continue
				}
				m.log.Error("config reload rejected", logx.Err(err))
				continue
			}
			m.log.Info("config reloaded", logx.String("path", m.path))
			if onChange != nil {
				onChange(cfg)
			}
		}
	}
}
