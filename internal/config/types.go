package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full bot configuration. YAML and JSON files are accepted;
// unknown fields are rejected so typos fail loudly at startup.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Limits    LimitsConfig    `json:"limits,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via BOT_TOKEN.
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type OpenAIConfig struct {
	// APIKey may be left empty in the file and supplied via OPENAI_API_KEY.
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// MaxRetries is the retry budget for transient generation failures.
	MaxRetries    int    `json:"max_retries,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is the default IANA zone for tasks created without one.
	Timezone string `json:"timezone,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console *bool      `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type LimitsConfig struct {
	MaxPromptChars   int `json:"max_prompt_chars,omitempty"`
	ResponseMaxChars int `json:"response_max_chars,omitempty"`
}

// applyDefaults fills zero fields and pulls secrets from the environment.
func (c *Config) applyDefaults() {
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv("BOT_TOKEN")
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 400
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.4
	}
	if c.OpenAI.MaxRetries <= 0 {
		c.OpenAI.MaxRetries = 3
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/bot.db"
	}
	if c.Limits.MaxPromptChars <= 0 {
		c.Limits.MaxPromptChars = 1200
	}
	if c.Limits.ResponseMaxChars <= 0 {
		c.Limits.ResponseMaxChars = 3500
	}
}

// Validate rejects configs the bot cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token (or BOT_TOKEN) is required")
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("openai.api_key (or OPENAI_API_KEY) is required")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: unknown zone %q", c.Scheduler.Timezone)
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"openai.retry_base", c.OpenAI.RetryBase},
		{"openai.retry_max_delay", c.OpenAI.RetryMaxDelay},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// ConsoleEnabled reports whether console logging is on (default true).
func (c *Config) ConsoleEnabled() bool {
	return c.Logging.Console == nil || *c.Logging.Console
}

// ParseDurationField parses an optional Go duration string, where empty
// means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// MustDuration is ParseDurationField for already-validated configs.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDurationField("", raw)
	return d
}
