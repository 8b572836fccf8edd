package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// AlarmConfig describes a single configured alarm.
type AlarmConfig struct {
	// ID is an internal identifier used for de-dup and logging; a UUID is
	// assigned when empty.
	ID string `yaml:"id" json:"id"`

	// Message is the text shown when the alarm triggers.
	Message string `yaml:"message" json:"message"`

	// Start is the first trigger instant: RFC 3339 for a timed alarm, or
	// "2006-01-02" for a date-only alarm.
	Start string `yaml:"start" json:"start"`

	// RRule is an optional RFC 5545 recurrence rule, e.g.
	// "FREQ=DAILY;INTERVAL=2".
	RRule string `yaml:"rrule,omitempty" json:"rrule,omitempty"`

	// RepeatInterval / RepeatCount configure extra firings after each
	// occurrence; both zero or both non-zero.
	RepeatInterval string `yaml:"repeat_interval,omitempty" json:"repeat_interval,omitempty"`
	RepeatCount    int    `yaml:"repeat_count,omitempty" json:"repeat_count,omitempty"`

	// ReminderMinutes fires an auxiliary trigger this many minutes before
	// (positive) or after (negative) the main occurrence.
	ReminderMinutes  int  `yaml:"reminder_minutes,omitempty" json:"reminder_minutes,omitempty"`
	ReminderOnceOnly bool `yaml:"reminder_once_only,omitempty" json:"reminder_once_only,omitempty"`

	AtLogin         bool `yaml:"at_login,omitempty" json:"at_login,omitempty"`
	WorkTimeOnly    bool `yaml:"work_time_only,omitempty" json:"work_time_only,omitempty"`
	ExcludeHolidays bool `yaml:"exclude_holidays,omitempty" json:"exclude_holidays,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone alarms are evaluated in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// StartOfDay is the clock time ("HH:MM") at which date-only alarms
	// become due.
	StartOfDay string `yaml:"start_of_day" json:"start_of_day"`

	// WorkDays lists the working days ("mon".."sun").
	WorkDays []string `yaml:"work_days" json:"work_days"`

	// WorkStart / WorkEnd bound the daily working window ("HH:MM");
	// start inclusive, end exclusive.
	WorkStart string `yaml:"work_start" json:"work_start"`
	WorkEnd   string `yaml:"work_end" json:"work_end"`

	// HolidayFile is the path of an ICS holiday region file; empty
	// disables holiday exclusion globally.
	HolidayFile string `yaml:"holiday_file,omitempty" json:"holiday_file,omitempty"`

	// Feb29 is the default policy for annual February-29 alarms in
	// non-leap years: "feb28", "mar1" or "none".
	Feb29 string `yaml:"feb29" json:"feb29"`

	// RefreshCron is a cron-style schedule string (e.g. "* * * * *")
	// driving the periodic alarm re-evaluation.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Alarms is the list of configured alarms.
	Alarms []AlarmConfig `yaml:"alarms" json:"alarms"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		StartOfDay:  "00:00",
		WorkDays:    []string{"mon", "tue", "wed", "thu", "fri"},
		WorkStart:   "09:00",
		WorkEnd:     "17:00",
		Feb29:       "none",
		RefreshCron: "* * * * *",
		Alarms:      []AlarmConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.StartOfDay == "" {
		c.StartOfDay = "00:00"
	}
	if len(c.WorkDays) == 0 {
		c.WorkDays = []string{"mon", "tue", "wed", "thu", "fri"}
	}
	if c.WorkStart == "" {
		c.WorkStart = "09:00"
	}
	if c.WorkEnd == "" {
		c.WorkEnd = "17:00"
	}
	switch c.Feb29 {
	case "feb28", "mar1", "none":
		// ok
	default:
		c.Feb29 = "none"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "* * * * *"
	}
	if c.Alarms == nil {
		c.Alarms = []AlarmConfig{}
	}
}

// ParseClock parses an "HH:MM" clock string into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("config: bad clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseWeekdays parses day names ("mon".."sun", case-insensitive) into
// weekdays.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "mon", "monday":
			out = append(out, time.Monday)
		case "tue", "tuesday":
			out = append(out, time.Tuesday)
		case "wed", "wednesday":
			out = append(out, time.Wednesday)
		case "thu", "thursday":
			out = append(out, time.Thursday)
		case "fri", "friday":
			out = append(out, time.Friday)
		case "sat", "saturday":
			out = append(out, time.Saturday)
		case "sun", "sunday":
			out = append(out, time.Sunday)
		default:
			return nil, fmt.Errorf("config: unknown weekday %q", n)
		}
	}
	return out, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".alarmd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
