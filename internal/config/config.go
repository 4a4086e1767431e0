package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ralle12345/untiswatch/internal/model"
	"github.com/ralle12345/untiswatch/internal/notify"
	"github.com/ralle12345/untiswatch/internal/timetable"
)

// SourceConfig describes whose timetable an account follows.
type SourceConfig struct {
	// Type is one of "student", "klasse", "teacher".
	Type string `yaml:"type" json:"type"`
	// ID is the backend element ID of the source.
	ID int64 `yaml:"id" json:"id"`
}

// CalendarConfig holds calendar formatting options.
type CalendarConfig struct {
	// LongName uses the subject long name as event summary.
	LongName bool `yaml:"long_name" json:"long_name"`
	// ShowCancelled includes cancelled lessons as events.
	ShowCancelled bool `yaml:"show_cancelled" json:"show_cancelled"`
	// ShowRoomChange prefixes events whose room was substituted.
	ShowRoomChange bool `yaml:"show_room_change" json:"show_room_change"`
	// Description selects the event description: "none", "json" or
	// "lesson_info".
	Description string `yaml:"description" json:"description"`
	// Room selects the event location: "none", "short", "long" or
	// "short_long".
	Room string `yaml:"room" json:"room"`
}

// NotifyConfig holds the notification channel and rule set.
type NotifyConfig struct {
	// ChannelID is the sink channel (Telegram chat ID). Empty disables
	// notifications.
	ChannelID string       `yaml:"channel_id" json:"channel_id"`
	Rules     notify.Rules `yaml:",inline" json:"rules"`
}

// Enabled reports whether this account sends notifications at all.
func (n NotifyConfig) Enabled() bool {
	return n.ChannelID != "" && len(n.Rules.Enabled) > 0
}

// AccountConfig is one school account to poll.
type AccountConfig struct {
	// ID labels the account in logs and API output. Defaults to
	// username@school.
	ID string `yaml:"id" json:"id"`

	Server   string `yaml:"server" json:"server"`
	School   string `yaml:"school" json:"school"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`

	Source SourceConfig `yaml:"source" json:"source"`

	Filter timetable.FilterConfig `yaml:"filter" json:"filter"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`

	// ExcludeFields lists data fields never requested from the backend,
	// extended automatically when the backend denies a field.
	ExcludeFields []string `yaml:"exclude_fields" json:"exclude_fields"`

	// ExtendedTimetable requests substitution and info texts.
	ExtendedTimetable bool `yaml:"extended_timetable" json:"extended_timetable"`

	// GenerateJSON enables JSON payloads in status output.
	GenerateJSON bool `yaml:"generate_json" json:"generate_json"`

	// KeepLoggedIn keeps the backend session alive between update cycles.
	KeepLoggedIn bool `yaml:"keep_logged_in" json:"keep_logged_in"`
}

// Label returns the account's display identifier.
func (a AccountConfig) Label() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Username + "@" + a.School
}

// DictOptions returns the lesson serialization options for this account.
func (a AccountConfig) DictOptions() model.DictOptions {
	return model.DictOptions{
		Extended:      a.ExtendedTimetable,
		ExcludeFields: a.ExcludeFields,
	}
}

// Validate reports the first missing required field. Config errors are the
// only fatal errors during account setup.
func (a AccountConfig) Validate() error {
	switch {
	case a.Server == "":
		return errors.New("account: server is required")
	case a.School == "":
		return errors.New("account: school is required")
	case a.Username == "":
		return errors.New("account: username is required")
	case a.Password == "":
		return errors.New("account: password is required")
	case a.Source.Type == "":
		return errors.New("account: source.type is required")
	case a.Source.ID == 0:
		return errors.New("account: source.id is required")
	}
	return nil
}

// TelegramConfig enables the Telegram notification sink.
type TelegramConfig struct {
	Token string `yaml:"token" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone the backend's times live in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule for timetable polling
	// (robfig/cron syntax, @every supported).
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how far into the future timetables are fetched.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// Telegram, if non-nil with a token, routes notifications through
	// Telegram; otherwise they go to the log.
	Telegram *TelegramConfig `yaml:"telegram,omitempty" json:"telegram,omitempty"`

	// BasicAuth, if set with both fields, protects the HTTP API.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`

	Accounts []AccountConfig `yaml:"accounts" json:"accounts"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"-"`
	Password string `yaml:"password" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8380",
		Timezone:    "Europe/Berlin",
		RefreshCron: "@every 5m",
		HorizonDays: 30,
		Accounts:    []AccountConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8380"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "@every 5m"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.Accounts == nil {
		c.Accounts = []AccountConfig{}
	}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.ID == "" {
			a.ID = a.Username + "@" + a.School
		}
		switch a.Filter.Mode {
		case timetable.FilterNone, timetable.FilterBlacklist, timetable.FilterWhitelist:
		default:
			a.Filter.Mode = timetable.FilterNone
		}
		switch a.Calendar.Description {
		case "none", "json", "lesson_info":
		case "":
			a.Calendar.Description = "json"
		default:
			a.Calendar.Description = "json"
		}
		switch a.Calendar.Room {
		case "none", "short", "long", "short_long":
		default:
			a.Calendar.Room = "long"
		}
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600,
// parent directory created) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".untiswatch-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
