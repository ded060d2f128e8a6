package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up beside the executable when no path is given.
const DefaultFileName = "acqsched.toml"

// Leg is one operating interval during which scheduled acquisition is active.
type Leg struct {
	Name  string
	Start time.Time
	Stop  time.Time
}

// Covers reports whether the calendar date of day (in day's location) lies
// within the leg's start and stop dates, inclusive.
func (l Leg) Covers(day time.Time) bool {
	loc := day.Location()
	d := dateOf(day)
	return !d.Before(dateOf(l.Start.In(loc))) && !d.After(dateOf(l.Stop.In(loc)))
}

// ProcessConfig describes the external acquisition program.
type ProcessConfig struct {
	Executable  string        `mapstructure:"executable"`
	Args        []string      `mapstructure:"args"`
	Name        string        `mapstructure:"name"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// DaemonConfig holds settings for the daemon process itself.
type DaemonConfig struct {
	PidFile     string `mapstructure:"pid_file"`
	JournalPath string `mapstructure:"journal_path"`
	LogLevel    string `mapstructure:"log_level"`
}

// Config is the schedule configuration. It is loaded once and never mutated.
type Config struct {
	StartMinutes      []int
	AcquisitionLength time.Duration
	Tolerance         time.Duration
	Legs              []Leg

	Process ProcessConfig
	Daemon  DaemonConfig
}

// fileConfig mirrors the on-disk layout before conversion.
type fileConfig struct {
	StartMinutes     interface{}                       `mapstructure:"acquisition_start_minutes"`
	LengthMinutes    int                               `mapstructure:"acquisition_length_minutes"`
	ToleranceMinutes int                               `mapstructure:"tolerance_minutes"`
	Legs             map[string]map[string]interface{} `mapstructure:"leg"`
	Process          ProcessConfig                     `mapstructure:"process"`
	Daemon           DaemonConfig                      `mapstructure:"daemon"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// LoadFromFile loads configuration from a TOML file on the OS filesystem.
// Times without an explicit offset are interpreted in the local time zone.
func LoadFromFile(configFile string) (*Config, error) {
	return LoadFromFs(afero.NewOsFs(), configFile, time.Local)
}

// LoadFromFs loads configuration from configFile on fs. Environment variables
// prefixed with ACQSCHED_ override file values.
func LoadFromFs(fs afero.Fs, configFile string, loc *time.Location) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)

	// Set defaults
	setDefaults(v)

	v.SetEnvPrefix("ACQSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set config file
	v.SetConfigFile(configFile)
	v.SetConfigType("toml")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config, err := raw.convert(loc)
	if err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("acquisition_start_minutes", "15,45")
	v.SetDefault("acquisition_length_minutes", 29)
	v.SetDefault("tolerance_minutes", 2)
	v.SetDefault("process.executable", "/home/ifcb/IFCBacquire/gLauncher/IFCBacquire.Gtk")
	v.SetDefault("process.args", []string{"noUI"})
	v.SetDefault("process.name", "IFCBacquire.Gtk")
	v.SetDefault("process.settle_delay", 5*time.Second)
	v.SetDefault("process.stop_timeout", 5*time.Second)
	v.SetDefault("daemon.pid_file", "")
	v.SetDefault("daemon.journal_path", "")
	v.SetDefault("daemon.log_level", "debug")
}

func (raw fileConfig) convert(loc *time.Location) (*Config, error) {
	minutes, err := parseMinutes(raw.StartMinutes)
	if err != nil {
		return nil, err
	}

	config := &Config{
		StartMinutes:      minutes,
		AcquisitionLength: time.Duration(raw.LengthMinutes) * time.Minute,
		Tolerance:         time.Duration(raw.ToleranceMinutes) * time.Minute,
		Process:           raw.Process,
		Daemon:            raw.Daemon,
	}

	for name, section := range raw.Legs {
		start, err := parseDateTime(section["start_datetime"], loc)
		if err != nil {
			return nil, fmt.Errorf("leg %q: start_datetime: %w", name, err)
		}
		stop, err := parseDateTime(section["stop_datetime"], loc)
		if err != nil {
			return nil, fmt.Errorf("leg %q: stop_datetime: %w", name, err)
		}
		config.Legs = append(config.Legs, Leg{Name: name, Start: start, Stop: stop})
	}
	sort.Slice(config.Legs, func(i, j int) bool {
		if config.Legs[i].Start.Equal(config.Legs[j].Start) {
			return config.Legs[i].Name < config.Legs[j].Name
		}
		return config.Legs[i].Start.Before(config.Legs[j].Start)
	})

	return config, nil
}

// parseMinutes accepts a comma-separated string or a list of integers and
// returns the sorted, deduplicated offsets.
func parseMinutes(value interface{}) ([]int, error) {
	var minutes []int
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			m, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("acquisition_start_minutes: %q is not an integer", part)
			}
			minutes = append(minutes, m)
		}
	default:
		list, err := cast.ToIntSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("acquisition_start_minutes: %w", err)
		}
		minutes = list
	}

	sort.Ints(minutes)
	deduped := minutes[:0]
	for i, m := range minutes {
		if i > 0 && m == minutes[i-1] {
			continue
		}
		deduped = append(deduped, m)
	}
	return deduped, nil
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDateTime accepts ISO-8601 combined date-times, either as strings or as
// native TOML date-time values.
func parseDateTime(value interface{}, loc *time.Location) (time.Time, error) {
	var s string
	switch v := value.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	case time.Time:
		return v, nil
	case string:
		s = strings.TrimSpace(v)
	case fmt.Stringer:
		s = v.String()
	default:
		return time.Time{}, fmt.Errorf("unsupported value %v", v)
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date-time", s)
}

// DefaultPath returns the configuration path beside the running executable.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errors []ValidationError

	// Validate start minutes
	if len(c.StartMinutes) == 0 {
		errors = append(errors, ValidationError{
			Field:   "acquisition_start_minutes",
			Value:   c.StartMinutes,
			Message: "must list at least one minute",
		})
	}
	for _, m := range c.StartMinutes {
		if m < 0 || m > 59 {
			errors = append(errors, ValidationError{
				Field:   "acquisition_start_minutes",
				Value:   m,
				Message: "must be between 0 and 59",
			})
		}
	}

	// Validate acquisition length
	if c.AcquisitionLength <= 0 {
		errors = append(errors, ValidationError{
			Field:   "acquisition_length_minutes",
			Value:   c.AcquisitionLength,
			Message: "must be greater than 0",
		})
	}
	if c.AcquisitionLength > 24*time.Hour {
		errors = append(errors, ValidationError{
			Field:   "acquisition_length_minutes",
			Value:   c.AcquisitionLength,
			Message: "must be 24 hours or less",
		})
	}

	// Validate tolerance
	if c.Tolerance < 0 {
		errors = append(errors, ValidationError{
			Field:   "tolerance_minutes",
			Value:   c.Tolerance,
			Message: "must be non-negative",
		})
	}

	// Validate legs
	for i, leg := range c.Legs {
		if leg.Start.After(leg.Stop) {
			errors = append(errors, ValidationError{
				Field:   "leg." + leg.Name,
				Value:   leg.Start.Format(time.RFC3339),
				Message: "start_datetime must not be after stop_datetime",
			})
		}
		if i > 0 {
			prev := c.Legs[i-1]
			if !dateOf(leg.Start).After(dateOf(prev.Stop.In(leg.Start.Location()))) {
				errors = append(errors, ValidationError{
					Field:   "leg." + leg.Name,
					Value:   leg.Start.Format(time.RFC3339),
					Message: fmt.Sprintf("overlaps leg %q; legs must not share a calendar day", prev.Name),
				})
			}
		}
	}

	// Validate process settings
	if strings.TrimSpace(c.Process.Executable) == "" {
		errors = append(errors, ValidationError{
			Field:   "process.executable",
			Value:   c.Process.Executable,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Process.Name) == "" {
		errors = append(errors, ValidationError{
			Field:   "process.name",
			Value:   c.Process.Name,
			Message: "must not be empty",
		})
	}
	if c.Process.SettleDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.settle_delay",
			Value:   c.Process.SettleDelay,
			Message: "must be non-negative",
		})
	}
	if c.Process.StopTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "process.stop_timeout",
			Value:   c.Process.StopTimeout,
			Message: "must be non-negative",
		})
	}

	// Return combined error if any validation failed
	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}

	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
