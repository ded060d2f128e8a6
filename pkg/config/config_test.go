package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/etc/acqsched/acqsched.toml"
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	return fs, path
}

func TestConfig_LoadFromFs(t *testing.T) {
	// Given a TOML configuration file with every section
	fs, path := writeConfig(t, `
acquisition_start_minutes = "0, 30"
acquisition_length_minutes = 25
tolerance_minutes = 3

[leg.transit]
start_datetime = "2024-01-01T06:00:00"
stop_datetime = "2024-01-03T18:30:00"

[leg.station]
start_datetime = "2024-01-05"
stop_datetime = "2024-01-06T12:00:00"

[process]
executable = "/opt/acquire/bin/acquire"
args = ["--headless", "--samples=1"]
name = "acquire"
settle_delay = "2s"
stop_timeout = "10s"

[daemon]
pid_file = "/run/acqsched.pid"
journal_path = "/var/lib/acqsched/journal.db"
log_level = "info"
`)

	// When loading configuration
	cfg, err := LoadFromFs(fs, path, time.UTC)

	// Then every value should be converted
	require.NoError(t, err)
	assert.Equal(t, []int{0, 30}, cfg.StartMinutes)
	assert.Equal(t, 25*time.Minute, cfg.AcquisitionLength)
	assert.Equal(t, 3*time.Minute, cfg.Tolerance)

	require.Len(t, cfg.Legs, 2)
	assert.Equal(t, "transit", cfg.Legs[0].Name)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), cfg.Legs[0].Start)
	assert.Equal(t, time.Date(2024, 1, 3, 18, 30, 0, 0, time.UTC), cfg.Legs[0].Stop)
	assert.Equal(t, "station", cfg.Legs[1].Name)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), cfg.Legs[1].Start)

	assert.Equal(t, "/opt/acquire/bin/acquire", cfg.Process.Executable)
	assert.Equal(t, []string{"--headless", "--samples=1"}, cfg.Process.Args)
	assert.Equal(t, "acquire", cfg.Process.Name)
	assert.Equal(t, 2*time.Second, cfg.Process.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.Process.StopTimeout)

	assert.Equal(t, "/run/acqsched.pid", cfg.Daemon.PidFile)
	assert.Equal(t, "/var/lib/acqsched/journal.db", cfg.Daemon.JournalPath)
	assert.Equal(t, "info", cfg.Daemon.LogLevel)
}

func TestConfig_LoadFromFsWithDefaults(t *testing.T) {
	// Given an empty configuration file
	fs, path := writeConfig(t, "")

	// When loading configuration
	cfg, err := LoadFromFs(fs, path, time.UTC)

	// Then defaults should apply
	require.NoError(t, err)
	assert.Equal(t, []int{15, 45}, cfg.StartMinutes)
	assert.Equal(t, 29*time.Minute, cfg.AcquisitionLength)
	assert.Equal(t, 2*time.Minute, cfg.Tolerance)
	assert.Empty(t, cfg.Legs)
	assert.Equal(t, "IFCBacquire.Gtk", cfg.Process.Name)
	assert.Equal(t, []string{"noUI"}, cfg.Process.Args)
	assert.Equal(t, 5*time.Second, cfg.Process.SettleDelay)
	assert.Equal(t, 5*time.Second, cfg.Process.StopTimeout)
	assert.Equal(t, "debug", cfg.Daemon.LogLevel)
}

func TestConfig_StartMinutesAsArray(t *testing.T) {
	// Given minutes as a TOML array, unsorted and with a duplicate
	fs, path := writeConfig(t, `acquisition_start_minutes = [45, 15, 45]`)

	// When loading configuration
	cfg, err := LoadFromFs(fs, path, time.UTC)

	// Then minutes should be sorted and deduplicated
	require.NoError(t, err)
	assert.Equal(t, []int{15, 45}, cfg.StartMinutes)
}

func TestConfig_LegWithOffset(t *testing.T) {
	// Given a leg with an explicit UTC offset
	fs, path := writeConfig(t, `
[leg.cruise]
start_datetime = "2024-03-01T00:00:00-05:00"
stop_datetime = "2024-03-02T00:00:00-05:00"
`)

	// When loading configuration in another location
	cfg, err := LoadFromFs(fs, path, time.UTC)

	// Then the offset should be honored
	require.NoError(t, err)
	require.Len(t, cfg.Legs, 1)
	assert.True(t, cfg.Legs[0].Start.Equal(time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)))
}

func TestConfig_EnvironmentOverrides(t *testing.T) {
	// Given a file and environment overrides
	fs, path := writeConfig(t, `tolerance_minutes = 1`)
	t.Setenv("ACQSCHED_TOLERANCE_MINUTES", "4")
	t.Setenv("ACQSCHED_PROCESS_NAME", "acquire-test")

	// When loading configuration
	cfg, err := LoadFromFs(fs, path, time.UTC)

	// Then the environment should win
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, cfg.Tolerance)
	assert.Equal(t, "acquire-test", cfg.Process.Name)
}

func TestConfig_MissingFile(t *testing.T) {
	// When loading a file that does not exist
	_, err := LoadFromFs(afero.NewMemMapFs(), "/nope/acqsched.toml", time.UTC)

	// Then it should fail before validation
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfig_LoadFromFile(t *testing.T) {
	// Given a TOML configuration file on disk
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "acqsched.toml")
	err := os.WriteFile(configFile, []byte("acquisition_length_minutes = 10\n"), 0644)
	require.NoError(t, err)

	// When loading configuration from file
	cfg, err := LoadFromFile(configFile)

	// Then it should load the value
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.AcquisitionLength)
}

func TestConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{
			name:     "minute out of range",
			content:  `acquisition_start_minutes = "15,60"`,
			contains: "must be between 0 and 59",
		},
		{
			name:     "minute not an integer",
			content:  `acquisition_start_minutes = "15,abc"`,
			contains: "is not an integer",
		},
		{
			name:     "zero length",
			content:  `acquisition_length_minutes = 0`,
			contains: "must be greater than 0",
		},
		{
			name:     "negative tolerance",
			content:  `tolerance_minutes = -1`,
			contains: "must be non-negative",
		},
		{
			name: "leg start after stop",
			content: `
[leg.backwards]
start_datetime = "2024-01-05T00:00:00"
stop_datetime = "2024-01-04T00:00:00"
`,
			contains: "must not be after stop_datetime",
		},
		{
			name: "bad date-time",
			content: `
[leg.broken]
start_datetime = "yesterday"
stop_datetime = "2024-01-04T00:00:00"
`,
			contains: "is not an ISO-8601 date-time",
		},
		{
			name: "missing stop",
			content: `
[leg.open]
start_datetime = "2024-01-04T00:00:00"
`,
			contains: "stop_datetime: missing",
		},
		{
			name: "empty executable",
			content: `
[process]
executable = ""
`,
			contains: "process.executable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, path := writeConfig(t, tt.content)
			_, err := LoadFromFs(fs, path, time.UTC)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestConfig_RejectsOverlappingLegs(t *testing.T) {
	// Given two legs sharing 2024-01-03
	fs, path := writeConfig(t, `
[leg.first]
start_datetime = "2024-01-01T00:00:00"
stop_datetime = "2024-01-03T08:00:00"

[leg.second]
start_datetime = "2024-01-03T12:00:00"
stop_datetime = "2024-01-05T00:00:00"
`)

	// When loading configuration
	_, err := LoadFromFs(fs, path, time.UTC)

	// Then the later leg should be reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg.second")
	assert.Contains(t, err.Error(), `overlaps leg "first"`)
}

// defaultsOnly loads an empty file so every value comes from the defaults.
func defaultsOnly(t *testing.T) *Config {
	t.Helper()
	fs, path := writeConfig(t, "")
	cfg, err := LoadFromFs(fs, path, time.UTC)
	require.NoError(t, err)
	return cfg
}

func TestConfig_AdjacentLegsAreValid(t *testing.T) {
	cfg := defaultsOnly(t)
	assert.Empty(t, cfg.Legs)
	assert.Equal(t, []int{15, 45}, cfg.StartMinutes)
	cfg.Legs = []Leg{
		{Name: "a", Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Stop: time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)},
		{Name: "b", Start: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Stop: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
	}

	assert.NoError(t, cfg.Validate())
}

func TestLeg_Covers(t *testing.T) {
	leg := Leg{
		Name:  "transit",
		Start: time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC),
	}

	assert.False(t, leg.Covers(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)))
	assert.True(t, leg.Covers(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)))
	assert.True(t, leg.Covers(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)))
	assert.True(t, leg.Covers(time.Date(2024, 1, 3, 23, 0, 0, 0, time.UTC)))
	assert.False(t, leg.Covers(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))
}
