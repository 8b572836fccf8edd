package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:00", want: 9 * time.Hour},
		{in: "17:30", want: 17*time.Hour + 30*time.Minute},
		{in: " 06:00 ", want: 6 * time.Hour},
		{in: "25:00", wantErr: true},
		{in: "9am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"mon", "Wednesday", " FRI "})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	_, err = ParseWeekdays([]string{"mon", "funday"})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	var cfg Config
	cfg.Feb29 = "whenever"
	cfg.Normalize()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.Equal(t, "00:00", cfg.StartOfDay)
	assert.Equal(t, []string{"mon", "tue", "wed", "thu", "fri"}, cfg.WorkDays)
	assert.Equal(t, "09:00", cfg.WorkStart)
	assert.Equal(t, "17:00", cfg.WorkEnd)
	assert.Equal(t, "none", cfg.Feb29, "unknown policy falls back to none")
	assert.Equal(t, "* * * * *", cfg.RefreshCron)
	assert.NotNil(t, cfg.Alarms)
}

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_ReadsAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `listen: "0.0.0.0:9090"
timezone: "Europe/Berlin"
feb29: "feb28"
alarms:
  - id: "standup"
    message: "daily standup"
    start: "2024-05-06T09:55:00+02:00"
    rrule: "FREQ=DAILY"
    work_time_only: true
  - message: "rent"
    start: "2024-06-01"
    rrule: "FREQ=MONTHLY;BYMONTHDAY=1"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "feb28", cfg.Feb29)
	assert.Equal(t, "09:00", cfg.WorkStart, "missing fields are normalized")

	require.Len(t, cfg.Alarms, 2)
	assert.Equal(t, "standup", cfg.Alarms[0].ID)
	assert.True(t, cfg.Alarms[0].WorkTimeOnly)
	assert.Equal(t, "FREQ=MONTHLY;BYMONTHDAY=1", cfg.Alarms[1].RRule)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:7070"
	cfg.Alarms = append(cfg.Alarms, AlarmConfig{
		Message: "backup",
		Start:   "2024-05-06T22:00:00Z",
		RRule:   "FREQ=WEEKLY;BYDAY=MO",
	})
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSave_Validation(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}
