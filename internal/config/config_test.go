package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "@hourly", cfg.RefreshCron)
	assert.Equal(t, 365, cfg.HorizonDays)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "@hourly", cfg.RefreshCron)
	assert.Equal(t, 365, cfg.HorizonDays)
	assert.NotNil(t, cfg.Feeds)
}

func TestNormalizeDropsMalformedFallbackDates(t *testing.T) {
	cfg := Config{
		FallbackBlockedDates: []string{"2024-06-15", "June 16", "2024-6-1", "", "2024-07-01"},
	}
	cfg.Normalize()
	assert.Equal(t, []string{"2024-06-15", "2024-07-01"}, cfg.FallbackBlockedDates)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	in := DefaultConfig()
	in.Listen = "0.0.0.0:9090"
	in.Feeds = []FeedConfig{{ID: "airbnb", URL: "https://a.example/cal.ics?token=111"}}
	in.FallbackBlockedDates = []string{"2025-01-01"}
	in.Property.Name = "Beachside Retreat"
	in.Property.MaxGuests = 16

	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", out.Listen)
	assert.Equal(t, in.Feeds, out.Feeds)
	assert.Equal(t, []string{"2025-01-01"}, out.FallbackBlockedDates)
	assert.Equal(t, "Beachside Retreat", out.Property.Name)
	assert.Equal(t, 16, out.Property.MaxGuests)
}

func TestFeedURLNotMarshalledToJSON(t *testing.T) {
	// FeedConfig may be embedded in API-facing structures; its URL must
	// never serialize.
	f := FeedConfig{ID: "airbnb", URL: "https://a.example/cal.ics?token=111"}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "token=111")
	assert.Contains(t, string(data), "airbnb")
}
