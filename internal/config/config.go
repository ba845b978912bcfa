package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// FeedConfig describes a single iCal feed in the static config file.
// Feed URLs may also arrive via environment variables; this list is one
// of the channels the source resolver unions.
type FeedConfig struct {
	// ID is the opaque label reported in API responses and logs.
	ID string `yaml:"id" json:"id"`
	// URL is the iCal export endpoint. It embeds a provider token, so it
	// is a secret: never logged in full, never returned by any API.
	URL string `yaml:"url" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the maintenance
// endpoints (cache refresh). Public endpoints are never gated.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PropertyConfig is the static marketing content for the property. It is
// served verbatim (secret-free) to the site front end.
type PropertyConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Location    string   `yaml:"location" json:"location"`
	Bedrooms    int      `yaml:"bedrooms" json:"bedrooms"`
	Bathrooms   int      `yaml:"bathrooms" json:"bathrooms"`
	MaxGuests   int      `yaml:"max_guests" json:"maxGuests"`
	Description string   `yaml:"description" json:"description"`
	Amenities   []string `yaml:"amenities" json:"amenities"`

	Policies struct {
		CheckIn    string   `yaml:"check_in" json:"checkIn"`
		CheckOut   string   `yaml:"check_out" json:"checkOut"`
		HouseRules []string `yaml:"house_rules" json:"houseRules"`
	} `yaml:"policies" json:"policies"`

	Contact struct {
		Email string `yaml:"email" json:"email"`
		Phone string `yaml:"phone,omitempty" json:"phone,omitempty"`
	} `yaml:"contact" json:"contact"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// RefreshCron is a cron spec for the background cache warm-up. The
	// site front end polls hourly, so the default keeps pace with it.
	RefreshCron string `yaml:"refresh"`

	// HorizonDays bounds how far ahead recurring blocks are expanded.
	HorizonDays int `yaml:"horizon_days"`

	// Feeds is the static feed list, unioned with env-provided URLs.
	Feeds []FeedConfig `yaml:"feeds"`

	// FallbackBlockedDates is served, flagged stale, when every feed
	// fails. YYYY-MM-DD strings; malformed entries are dropped.
	FallbackBlockedDates []string `yaml:"fallback_blocked_dates"`

	// BasicAuth, if non-nil with both fields set, gates the maintenance
	// endpoints.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`

	// Property is the marketing content block.
	Property PropertyConfig `yaml:"property"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		LogLevel:             "info",
		RefreshCron:          "@hourly",
		HorizonDays:          365,
		Feeds:                []FeedConfig{},
		FallbackBlockedDates: []string{},
	}
}

var civilDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Normalize fills missing/zero values with defaults so partially-filled
// configs still behave correctly, and drops malformed fallback dates.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "@hourly"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 365
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}

	kept := make([]string, 0, len(c.FallbackBlockedDates))
	for _, d := range c.FallbackBlockedDates {
		if civilDateRe.MatchString(d) {
			kept = append(kept, d)
		}
	}
	c.FallbackBlockedDates = kept
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (parent
// directory created as needed) and returned. Otherwise the YAML is read,
// unmarshalled and normalized.
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions; the config file can hold feed URLs, so it is treated as
// sensitive.
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

	tmp, err := os.CreateTemp(dir, ".staycal-config-*.tmp")
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
