package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all nordata configuration.
type Config struct {
	// Root directory for all downloaded data. Empty means "use the
	// fallback chain", see ResolveDataDir.
	DataDir string `yaml:"data_dir"`

	// HTTP session defaults shared by every source.
	HTTP HTTPConfig `yaml:"http"`

	// Per-source settings.
	NPRA   NPRAConfig   `yaml:"npra"`
	NILU   NILUConfig   `yaml:"nilu"`
	SSB    SSBConfig    `yaml:"ssb"`
	Entsoe EntsoeConfig `yaml:"entsoe"`

	// Run ledger.
	Ledger LedgerConfig `yaml:"ledger"`
}

// HTTPConfig configures the retrying HTTP session.
type HTTPConfig struct {
	Timeout           string  `yaml:"timeout"`      // base per-request timeout
	MaxRetries        int     `yaml:"max_retries"`  // total attempts per request
	BackoffBase       float64 `yaml:"backoff_base"` // wait = base^attempt seconds
	BackoffCap        string  `yaml:"backoff_cap"`  // upper bound on the wait
	Jitter            float64 `yaml:"jitter"`       // +- seconds added to the wait
	MinWait           string  `yaml:"min_wait"`     // lower bound on the wait
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent"`
}

// NPRAConfig configures the traffic-registration source.
type NPRAConfig struct {
	BaseURL     string `yaml:"base_url"`
	WindowHours int    `yaml:"window_hours"` // byHour query span per request
}

// NILUConfig configures the air-quality source.
type NILUConfig struct {
	BaseURL  string `yaml:"base_url"`
	FromYear int    `yaml:"from_year"`
	ToYear   int    `yaml:"to_year"` // 0 means the current year
}

// SSBConfig configures the Statistics Norway source.
type SSBConfig struct {
	BaseURL     string `yaml:"base_url"`
	PopFromYear int    `yaml:"pop_from_year"` // municipal population, first Tid
	PopToYear   int    `yaml:"pop_to_year"`
}

// EntsoeConfig configures the transparency-platform source.
type EntsoeConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Token      string   `yaml:"token"` // securityToken; ENTSOE_API_TOKEN overrides
	FromYear   int      `yaml:"from_year"`
	ToYear     int      `yaml:"to_year"`
	Zones      []string `yaml:"zones"`       // empty means all Nordic bidding zones
	UnitsFrom  string   `yaml:"units_from"`  // per-unit job start, YYYY-MM
	UnitsTo    string   `yaml:"units_to"`    // per-unit job end, YYYY-MM
	DayWorkers int      `yaml:"day_workers"` // concurrent day windows per area
}

// LedgerConfig configures the run ledger database.
type LedgerConfig struct {
	Path string `yaml:"path"` // empty means <data_dir>/nordata.db
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:           "8s",
			MaxRetries:        6,
			BackoffBase:       1.8,
			BackoffCap:        "60s",
			Jitter:            0.4,
			MinWait:           "200ms",
			RequestsPerSecond: 0, // unlimited unless a source sets a pace
			UserAgent:         "nordata/0.3",
		},

		NPRA: NPRAConfig{
			BaseURL:     "https://www.vegvesen.no/trafikkdata/api/",
			WindowHours: 100,
		},

		NILU: NILUConfig{
			BaseURL:  "https://api.nilu.no",
			FromYear: 2010,
			ToYear:   0,
		},

		SSB: SSBConfig{
			BaseURL:     "https://data.ssb.no/api",
			PopFromYear: 1986,
			PopToYear:   2024,
		},

		Entsoe: EntsoeConfig{
			BaseURL:    "https://web-api.tp.entsoe.eu/api",
			FromYear:   2014,
			ToYear:     2024,
			UnitsFrom:  "2014-01",
			UnitsTo:    "2025-06",
			DayWorkers: 2,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. A local .env file is read before environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Values from a .env file become visible to os.Getenv; variables already
	// set in the environment win.
	_ = godotenv.Load()

	if dir := os.Getenv("NORDATA_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if timeout := os.Getenv("NORDATA_HTTP_TIMEOUT"); timeout != "" {
		c.HTTP.Timeout = timeout
	}
	if token := os.Getenv("ENTSOE_API_TOKEN"); token != "" {
		c.Entsoe.Token = token
	}
}

// ResolveDataDir returns the directory all outputs live under, creating it
// if needed. An explicitly configured directory must be usable; otherwise
// the chain is home, then the working directory.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		if err := os.MkdirAll(c.DataDir, 0755); err != nil {
			return "", fmt.Errorf("data dir %s not usable: %w", c.DataDir, err)
		}
		return c.DataDir, nil
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "nordata-data"))
	}
	candidates = append(candidates, filepath.Join(".", "data"))

	var lastErr error
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0755); err != nil {
			lastErr = err
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("no usable data directory: %w", lastErr)
}

// SourceDir returns (and creates) the per-source subdirectory of the data dir.
func (c *Config) SourceDir(name string) (string, error) {
	root, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// GetHTTPTimeout returns the base request timeout as a duration.
func (c *Config) GetHTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.Timeout)
	if err != nil {
		return 8 * time.Second
	}
	return d
}

// GetBackoffCap returns the retry wait upper bound as a duration.
func (c *Config) GetBackoffCap() time.Duration {
	d, err := time.ParseDuration(c.HTTP.BackoffCap)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetMinWait returns the retry wait lower bound as a duration.
func (c *Config) GetMinWait() time.Duration {
	d, err := time.ParseDuration(c.HTTP.MinWait)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// LedgerPath returns the run-ledger location for a resolved data dir.
func (c *Config) LedgerPath(dataDir string) string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(dataDir, "nordata.db")
}

// NILUToYear returns the last year the air-quality job fetches.
func (c *Config) NILUToYear(now time.Time) int {
	if c.NILU.ToYear > 0 {
		return c.NILU.ToYear
	}
	return now.Year()
}
