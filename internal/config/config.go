package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

const appName = "profilepulse"

// EnvPrefix is the prefix for environment overrides, e.g. PROFILEPULSE_DB_PATH
const EnvPrefix = "PROFILEPULSE"

// ProviderAnthropic is the only supported analysis provider
const ProviderAnthropic = "anthropic"

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Scraping ScrapingConfig `toml:"scraping"`
	Analysis AnalysisConfig `toml:"analysis"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// AdminToken guards destructive endpoints. Empty disables them.
	AdminToken string `toml:"admin_token"`
}

type DatabaseConfig struct {
	// Path to the SQLite file. Empty means <config dir>/profilepulse.db.
	Path string `toml:"path"`
}

type ScrapingConfig struct {
	BaseURL                  string `toml:"base_url"`
	Headless                 bool   `toml:"headless"`
	ChromePath               string `toml:"chrome_path"`
	CookiesPath              string `toml:"cookies_path"`
	NavigationTimeoutSeconds int    `toml:"navigation_timeout_seconds"`
	SettleDelayMillis        int    `toml:"settle_delay_millis"`
	MaxDiscovered            int    `toml:"max_discovered"`
	MaxScrolls               int    `toml:"max_scrolls"`
	FreshnessHours           int    `toml:"freshness_hours"`
	DebugScreenshots         bool   `toml:"debug_screenshots"`
}

type AnalysisConfig struct {
	Provider          string `toml:"provider"`
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	MaxTokens         int    `toml:"max_tokens"`
	BatchSize         int    `toml:"batch_size"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	CacheExchanges    bool   `toml:"cache_exchanges"`
}

type ScheduleConfig struct {
	Enabled               bool   `toml:"enabled"`
	RescrapeIntervalHours int    `toml:"rescrape_interval_hours"`
	Timezone              string `toml:"timezone"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// Format is "console" or "json"
	Format string `toml:"format"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr: ":3000",
		},
		Scraping: ScrapingConfig{
			BaseURL:                  "https://x.com",
			Headless:                 true,
			NavigationTimeoutSeconds: 30,
			SettleDelayMillis:        3000,
			MaxDiscovered:            50,
			MaxScrolls:               200,
			FreshnessHours:           24,
		},
		Analysis: AnalysisConfig{
			Provider:          ProviderAnthropic,
			Model:             "claude-sonnet-4-20250514",
			MaxTokens:         1024,
			BatchSize:         10,
			RequestsPerMinute: 50,
		},
		Schedule: ScheduleConfig{
			RescrapeIntervalHours: 2,
			Timezone:              "UTC",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// NavigationTimeout is the overall window for reaching a page's content marker
func (s ScrapingConfig) NavigationTimeout() time.Duration {
	return time.Duration(s.NavigationTimeoutSeconds) * time.Second
}

// SettleDelay is the pause after scrolling or navigating
func (s ScrapingConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelayMillis) * time.Millisecond
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.Analysis.Provider != ProviderAnthropic {
		return fmt.Errorf("unsupported analysis provider %q", c.Analysis.Provider)
	}
	if c.Analysis.BatchSize < 1 {
		return fmt.Errorf("analysis.batch_size must be positive, got %d", c.Analysis.BatchSize)
	}
	if c.Scraping.MaxDiscovered < 1 {
		return fmt.Errorf("scraping.max_discovered must be positive, got %d", c.Scraping.MaxDiscovered)
	}
	if c.Schedule.Enabled && c.Schedule.RescrapeIntervalHours < 1 {
		return fmt.Errorf("schedule.rescrape_interval_hours must be positive, got %d", c.Schedule.RescrapeIntervalHours)
	}
	return nil
}

// DatabasePath resolves the SQLite file location
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".db"), nil
}

// CookiesPath resolves the stored session cookie file location
func (c *Config) CookiesPath() (string, error) {
	if c.Scraping.CookiesPath != "" {
		return c.Scraping.CookiesPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cookies.json"), nil
}

// envOverrides are read from PROFILEPULSE_* variables. Tagged names also fall
// back to the bare variable, so ANTHROPIC_API_KEY works too.
type envOverrides struct {
	APIKey     string `envconfig:"ANTHROPIC_API_KEY"`
	DBPath     string `envconfig:"DB_PATH"`
	Addr       string `envconfig:"ADDR"`
	AdminToken string `envconfig:"ADMIN_TOKEN"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	ChromePath string `envconfig:"CHROME_PATH"`
	Headless   string `envconfig:"HEADLESS"`
}

// ApplyEnv overlays environment variables on top of file values
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	if env.APIKey != "" {
		c.Analysis.APIKey = env.APIKey
	}
	if env.DBPath != "" {
		c.Database.Path = env.DBPath
	}
	if env.Addr != "" {
		c.Server.Addr = env.Addr
	}
	if env.AdminToken != "" {
		c.Server.AdminToken = env.AdminToken
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.ChromePath != "" {
		c.Scraping.ChromePath = env.ChromePath
	}
	switch env.Headless {
	case "":
	case "1", "true", "yes":
		c.Scraping.Headless = true
	case "0", "false", "no":
		c.Scraping.Headless = false
	default:
		return fmt.Errorf("invalid %s_HEADLESS value %q", EnvPrefix, env.Headless)
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file (creating it with defaults when missing) and
// applies environment overrides.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadPath(path)
}

// LoadPath is Load for an explicit file location
func LoadPath(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if os.IsNotExist(err) {
		cfg = Default()
		if err := cfg.SaveFile(path); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile decodes path over the defaults, so omitted keys keep their default value
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path with owner-only permissions
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}
