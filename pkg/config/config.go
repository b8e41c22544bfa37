package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"listing-scanner/pkg/locator"
	"listing-scanner/pkg/models"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LISTING_SCANNER_SCAN_DELAY.
const EnvPrefix = "LISTING_SCANNER"

// Config is the whole runtime configuration.
type Config struct {
	Target     TargetConfig                     `mapstructure:"target"`
	Scan       ScanConfig                       `mapstructure:"scan"`
	Timing     models.Timing                    `mapstructure:"timing"`
	Detail     DetailConfig                     `mapstructure:"detail"`
	Pagination PaginationConfig                 `mapstructure:"pagination"`
	Selectors  map[string][]models.SelectorSpec `mapstructure:"selectors"`
	Browser    BrowserConfig                    `mapstructure:"browser"`
	Proxy      ProxyConfig                      `mapstructure:"proxy"`
	Output     OutputConfig                     `mapstructure:"output"`
	Store      StoreConfig                      `mapstructure:"store"`
	Metrics    MetricsConfig                    `mapstructure:"metrics"`
	Log        LogConfig                        `mapstructure:"log"`
}

// TargetConfig says where the listing lives. Fixture, when set, is a
// directory of static HTML served instead of a browser; FixtureSlot is the
// element its detail fragments are mounted into.
type TargetConfig struct {
	URL         string `mapstructure:"url"`
	Fixture     string `mapstructure:"fixture"`
	FixtureSlot string `mapstructure:"fixture_slot"`
}

type ScanConfig struct {
	Filter       string        `mapstructure:"filter"`
	Delay        time.Duration `mapstructure:"delay"`
	PerPageCap   int           `mapstructure:"per_page_cap"`
	MaxPages     int           `mapstructure:"max_pages"`
	Jitter       float64       `mapstructure:"jitter"`
	SkipSeen     bool          `mapstructure:"skip_seen"`
	SeenCapacity int           `mapstructure:"seen_capacity"`
}

type DetailConfig struct {
	MinLength    int           `mapstructure:"min_length"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type PaginationConfig struct {
	URLFallback  bool          `mapstructure:"url_fallback"`
	URLParam     string        `mapstructure:"url_param"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type BrowserConfig struct {
	RemoteURL    string        `mapstructure:"remote_url"`
	Headless     bool          `mapstructure:"headless"`
	UserDataDir  string        `mapstructure:"user_data_dir"`
	UserAgent    string        `mapstructure:"user_agent"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"`
}

// ProxyConfig is an optional SOCKS5 proxy for the browser.
type ProxyConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	CheckURL string `mapstructure:"check_url"`
}

type OutputConfig struct {
	Dir            string `mapstructure:"dir"`
	Report         bool   `mapstructure:"report"`
	FailureCapture bool   `mapstructure:"failure_capture"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	timing := models.DefaultTiming()

	v.SetDefault("target.url", "")
	v.SetDefault("target.fixture", "")
	v.SetDefault("target.fixture_slot", "#job-details")

	v.SetDefault("scan.filter", "")
	v.SetDefault("scan.delay", 3*time.Second)
	v.SetDefault("scan.per_page_cap", 0)
	v.SetDefault("scan.max_pages", 0)
	v.SetDefault("scan.jitter", 0.25)
	v.SetDefault("scan.skip_seen", true)
	v.SetDefault("scan.seen_capacity", 1000)

	v.SetDefault("timing.click_settle", timing.ClickSettle)
	v.SetDefault("timing.detail_extra", timing.DetailExtra)
	v.SetDefault("timing.lazy_load_wait", timing.LazyLoadWait)
	v.SetDefault("timing.page_confirm", timing.PageConfirm)
	v.SetDefault("timing.page_settle", timing.PageSettle)
	v.SetDefault("timing.lazy_load_slack", timing.LazyLoadSlack)

	v.SetDefault("detail.min_length", 100)
	v.SetDefault("detail.poll_interval", 300*time.Millisecond)

	v.SetDefault("pagination.url_fallback", false)
	v.SetDefault("pagination.url_param", "page")
	v.SetDefault("pagination.poll_interval", 300*time.Millisecond)

	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.op_timeout", 20*time.Second)

	v.SetDefault("proxy.address", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.check_url", "https://check.torproject.org/api/ip")

	v.SetDefault("output.dir", "data")
	v.SetDefault("output.report", true)
	v.SetDefault("output.failure_capture", true)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "data/matches.db")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/scanner.log")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
}

// Load reads configuration into v and decodes it. An empty path looks for
// config.yaml in the working directory and tolerates its absence; an
// explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Selectors == nil {
		cfg.Selectors = map[string][]models.SelectorSpec{}
	}
	for role, specs := range DefaultSelectors() {
		if len(cfg.Selectors[role]) == 0 {
			cfg.Selectors[role] = specs
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and selector definitions.
func (c Config) Validate() error {
	if c.Target.URL == "" && c.Target.Fixture == "" {
		return fmt.Errorf("target.url or target.fixture is required")
	}
	if err := c.ScanParams().Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if c.Scan.Jitter < 0 || c.Scan.Jitter >= 1 {
		return fmt.Errorf("scan.jitter must be in [0, 1), got %v", c.Scan.Jitter)
	}
	if c.Scan.SeenCapacity < 0 {
		return fmt.Errorf("scan.seen_capacity cannot be negative")
	}

	timings := map[string]time.Duration{
		"timing.click_settle":      c.Timing.ClickSettle,
		"timing.detail_extra":      c.Timing.DetailExtra,
		"timing.lazy_load_wait":    c.Timing.LazyLoadWait,
		"timing.page_confirm":      c.Timing.PageConfirm,
		"timing.page_settle":       c.Timing.PageSettle,
		"detail.poll_interval":     c.Detail.PollInterval,
		"pagination.poll_interval": c.Pagination.PollInterval,
		"browser.op_timeout":       c.Browser.OpTimeout,
	}
	for key, d := range timings {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", key)
		}
	}
	if c.Detail.MinLength < 0 {
		return fmt.Errorf("detail.min_length cannot be negative")
	}

	if _, err := locator.BuildTable(c.Selectors); err != nil {
		return err
	}
	for _, role := range []string{string(locator.RoleItem), string(locator.RoleDetail)} {
		if len(c.Selectors[role]) == 0 {
			return fmt.Errorf("selectors.%s must not be empty", role)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	return nil
}

// ScanParams are the Start arguments described by the scan section.
func (c Config) ScanParams() models.ScanParams {
	return models.ScanParams{
		Filter:     c.Scan.Filter,
		BaseDelay:  c.Scan.Delay,
		PerPageCap: c.Scan.PerPageCap,
		MaxPages:   c.Scan.MaxPages,
	}
}
