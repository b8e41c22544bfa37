package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"listing-scanner/pkg/models"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "target:\n  url: https://www.linkedin.com/jobs/search/?keywords=go\n")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Scan.Delay)
	assert.Equal(t, 0.25, cfg.Scan.Jitter)
	assert.Equal(t, models.DefaultTiming(), cfg.Timing)
	assert.Equal(t, 300*time.Millisecond, cfg.Detail.PollInterval)
	assert.Equal(t, "page", cfg.Pagination.URLParam)
	assert.Equal(t, DefaultSelectors(), cfg.Selectors)
	assert.Equal(t, "data", cfg.Output.Dir)
}

func TestLoadOverrides(t *testing.T) {
	yaml := `
target:
  url: https://example.com/list
scan:
  filter: "python, rust"
  delay: 1500ms
  per_page_cap: 10
  max_pages: 3
timing:
  page_confirm: 12s
selectors:
  item:
    - css: ".row"
  next_page:
    - tag: button
      attr: aria-label
      contains: next
      exclude: [previous]
`
	path := writeFile(t, t.TempDir(), "config.yaml", yaml)
	t.Setenv("LISTING_SCANNER_SCAN_MAX_PAGES", "5")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, models.ScanParams{
		Filter:     "python, rust",
		BaseDelay:  1500 * time.Millisecond,
		PerPageCap: 10,
		MaxPages:   5,
	}, cfg.ScanParams())
	assert.Equal(t, 12*time.Second, cfg.Timing.PageConfirm)
	assert.Equal(t, 2*time.Second, cfg.Timing.PageSettle)
	assert.Equal(t, []models.SelectorSpec{{CSS: ".row"}}, cfg.Selectors["item"])
	assert.Equal(t, []models.SelectorSpec{{Tag: "button", Attr: "aria-label", Contains: "next", Exclude: []string{"previous"}}}, cfg.Selectors["next_page"])
	assert.Equal(t, DefaultSelectors()["detail"], cfg.Selectors["detail"], "missing roles keep their defaults")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	path := writeFile(t, t.TempDir(), "config.yaml", "target:\n  fixture: testdata\n")
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "no target", mutate: func(c *Config) { c.Target = TargetConfig{} }, want: "target.url"},
		{name: "negative delay", mutate: func(c *Config) { c.Scan.Delay = -time.Second }, want: "base delay"},
		{name: "negative cap", mutate: func(c *Config) { c.Scan.PerPageCap = -1 }, want: "per-page cap"},
		{name: "negative max pages", mutate: func(c *Config) { c.Scan.MaxPages = -2 }, want: "max pages"},
		{name: "jitter too large", mutate: func(c *Config) { c.Scan.Jitter = 1 }, want: "scan.jitter"},
		{name: "negative timing", mutate: func(c *Config) { c.Timing.PageSettle = -time.Second }, want: "timing.page_settle"},
		{name: "unknown role", mutate: func(c *Config) {
			c.Selectors["sidebar"] = []models.SelectorSpec{{CSS: ".x"}}
		}, want: "unknown selector role"},
		{name: "empty item role", mutate: func(c *Config) { c.Selectors["item"] = nil }, want: "selectors.item"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: "log.level"},
		{name: "store without path", mutate: func(c *Config) {
			c.Store = StoreConfig{Enabled: true}
		}, want: "store.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidConfigPasses(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func clearElasticEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ELASTIC_URL", "ELASTIC_USERNAME", "ELASTIC_PASSWORD", "ELASTIC_INDEX", "ELASTIC_SKIP_VERIFY", "ELASTIC_MAX_RETRIES", "ELASTIC_RETRY_BACKOFF"} {
		t.Setenv(key, "")
	}
}

func TestLoadElasticConfig(t *testing.T) {
	clearElasticEnv(t)
	env := writeFile(t, t.TempDir(), ".env", `
# local cluster
ELASTIC_URL=https://localhost:9200
ELASTIC_USERNAME=elastic
ELASTIC_PASSWORD=changeme
ELASTIC_SKIP_VERIFY=true
ELASTIC_RETRY_BACKOFF=2s
`)

	cfg, err := LoadElasticConfig(filepath.Join(t.TempDir(), "missing.env"), env)
	require.NoError(t, err)

	assert.Equal(t, &ElasticConfig{
		URL:          "https://localhost:9200",
		Username:     "elastic",
		Password:     "changeme",
		Index:        "listing-matches",
		SkipVerify:   true,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}, cfg)
}

func TestLoadElasticConfigEnvOverridesFile(t *testing.T) {
	clearElasticEnv(t)
	env := writeFile(t, t.TempDir(), ".env", "ELASTIC_URL=http://file:9200\nELASTIC_USERNAME=u\nELASTIC_PASSWORD=p\n")
	t.Setenv("ELASTIC_INDEX", "from-env")

	cfg, err := LoadElasticConfig(env)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Index)
}

func TestLoadElasticConfigDisabled(t *testing.T) {
	clearElasticEnv(t)

	_, err := LoadElasticConfig(filepath.Join(t.TempDir(), ".env"))

	assert.ErrorIs(t, err, ErrElasticDisabled)
}

func TestLoadElasticConfigRequiresCredentials(t *testing.T) {
	clearElasticEnv(t)
	env := writeFile(t, t.TempDir(), ".env", "ELASTIC_URL=http://localhost:9200\n")

	_, err := LoadElasticConfig(env)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ELASTIC_USERNAME")
}
