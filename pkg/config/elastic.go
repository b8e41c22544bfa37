package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ErrElasticDisabled means no ELASTIC_URL was configured.
var ErrElasticDisabled = errors.New("elasticsearch is not configured")

// ElasticConfig holds the Elasticsearch settings read from .env.
type ElasticConfig struct {
	URL          string
	Username     string
	Password     string
	Index        string
	SkipVerify   bool
	MaxRetries   int
	RetryBackoff time.Duration
}

// envSearchPaths lists the .env candidates around the working directory.
func envSearchPaths() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return []string{
		filepath.Join(cwd, ".env"),
		filepath.Join(cwd, "..", ".env"),
		filepath.Join(cwd, "..", "..", ".env"),
	}, nil
}

// LoadElasticConfig reads the first existing .env among paths (the working
// directory and its two parents when none are given). Process environment
// variables override the file.
func LoadElasticConfig(paths ...string) (*ElasticConfig, error) {
	if len(paths) == 0 {
		var err error
		if paths, err = envSearchPaths(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetDefault("elastic_index", "listing-matches")
	v.SetDefault("elastic_skip_verify", false)
	v.SetDefault("elastic_max_retries", 3)
	v.SetDefault("elastic_retry_backoff", 5*time.Second)

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		log.Info().Str("file", p).Msg("✅ .env loaded")
		break
	}

	cfg := &ElasticConfig{
		URL:          v.GetString("elastic_url"),
		Username:     v.GetString("elastic_username"),
		Password:     v.GetString("elastic_password"),
		Index:        v.GetString("elastic_index"),
		SkipVerify:   v.GetBool("elastic_skip_verify"),
		MaxRetries:   v.GetInt("elastic_max_retries"),
		RetryBackoff: v.GetDuration("elastic_retry_backoff"),
	}

	if cfg.URL == "" {
		return nil, ErrElasticDisabled
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("ELASTIC_USERNAME is required when ELASTIC_URL is set")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("ELASTIC_PASSWORD is required when ELASTIC_URL is set")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("ELASTIC_MAX_RETRIES cannot be negative")
	}
	return cfg, nil
}
