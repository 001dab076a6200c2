// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Backend settings.
	BackendURL   string // API root of the tool execution backend.
	HTTPTimeout  time.Duration
	PollInterval time.Duration // Interval for job list polling in watch mode.

	// MCP server settings. An empty address serves over stdio.
	MCPAddr string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Result archive settings. With S3Endpoint set, archives go to S3-compatible
	// storage; otherwise they are written below ArchiveDir.
	ArchiveDir  string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		BackendURL:   envStr("TOOLBOX_BACKEND_URL", "http://127.0.0.1:5555/api/v1"),
		MCPAddr:      envStr("TOOLBOX_MCP_ADDR", ""),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "toolbox"),
		ArchiveDir:   envStr("TOOLBOX_ARCHIVE_DIR", "results"),
		S3Endpoint:   envStr("TOOLBOX_S3_ENDPOINT", ""),
		S3AccessKey:  envStr("TOOLBOX_S3_ACCESS_KEY", ""),
		S3SecretKey:  envStr("TOOLBOX_S3_SECRET_KEY", ""),
		S3Bucket:     envStr("TOOLBOX_S3_BUCKET", "toolbox-results"),
		S3Region:     envStr("TOOLBOX_S3_REGION", ""),
		LogLevel:     envStr("TOOLBOX_LOG_LEVEL", "info"),
	}

	var err error
	cfg.HTTPTimeout, err = envDuration("TOOLBOX_HTTP_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.PollInterval, err = envDuration("TOOLBOX_POLL_INTERVAL", 5*time.Second)
	collect(err)
	cfg.OTELInsecure, err = envBool("TOOLBOX_OTEL_INSECURE", false)
	collect(err)
	cfg.S3UseSSL, err = envBool("TOOLBOX_S3_USE_SSL", true)
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and well formed.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: TOOLBOX_BACKEND_URL=%q must be an http(s) URL", c.BackendURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: TOOLBOX_HTTP_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: TOOLBOX_POLL_INTERVAL must be positive")
	}
	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("config: TOOLBOX_S3_ACCESS_KEY and TOOLBOX_S3_SECRET_KEY are required with TOOLBOX_S3_ENDPOINT")
	}
	return nil
}

// Debug reports whether the log level enables debug output.
func (c Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
