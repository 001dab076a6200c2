package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolFallback(t *testing.T) {
	v, err := envBool("TEST_BOOL_MISSING", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected fallback true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidTimeout(t *testing.T) {
	t.Setenv("TOOLBOX_HTTP_TIMEOUT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid TOOLBOX_HTTP_TIMEOUT")
	}
	if got := err.Error(); !strings.Contains(got, "TOOLBOX_HTTP_TIMEOUT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention TOOLBOX_HTTP_TIMEOUT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("TOOLBOX_HTTP_TIMEOUT", "abc")
	t.Setenv("TOOLBOX_S3_USE_SSL", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "TOOLBOX_HTTP_TIMEOUT") {
		t.Fatalf("error should mention TOOLBOX_HTTP_TIMEOUT, got: %s", got)
	}
	if !strings.Contains(got, "TOOLBOX_S3_USE_SSL") {
		t.Fatalf("error should mention TOOLBOX_S3_USE_SSL, got: %s", got)
	}
}

func TestLoadRejectsBadBackendURL(t *testing.T) {
	t.Setenv("TOOLBOX_BACKEND_URL", "localhost:5555")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject a URL without scheme")
	}
}

func TestLoadRequiresS3Credentials(t *testing.T) {
	t.Setenv("TOOLBOX_S3_ENDPOINT", "minio:9000")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to require S3 credentials")
	}
	t.Setenv("TOOLBOX_S3_ACCESS_KEY", "minio")
	t.Setenv("TOOLBOX_S3_SECRET_KEY", "minio123")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.BackendURL != "http://127.0.0.1:5555/api/v1" {
		t.Fatalf("unexpected default backend URL %q", cfg.BackendURL)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", cfg.HTTPTimeout)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3 SSL on by default")
	}
	if cfg.Debug() {
		t.Fatal("default log level must not be debug")
	}
}
