package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.Source.Template = "https://example.test/content/abc{}.png"
	return cfg
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Fetch.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.BackoffBase != 100*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 100ms", cfg.Fetch.BackoffBase)
	}
	if cfg.Source.UpperBound != 1000 || cfg.Source.RemoteWidth != 6 || cfg.Cache.Width != 3 {
		t.Errorf("unexpected layout defaults: %+v %+v", cfg.Source, cfg.Cache)
	}
	if cfg.Output.LedgerPath != "converted_photos.log" || cfg.Output.PDFPath != "output.pdf" {
		t.Errorf("unexpected output defaults: %+v", cfg.Output)
	}
	want := []int{429, 500, 502, 503, 504}
	if len(cfg.Fetch.RetryStatuses) != len(want) {
		t.Fatalf("RetryStatuses = %v, want %v", cfg.Fetch.RetryStatuses, want)
	}
	for i := range want {
		if cfg.Fetch.RetryStatuses[i] != want[i] {
			t.Fatalf("RetryStatuses = %v, want %v", cfg.Fetch.RetryStatuses, want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SOURCE_TEMPLATE", "https://env.test/p/%06d.png")
	t.Setenv("FETCH_MAX_ATTEMPTS", "3")
	t.Setenv("FETCH_BACKOFF_BASE", "250ms")
	t.Setenv("FETCH_RETRY_STATUSES", "503, 429")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("WATERMARK_MARGIN", "7.5")
	t.Setenv("FETCH_TIMEOUT", "not-a-duration")

	cfg := FromEnv()
	if cfg.Source.Template != "https://env.test/p/%06d.png" {
		t.Errorf("Template = %q", cfg.Source.Template)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.BackoffBase != 250*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 250ms", cfg.Fetch.BackoffBase)
	}
	if len(cfg.Fetch.RetryStatuses) != 2 || cfg.Fetch.RetryStatuses[0] != 503 || cfg.Fetch.RetryStatuses[1] != 429 {
		t.Errorf("RetryStatuses = %v", cfg.Fetch.RetryStatuses)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Worker.Concurrency)
	}
	if cfg.Watermark.Margin != 7.5 {
		t.Errorf("Margin = %v, want 7.5", cfg.Watermark.Margin)
	}
	if cfg.Fetch.Timeout != Default().Fetch.Timeout {
		t.Errorf("unparsable timeout should keep default, got %v", cfg.Fetch.Timeout)
	}
}

func TestLoadFileOverlaysOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagegrab.yaml")
	body := `
source:
  template: "https://file.test/x{}.png"
  probe_delay: 5ms
fetch:
  max_attempts: 2
cache:
  dir: pages
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Source.Template != "https://file.test/x{}.png" {
		t.Errorf("Template = %q", cfg.Source.Template)
	}
	if cfg.Source.ProbeDelay != 5*time.Millisecond {
		t.Errorf("ProbeDelay = %v", cfg.Source.ProbeDelay)
	}
	if cfg.Fetch.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d", cfg.Fetch.MaxAttempts)
	}
	if cfg.Cache.Dir != "pages" {
		t.Errorf("Cache.Dir = %q", cfg.Cache.Dir)
	}
	if cfg.Cache.Prefix != "photo_" || cfg.Source.UpperBound != 1000 {
		t.Errorf("unnamed fields changed: %+v %+v", cfg.Cache, cfg.Source)
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("missing file: got %v, want ErrConfigNotFound", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fetch:\n  timeout: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path, Default()); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"empty template":    func(c *Config) { c.Source.Template = "" },
		"no placeholder":    func(c *Config) { c.Source.Template = "https://x.test/a.png" },
		"two placeholders":  func(c *Config) { c.Source.Template = "https://x.test/{}/%d.png" },
		"zero attempts":     func(c *Config) { c.Fetch.MaxAttempts = 0 },
		"zero upper bound":  func(c *Config) { c.Source.UpperBound = 0 },
		"no ledger":         func(c *Config) { c.Output.LedgerPath = ""; c.Output.LedgerRedisURL = "" },
		"negative workers":  func(c *Config) { c.Worker.Concurrency = -1 },
		"zero cluster dist": func(c *Config) { c.Watermark.ClusterDistance = 0 },
	}
	for name, mutate := range cases {
		c := validConfig()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestPlaceholderCountIgnoresEscapedPercent(t *testing.T) {
	if _, err := PlaceholderCount("https://x.test/100%%/%06d.png"); err != nil {
		t.Fatalf("escaped percent miscounted: %v", err)
	}
}
