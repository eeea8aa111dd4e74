package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// SourceConfig describes the remote page server.
type SourceConfig struct {
	// Template holds one printf verb for the page index, e.g.
	// "https://host/content/abc%s.png" or "https://host/p/%06d.png".
	// A bare "{}" placeholder is accepted as well.
	Template    string
	RemoteWidth int
	UpperBound  int
	ProbeDelay  time.Duration
}

// FetchConfig controls a single page fetch.
type FetchConfig struct {
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
	Jitter        float64
	RetryStatuses []int
	RequireImage  bool
	UserAgent     string
}

// WorkerConfig defines bulk download parallelism.
type WorkerConfig struct {
	Concurrency int
	Progress    bool
}

// CacheConfig describes the local page cache layout.
type CacheConfig struct {
	Dir    string
	Prefix string
	Width  int
	Ext    string
}

// OutputConfig holds artifact and ledger locations.
type OutputConfig struct {
	PDFPath         string
	LedgerPath      string
	LedgerRedisURL  string
	LedgerRedisKey  string
	WatermarkSuffix string
}

// WatermarkConfig holds the redaction geometry.
type WatermarkConfig struct {
	ClusterDistance float64
	Margin          float64
}

// PublishConfig enables uploading artifacts to S3 compatible storage.
type PublishConfig struct {
	S3URI     string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Source    SourceConfig
	Fetch     FetchConfig
	Worker    WorkerConfig
	Cache     CacheConfig
	Output    OutputConfig
	Watermark WatermarkConfig
	Publish   PublishConfig
	Metrics   MetricsConfig
}

// DefaultRetryStatuses are the HTTP statuses retried by the fetcher.
var DefaultRetryStatuses = []int{429, 500, 502, 503, 504}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     parseBool(devDefaultPretty()),
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Axiom: AxiomConfig{
			Dataset:       "dev_pagegrab",
			FlushInterval: 10 * time.Second,
		},
		Source: SourceConfig{
			RemoteWidth: 6,
			UpperBound:  1000,
			ProbeDelay:  100 * time.Millisecond,
		},
		Fetch: FetchConfig{
			Timeout:       30 * time.Second,
			MaxAttempts:   5,
			BackoffBase:   100 * time.Millisecond,
			BackoffFactor: 2.0,
			MaxBackoff:    10 * time.Second,
			RetryStatuses: append([]int(nil), DefaultRetryStatuses...),
			UserAgent:     "pagegrab/1.0",
		},
		Cache: CacheConfig{
			Dir:    "photos",
			Prefix: "photo_",
			Width:  3,
			Ext:    ".png",
		},
		Output: OutputConfig{
			PDFPath:         "output.pdf",
			LedgerPath:      "converted_photos.log",
			LedgerRedisKey:  "pagegrab:ledger",
			WatermarkSuffix: "_no_watermark",
		},
		Watermark: WatermarkConfig{
			ClusterDistance: 50,
			Margin:          5,
		},
	}
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays environment variables onto c. Unset or unparsable
// variables keep the current value.
func (c *Config) ApplyEnv() {
	// Logging
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Pretty = parseBool(getEnv("LOG_PRETTY", formatBool(c.Logging.Pretty)))
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	c.Logging.MaxSizeMB = parseInt(os.Getenv("LOG_MAX_SIZE_MB"), c.Logging.MaxSizeMB)
	c.Logging.MaxBackups = parseInt(os.Getenv("LOG_MAX_BACKUPS"), c.Logging.MaxBackups)
	c.Logging.MaxAgeDays = parseInt(os.Getenv("LOG_MAX_AGE_DAYS"), c.Logging.MaxAgeDays)
	c.Logging.Compress = parseBool(getEnv("LOG_COMPRESS", formatBool(c.Logging.Compress)))

	// Axiom
	c.Axiom.Send = parseBool(getEnv("SEND_LOGS_TO_AXIOM", formatBool(c.Axiom.Send)))
	c.Axiom.APIKey = getEnv("AXIOM_API_KEY", c.Axiom.APIKey)
	c.Axiom.OrgID = getEnv("AXIOM_ORG_ID", c.Axiom.OrgID)
	if v := os.Getenv("AXIOM_DATASET"); v != "" {
		c.Axiom.Dataset = v + "_pagegrab"
	}
	c.Axiom.FlushInterval = parseDuration(os.Getenv("AXIOM_FLUSH_INTERVAL"), c.Axiom.FlushInterval)

	// Source
	c.Source.Template = getEnv("SOURCE_TEMPLATE", c.Source.Template)
	c.Source.RemoteWidth = parseInt(os.Getenv("SOURCE_REMOTE_WIDTH"), c.Source.RemoteWidth)
	c.Source.UpperBound = parseInt(os.Getenv("SOURCE_UPPER_BOUND"), c.Source.UpperBound)
	c.Source.ProbeDelay = parseDuration(os.Getenv("SOURCE_PROBE_DELAY"), c.Source.ProbeDelay)

	// Fetch
	c.Fetch.Timeout = parseDuration(os.Getenv("FETCH_TIMEOUT"), c.Fetch.Timeout)
	c.Fetch.MaxAttempts = parseInt(os.Getenv("FETCH_MAX_ATTEMPTS"), c.Fetch.MaxAttempts)
	c.Fetch.BackoffBase = parseDuration(os.Getenv("FETCH_BACKOFF_BASE"), c.Fetch.BackoffBase)
	c.Fetch.BackoffFactor = parseFloat(os.Getenv("FETCH_BACKOFF_FACTOR"), c.Fetch.BackoffFactor)
	c.Fetch.MaxBackoff = parseDuration(os.Getenv("FETCH_MAX_BACKOFF"), c.Fetch.MaxBackoff)
	c.Fetch.Jitter = parseFloat(os.Getenv("FETCH_JITTER"), c.Fetch.Jitter)
	if v := os.Getenv("FETCH_RETRY_STATUSES"); v != "" {
		if codes, err := parseIntList(v); err == nil {
			c.Fetch.RetryStatuses = codes
		}
	}
	c.Fetch.RequireImage = parseBool(getEnv("FETCH_REQUIRE_IMAGE", formatBool(c.Fetch.RequireImage)))
	c.Fetch.UserAgent = getEnv("FETCH_USER_AGENT", c.Fetch.UserAgent)

	// Worker
	c.Worker.Concurrency = parseInt(os.Getenv("WORKER_CONCURRENCY"), c.Worker.Concurrency)
	c.Worker.Progress = parseBool(getEnv("WORKER_PROGRESS", formatBool(c.Worker.Progress)))

	// Cache
	c.Cache.Dir = getEnv("CACHE_DIR", c.Cache.Dir)
	c.Cache.Prefix = getEnv("CACHE_PREFIX", c.Cache.Prefix)
	c.Cache.Width = parseInt(os.Getenv("CACHE_WIDTH"), c.Cache.Width)
	c.Cache.Ext = getEnv("CACHE_EXT", c.Cache.Ext)

	// Output
	c.Output.PDFPath = getEnv("OUTPUT_PDF", c.Output.PDFPath)
	c.Output.LedgerPath = getEnv("LEDGER_FILE", c.Output.LedgerPath)
	c.Output.LedgerRedisURL = getEnv("LEDGER_REDIS_URL", c.Output.LedgerRedisURL)
	c.Output.LedgerRedisKey = getEnv("LEDGER_REDIS_KEY", c.Output.LedgerRedisKey)
	c.Output.WatermarkSuffix = getEnv("WATERMARK_SUFFIX", c.Output.WatermarkSuffix)

	// Watermark
	c.Watermark.ClusterDistance = parseFloat(os.Getenv("WATERMARK_CLUSTER_DISTANCE"), c.Watermark.ClusterDistance)
	c.Watermark.Margin = parseFloat(os.Getenv("WATERMARK_MARGIN"), c.Watermark.Margin)

	// Publish
	c.Publish.S3URI = getEnv("PUBLISH_S3_URI", c.Publish.S3URI)
	c.Publish.Region = getEnv("AWS_REGION", c.Publish.Region)
	c.Publish.Endpoint = getEnv("PUBLISH_S3_ENDPOINT", c.Publish.Endpoint)
	c.Publish.AccessKey = getEnv("PUBLISH_S3_ACCESS_KEY", c.Publish.AccessKey)
	c.Publish.SecretKey = getEnv("PUBLISH_S3_SECRET_KEY", c.Publish.SecretKey)
	c.Publish.PathStyle = parseBool(getEnv("PUBLISH_S3_PATH_STYLE", formatBool(c.Publish.PathStyle)))

	// Metrics
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
}

// Validate checks the values the pipeline depends on.
func (c *Config) Validate() error {
	if c.Source.Template == "" {
		return errors.New("config: source template is required")
	}
	if _, err := PlaceholderCount(c.Source.Template); err != nil {
		return err
	}
	if c.Source.RemoteWidth < 0 || c.Cache.Width < 0 {
		return errors.New("config: zero-pad widths must not be negative")
	}
	if c.Source.UpperBound < 1 {
		return errors.New("config: upper bound must be positive")
	}
	if c.Fetch.MaxAttempts < 1 {
		return errors.New("config: fetch attempts must be positive")
	}
	if c.Fetch.BackoffFactor < 1 {
		return errors.New("config: backoff factor must be at least 1")
	}
	if c.Worker.Concurrency < 0 {
		return errors.New("config: worker concurrency must not be negative")
	}
	if c.Cache.Dir == "" || c.Cache.Ext == "" {
		return errors.New("config: cache dir and extension are required")
	}
	if c.Output.PDFPath == "" {
		return errors.New("config: output path is required")
	}
	if c.Output.LedgerPath == "" && c.Output.LedgerRedisURL == "" {
		return errors.New("config: a ledger file or redis url is required")
	}
	if c.Watermark.ClusterDistance <= 0 || c.Watermark.Margin < 0 {
		return errors.New("config: invalid watermark geometry")
	}
	return nil
}

// PlaceholderCount verifies that template carries exactly one index
// placeholder: a printf verb or "{}".
func PlaceholderCount(template string) (int, error) {
	n := strings.Count(template, "{}")
	for i := 0; i < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		if i+1 < len(template) && template[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	if n != 1 {
		return n, fmt.Errorf("config: template %q must contain exactly one page placeholder, found %d", template, n)
	}
	return n, nil
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
