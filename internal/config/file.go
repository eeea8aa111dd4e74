package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by LoadFile when the file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// fileConfig mirrors Config with YAML tags. Pointers distinguish "unset"
// from zero so that a partial file only overrides what it names.
type fileConfig struct {
	Logging *struct {
		Level      *string `yaml:"level"`
		Pretty     *bool   `yaml:"pretty"`
		File       *string `yaml:"file"`
		MaxSizeMB  *int    `yaml:"max_size_mb"`
		MaxBackups *int    `yaml:"max_backups"`
		MaxAgeDays *int    `yaml:"max_age_days"`
		Compress   *bool   `yaml:"compress"`
	} `yaml:"logging"`
	Source *struct {
		Template    *string `yaml:"template"`
		RemoteWidth *int    `yaml:"remote_width"`
		UpperBound  *int    `yaml:"upper_bound"`
		ProbeDelay  *string `yaml:"probe_delay"`
	} `yaml:"source"`
	Fetch *struct {
		Timeout       *string  `yaml:"timeout"`
		MaxAttempts   *int     `yaml:"max_attempts"`
		BackoffBase   *string  `yaml:"backoff_base"`
		BackoffFactor *float64 `yaml:"backoff_factor"`
		MaxBackoff    *string  `yaml:"max_backoff"`
		Jitter        *float64 `yaml:"jitter"`
		RetryStatuses []int    `yaml:"retry_statuses"`
		RequireImage  *bool    `yaml:"require_image"`
		UserAgent     *string  `yaml:"user_agent"`
	} `yaml:"fetch"`
	Worker *struct {
		Concurrency *int  `yaml:"concurrency"`
		Progress    *bool `yaml:"progress"`
	} `yaml:"worker"`
	Cache *struct {
		Dir    *string `yaml:"dir"`
		Prefix *string `yaml:"prefix"`
		Width  *int    `yaml:"width"`
		Ext    *string `yaml:"ext"`
	} `yaml:"cache"`
	Output *struct {
		PDFPath         *string `yaml:"pdf"`
		LedgerPath      *string `yaml:"ledger"`
		LedgerRedisURL  *string `yaml:"ledger_redis_url"`
		LedgerRedisKey  *string `yaml:"ledger_redis_key"`
		WatermarkSuffix *string `yaml:"watermark_suffix"`
	} `yaml:"output"`
	Watermark *struct {
		ClusterDistance *float64 `yaml:"cluster_distance"`
		Margin          *float64 `yaml:"margin"`
	} `yaml:"watermark"`
	Publish *struct {
		S3URI     *string `yaml:"s3_uri"`
		Region    *string `yaml:"region"`
		Endpoint  *string `yaml:"endpoint"`
		PathStyle *bool   `yaml:"path_style"`
	} `yaml:"publish"`
	Metrics *struct {
		Addr *string `yaml:"addr"`
	} `yaml:"metrics"`
}

// LoadFile overlays the YAML file at path onto base and returns the result.
// Credentials are never read from the file; they come from the environment.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return base, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := base
	if err := fc.apply(&cfg); err != nil {
		return base, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(c *Config) error {
	if l := fc.Logging; l != nil {
		setString(&c.Logging.Level, l.Level)
		setBool(&c.Logging.Pretty, l.Pretty)
		setString(&c.Logging.File, l.File)
		setInt(&c.Logging.MaxSizeMB, l.MaxSizeMB)
		setInt(&c.Logging.MaxBackups, l.MaxBackups)
		setInt(&c.Logging.MaxAgeDays, l.MaxAgeDays)
		setBool(&c.Logging.Compress, l.Compress)
	}
	if s := fc.Source; s != nil {
		setString(&c.Source.Template, s.Template)
		setInt(&c.Source.RemoteWidth, s.RemoteWidth)
		setInt(&c.Source.UpperBound, s.UpperBound)
		if err := setDuration(&c.Source.ProbeDelay, s.ProbeDelay, "source.probe_delay"); err != nil {
			return err
		}
	}
	if f := fc.Fetch; f != nil {
		if err := setDuration(&c.Fetch.Timeout, f.Timeout, "fetch.timeout"); err != nil {
			return err
		}
		setInt(&c.Fetch.MaxAttempts, f.MaxAttempts)
		if err := setDuration(&c.Fetch.BackoffBase, f.BackoffBase, "fetch.backoff_base"); err != nil {
			return err
		}
		setFloat(&c.Fetch.BackoffFactor, f.BackoffFactor)
		if err := setDuration(&c.Fetch.MaxBackoff, f.MaxBackoff, "fetch.max_backoff"); err != nil {
			return err
		}
		setFloat(&c.Fetch.Jitter, f.Jitter)
		if len(f.RetryStatuses) > 0 {
			c.Fetch.RetryStatuses = append([]int(nil), f.RetryStatuses...)
		}
		setBool(&c.Fetch.RequireImage, f.RequireImage)
		setString(&c.Fetch.UserAgent, f.UserAgent)
	}
	if w := fc.Worker; w != nil {
		setInt(&c.Worker.Concurrency, w.Concurrency)
		setBool(&c.Worker.Progress, w.Progress)
	}
	if ca := fc.Cache; ca != nil {
		setString(&c.Cache.Dir, ca.Dir)
		setString(&c.Cache.Prefix, ca.Prefix)
		setInt(&c.Cache.Width, ca.Width)
		setString(&c.Cache.Ext, ca.Ext)
	}
	if o := fc.Output; o != nil {
		setString(&c.Output.PDFPath, o.PDFPath)
		setString(&c.Output.LedgerPath, o.LedgerPath)
		setString(&c.Output.LedgerRedisURL, o.LedgerRedisURL)
		setString(&c.Output.LedgerRedisKey, o.LedgerRedisKey)
		setString(&c.Output.WatermarkSuffix, o.WatermarkSuffix)
	}
	if w := fc.Watermark; w != nil {
		setFloat(&c.Watermark.ClusterDistance, w.ClusterDistance)
		setFloat(&c.Watermark.Margin, w.Margin)
	}
	if p := fc.Publish; p != nil {
		setString(&c.Publish.S3URI, p.S3URI)
		setString(&c.Publish.Region, p.Region)
		setString(&c.Publish.Endpoint, p.Endpoint)
		setBool(&c.Publish.PathStyle, p.PathStyle)
	}
	if m := fc.Metrics; m != nil {
		setString(&c.Metrics.Addr, m.Addr)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, *v, err)
	}
	*dst = d
	return nil
}
