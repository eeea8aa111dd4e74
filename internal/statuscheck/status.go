package statuscheck

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "path/filepath"
    "time"

    awscfg "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/service/s3"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
    Ping(ctx context.Context) error
}

// Checker runs preflight checks against what a pipeline run depends on.
type Checker struct {
    redis      RedisPinger
    s3Bucket   string
    pageURL    string
    cacheDir   string
    httpClient *http.Client
}

// Options configures the Checker. Empty fields mark optional subsystems
// that are not in use.
type Options struct {
    Redis      RedisPinger
    S3Bucket   string
    // PageURL is the address of the first page.
    PageURL    string
    CacheDir   string
    HTTPClient *http.Client
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Source Status `json:"source"`
    Cache  Status `json:"cache"`
    Redis  Status `json:"redis"`
    S3     Status `json:"s3"`
}

// OK reports whether every subsystem is usable.
func (s Summary) OK() bool {
    return s.Source.OK && s.Cache.OK && s.Redis.OK && s.S3.OK
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    client := opts.HTTPClient
    if client == nil {
        client = &http.Client{Timeout: 5 * time.Second}
    }
    return &Checker{
        redis:      opts.Redis,
        s3Bucket:   opts.S3Bucket,
        pageURL:    opts.PageURL,
        cacheDir:   opts.CacheDir,
        httpClient: client,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Source: c.checkSource(ctx),
        Cache:  c.checkCache(),
        Redis:  c.checkRedis(ctx),
        S3:     c.checkS3(ctx),
    }
}

func (c *Checker) checkSource(ctx context.Context) Status {
    if c.pageURL == "" {
        return Status{OK: false, Message: "Template not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL, nil)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    resp, err := c.httpClient.Do(req)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return Status{OK: false, Message: fmt.Sprintf("First page: HTTP %d", resp.StatusCode)}
    }
    return Status{OK: true, Message: "First page available"}
}

func (c *Checker) checkCache() Status {
    if c.cacheDir == "" {
        return Status{OK: false, Message: "Cache dir not configured"}
    }
    if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    f, err := os.CreateTemp(c.cacheDir, ".probe-*.tmp")
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    name := f.Name()
    f.Close()
    os.Remove(name)
    return Status{OK: true, Message: "Writable: " + filepath.Clean(c.cacheDir)}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: true, Message: "Not used"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: err.Error()}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3Bucket == "" {
        return Status{OK: true, Message: "Not used"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    cfg, err := awscfg.LoadDefaultConfig(ctx)
    if err != nil {
        return Status{OK: false, Message: err.Error()}
    }
    cli := s3.NewFromConfig(cfg)
    _, err = cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket})
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
