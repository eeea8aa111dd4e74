package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/config"
	"github.com/local/pagegrab/internal/discovery"
	"github.com/local/pagegrab/internal/download"
	"github.com/local/pagegrab/internal/fetcher"
	"github.com/local/pagegrab/internal/ledger"
	logpkg "github.com/local/pagegrab/internal/logger"
	"github.com/local/pagegrab/internal/metrics"
	"github.com/local/pagegrab/internal/orchestrator"
	"github.com/local/pagegrab/internal/pages"
	"github.com/local/pagegrab/internal/storage"
	"github.com/local/pagegrab/internal/watermark"
)

// app holds everything a command needs and the cleanups to run after it.
type app struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	pub     *storage.Publisher
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func initLogging(cfg config.Config) {
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
}

// newApp wires logging, metrics, the ledger and the optional publisher
// around an orchestrator configured from cfg.
func newApp(ctx context.Context, cfg config.Config, opts orchestrator.Options, prompter orchestrator.Prompter) (*app, error) {
	a := &app{cfg: cfg}
	initLogging(cfg)
	a.closers = append(a.closers, logpkg.Close)

	metrics.Init()
	if cfg.Metrics.Addr != "" {
		a.closers = append(a.closers, serveMetrics(cfg.Metrics.Addr))
	}

	var led ledger.Ledger
	if cfg.Output.LedgerRedisURL != "" {
		rl, err := ledger.NewRedisLedger(cfg.Output.LedgerRedisURL, cfg.Output.LedgerRedisKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rl.Close() })
		led = rl
	} else {
		fl, err := ledger.OpenFile(cfg.Output.LedgerPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = fl.Close() })
		led = fl
	}

	deps := orchestrator.Dependencies{
		Fetcher:  newFetcher(cfg),
		Ledger:   led,
		Prompter: prompter,
	}
	if cfg.Worker.Progress {
		deps.Progress = func(total int) download.Progress {
			return download.NewProgressBar(total, os.Stderr)
		}
	}
	if cfg.Publish.S3URI != "" {
		pub, err := storage.NewPublisher(ctx, storage.Options{
			URI:       cfg.Publish.S3URI,
			Region:    cfg.Publish.Region,
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			PathStyle: cfg.Publish.PathStyle,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Publisher = pub
		a.pub = pub
	}

	a.orch = orchestrator.New(deps, opts)
	return a, nil
}

// publish uploads path when a publisher is configured.
func (a *app) publish(ctx context.Context, path string, meta map[string]string) error {
	if a.pub == nil {
		return nil
	}
	uri, err := a.pub.Publish(ctx, path, meta)
	if err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	fmt.Fprintf(os.Stdout, "Published %s\n", uri)
	return nil
}

func newFetcher(cfg config.Config) *fetcher.Fetcher {
	return fetcher.New(newClient(cfg), cfg.Fetch.RequireImage)
}

// newClient builds the retrying HTTP client shared by page and document
// downloads.
func newClient(cfg config.Config) *fetcher.Client {
	return fetcher.NewClient(nil, fetcher.Options{
		Timeout:       cfg.Fetch.Timeout,
		MaxAttempts:   cfg.Fetch.MaxAttempts,
		BackoffBase:   cfg.Fetch.BackoffBase,
		BackoffFactor: cfg.Fetch.BackoffFactor,
		MaxBackoff:    cfg.Fetch.MaxBackoff,
		Jitter:        cfg.Fetch.Jitter,
		RetryStatuses: cfg.Fetch.RetryStatuses,
		UserAgent:     cfg.Fetch.UserAgent,
	})
}

// pipelineOptions maps the configuration onto orchestrator options.
func pipelineOptions(cfg config.Config) orchestrator.Options {
	return orchestrator.Options{
		Layout: pages.Layout{
			Template:    cfg.Source.Template,
			RemoteWidth: cfg.Source.RemoteWidth,
			Dir:         cfg.Cache.Dir,
			Prefix:      cfg.Cache.Prefix,
			LocalWidth:  cfg.Cache.Width,
			Ext:         cfg.Cache.Ext,
		},
		Discovery: discovery.Options{
			UpperBound: cfg.Source.UpperBound,
			Delay:      cfg.Source.ProbeDelay,
		},
		Workers: cfg.Worker.Concurrency,
		Output:  cfg.Output.PDFPath,
		Redaction: watermark.Options{
			ClusterDistance: cfg.Watermark.ClusterDistance,
			Margin:          cfg.Watermark.Margin,
			Suffix:          cfg.Output.WatermarkSuffix,
		},
	}
}

// serveMetrics exposes /metrics on addr and returns its shutdown func.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
