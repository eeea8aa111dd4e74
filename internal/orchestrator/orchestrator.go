// Package orchestrator runs the pipeline: discover the page count, fetch
// every page, assemble the document, check it, then run the optional
// cache cleanup, watermark removal and publication steps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/assembler"
	"github.com/local/pagegrab/internal/discovery"
	"github.com/local/pagegrab/internal/download"
	"github.com/local/pagegrab/internal/ledger"
	"github.com/local/pagegrab/internal/logger"
	"github.com/local/pagegrab/internal/pages"
	"github.com/local/pagegrab/internal/verify"
	"github.com/local/pagegrab/internal/watermark"
)

// ErrArtifactMissing is returned when the document is absent after the
// assembly step; no optional step runs afterwards.
var ErrArtifactMissing = verify.ErrMissing

// Choice is a yes/no decision that may be left to the user.
type Choice int

const (
	Ask Choice = iota
	Yes
	No
)

// Prompter asks the user questions on the terminal.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
	Ask(ctx context.Context, question string) (string, error)
}

// Publisher uploads a finished artifact and returns where it went.
type Publisher interface {
	Publish(ctx context.Context, path string, meta map[string]string) (string, error)
}

// Verifier opens finished artifacts.
type Verifier interface {
	Artifact(path string) (*verify.Report, error)
	Residual(path, text string) (*verify.Report, error)
}

// Dependencies are the collaborators of a pipeline run.
type Dependencies struct {
	Fetcher download.Fetcher
	Ledger  ledger.Ledger
	// Optional.
	Verifier  Verifier
	Prompter  Prompter
	Publisher Publisher
	Progress  func(total int) download.Progress
	Writer    assembler.DocumentWriter
	// Status receives the user-facing lines; stdout when nil.
	Status io.Writer
}

// Options hold the pipeline settings.
type Options struct {
	Layout    pages.Layout
	Discovery discovery.Options
	Workers   int
	Output    string
	Append    bool

	DeleteCache   Choice
	Watermark     Choice
	WatermarkText string
	Redaction     watermark.Options

	PartialMaxAge time.Duration
}

// Summary records what a run did.
type Summary struct {
	RunID        string
	Boundary     int
	Saturated    bool
	Report       download.Report
	Assembled    assembler.Result
	NothingToDo  bool
	Artifact     *verify.Report
	CacheDeleted int
	Cleaned      *watermark.Result
	Residual     *verify.Report
	Published    []string
}

// Pages is the number of pages the discovered boundary implies.
func (s *Summary) Pages() int {
	if s.Boundary <= 1 {
		return 0
	}
	return s.Boundary - 1
}

type Orchestrator struct {
	deps Dependencies
	opts Options
}

func New(deps Dependencies, opts Options) *Orchestrator {
	if deps.Status == nil {
		deps.Status = os.Stdout
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.MuPDF{}
	}
	if opts.PartialMaxAge <= 0 {
		opts.PartialMaxAge = time.Hour
	}
	return &Orchestrator{deps: deps, opts: opts}
}

func (o *Orchestrator) say(format string, args ...any) {
	fmt.Fprintf(o.deps.Status, format+"\n", args...)
}

// Run executes the whole pipeline. Per-page failures are reported in the
// summary, not as an error; an error means a step could not run at all.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{RunID: uuid.NewString()}
	ctx = logger.WithRun(ctx, s.RunID)
	runLog := log.Ctx(ctx)
	start := time.Now()

	if err := os.MkdirAll(o.opts.Layout.Dir, 0o755); err != nil {
		return s, fmt.Errorf("create cache dir: %w", err)
	}
	if n := CleanupPartials(o.opts.Layout.Dir, o.opts.PartialMaxAge); n > 0 {
		runLog.Info().Int("removed", n).Msg("Removed stale partial downloads")
	}

	boundary, saturated, err := o.Discover(ctx)
	s.Boundary, s.Saturated = boundary, saturated
	if err != nil {
		return s, err
	}

	s.Report = o.Download(ctx, s.Pages())
	if err := ctx.Err(); err != nil {
		return s, err
	}

	s.Assembled, err = o.Assemble(ctx)
	if errors.Is(err, assembler.ErrNothingToDo) {
		s.NothingToDo = true
	} else if err != nil {
		return s, err
	}

	s.Artifact, err = o.Check(ctx)
	if err != nil {
		return s, err
	}

	if n, err := o.maybeDeleteCache(ctx); err != nil {
		runLog.Warn().Err(err).Msg("Cache cleanup failed")
	} else {
		s.CacheDeleted = n
	}

	s.Cleaned, s.Residual, err = o.maybeUnwatermark(ctx, o.opts.Output)
	if err != nil {
		return s, err
	}

	s.Published, err = o.publish(ctx, s)
	if err != nil {
		return s, err
	}

	runLog.Info().
		Int("pages", s.Pages()).
		Int("fetched", s.Report.Succeeded()).
		Int("failed", len(s.Report.Failed())).
		Int("assembled", len(s.Assembled.Added)).
		Dur("elapsed", time.Since(start)).
		Msg("Run finished")
	return s, nil
}

// Discover finds the page boundary. A boundary beyond the configured upper
// bound means the source may have more pages than were searched.
func (o *Orchestrator) Discover(ctx context.Context) (int, bool, error) {
	oracle := discovery.New(o.opts.Layout, o.deps.Fetcher, nil, o.opts.Discovery)
	boundary, saturated, err := oracle.DiscoverPageCount(ctx)
	if err != nil {
		return boundary, saturated, fmt.Errorf("discover page count: %w", err)
	}
	if saturated {
		log.Ctx(ctx).Warn().Int("upper_bound", o.opts.Discovery.UpperBound).Msg("Discovery reached the upper bound")
		o.say("Warning: every page up to %d exists; the document may be incomplete", o.opts.Discovery.UpperBound)
	}
	count := 0
	if boundary > 1 {
		count = boundary - 1
	}
	o.say("Found %d pages", count)
	return boundary, saturated, nil
}

// Download fetches pages 1..count and prints one status line per page in
// page order.
func (o *Orchestrator) Download(ctx context.Context, count int) download.Report {
	var progress download.Progress
	if o.deps.Progress != nil && count > 0 {
		progress = o.deps.Progress(count)
	}
	report := download.New(o.opts.Layout, o.deps.Fetcher, o.opts.Workers, progress).FetchAll(ctx, count)
	for _, out := range report.Outcomes {
		o.say("%s", out.Message)
	}
	return report
}

// Assemble folds the cached pages into the output document.
func (o *Orchestrator) Assemble(ctx context.Context) (assembler.Result, error) {
	files, err := assembler.ListPageFiles(o.opts.Layout.Dir, o.opts.Layout)
	if err != nil {
		return assembler.Result{}, err
	}
	asm := assembler.New(o.deps.Ledger, assembler.Options{Output: o.opts.Output, Append: o.opts.Append, Writer: o.deps.Writer})
	res, err := asm.Assemble(ctx, files)
	switch {
	case errors.Is(err, assembler.ErrNothingToDo):
		o.say("No new photos to convert")
		return res, err
	case err != nil:
		return res, fmt.Errorf("assemble: %w", err)
	}
	for _, name := range res.Invalid {
		o.say("Skipped %s: not a readable image", name)
	}
	o.say("Added %d photos to %s", len(res.Added), o.opts.Output)
	return res, nil
}

// Check confirms the artifact exists and opens.
func (o *Orchestrator) Check(ctx context.Context) (*verify.Report, error) {
	rep, err := o.deps.Verifier.Artifact(o.opts.Output)
	if errors.Is(err, verify.ErrMissing) {
		o.say("Error: %s was not created", o.opts.Output)
		return nil, fmt.Errorf("%s: %w", o.opts.Output, ErrArtifactMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", o.opts.Output, err)
	}
	o.say("PDF saved as %s (%d pages)", o.opts.Output, rep.Pages)
	log.Ctx(ctx).Info().Str("output", rep.Path).Int("pages", rep.Pages).Int64("size", rep.Size).Msg("Artifact checked")
	return rep, nil
}

func (o *Orchestrator) decide(ctx context.Context, c Choice, question string) (bool, error) {
	switch c {
	case Yes:
		return true, nil
	case No:
		return false, nil
	}
	if o.deps.Prompter == nil {
		return false, nil
	}
	return o.deps.Prompter.Confirm(ctx, question)
}

func (o *Orchestrator) maybeDeleteCache(ctx context.Context) (int, error) {
	ok, err := o.decide(ctx, o.opts.DeleteCache, "Do you want to delete the downloaded photos?")
	if err != nil || !ok {
		return 0, err
	}
	n, err := DeleteCache(o.opts.Layout.Dir, o.opts.Layout)
	if err != nil {
		return n, err
	}
	o.say("Deleted %d photos from %s", n, o.opts.Layout.Dir)
	return n, nil
}

func (o *Orchestrator) maybeUnwatermark(ctx context.Context, path string) (*watermark.Result, *verify.Report, error) {
	ok, err := o.decide(ctx, o.opts.Watermark, "Would you like to remove the watermark from the PDF?")
	if err != nil || !ok {
		return nil, nil, err
	}
	text := o.opts.WatermarkText
	if text == "" && o.deps.Prompter != nil {
		if text, err = o.deps.Prompter.Ask(ctx, "Please enter the watermark text to remove:"); err != nil {
			return nil, nil, err
		}
	}
	if text == "" {
		o.say("No watermark text given, skipping removal")
		return nil, nil, nil
	}
	return o.Unwatermark(ctx, path, text)
}

// Unwatermark writes a cleaned copy of path and counts what is left of
// text in it.
func (o *Orchestrator) Unwatermark(ctx context.Context, path, text string) (*watermark.Result, *verify.Report, error) {
	if _, err := o.deps.Verifier.Artifact(path); err != nil {
		if errors.Is(err, verify.ErrMissing) {
			o.say("Error: %s does not exist", path)
			return nil, nil, fmt.Errorf("%s: %w", path, ErrArtifactMissing)
		}
		return nil, nil, err
	}

	res, err := watermark.New(o.opts.Redaction).Remove(ctx, path, text)
	if err != nil {
		return nil, nil, fmt.Errorf("remove watermark: %w", err)
	}
	o.say("Watermark-free PDF saved as %s", res.Output)

	residual, err := o.deps.Verifier.Residual(res.Output, text)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("output", res.Output).Msg("Residual check failed")
		return &res, nil, nil
	}
	if residual.Residual > 0 {
		o.say("%d occurrences of %q remain as page text", residual.Residual, text)
	}
	return &res, residual, nil
}

func (o *Orchestrator) publish(ctx context.Context, s *Summary) ([]string, error) {
	if o.deps.Publisher == nil {
		return nil, nil
	}
	paths := []string{o.opts.Output}
	if s.Cleaned != nil {
		paths = append(paths, s.Cleaned.Output)
	}
	meta := map[string]string{"run-id": s.RunID, "pages": fmt.Sprint(s.Artifact.Pages)}

	var uris []string
	for _, p := range paths {
		uri, err := o.deps.Publisher.Publish(ctx, p, meta)
		if err != nil {
			return uris, fmt.Errorf("publish %s: %w", filepath.Base(p), err)
		}
		o.say("Published %s", uri)
		uris = append(uris, uri)
	}
	return uris, nil
}
