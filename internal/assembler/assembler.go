// Package assembler folds cached page images into one PDF.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/filetype"
	"github.com/local/pagegrab/internal/ledger"
	"github.com/local/pagegrab/internal/metrics"
	"github.com/local/pagegrab/internal/pages"
)

// ErrNothingToDo is returned when no new page was appended. The output
// file is left untouched.
var ErrNothingToDo = errors.New("no new pages to assemble")

// Result summarises one Assemble call.
type Result struct {
	Output  string
	Added   []string
	Skipped []string
	// Invalid lists files that could not be decoded as images.
	Invalid []string
}

// Options configures an Assembler.
type Options struct {
	Output string
	// Append adds new pages after those of an existing output file
	// instead of replacing it.
	Append bool
	Writer DocumentWriter
}

// Assembler builds the output document and keeps the ledger current.
type Assembler struct {
	ledger   ledger.Ledger
	opts     Options
	detector *filetype.Detector
}

// New creates an Assembler writing to opts.Output.
func New(l ledger.Ledger, opts Options) *Assembler {
	if opts.Writer == nil {
		opts.Writer = PDFWriter{}
	}
	return &Assembler{ledger: l, opts: opts, detector: filetype.New()}
}

// Assemble processes files in lexicographic name order. Files already in
// the ledger are skipped; every other file is normalised to RGB in place,
// queued as a page and recorded in the ledger right away. When no page was
// queued ErrNothingToDo is returned together with the Result.
func (a *Assembler) Assemble(ctx context.Context, files []string) (Result, error) {
	res := Result{Output: a.opts.Output}
	logger := log.Ctx(ctx)

	sorted := append([]string(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	var images [][]byte
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := filepath.Base(path)

		done, err := a.ledger.Contains(ctx, name)
		if err != nil {
			return res, fmt.Errorf("ledger lookup %s: %w", name, err)
		}
		if done {
			metrics.IncLedgerSkipped()
			res.Skipped = append(res.Skipped, name)
			continue
		}

		if info, err := a.detector.Detect(path); err != nil || !info.Decodable {
			desc := "unreadable"
			if info != nil {
				desc = info.Description
			}
			logger.Warn().Str("file", name).Str("type", desc).Msg("skipping page file that is not a decodable image")
			res.Invalid = append(res.Invalid, name)
			continue
		}

		data, bounds, err := normalizeRGB(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("skipping page file")
			res.Invalid = append(res.Invalid, name)
			continue
		}
		images = append(images, data)

		if err := a.ledger.Append(ctx, name); err != nil {
			return res, fmt.Errorf("ledger append %s: %w", name, err)
		}
		res.Added = append(res.Added, name)
		metrics.IncAssembled()
		logger.Debug().Str("file", name).Int("width", bounds.Dx()).Int("height", bounds.Dy()).Msg("page queued")
	}

	if len(images) == 0 {
		logger.Info().Int("skipped", len(res.Skipped)).Int("invalid", len(res.Invalid)).Msg("nothing to assemble")
		return res, ErrNothingToDo
	}

	if err := a.opts.Writer.WritePages(a.opts.Output, images, a.opts.Append); err != nil {
		return res, fmt.Errorf("write %s: %w", a.opts.Output, err)
	}
	logger.Info().Str("output", a.opts.Output).Int("added", len(res.Added)).Int("skipped", len(res.Skipped)).Msg("document assembled")
	return res, nil
}

// ListPageFiles returns the cache files of layout in dir, sorted by name.
// A missing directory yields no files.
func ListPageFiles(dir string, layout pages.Layout) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !layout.IsPageFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
