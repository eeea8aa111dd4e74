// Package fetcher downloads one page into its local cache slot.
//
// Fetch never returns an error: every failure is described by the Outcome.
// A slot that already exists on disk is a cache hit and no request is made,
// which is what lets discovery probes and the bulk phase share downloads.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/filetype"
	"github.com/local/pagegrab/internal/metrics"
	"github.com/local/pagegrab/internal/pages"
)

// Outcome is the immutable result of one Fetch call.
type Outcome struct {
	Handle    pages.Handle
	Succeeded bool
	Cached    bool
	Message   string
	MIMEType  string
	Attempts  int
	Err       error
}

// Fetcher writes remote pages into cache slots.
type Fetcher struct {
	client       *Client
	detector     *filetype.Detector
	requireImage bool
}

// New creates a Fetcher. With requireImage set, bodies that do not sniff
// as an image are rejected and nothing is written.
func New(client *Client, requireImage bool) *Fetcher {
	return &Fetcher{client: client, detector: filetype.New(), requireImage: requireImage}
}

// Fetch downloads h.Locator into h.Slot unless the slot already exists.
func (f *Fetcher) Fetch(ctx context.Context, h pages.Handle) Outcome {
	name := h.Name()
	logger := log.Ctx(ctx).With().Int("page", h.Index).Str("url", h.Locator).Str("slot", h.Slot).Logger()

	if _, err := os.Stat(h.Slot); err == nil {
		metrics.ObserveFetch("cached", 0)
		logger.Debug().Msg("page already cached")
		return Outcome{Handle: h, Succeeded: true, Cached: true, Message: fmt.Sprintf("Photo %s already exists", name)}
	}

	start := time.Now()
	resp, err := f.client.Get(ctx, h.Locator)
	if err != nil {
		return f.failed(logger, h, resp.Attempts, start, err)
	}

	info := f.detector.DetectBytes(resp.Body)
	if f.requireImage && !info.IsImage {
		return f.failed(logger, h, resp.Attempts, start, fmt.Errorf("%w: %s", ErrNotImage, info.MIMEType))
	}

	if err := writeSlot(h.Slot, resp.Body); err != nil {
		return f.failed(logger, h, resp.Attempts, start, err)
	}

	metrics.ObserveFetch("downloaded", time.Since(start))
	logger.Debug().Int("attempts", resp.Attempts).Str("mime", info.MIMEType).Int("bytes", len(resp.Body)).Msg("page downloaded")
	return Outcome{
		Handle:    h,
		Succeeded: true,
		Message:   fmt.Sprintf("Downloaded photo %s", name),
		MIMEType:  info.MIMEType,
		Attempts:  resp.Attempts,
	}
}

func (f *Fetcher) failed(logger zerolog.Logger, h pages.Handle, attempts int, start time.Time, err error) Outcome {
	metrics.ObserveFetch("failed", time.Since(start))

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
		// A 404 is the expected answer past the last page.
		logger.Debug().Err(err).Int("attempts", attempts).Msg("page not found")
	} else {
		logger.Warn().Err(err).Int("attempts", attempts).Msg("page download failed")
	}
	return Outcome{
		Handle:   h,
		Message:  fmt.Sprintf("Failed to download %s: %v", h.Name(), err),
		Attempts: attempts,
		Err:      err,
	}
}

// writeSlot writes data next to slot and renames it into place, so a
// crash never leaves a truncated file that would pass the cache check.
func writeSlot(slot string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(slot), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	part := slot + ".part"
	if err := os.WriteFile(part, data, 0o644); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("write %s: %w", part, err)
	}
	if err := os.Rename(part, slot); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}
