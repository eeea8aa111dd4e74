// Package download fetches every page of a source in parallel.
package download

import (
	"context"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pagegrab/internal/fetcher"
	"github.com/local/pagegrab/internal/pages"
)

// Fetcher downloads one page and reports the result.
type Fetcher interface {
	Fetch(ctx context.Context, h pages.Handle) fetcher.Outcome
}

// Progress receives one tick per finished page.
type Progress interface {
	Add(n int) error
	Close() error
}

// Report holds one outcome per page, ordered by page index from 1.
type Report struct {
	Outcomes []fetcher.Outcome
}

// Succeeded counts successful outcomes.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes in page order.
func (r Report) Failed() []fetcher.Outcome {
	var out []fetcher.Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded {
			out = append(out, o)
		}
	}
	return out
}

// Coordinator runs fetches on a bounded pool.
type Coordinator struct {
	layout   pages.Layout
	fetcher  Fetcher
	workers  int
	progress Progress
}

// DefaultWorkers mirrors a thread pool sized to the host: NumCPU+4, at most 32.
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// New builds a Coordinator. workers <= 0 uses DefaultWorkers; progress may be nil.
func New(layout pages.Layout, f Fetcher, workers int, progress Progress) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Coordinator{layout: layout, fetcher: f, workers: workers, progress: progress}
}

// FetchAll fetches pages 1..count. A failed page never stops the others;
// only cancellation of ctx ends the run early, and unstarted pages are
// then reported as failed with the context error.
func (c *Coordinator) FetchAll(ctx context.Context, count int) Report {
	if count <= 0 {
		return Report{}
	}

	outcomes := make([]fetcher.Outcome, count)
	g := new(errgroup.Group)
	g.SetLimit(c.workers)

	for i := 1; i <= count; i++ {
		h := c.layout.Handle(i)
		slot := &outcomes[i-1]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				*slot = fetcher.Outcome{Handle: h, Message: "Failed to download " + h.Name() + ": " + err.Error(), Err: err}
			} else {
				*slot = c.fetcher.Fetch(ctx, h)
			}
			if c.progress != nil {
				_ = c.progress.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if c.progress != nil {
		_ = c.progress.Close()
	}

	report := Report{Outcomes: outcomes}
	log.Ctx(ctx).Info().Int("pages", count).Int("succeeded", report.Succeeded()).Int("workers", c.workers).Msg("bulk fetch finished")
	return report
}
