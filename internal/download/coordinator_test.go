package download

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/local/pagegrab/internal/fetcher"
	"github.com/local/pagegrab/internal/pages"
)

var testLayout = pages.Layout{Template: "https://x.test/{}.png", RemoteWidth: 6, Dir: "photos", Prefix: "photo_", LocalWidth: 3, Ext: ".png"}

// jitterFetcher finishes pages in random order and fails the listed ones.
type jitterFetcher struct {
	mu     sync.Mutex
	rng    *rand.Rand
	fail   map[int]bool
	done   []int
	active int32
	peak   int32
}

func (f *jitterFetcher) Fetch(_ context.Context, h pages.Handle) fetcher.Outcome {
	n := atomic.AddInt32(&f.active, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	f.mu.Lock()
	d := time.Duration(f.rng.Intn(3)) * time.Millisecond
	f.mu.Unlock()
	time.Sleep(d)
	atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	f.done = append(f.done, h.Index)
	f.mu.Unlock()
	if f.fail[h.Index] {
		return fetcher.Outcome{Handle: h, Message: "boom", Err: errors.New("boom")}
	}
	return fetcher.Outcome{Handle: h, Succeeded: true}
}

type countingProgress struct {
	n      int32
	closed bool
}

func (p *countingProgress) Add(n int) error { atomic.AddInt32(&p.n, int32(n)); return nil }
func (p *countingProgress) Close() error    { p.closed = true; return nil }

func TestFetchAllReportIsPageOrdered(t *testing.T) {
	f := &jitterFetcher{rng: rand.New(rand.NewSource(1)), fail: map[int]bool{4: true, 17: true}}
	progress := &countingProgress{}
	report := New(testLayout, f, 8, progress).FetchAll(context.Background(), 40)

	if len(report.Outcomes) != 40 {
		t.Fatalf("got %d outcomes, want 40", len(report.Outcomes))
	}
	for i, o := range report.Outcomes {
		if o.Handle.Index != i+1 {
			t.Fatalf("outcome %d has page %d", i, o.Handle.Index)
		}
	}
	if report.Succeeded() != 38 {
		t.Errorf("Succeeded = %d, want 38", report.Succeeded())
	}
	failed := report.Failed()
	if len(failed) != 2 || failed[0].Handle.Index != 4 || failed[1].Handle.Index != 17 {
		t.Errorf("Failed = %+v", failed)
	}
	if atomic.LoadInt32(&progress.n) != 40 || !progress.closed {
		t.Errorf("progress = %d closed=%v", progress.n, progress.closed)
	}
	if f.peak > 8 {
		t.Errorf("peak concurrency %d exceeds 8 workers", f.peak)
	}
}

func TestFetchAllZeroCount(t *testing.T) {
	f := &jitterFetcher{rng: rand.New(rand.NewSource(1))}
	if r := New(testLayout, f, 0, nil).FetchAll(context.Background(), 0); len(r.Outcomes) != 0 {
		t.Fatalf("got %d outcomes", len(r.Outcomes))
	}
}

func TestFetchAllCancelledReportsEveryPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &jitterFetcher{rng: rand.New(rand.NewSource(1))}
	r := New(testLayout, f, 2, nil).FetchAll(ctx, 5)
	if len(r.Outcomes) != 5 || r.Succeeded() != 0 {
		t.Fatalf("report = %+v", r)
	}
	if !errors.Is(r.Outcomes[0].Err, context.Canceled) {
		t.Fatalf("Err = %v", r.Outcomes[0].Err)
	}
}

func TestFetchAllTwiceMakesNoNetworkCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("page"))
	}))
	defer srv.Close()

	layout := testLayout
	layout.Template = srv.URL + "/{}.png"
	layout.Dir = t.TempDir()
	f := fetcher.New(fetcher.NewClient(srv.Client(), fetcher.Options{BackoffBase: time.Millisecond}), false)

	first := New(layout, f, 4, nil).FetchAll(context.Background(), 6)
	if n := atomic.LoadInt32(&calls); n != 6 {
		t.Fatalf("first run made %d calls, want 6", n)
	}
	second := New(layout, f, 4, nil).FetchAll(context.Background(), 6)
	if n := atomic.LoadInt32(&calls); n != 6 {
		t.Fatalf("second run made %d extra calls", n-6)
	}
	for i := range first.Outcomes {
		if first.Outcomes[i].Succeeded != second.Outcomes[i].Succeeded {
			t.Fatalf("page %d success differs between runs", i+1)
		}
		if !second.Outcomes[i].Cached {
			t.Fatalf("page %d not served from cache", i+1)
		}
	}
}

func TestProgressBarAcceptsTicks(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressBar(2, &buf)
	if err := p.Add(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Add(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
