package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/local/pagegrab/internal/assembler"
	"github.com/local/pagegrab/internal/discovery"
	"github.com/local/pagegrab/internal/fetcher"
	"github.com/local/pagegrab/internal/ledger"
	"github.com/local/pagegrab/internal/pages"
	"github.com/local/pagegrab/internal/verify"
)

type pageServer struct {
	*httptest.Server
	calls int64
}

// newPageServer serves /p/NNNNNN.png for 1..n and 404 otherwise.
func newPageServer(t *testing.T, n int) *pageServer {
	t.Helper()
	ps := &pageServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ps.calls, 1)
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/p/"), ".png"))
		if err != nil || idx < 1 || idx > n {
			http.NotFound(w, r)
			return
		}
		img := image.NewNRGBA(image.Rect(0, 0, 10+idx, 12))
		for y := 0; y < 12; y++ {
			for x := 0; x < 10+idx; x++ {
				img.Set(x, y, color.NRGBA{R: uint8(idx * 20), G: 80, B: 160, A: 255})
			}
		}
		var buf bytes.Buffer
		png.Encode(&buf, img)
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pageServer) Calls() int64 { return atomic.LoadInt64(&ps.calls) }

// pdfVerifier checks artifacts with pdfcpu so tests do not need MuPDF.
type pdfVerifier struct{}

func (pdfVerifier) Artifact(path string) (*verify.Report, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, verify.ErrMissing)
	}
	n, err := assembler.PageCount(path)
	if err != nil {
		return nil, err
	}
	return &verify.Report{Path: path, Pages: n}, nil
}

func (v pdfVerifier) Residual(path, _ string) (*verify.Report, error) { return v.Artifact(path) }

type scriptedPrompter struct {
	confirms  []bool
	answers   []string
	questions []string
}

func (p *scriptedPrompter) Confirm(_ context.Context, q string) (bool, error) {
	p.questions = append(p.questions, q)
	if len(p.confirms) == 0 {
		return false, errors.New("unexpected question")
	}
	v := p.confirms[0]
	p.confirms = p.confirms[1:]
	return v, nil
}

func (p *scriptedPrompter) Ask(_ context.Context, q string) (string, error) {
	p.questions = append(p.questions, q)
	if len(p.answers) == 0 {
		return "", errors.New("unexpected question")
	}
	v := p.answers[0]
	p.answers = p.answers[1:]
	return v, nil
}

type fixture struct {
	srv    *pageServer
	dir    string
	out    string
	ledger *ledger.FileLedger
	status *bytes.Buffer
	orch   *Orchestrator
}

func newFixture(t *testing.T, n int, prompter Prompter, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{srv: newPageServer(t, n), dir: t.TempDir(), status: &bytes.Buffer{}}
	f.out = filepath.Join(f.dir, "output.pdf")

	l, err := ledger.OpenFile(filepath.Join(f.dir, "converted_photos.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	f.ledger = l

	client := fetcher.NewClient(f.srv.Client(), fetcher.Options{
		Timeout:     2 * time.Second,
		BackoffBase: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	opts := Options{
		Layout: pages.Layout{
			Template:    f.srv.URL + "/p/{}.png",
			RemoteWidth: 6,
			Dir:         filepath.Join(f.dir, "photos"),
			Prefix:      "photo_",
			LocalWidth:  3,
			Ext:         ".png",
		},
		Discovery:   discovery.Options{UpperBound: 1000},
		Workers:     4,
		Output:      f.out,
		DeleteCache: No,
		Watermark:   No,
	}
	if mutate != nil {
		mutate(&opts)
	}
	deps := Dependencies{
		Fetcher:  fetcher.New(client, true),
		Ledger:   l,
		Verifier: pdfVerifier{},
		Prompter: prompter,
		Status:   f.status,
	}
	f.orch = New(deps, opts)
	return f
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, 7, nil, nil)

	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, f.status)
	}
	if s.Boundary != 8 || s.Pages() != 7 || s.Saturated {
		t.Fatalf("boundary = %d saturated = %v", s.Boundary, s.Saturated)
	}
	if len(s.Report.Outcomes) != 7 || s.Report.Succeeded() != 7 {
		t.Fatalf("report: %d outcomes, %d succeeded", len(s.Report.Outcomes), s.Report.Succeeded())
	}
	for i, o := range s.Report.Outcomes {
		if o.Handle.Index != i+1 {
			t.Fatalf("outcome %d is page %d", i, o.Handle.Index)
		}
	}
	if s.Artifact == nil || s.Artifact.Pages != 7 {
		t.Fatalf("artifact = %+v", s.Artifact)
	}

	names := f.ledger.Names()
	if len(names) != 7 {
		t.Fatalf("ledger = %v", names)
	}
	for i, n := range names {
		if want := fmt.Sprintf("photo_%03d.png", i+1); n != want {
			t.Fatalf("ledger[%d] = %s, want %s", i, n, want)
		}
	}

	out := f.status.String()
	for _, want := range []string{
		"Found 7 pages",
		"Downloaded photo photo_001.png",
		"Photo photo_007.png already exists",
		"PDF saved as " + f.out + " (7 pages)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "photo_002.png") > strings.Index(out, "photo_003.png") {
		t.Fatalf("status lines out of page order:\n%s", out)
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, nil, nil)
	if _, err := f.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := f.srv.Calls()
	pdfBefore, _ := os.ReadFile(f.out)

	f.status.Reset()
	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	// Only the misses of discovery go to the network again.
	for _, o := range s.Report.Outcomes {
		if !o.Cached {
			t.Fatalf("page %d fetched again", o.Handle.Index)
		}
	}
	if !s.NothingToDo || !strings.Contains(f.status.String(), "No new photos to convert") {
		t.Fatalf("second run did not report nothing to do:\n%s", f.status)
	}
	if s.Artifact == nil || s.Artifact.Pages != 5 {
		t.Fatalf("existing artifact not checked: %+v", s.Artifact)
	}
	pdfAfter, _ := os.ReadFile(f.out)
	if !bytes.Equal(pdfBefore, pdfAfter) {
		t.Fatal("artifact rewritten")
	}
	if len(f.ledger.Names()) != 5 {
		t.Fatalf("ledger = %v", f.ledger.Names())
	}
	if f.srv.Calls()-before > 10 {
		t.Fatalf("second run made %d requests", f.srv.Calls()-before)
	}
}

func TestRunWithoutPagesReportsMissingArtifact(t *testing.T) {
	f := newFixture(t, 0, nil, nil)
	s, err := f.orch.Run(context.Background())
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("err = %v", err)
	}
	if s.Boundary != 1 || s.Pages() != 0 || len(s.Report.Outcomes) != 0 {
		t.Fatalf("summary = %+v", s)
	}
	if !strings.Contains(f.status.String(), "Found 0 pages") {
		t.Fatalf("status:\n%s", f.status)
	}
}

func TestRunSaturatedWarns(t *testing.T) {
	f := newFixture(t, 40, nil, func(o *Options) { o.Discovery.UpperBound = 16 })
	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Saturated || s.Boundary != 17 || s.Pages() != 16 {
		t.Fatalf("boundary = %d saturated = %v", s.Boundary, s.Saturated)
	}
	if !strings.Contains(f.status.String(), "may be incomplete") {
		t.Fatalf("no warning:\n%s", f.status)
	}
}

func TestPromptsDeleteCacheAndSkipWatermark(t *testing.T) {
	p := &scriptedPrompter{confirms: []bool{true, true}, answers: []string{""}}
	f := newFixture(t, 3, p, func(o *Options) {
		o.DeleteCache = Ask
		o.Watermark = Ask
	})
	notes := filepath.Join(f.dir, "photos", "notes.txt")

	if err := os.MkdirAll(filepath.Dir(notes), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(notes, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.CacheDeleted != 3 {
		t.Fatalf("deleted %d", s.CacheDeleted)
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatal("non-page file removed")
	}
	if s.Cleaned != nil {
		t.Fatal("watermark removal ran without text")
	}
	if len(p.questions) != 3 {
		t.Fatalf("questions = %q", p.questions)
	}
}

func TestUnwatermarkMissingArtifact(t *testing.T) {
	f := newFixture(t, 1, nil, nil)
	_, _, err := f.orch.Unwatermark(context.Background(), filepath.Join(f.dir, "nope.pdf"), "SECRET")
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunWatermarkProducesCleanedCopy(t *testing.T) {
	f := newFixture(t, 2, nil, func(o *Options) {
		o.Watermark = Yes
		o.WatermarkText = "SECRET"
	})
	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(f.dir, "output_no_watermark.pdf")
	if s.Cleaned == nil || s.Cleaned.Output != want {
		t.Fatalf("cleaned = %+v", s.Cleaned)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatal(err)
	}
}

type recordingPublisher struct{ paths []string }

func (p *recordingPublisher) Publish(_ context.Context, path string, meta map[string]string) (string, error) {
	if meta["run-id"] == "" {
		return "", errors.New("missing run id")
	}
	p.paths = append(p.paths, path)
	return "s3://bucket/" + filepath.Base(path), nil
}

func TestRunPublishes(t *testing.T) {
	f := newFixture(t, 2, nil, nil)
	pub := &recordingPublisher{}
	f.orch.deps.Publisher = pub
	s, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Published) != 1 || s.Published[0] != "s3://bucket/output.pdf" || pub.paths[0] != f.out {
		t.Fatalf("published = %v", s.Published)
	}
}

func TestCleanupPartials(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	for _, name := range []string{"photo_001.png.part", "output.pdf.123.tmp", "photo_001.png"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte("x"), 0o644)
		os.Chtimes(p, old, old)
	}
	os.WriteFile(filepath.Join(dir, "photo_002.png.part"), []byte("x"), 0o644)

	if n := CleanupPartials(dir, time.Hour); n != 2 {
		t.Fatalf("removed %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "photo_002.png.part")); err != nil {
		t.Fatal("fresh partial removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "photo_001.png")); err != nil {
		t.Fatal("page removed")
	}
}

func TestResolveDocument(t *testing.T) {
	var bookCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/book.pdf" {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt64(&bookCalls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()
	dir := t.TempDir()
	client := fetcher.NewClient(srv.Client(), fetcher.Options{
		Timeout:     2 * time.Second,
		BackoffBase: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	ctx := context.Background()

	got, err := ResolveDocument(ctx, client, srv.URL+"/files/book.pdf?sig=1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "book.pdf") {
		t.Fatalf("path = %s", got)
	}
	if data, _ := os.ReadFile(got); string(data) != "%PDF-1.4" {
		t.Fatalf("content = %q", data)
	}
	if n := atomic.LoadInt64(&bookCalls); n != 3 {
		t.Fatalf("book fetched %d times, want 3", n)
	}

	if _, err := ResolveDocument(ctx, client, srv.URL+"/missing.pdf", dir); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.pdf")); !os.IsNotExist(err) {
		t.Fatal("failed download left a file")
	}
	if got, _ := ResolveDocument(ctx, nil, "file:///tmp/a.pdf", dir); got != "/tmp/a.pdf" {
		t.Fatalf("file ref = %s", got)
	}
	if got, _ := ResolveDocument(ctx, nil, "local.pdf", dir); got != "local.pdf" {
		t.Fatalf("plain path = %s", got)
	}
}
