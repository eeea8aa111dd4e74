// Package verify checks assembled artifacts by opening them with MuPDF.
package verify

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMissing is returned when the artifact does not exist after a save.
var ErrMissing = errors.New("artifact missing")

// Doc abstracts an opened PDF document.
type Doc interface {
	NumPage() int
	Text(page int) (string, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

// setDefaultOpener swaps the backend, for tests.
func setDefaultOpener(o Opener) { defaultOpener = o }

// Report describes one checked artifact.
type Report struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Pages      int    `json:"pages"`
	Text       string `json:"text,omitempty"`
	Residual   int    `json:"residual"`
	PageErrors int    `json:"page_errors"`
	DurationMs int64  `json:"duration_ms"`
}

// Artifact checks that path exists and opens as a PDF.
func Artifact(path string) (*Report, error) {
	return check(path, "")
}

// Residual opens path and counts the occurrences of text left in the
// extracted page text.
func Residual(path, text string) (*Report, error) {
	if text == "" {
		return nil, errors.New("empty search text")
	}
	return check(path, text)
}

func check(path, text string) (*Report, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() || st.Size() == 0 {
		return nil, fmt.Errorf("%s is not a document: %w", path, ErrMissing)
	}
	if defaultOpener == nil {
		return nil, errors.New("no PDF opener configured")
	}

	start := time.Now()
	d, err := defaultOpener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer d.Close()

	rep := &Report{Path: path, Size: st.Size(), Pages: d.NumPage(), Text: text}
	if text != "" {
		for i := 0; i < rep.Pages; i++ {
			pt, err := d.Text(i)
			if err != nil {
				rep.PageErrors++
				log.Debug().Err(err).Int("page", i+1).Str("pdf", path).Msg("Text extraction failed")
				continue
			}
			rep.Residual += strings.Count(pt, text)
		}
	}
	rep.DurationMs = time.Since(start).Milliseconds()

	log.Debug().
		Str("pdf", path).
		Int("pages", rep.Pages).
		Int("residual", rep.Residual).
		Int64("duration_ms", rep.DurationMs).
		Msg("Artifact checked")
	return rep, nil
}

// MuPDF exposes Artifact and Residual as methods for callers that take
// a checker interface.
type MuPDF struct{}

func (MuPDF) Artifact(path string) (*Report, error)       { return Artifact(path) }
func (MuPDF) Residual(path, text string) (*Report, error) { return Residual(path, text) }
