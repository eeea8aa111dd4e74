package assembler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocumentWriter turns page images into a PDF at path, one page per image.
// When appendTo is true and path exists, the pages are added after the
// existing ones.
type DocumentWriter interface {
	WritePages(path string, images [][]byte, appendTo bool) error
}

// PDFWriter writes documents with pdfcpu. Each page takes the size of
// its image.
type PDFWriter struct{}

func (PDFWriter) WritePages(path string, images [][]byte, appendTo bool) error {
	readers := make([]io.Reader, len(images))
	for i, img := range images {
		readers[i] = bytes.NewReader(img)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()

	var existing *os.File
	if appendTo {
		if f, err := os.Open(path); err == nil {
			existing = f
			defer existing.Close()
		} else if !os.IsNotExist(err) {
			tmp.Close()
			return fmt.Errorf("open %s: %w", path, err)
		}
	}

	if existing != nil {
		err = api.ImportImages(existing, tmp, readers, imp, conf)
	} else {
		err = api.ImportImages(nil, tmp, readers, imp, conf)
	}
	if err != nil {
		tmp.Close()
		return fmt.Errorf("import images: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}
