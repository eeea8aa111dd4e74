// Package ledger records which page files were already folded into an
// assembled document. Entries are durable as soon as Append returns and
// are never removed.
package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is an append-only set of file names.
type Ledger interface {
	Contains(ctx context.Context, name string) (bool, error)
	Append(ctx context.Context, name string) error
	Close() error
}

// FileLedger is a newline-delimited file, read fully on open and
// appended to with an fsync per entry.
type FileLedger struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	seen  map[string]struct{}
	order []string
}

// OpenFile loads the ledger at path. A missing file is an empty ledger;
// the file is created on first append.
func OpenFile(path string) (*FileLedger, error) {
	l := &FileLedger{path: path, seen: make(map[string]struct{})}

	f, err := os.Open(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			name := strings.TrimSpace(sc.Text())
			if name == "" {
				continue
			}
			if _, ok := l.seen[name]; ok {
				continue
			}
			l.seen[name] = struct{}{}
			l.order = append(l.order, name)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read ledger %s: %w", path, err)
		}
	}
	return l, nil
}

// Contains reports whether name was recorded.
func (l *FileLedger) Contains(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[name]
	return ok, nil
}

// Append records name and syncs the file. Recording a name twice is a no-op.
func (l *FileLedger) Append(_ context.Context, name string) error {
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("ledger: invalid name %q", name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[name]; ok {
		return nil
	}
	if l.f == nil {
		if dir := filepath.Dir(l.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create ledger dir: %w", err)
			}
		}
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger %s: %w", l.path, err)
		}
		l.f = f
	}
	if _, err := l.f.WriteString(name + "\n"); err != nil {
		return fmt.Errorf("append ledger %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger %s: %w", l.path, err)
	}
	l.seen[name] = struct{}{}
	l.order = append(l.order, name)
	return nil
}

// Names returns the recorded names in insertion order.
func (l *FileLedger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Close releases the append handle.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
