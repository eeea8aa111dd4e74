package orchestrator

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/local/pagegrab/internal/pages"
)

// CleanupPartials removes leftovers of interrupted writes in dir older
// than maxAge: page downloads (*.part) and document temp files (*.tmp).
// It returns how many files were removed.
func CleanupPartials(dir string, maxAge time.Duration) int {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return 0
    }
    now := time.Now()
    removed := 0
    for _, e := range entries {
        if e.IsDir() {
            continue
        }
        name := e.Name()
        if !(strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")) {
            continue
        }
        info, err := e.Info()
        if err != nil || now.Sub(info.ModTime()) < maxAge {
            continue
        }
        if os.Remove(filepath.Join(dir, name)) == nil {
            removed++
        }
    }
    return removed
}

// DeleteCache removes the cached page images of layout from dir. Other
// files in the directory are left alone.
func DeleteCache(dir string, layout pages.Layout) (int, error) {
    entries, err := os.ReadDir(dir)
    if err != nil {
        if errors.Is(err, os.ErrNotExist) {
            return 0, nil
        }
        return 0, fmt.Errorf("list %s: %w", dir, err)
    }
    removed := 0
    for _, e := range entries {
        if e.IsDir() || !layout.IsPageFile(e.Name()) {
            continue
        }
        if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
            return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
        }
        removed++
    }
    return removed, nil
}
