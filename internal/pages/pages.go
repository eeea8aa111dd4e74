// Package pages maps page indexes to remote locators and local cache slots.
package pages

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layout describes how a page index is rendered remotely and locally.
type Layout struct {
	// Template carries one placeholder: "{}" or "%s" receive the
	// zero-padded index as a string, any other verb receives the integer.
	Template    string
	RemoteWidth int

	Dir        string
	Prefix     string
	LocalWidth int
	Ext        string
}

// Handle identifies one page. Built on demand, never mutated.
type Handle struct {
	Index   int
	Locator string
	Slot    string
}

// Name returns the cache file name of the slot, e.g. photo_007.png.
func (h Handle) Name() string {
	return filepath.Base(h.Slot)
}

// Handle builds the handle for page n.
func (l Layout) Handle(n int) Handle {
	return Handle{
		Index:   n,
		Locator: l.Locator(n),
		Slot:    filepath.Join(l.Dir, l.FileName(n)),
	}
}

// Locator renders the remote address of page n.
func (l Layout) Locator(n int) string {
	padded := pad(n, l.RemoteWidth)
	switch {
	case strings.Contains(l.Template, "{}"):
		return strings.Replace(l.Template, "{}", padded, 1)
	case strings.Contains(l.Template, "%s"):
		return fmt.Sprintf(l.Template, padded)
	default:
		return fmt.Sprintf(l.Template, n)
	}
}

// FileName renders the local cache file name of page n.
func (l Layout) FileName(n int) string {
	return l.Prefix + pad(n, l.LocalWidth) + l.Ext
}

// IsPageFile reports whether name looks like a cache file of this layout.
func (l Layout) IsPageFile(name string) bool {
	return strings.HasPrefix(name, l.Prefix) && strings.HasSuffix(name, l.Ext)
}

func pad(n, width int) string {
	if width <= 0 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%0*d", width, n)
}
