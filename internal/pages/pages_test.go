package pages

import (
	"path/filepath"
	"testing"
)

func TestHandleRendering(t *testing.T) {
	l := Layout{
		Template:    "https://lib.test/content/df93{}.png",
		RemoteWidth: 6,
		Dir:         "photos",
		Prefix:      "photo_",
		LocalWidth:  3,
		Ext:         ".png",
	}
	h := l.Handle(7)
	if h.Index != 7 {
		t.Errorf("Index = %d", h.Index)
	}
	if h.Locator != "https://lib.test/content/df93000007.png" {
		t.Errorf("Locator = %q", h.Locator)
	}
	if h.Slot != filepath.Join("photos", "photo_007.png") {
		t.Errorf("Slot = %q", h.Slot)
	}
	if h.Name() != "photo_007.png" {
		t.Errorf("Name = %q", h.Name())
	}
}

func TestLocatorVerbs(t *testing.T) {
	cases := []struct {
		template string
		want     string
	}{
		{"https://x.test/%s.png", "https://x.test/000042.png"},
		{"https://x.test/%06d.png", "https://x.test/000042.png"},
		{"https://x.test/p%d", "https://x.test/p42"},
	}
	for _, c := range cases {
		l := Layout{Template: c.template, RemoteWidth: 6}
		if got := l.Locator(42); got != c.want {
			t.Errorf("Locator(%q) = %q, want %q", c.template, got, c.want)
		}
	}
}

func TestFileNamesSortInPageOrder(t *testing.T) {
	l := Layout{Prefix: "photo_", LocalWidth: 3, Ext: ".png"}
	if !(l.FileName(9) < l.FileName(10) && l.FileName(99) < l.FileName(100)) {
		t.Fatal("zero-padded names must sort lexicographically in page order")
	}
	if !l.IsPageFile("photo_001.png") || l.IsPageFile("photo_001.png.part") || l.IsPageFile("notes.png") {
		t.Fatal("IsPageFile mismatch")
	}
}
