package storage

import "testing"

func TestParseURI(t *testing.T) {
	cases := []struct {
		in             string
		bucket, prefix string
		bad            bool
	}{
		{in: "s3://books", bucket: "books"},
		{in: "s3://books/", bucket: "books"},
		{in: "s3://books/scans/2024/", bucket: "books", prefix: "scans/2024"},
		{in: "s3:///x", bad: true},
		{in: "https://books/x", bad: true},
	}
	for _, c := range cases {
		b, p, err := ParseURI(c.in)
		if c.bad {
			if err == nil {
				t.Errorf("%s: expected error", c.in)
			}
			continue
		}
		if err != nil || b != c.bucket || p != c.prefix {
			t.Errorf("%s: got (%q, %q, %v)", c.in, b, p, err)
		}
	}
}

func TestNextVersion(t *testing.T) {
	keys := []string{
		"scans/output_v1.pdf",
		"scans/output_v3.pdf",
		"scans/output_v10.log",
		"scans/output_vx.pdf",
		"scans/output_no_watermark_v7.pdf",
	}
	if n := nextVersion(keys, "scans/output", ".pdf"); n != 4 {
		t.Fatalf("next = %d, want 4", n)
	}
	if n := nextVersion(nil, "scans/output", ".pdf"); n != 1 {
		t.Fatalf("next on empty = %d", n)
	}
}

func TestKeyAndContentType(t *testing.T) {
	p := &Publisher{prefix: "scans"}
	if k := p.key("output"); k != "scans/output" {
		t.Fatalf("key = %q", k)
	}
	if k := (&Publisher{}).key("output"); k != "output" {
		t.Fatalf("key = %q", k)
	}
	if ct := contentType(".PDF"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
}
