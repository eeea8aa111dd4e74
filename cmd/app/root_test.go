package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/local/pagegrab/internal/config"
	"github.com/local/pagegrab/internal/orchestrator"
)

func configForTest() config.Config {
	cfg := config.Default()
	cfg.Source.Template = "https://host/p/{}.png"
	return cfg
}

func TestNewRootCmdHasSubcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"run", "discover", "assemble", "unwatermark", "doctor"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s missing: %v", name, err)
		}
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pagegrab.yaml")
	yaml := "source:\n  template: https://yaml/p/{}.png\n  upper_bound: 50\ncache:\n  dir: yaml-cache\noutput:\n  pdf: yaml.pdf\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CACHE_DIR", "env-cache")
	t.Setenv("OUTPUT_PDF", "env.pdf")

	root := NewRootCmd()
	run, _, _ := root.Find([]string{"run"})
	if err := run.ParseFlags([]string{"--config", file, "--env-file", "", "-o", "flag.pdf", "-w", "3"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(run, true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Source.Template != "https://yaml/p/{}.png" || cfg.Source.UpperBound != 50 {
		t.Fatalf("yaml not applied: %+v", cfg.Source)
	}
	if cfg.Cache.Dir != "env-cache" {
		t.Fatalf("cache dir = %s, want env value", cfg.Cache.Dir)
	}
	if cfg.Output.PDFPath != "flag.pdf" || cfg.Worker.Concurrency != 3 {
		t.Fatalf("flags not applied: pdf=%s workers=%d", cfg.Output.PDFPath, cfg.Worker.Concurrency)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	root := NewRootCmd()
	run, _, _ := root.Find([]string{"run"})
	if err := run.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "--env-file", ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(run, false); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestCommandOptions(t *testing.T) {
	root := NewRootCmd()
	run, _, _ := root.Find([]string{"run"})
	if err := run.ParseFlags([]string{"--delete-cache", "yes", "--watermark-text", "SECRET", "--append"}); err != nil {
		t.Fatal(err)
	}
	opts, err := commandOptions(run, configForTest())
	if err != nil {
		t.Fatal(err)
	}
	if opts.DeleteCache != orchestrator.Yes || opts.Watermark != orchestrator.Yes || opts.WatermarkText != "SECRET" || !opts.Append {
		t.Fatalf("opts = %+v", opts)
	}

	disc, _, _ := root.Find([]string{"discover"})
	opts, err = commandOptions(disc, configForTest())
	if err != nil {
		t.Fatal(err)
	}
	if opts.DeleteCache != orchestrator.No || opts.Watermark != orchestrator.No {
		t.Fatalf("discover should never prompt: %+v", opts)
	}

	bad := NewRunCmd()
	bad.ParseFlags([]string{"--watermark", "maybe"})
	if _, err := commandOptions(bad, configForTest()); err == nil {
		t.Fatal("expected error for bad choice")
	}
}

func TestParseChoice(t *testing.T) {
	cases := map[string]orchestrator.Choice{
		"":    orchestrator.Ask,
		"ask": orchestrator.Ask,
		"YES": orchestrator.Yes,
		"n":   orchestrator.No,
	}
	for in, want := range cases {
		got, err := parseChoice(in)
		if err != nil || got != want {
			t.Errorf("parseChoice(%q) = %v, %v", in, got, err)
		}
	}
}

func TestStdinPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newStdinPrompter(strings.NewReader("Yes\n  CONFIDENTIAL  \n"), &out)
	ctx := context.Background()

	ok, err := p.Confirm(ctx, "Do you want to delete the downloaded photos?")
	if err != nil || !ok {
		t.Fatalf("confirm = %v, %v", ok, err)
	}
	text, err := p.Ask(ctx, "Please enter the watermark text to remove:")
	if err != nil || text != "CONFIDENTIAL" {
		t.Fatalf("ask = %q, %v", text, err)
	}
	if !strings.Contains(out.String(), "(yes/no):") {
		t.Fatalf("prompt = %q", out.String())
	}

	// input exhausted
	ok, err = p.Confirm(ctx, "again?")
	if err != nil || ok {
		t.Fatalf("confirm on EOF = %v, %v", ok, err)
	}
}
