package logger

import (
    "bytes"
    "context"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/rs/zerolog/log"
)

func TestInitWritesConsoleAndFile(t *testing.T) {
    var buf bytes.Buffer
    file := filepath.Join(t.TempDir(), "logs", "pagegrab.log")
    if err := Init(Options{Level: "debug", File: file, Output: &buf, MaxSizeMB: 1}); err != nil {
        t.Fatal(err)
    }
    t.Cleanup(Close)

    ctx := WithRun(context.Background(), "run-42")
    log.Ctx(ctx).Info().Int("page", 3).Msg("Downloaded")

    if !strings.Contains(buf.String(), `"run_id":"run-42"`) || !strings.Contains(buf.String(), `"page":3`) {
        t.Fatalf("console output = %s", buf.String())
    }
    data, err := os.ReadFile(file)
    if err != nil {
        t.Fatal(err)
    }
    if !strings.Contains(string(data), "Downloaded") {
        t.Fatalf("log file = %s", data)
    }
}

func TestContextWithoutLoggerUsesGlobal(t *testing.T) {
    var buf bytes.Buffer
    if err := Init(Options{Level: "warn", Output: &buf}); err != nil {
        t.Fatal(err)
    }
    log.Ctx(context.Background()).Info().Msg("hidden")
    log.Ctx(context.Background()).Warn().Msg("shown")
    if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
        t.Fatalf("output = %s", buf.String())
    }
}

type fakeSink struct{ events []axiom.Event }

func (f *fakeSink) Send(ev axiom.Event) { f.events = append(f.events, ev) }

func TestAxiomWriterDropsDebug(t *testing.T) {
    sink := &fakeSink{}
    w := &axiomWriter{sink: sink}
    w.Write([]byte(`{"level":"debug","message":"noise"}`))
    w.Write([]byte(`{"level":"info","message":"kept"}`))
    w.Write([]byte("not json"))

    if len(sink.events) != 2 {
        t.Fatalf("events = %v", sink.events)
    }
    if sink.events[0]["service"] != service || sink.events[0]["message"] != "kept" {
        t.Fatalf("event = %v", sink.events[0])
    }
}
