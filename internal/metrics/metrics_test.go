package metrics

import (
    "net/http/httptest"
    "strings"
    "testing"
)

func TestInitTwiceAndServe(t *testing.T) {
    Init()
    Init()

    AddRedactions("text", 2)
    IncProbe("exists")

    rec := httptest.NewRecorder()
    Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
    body := rec.Body.String()
    if !strings.Contains(body, `pagegrab_redactions_total{kind="text"} 2`) {
        t.Fatalf("redactions missing:\n%s", body)
    }
    if !strings.Contains(body, `pagegrab_probes_total{result="exists"} 1`) {
        t.Fatalf("probes missing:\n%s", body)
    }
}
