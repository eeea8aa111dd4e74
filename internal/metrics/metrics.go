package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    fetchTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "fetch_total",
            Help:      "Page fetches by result (downloaded, cached, failed)",
        },
        []string{"result"},
    )

    fetchLatency = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "pagegrab",
            Name:      "fetch_duration_seconds",
            Help:      "Duration of page fetches that hit the network, retries included",
            Buckets:   prometheus.DefBuckets,
        },
    )

    retriesTotal = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "fetch_retries_total",
            Help:      "Total number of fetch retries",
        },
    )

    probesTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "probes_total",
            Help:      "Discovery probes by result (exists, missing, memoized)",
        },
        []string{"result"},
    )

    pagesAssembled = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "pages_assembled_total",
            Help:      "Pages appended to an assembled document",
        },
    )

    ledgerSkipped = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "ledger_skipped_total",
            Help:      "Page files skipped because the ledger already lists them",
        },
    )

    redactions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagegrab",
            Name:      "redactions_total",
            Help:      "Redaction regions applied by kind (text, image)",
        },
        []string{"kind"},
    )
)

var registerOnce sync.Once

// Init registers collectors. Calls after the first are no-ops.
func Init() {
    registerOnce.Do(func() {
        prometheus.MustRegister(fetchTotal, fetchLatency, retriesTotal, probesTotal, pagesAssembled, ledgerSkipped, redactions)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveFetch(result string, dur time.Duration) {
    fetchTotal.WithLabelValues(result).Inc()
    if dur > 0 {
        fetchLatency.Observe(dur.Seconds())
    }
}

func IncRetry()                { retriesTotal.Inc() }
func IncProbe(result string)   { probesTotal.WithLabelValues(result).Inc() }
func IncAssembled()            { pagesAssembled.Inc() }
func IncLedgerSkipped()        { ledgerSkipped.Inc() }
func AddRedactions(kind string, n int) { redactions.WithLabelValues(kind).Add(float64(n)) }
