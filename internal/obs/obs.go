// Package obs wires OpenTelemetry tracing and Prometheus metrics across
// bytefold's reader and engine entry points, grounded on the teacher's
// pkg/tarfs/parse.go span usage and pkg/tarfs/metrics.go counters.
package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/Ismail-elkorchi/bytefold")

// Start begins a span named op and returns the derived context and the span,
// mirroring tracer.Start(ctx, "buildTOC") in pkg/tarfs/parse.go.
func Start(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op)
}

// Metrics are the package-level Prometheus instruments shared by every
// reader/engine, following pkg/tarfs/metrics.go's naming convention.
var (
	EntriesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bytefold",
		Subsystem: "archive",
		Name:      "entries_read_total",
		Help:      "Number of archive entries read, by container format.",
	}, []string{"format"})

	BytesDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bytefold",
		Subsystem: "codec",
		Name:      "bytes_decoded_total",
		Help:      "Decoded output bytes, by codec.",
	}, []string{"codec"})

	ResourceLimitTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bytefold",
		Subsystem: "limits",
		Name:      "trips_total",
		Help:      "Resource-limit exceedances, by limit name.",
	}, []string{"limit"})

	AuditIssues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bytefold",
		Subsystem: "audit",
		Name:      "issues_total",
		Help:      "Audit issues raised, by code and severity.",
	}, []string{"code", "severity"})
)

func init() {
	prometheus.MustRegister(EntriesRead, BytesDecoded, ResourceLimitTrips, AuditIssues)
}
