// prometheus.go - Prometheus text exporter for the in-process counters.
package server

import (
	"fmt"
	"net/http"
	"strings"
)

// PrometheusExporter renders Metrics in the Prometheus text format.
type PrometheusExporter struct {
	metrics *Metrics
	version string
	rooms   func() int
}

// NewPrometheusExporter creates an exporter. rooms reports the number of
// resident rooms and may be nil.
func NewPrometheusExporter(metrics *Metrics, version string, rooms func() int) *PrometheusExporter {
	return &PrometheusExporter{metrics: metrics, version: version, rooms: rooms}
}

// Handler returns an HTTP handler for the /metrics endpoint
func (p *PrometheusExporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := p.metrics.Snapshot()

		var out strings.Builder

		out.WriteString("# HELP sfx_info Application version info\n")
		out.WriteString("# TYPE sfx_info gauge\n")
		fmt.Fprintf(&out, "sfx_info{version=\"%s\"} 1\n\n", prometheusLabel(p.version))

		writeMetric(&out, "sfx_requests_total", "counter", "Total number of HTTP requests", s.RequestsTotal)
		out.WriteString("# HELP sfx_request_errors_total HTTP error responses by class\n")
		out.WriteString("# TYPE sfx_request_errors_total counter\n")
		fmt.Fprintf(&out, "sfx_request_errors_total{class=\"4xx\"} %d\n", s.RequestErrors4xx)
		fmt.Fprintf(&out, "sfx_request_errors_total{class=\"5xx\"} %d\n\n", s.RequestErrors5xx)

		writeMetric(&out, "sfx_uploads_total", "counter", "Total number of stored uploads", s.UploadsTotal)
		writeMetric(&out, "sfx_upload_bytes_total", "counter", "Total bytes stored by uploads", s.UploadBytesTotal)
		writeMetric(&out, "sfx_upload_errors_total", "counter", "Total number of failed uploads", s.UploadErrorsTotal)
		writeMetric(&out, "sfx_downloads_total", "counter", "Total number of file downloads", s.DownloadsTotal)
		writeMetric(&out, "sfx_download_bytes_total", "counter", "Total bytes served by downloads", s.DownloadBytesTotal)
		writeMetric(&out, "sfx_download_errors_total", "counter", "Total number of failed downloads", s.DownloadErrorsTotal)
		writeMetric(&out, "sfx_deletes_total", "counter", "Total number of deleted files", s.DeletesTotal)

		writeMetric(&out, "sfx_rooms_created_total", "counter", "Total number of rooms created", s.RoomsCreatedTotal)
		out.WriteString("# HELP sfx_room_joins_total Room password checks by outcome\n")
		out.WriteString("# TYPE sfx_room_joins_total counter\n")
		fmt.Fprintf(&out, "sfx_room_joins_total{result=\"ok\"} %d\n", s.JoinSuccessTotal)
		fmt.Fprintf(&out, "sfx_room_joins_total{result=\"failed\"} %d\n\n", s.JoinFailuresTotal)
		writeMetric(&out, "sfx_room_lockouts_total", "counter", "Password checks refused by the lockout", s.LockoutsTotal)

		if p.rooms != nil {
			writeMetric(&out, "sfx_rooms", "gauge", "Rooms currently resident", int64(p.rooms()))
		}

		out.WriteString("# HELP sfx_uptime_seconds Application uptime in seconds\n")
		out.WriteString("# TYPE sfx_uptime_seconds counter\n")
		fmt.Fprintf(&out, "sfx_uptime_seconds %.0f\n", s.UptimeSeconds)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out.String()))
	}
}

func writeMetric(out *strings.Builder, name, kind, help string, value int64) {
	fmt.Fprintf(out, "# HELP %s %s\n", name, help)
	fmt.Fprintf(out, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(out, "%s %d\n\n", name, value)
}

// prometheusLabel escapes a label value.
func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "\\n")
	return value
}
