package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics: счётчики одного запуска. Процесс короткоживущий, поэтому вместо
// /metrics эндпоинта значения сбрасываются в textfile для node_exporter.
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Pages     *prometheus.CounterVec
	Tenders   *prometheus.CounterVec
	Documents *prometheus.CounterVec
	Bytes     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_harvester_requests_total",
			Help: "Outbound requests by endpoint kind and outcome.",
		}, []string{"endpoint", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_harvester_retries_total",
			Help: "Retried attempts by endpoint kind.",
		}, []string{"endpoint"}),
		Pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_harvester_pages_total",
			Help: "Listing pages by province and outcome.",
		}, []string{"province", "outcome"}),
		Tenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_harvester_tenders_total",
			Help: "Tender records by result (created, updated, unchanged, rejected, failed).",
		}, []string{"result"}),
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_harvester_documents_total",
			Help: "Attachments by result (downloaded, skipped, failed).",
		}, []string{"result"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tender_harvester_downloaded_bytes_total",
			Help: "Bytes written to attachment files.",
		}),
	}

	m.registry.MustRegister(m.Requests, m.Retries, m.Pages, m.Tenders, m.Documents, m.Bytes)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile сохраняет текущие значения; пустой путь: no-op
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
