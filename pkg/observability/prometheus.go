package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusExporter bridges OTel instruments to a private Prometheus
// registry. Its reader must be attached to the MeterProvider whose
// instruments should be scraped.
type PrometheusExporter struct {
	registry *prometheus.Registry
	reader   *promexporter.Exporter
}

// NewPrometheusExporter creates an exporter with its own registry, so several
// exporters never conflict on collector registration.
func NewPrometheusExporter() (*PrometheusExporter, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &PrometheusExporter{registry: registry, reader: exporter}, nil
}

// Reader returns the metric reader to attach to a MeterProvider.
func (p *PrometheusExporter) Reader() sdkmetric.Reader {
	return p.reader
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
