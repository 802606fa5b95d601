package mog

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics
// records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	fetchedBytes prometheus.Counter
	metadata     *prometheus.CounterVec
	tiles        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mog",
			Name:      "http_requests_total",
			Help:      "HTTP requests issued to container storage, by outcome.",
		}, []string{"status"}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mog",
			Name:      "fetched_bytes_total",
			Help:      "Bytes read from container storage.",
		}),
		metadata: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mog",
			Name:      "metadata_lookups_total",
			Help:      "Container metadata cache lookups, by result.",
		}, []string{"result"}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mog",
			Name:      "tiles_total",
			Help:      "Tiles requested from the engine, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.fetchedBytes, m.metadata, m.tiles)
	}
	return m
}

func (m *Metrics) observeRequest(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

func (m *Metrics) addBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fetchedBytes.Add(float64(n))
}

func (m *Metrics) observeMetadata(result string) {
	if m == nil {
		return
	}
	m.metadata.WithLabelValues(result).Inc()
}

func (m *Metrics) observeTile(found bool) {
	if m == nil {
		return
	}
	if found {
		m.tiles.WithLabelValues("found").Inc()
	} else {
		m.tiles.WithLabelValues("absent").Inc()
	}
}
