package state

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK    = "ok"
	resultError = "error"
	resultStale = "stale"
)

// Metrics exports remote sync outcomes. A nil *Metrics records nothing.
type Metrics struct {
	syncs   *prometheus.CounterVec
	pending prometheus.Gauge
}

// NewMetrics registers the sync collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "remote_sync_total",
			Help:      "Completed remote mirror calls by kind and result.",
		}, []string{"kind", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storefront",
			Name:      "remote_sync_pending",
			Help:      "Remote mirror calls currently in flight.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.syncs, m.pending} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(kind Kind, result string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
