// Package metrics exposes prometheus counters for the update engine.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmldb",
		Subsystem: "update",
		Name:      "batches_total",
		Help:      "Update batches by result.",
	}, []string{"result"})

	UpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmldb",
		Subsystem: "update",
		Name:      "applied_total",
		Help:      "Applied updates by kind.",
	}, []string{"kind"})

	UpdatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xmldb",
		Subsystem: "update",
		Name:      "discarded_total",
		Help:      "Updates dropped because a destructive update removes their target.",
	})

	DistancesRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xmldb",
		Subsystem: "update",
		Name:      "distances_repaired_total",
		Help:      "Nodes whose parent distance was rewritten after a batch.",
	})

	SnapshotBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xmldb",
		Subsystem: "snapshot",
		Name:      "bytes_total",
		Help:      "Compressed snapshot bytes by direction.",
	}, []string{"direction"})
)

// Gather returns the current values of all xmldb counters keyed by metric
// name and label values.
func Gather() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "xmldb_") {
			continue
		}
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			if c := m.GetCounter(); c != nil {
				out[key] = c.GetValue()
			}
		}
	}
	return out, nil
}
