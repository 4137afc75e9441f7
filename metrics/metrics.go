// Package metrics exposes prometheus collectors of producer activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values of status dimensions.
const (
	Fail    = "fail"
	Ok      = "ok"
	NoDelta = "nodelta"
)

// Collectors of dataset producer metrics.
var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_cycles_total",
		Help: "Cumulative number of producer cycles, by outcome.",
	}, []string{"status"})
	CycleDurationTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltaset_producer_cycle_duration_seconds_total",
		Help: "Cumulative number of seconds spent running producer cycles.",
	})
	CurrentVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deltaset_producer_current_version",
		Help: "Version of the most recently announced dataset state.",
	})
	BlobPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_blob_publish_total",
		Help: "Cumulative number of published blobs, by kind and outcome.",
	}, []string{"kind", "status"})
	IntegrityChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_integrity_checks_total",
		Help: "Cumulative number of integrity checks, by outcome.",
	}, []string{"status"})
	ValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_validations_total",
		Help: "Cumulative number of validation runs, by outcome.",
	}, []string{"status"})
	AnnouncementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_announcements_total",
		Help: "Cumulative number of version announcements, by outcome.",
	}, []string{"status"})
	RestoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltaset_producer_restores_total",
		Help: "Cumulative number of producer restores, by outcome.",
	}, []string{"status"})
)

// ProducerCollectors returns the collectors of producer metrics, for
// registration at program startup.
func ProducerCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		CyclesTotal,
		CycleDurationTotal,
		CurrentVersion,
		BlobPublishTotal,
		IntegrityChecksTotal,
		ValidationsTotal,
		AnnouncementsTotal,
		RestoresTotal,
	}
}
