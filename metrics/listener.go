package metrics

import (
	"time"

	"go.deltaset.dev/core/producer"
)

// Listener is a producer.Listener which surfaces cycle activity through
// the package's prometheus collectors. Cycle events arrive on the cycle
// goroutine, so the Listener requires no synchronization of its own.
type Listener struct {
	producer.ListenerBase
	noDeltaVersion int64
}

// NewListener returns a metrics Listener.
func NewListener() *Listener { return &Listener{} }

func (l *Listener) OnCycleComplete(status producer.Status, elapsed time.Duration) {
	CycleDurationTotal.Add(elapsed.Seconds())

	if status.Version == l.noDeltaVersion {
		return // Already counted by OnNoDelta; no version was announced.
	}
	CyclesTotal.WithLabelValues(statusLabel(status.Err)).Inc()

	if status.Err == nil {
		CurrentVersion.Set(float64(status.Version))
	}
}

func (l *Listener) OnNoDelta(status producer.Status) {
	l.noDeltaVersion = status.Version
	CyclesTotal.WithLabelValues(NoDelta).Inc()
}

func (*Listener) OnBlobPublish(status producer.PublishStatus, _ time.Duration) {
	BlobPublishTotal.WithLabelValues(status.Ref.Kind.String(), statusLabel(status.Err)).Inc()
}

func (*Listener) OnIntegrityCheckComplete(status producer.Status, _ time.Duration) {
	IntegrityChecksTotal.WithLabelValues(statusLabel(status.Err)).Inc()
}

func (*Listener) OnValidationComplete(status producer.Status, _ time.Duration) {
	ValidationsTotal.WithLabelValues(statusLabel(status.Err)).Inc()
}

func (*Listener) OnAnnouncementComplete(status producer.Status, _ time.Duration) {
	AnnouncementsTotal.WithLabelValues(statusLabel(status.Err)).Inc()
}

func (*Listener) OnProducerRestoreComplete(status producer.RestoreStatus, _ time.Duration) {
	RestoresTotal.WithLabelValues(statusLabel(status.Err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return Fail
	}
	return Ok
}
