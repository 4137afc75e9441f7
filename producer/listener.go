package producer

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.deltaset.dev/core/blob"
)

// Status is the outcome of a cycle or of one of its phases.
type Status struct {
	// Version the cycle is producing.
	Version int64
	// Err is the failure of the cycle or phase, or nil on success.
	Err error
}

// Success returns whether the Status is successful.
func (s Status) Success() bool { return s.Err == nil }

// PublishStatus is the outcome of publishing a single blob.
type PublishStatus struct {
	// Ref of the published blob.
	Ref blob.Ref
	// Err is the publication failure, or nil on success.
	Err error
}

// RestoreStatus is the outcome of a restore.
type RestoreStatus struct {
	// Desired is the version the restore was asked for.
	Desired int64
	// Reached is the version actually retrieved, or VersionNone.
	Reached int64
	// Err is the restore failure, or nil on success.
	Err error
}

// Success returns whether the RestoreStatus is successful.
func (s RestoreStatus) Success() bool { return s.Err == nil }

// Listener observes producer lifecycle events. Start events precede their
// matched complete events, and per-blob publish events nest inside the
// publish start/complete pair. Listener calls occur on the cycle
// goroutine, except for OnBlobPublish of an asynchronously-published
// snapshot, which occurs on the snapshot executor's goroutine.
//
// A Listener which panics or misbehaves never fails the cycle: panics are
// recovered and logged.
type Listener interface {
	// OnProducerInit fires when the producer's data model is initialized.
	OnProducerInit(elapsed time.Duration)
	// OnProducerRestoreStart fires when a restore begins.
	OnProducerRestoreStart(version int64)
	// OnProducerRestoreComplete fires when a restore finishes.
	OnProducerRestoreComplete(status RestoreStatus, elapsed time.Duration)
	// OnNewDeltaChain fires when a cycle begins with no current read
	// state, carrying the version which roots the new delta chain.
	OnNewDeltaChain(version int64)
	// OnCycleStart fires as a cycle begins.
	OnCycleStart(version int64)
	// OnCycleComplete fires as a cycle reaches its terminal state.
	OnCycleComplete(status Status, elapsed time.Duration)
	// OnNoDelta fires when a cycle's populated state is unchanged from
	// the prior cycle, and no state is produced.
	OnNoDelta(status Status)
	// OnPopulateStart / OnPopulateComplete bracket the user populator.
	OnPopulateStart(version int64)
	OnPopulateComplete(status Status, elapsed time.Duration)
	// OnPublishStart / OnPublishComplete bracket blob staging and
	// publication.
	OnPublishStart(version int64)
	OnPublishComplete(status Status, elapsed time.Duration)
	// OnBlobPublish fires for each published blob.
	OnBlobPublish(status PublishStatus, elapsed time.Duration)
	// OnIntegrityCheckStart / OnIntegrityCheckComplete bracket the
	// delta round-trip checksum proof.
	OnIntegrityCheckStart(version int64)
	OnIntegrityCheckComplete(status Status, elapsed time.Duration)
	// OnValidationStart / OnValidationComplete bracket validator runs.
	OnValidationStart(version int64)
	OnValidationComplete(status Status, elapsed time.Duration)
	// OnAnnouncementStart / OnAnnouncementComplete bracket announcement.
	OnAnnouncementStart(version int64)
	OnAnnouncementComplete(status Status, elapsed time.Duration)
}

// ListenerBase is a no-op Listener, for embedding by listeners interested
// in a subset of events.
type ListenerBase struct{}

func (ListenerBase) OnProducerInit(time.Duration)                        {}
func (ListenerBase) OnProducerRestoreStart(int64)                        {}
func (ListenerBase) OnProducerRestoreComplete(RestoreStatus, time.Duration) {}
func (ListenerBase) OnNewDeltaChain(int64)                               {}
func (ListenerBase) OnCycleStart(int64)                                  {}
func (ListenerBase) OnCycleComplete(Status, time.Duration)               {}
func (ListenerBase) OnNoDelta(Status)                                    {}
func (ListenerBase) OnPopulateStart(int64)                               {}
func (ListenerBase) OnPopulateComplete(Status, time.Duration)            {}
func (ListenerBase) OnPublishStart(int64)                                {}
func (ListenerBase) OnPublishComplete(Status, time.Duration)             {}
func (ListenerBase) OnBlobPublish(PublishStatus, time.Duration)          {}
func (ListenerBase) OnIntegrityCheckStart(int64)                         {}
func (ListenerBase) OnIntegrityCheckComplete(Status, time.Duration)      {}
func (ListenerBase) OnValidationStart(int64)                             {}
func (ListenerBase) OnValidationComplete(Status, time.Duration)          {}
func (ListenerBase) OnAnnouncementStart(int64)                           {}
func (ListenerBase) OnAnnouncementComplete(Status, time.Duration)        {}

// listenerSupport fans lifecycle events out to registered listeners,
// recovering (and logging) listener panics so they cannot abort a cycle.
type listenerSupport struct {
	mu        sync.Mutex
	listeners []Listener
}

func (ls *listenerSupport) add(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.listeners = append(ls.listeners, l)
}

func (ls *listenerSupport) remove(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, ll := range ls.listeners {
		if ll == l {
			ls.listeners = append(ls.listeners[:i], ls.listeners[i+1:]...)
			return
		}
	}
}

func (ls *listenerSupport) fire(fn func(Listener)) {
	ls.mu.Lock()
	var listeners = append([]Listener(nil), ls.listeners...)
	ls.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Error("recovered listener panic")
				}
			}()
			fn(l)
		}()
	}
}
