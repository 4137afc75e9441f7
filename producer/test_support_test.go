package producer

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/codecs"
	"go.deltaset.dev/core/blob/stores"
)

// testRecord is the record model used throughout producer tests.
type testRecord struct {
	ID   int64
	Name string
}

// populatorOf returns a Populator which adds each of |recs|.
func populatorOf(recs ...testRecord) Populator {
	return func(_ context.Context, ws *WriteState) error {
		for _, r := range recs {
			if _, err := ws.Add(r); err != nil {
				return err
			}
		}
		return nil
	}
}

// seqMinter mints sequential versions from a seed.
type seqMinter struct{ next int64 }

func (m *seqMinter) Mint() int64 { m.next++; return m.next }

// testAnnouncer records announced versions, and fails with |err| if set.
type testAnnouncer struct {
	versions []int64
	err      error
}

func (a *testAnnouncer) Announce(_ context.Context, version int64) error {
	if a.err != nil {
		return a.err
	}
	a.versions = append(a.versions, version)
	return nil
}

// queuedExecutor queues deferred tasks for explicit draining by the test.
type queuedExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (e *queuedExecutor) Execute(task func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
}

func (e *queuedExecutor) drain() int {
	e.mu.Lock()
	var tasks = e.tasks
	e.tasks = nil
	e.mu.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// eventListener records the names of fired events in order, plus the
// statuses of interesting completions.
type eventListener struct {
	ListenerBase
	mu     sync.Mutex
	events []string

	newDeltaChain []int64
	published     []blob.Ref
	integrityErr  error
	validationErr error
	cycleStatus   Status
	noDelta       bool
}

func (l *eventListener) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventListener) OnNewDeltaChain(v int64) {
	l.newDeltaChain = append(l.newDeltaChain, v)
	l.record("newDeltaChain")
}
func (l *eventListener) OnCycleStart(int64) { l.record("cycleStart") }
func (l *eventListener) OnCycleComplete(s Status, _ time.Duration) {
	l.cycleStatus = s
	l.record("cycleComplete")
}
func (l *eventListener) OnNoDelta(Status) {
	l.noDelta = true
	l.record("noDelta")
}
func (l *eventListener) OnPopulateStart(int64)                  { l.record("populateStart") }
func (l *eventListener) OnPopulateComplete(Status, time.Duration) { l.record("populateComplete") }
func (l *eventListener) OnPublishStart(int64)                   { l.record("publishStart") }
func (l *eventListener) OnPublishComplete(Status, time.Duration) { l.record("publishComplete") }
func (l *eventListener) OnBlobPublish(s PublishStatus, _ time.Duration) {
	l.mu.Lock()
	l.published = append(l.published, s.Ref)
	l.mu.Unlock()
	l.record("blobPublish")
}
func (l *eventListener) OnIntegrityCheckStart(int64) { l.record("integrityStart") }
func (l *eventListener) OnIntegrityCheckComplete(s Status, _ time.Duration) {
	l.integrityErr = s.Err
	l.record("integrityComplete")
}
func (l *eventListener) OnValidationStart(int64) { l.record("validationStart") }
func (l *eventListener) OnValidationComplete(s Status, _ time.Duration) {
	l.validationErr = s.Err
	l.record("validationComplete")
}
func (l *eventListener) OnAnnouncementStart(int64)                    { l.record("announcementStart") }
func (l *eventListener) OnAnnouncementComplete(Status, time.Duration) { l.record("announcementComplete") }

func (l *eventListener) publishedOfKind(kind blob.Kind) (out []blob.Ref) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ref := range l.published {
		if ref.Kind == kind {
			out = append(out, ref)
		}
	}
	return out
}

// testHarness bundles a Producer with observable fixtures: an in-memory
// staging filesystem, an in-memory blob store, a sequential minter, and
// an event-capturing listener.
type testHarness struct {
	producer  *Producer
	store     *stores.MemoryStore
	announcer *testAnnouncer
	listener  *eventListener
	stager    *switchableStager
}

func newTestHarness(t interface{ Fatal(...interface{}) }, opts ...Option) *testHarness {
	var h = &testHarness{
		store:     stores.NewMemoryStore(),
		announcer: new(testAnnouncer),
		listener:  new(eventListener),
	}

	var inner, err = blob.NewFSStager(afero.NewMemMapFs(), "/staging", codecs.Snappy)
	if err != nil {
		t.Fatal(err)
	}
	h.stager = &switchableStager{inner: inner}

	opts = append([]Option{
		WithBlobStager(h.stager),
		WithVersionMinter(&seqMinter{next: 1000}),
		WithListeners(h.listener),
	}, opts...)

	h.producer, err = New(blob.NewStorePublisher(h.store, ""), h.announcer, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err = h.producer.InitializeDataModel(testRecord{}); err != nil {
		t.Fatal(err)
	}
	return h
}

// snapshotCodec returns the compression codec of the harness stager.
func (h *testHarness) snapshotCodec() codecs.Compression { return codecs.Snappy }

// storePaths returns the content paths present in the test blob store.
func (h *testHarness) storePaths() map[string]bool {
	var out = make(map[string]bool)
	for path := range h.store.Content {
		out[path] = true
	}
	return out
}

// switchableStager delegates to an inner Stager, optionally corrupting
// staged deltas by replacing their serialized content.
type switchableStager struct {
	inner        blob.Stager
	corruptDelta func() []byte
}

func (s *switchableStager) OpenSnapshot(to int64) (blob.Staged, error) {
	return s.inner.OpenSnapshot(to)
}

func (s *switchableStager) OpenDelta(from, to int64) (blob.Staged, error) {
	var staged, err = s.inner.OpenDelta(from, to)
	if err != nil || s.corruptDelta == nil {
		return staged, err
	}
	return &corruptStaged{Staged: staged, content: s.corruptDelta}, nil
}

func (s *switchableStager) OpenReverseDelta(from, to int64) (blob.Staged, error) {
	return s.inner.OpenReverseDelta(from, to)
}

// corruptStaged discards serialized content and stages |content| instead.
type corruptStaged struct {
	blob.Staged
	content func() []byte
}

func (c *corruptStaged) Write(fn func(w io.Writer) error) error {
	return c.Staged.Write(func(w io.Writer) error {
		if err := fn(io.Discard); err != nil {
			return err
		}
		var _, err = w.Write(c.content())
		return err
	})
}
