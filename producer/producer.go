// Package producer implements the dataset producer cycle engine: the
// state machine which, once per cycle, prepares a fresh write state, lets
// user code populate it, stages and publishes snapshot and delta blobs,
// proves their integrity by round-tripping them through independent read
// engines, validates, announces, and atomically advances the published
// version — or rolls everything back on any failure.
package producer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.deltaset.dev/core/blob"
	"go.deltaset.dev/core/blob/codecs"
	"go.deltaset.dev/core/engine"
)

// Announcer publishes a newly-produced version so consumers refresh to it.
type Announcer interface {
	Announce(ctx context.Context, version int64) error
}

// Validator checks a pending read state before it is announced. All
// validators run even after one fails; any failure aborts the cycle.
type Validator interface {
	Validate(rs *ReadState) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(rs *ReadState) error

func (f ValidatorFunc) Validate(rs *ReadState) error { return f(rs) }

// Producer runs production cycles of a dataset. A single Producer owns
// its delta chain: RunCycle is not reentrant and callers must serialize
// cycles externally.
type Producer struct {
	stager     blob.Stager
	publisher  blob.Publisher
	announcer  Announcer
	validators []Validator
	minter     VersionMinter
	listeners  *listenerSupport

	mapper     *engine.Mapper
	readStates readStateHolder

	snapshotPublishExecutor    Executor
	numStatesBetweenSnapshots  int
	numStatesUntilNextSnapshot int

	lastMinted int64
}

type config struct {
	stager                    blob.Stager
	compression               codecs.Compression
	compressionSet            bool
	stagingDir                string
	validators                []Validator
	listeners                 []Listener
	minter                    VersionMinter
	snapshotPublishExecutor   Executor
	numStatesBetweenSnapshots int
	targetMaxTypeShardSize    int64
}

// Option configures a Producer at construction.
type Option func(*config)

// WithBlobStager supplies a custom blob Stager. It may not be combined
// with WithBlobCompression or WithBlobStagingDir.
func WithBlobStager(stager blob.Stager) Option {
	return func(c *config) { c.stager = stager }
}

// WithBlobCompression selects the compression codec of the default
// filesystem stager.
func WithBlobCompression(codec codecs.Compression) Option {
	return func(c *config) { c.compression, c.compressionSet = codec, true }
}

// WithBlobStagingDir selects the staging directory of the default
// filesystem stager. Defaults to a directory under os.TempDir.
func WithBlobStagingDir(dir string) Option {
	return func(c *config) { c.stagingDir = dir }
}

// WithValidators appends validators run against each pending state.
func WithValidators(validators ...Validator) Option {
	return func(c *config) { c.validators = append(c.validators, validators...) }
}

// WithListeners appends lifecycle listeners.
func WithListeners(listeners ...Listener) Option {
	return func(c *config) { c.listeners = append(c.listeners, listeners...) }
}

// WithVersionMinter supplies a custom VersionMinter. Defaults to a
// monotonic counter seeded from the wall clock.
func WithVersionMinter(minter VersionMinter) Option {
	return func(c *config) { c.minter = minter }
}

// WithSnapshotPublishExecutor supplies the executor of deferred snapshot
// publication. Defaults to InlineExecutor.
func WithSnapshotPublishExecutor(executor Executor) Option {
	return func(c *config) { c.snapshotPublishExecutor = executor }
}

// WithNumStatesBetweenSnapshots sets the snapshot publication cadence.
// With the default of zero, a snapshot publishes every cycle; with k > 0,
// snapshot publication is skipped for k producing cycles between
// publications.
func WithNumStatesBetweenSnapshots(n int) Option {
	return func(c *config) { c.numStatesBetweenSnapshots = n }
}

// WithTargetMaxTypeShardSize sets the write engine's shard sizing hint,
// in bytes. Defaults to 16 MiB.
func WithTargetMaxTypeShardSize(size int64) Option {
	return func(c *config) { c.targetMaxTypeShardSize = size }
}

// New returns a Producer publishing through |publisher| and announcing
// through |announcer|.
func New(publisher blob.Publisher, announcer Announcer, opts ...Option) (*Producer, error) {
	if publisher == nil {
		return nil, errors.New("a Publisher is required")
	} else if announcer == nil {
		return nil, errors.New("an Announcer is required")
	}

	var cfg = config{
		minter:                  NewCounterMinter(),
		snapshotPublishExecutor: InlineExecutor,
		targetMaxTypeShardSize:  engine.DefaultTargetMaxTypeShardSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.stager != nil && (cfg.compressionSet || cfg.stagingDir != "") {
		return nil, errors.New(
			"both a custom BlobStager and a compression codec or staging directory were specified; specify only one form")
	}
	if cfg.numStatesBetweenSnapshots < 0 {
		return nil, errors.New("NumStatesBetweenSnapshots cannot be negative")
	}

	var stager = cfg.stager
	if stager == nil {
		var dir = cfg.stagingDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "deltaset-staging")
		}
		var err error
		if stager, err = blob.NewFSStager(afero.NewOsFs(), dir, cfg.compression); err != nil {
			return nil, err
		}
	}

	var writeEngine = engine.NewWriteEngine()
	writeEngine.SetTargetMaxTypeShardSize(cfg.targetMaxTypeShardSize)

	var p = &Producer{
		stager:                    stager,
		publisher:                 publisher,
		announcer:                 announcer,
		validators:                cfg.validators,
		minter:                    cfg.minter,
		listeners:                 new(listenerSupport),
		mapper:                    engine.NewMapper(writeEngine),
		readStates:                newDeltaChain(),
		snapshotPublishExecutor:   cfg.snapshotPublishExecutor,
		numStatesBetweenSnapshots: cfg.numStatesBetweenSnapshots,
		lastMinted:                VersionNone,
	}
	for _, l := range cfg.listeners {
		p.listeners.add(l)
	}
	return p, nil
}

// InitializeDataModel derives schemas from the struct types of
// |instances| and registers them with the write engine.
func (p *Producer) InitializeDataModel(instances ...interface{}) error {
	var started = time.Now()
	for _, instance := range instances {
		if _, err := p.mapper.InitializeType(instance); err != nil {
			return err
		}
	}
	p.listeners.fire(func(l Listener) { l.OnProducerInit(time.Since(started)) })
	return nil
}

// Mapper returns the producer's object mapper.
func (p *Producer) Mapper() *engine.Mapper { return p.mapper }

// CurrentVersion returns the version of the current read state, or
// VersionNone if no state has been produced or restored.
func (p *Producer) CurrentVersion() int64 {
	if p.readStates.hasCurrent() {
		return p.readStates.current.version
	}
	return VersionNone
}

// AddListener registers a lifecycle listener.
func (p *Producer) AddListener(l Listener) { p.listeners.add(l) }

// RemoveListener unregisters a lifecycle listener.
func (p *Producer) RemoveListener(l Listener) { p.listeners.remove(l) }

// RunCycle runs one production cycle. It returns normally whether or not
// a new state was produced: cycle failures are reported through listeners
// and the cycle status, and only a *ValidationError is returned, so that
// callers can act on failed business validations.
func (p *Producer) RunCycle(ctx context.Context, populate Populator) error {
	var toVersion = p.minter.Mint()
	if toVersion <= p.lastMinted {
		log.WithFields(log.Fields{"version": toVersion, "lastMinted": p.lastMinted}).
			Panic("VersionMinter violated monotonicity")
	}
	p.lastMinted = toVersion

	if !p.readStates.hasCurrent() {
		p.listeners.fire(func(l Listener) { l.OnNewDeltaChain(toVersion) })
	}
	p.listeners.fire(func(l Listener) { l.OnCycleStart(toVersion) })

	var started = time.Now()
	var status = p.runCycle(ctx, populate, toVersion)

	p.listeners.fire(func(l Listener) { l.OnCycleComplete(status, time.Since(started)) })

	if ve, ok := status.Err.(*ValidationError); ok {
		return ve
	}
	return nil
}

func (p *Producer) runCycle(ctx context.Context, populate Populator, toVersion int64) Status {
	var arts = newArtifacts()
	defer arts.cleanup()

	var writeEngine = p.mapper.Engine()
	var status = Status{Version: toVersion}

	// 1. Prepare the write state.
	writeEngine.PrepareForNextCycle()
	var ws = &WriteState{version: toVersion, mapper: p.mapper, prior: p.readStates.current}

	var rollback = func(err error) Status {
		writeEngine.ResetToLastPrepareForNextCycle()
		status.Err = err
		log.WithFields(log.Fields{"err": err, "version": toVersion}).Warn("cycle failed")
		return status
	}

	// 2. Populate the state.
	var err = p.phase(toVersion,
		func(l Listener, v int64) { l.OnPopulateStart(v) },
		func(l Listener, s Status, d time.Duration) { l.OnPopulateComplete(s, d) },
		func() error { return populate(ctx, ws) },
	)
	if err != nil {
		return rollback(errors.WithMessage(err, "populate"))
	}

	// 3. Nothing to do? Reset the effects of populate.
	if !writeEngine.HasChangedSinceLastCycle() {
		writeEngine.ResetToLastPrepareForNextCycle()
		p.listeners.fire(func(l Listener) { l.OnNoDelta(status) })
		return status
	}

	// 4. Publish, prove integrity, validate, then announce the state.
	if err = p.publish(ctx, writeEngine, arts, toVersion); err != nil {
		return rollback(err)
	}

	var candidate = p.readStates.roundtrip(newReadState(toVersion, engine.NewReadEngine()))
	if candidate, err = p.checkIntegrity(candidate, arts); err != nil {
		return rollback(err)
	}
	if err = p.validate(candidate.pending); err != nil {
		return rollback(err)
	}
	if err = p.announce(ctx, candidate.pending); err != nil {
		return rollback(err)
	}

	// 5. Commit.
	p.readStates = candidate.commit()
	writeEngine.MarkCycleComplete()
	return status
}

// phase brackets |fn| with its start and complete listener events.
func (p *Producer) phase(
	version int64,
	start func(Listener, int64),
	complete func(Listener, Status, time.Duration),
	fn func() error,
) error {
	var started = time.Now()
	p.listeners.fire(func(l Listener) { start(l, version) })

	var err = fn()

	var status = Status{Version: version, Err: err}
	p.listeners.fire(func(l Listener) { complete(l, status, time.Since(started)) })
	return err
}
