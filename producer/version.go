package producer

import (
	"sync/atomic"
	"time"

	"go.deltaset.dev/core/blob"
)

// VersionNone is the sentinel "no version".
const VersionNone = blob.VersionNone

// VersionMinter produces state versions. Minted versions must be strictly
// ascending: later states have greater versions. The producer asserts
// this invariant and panics if a minter violates it.
type VersionMinter interface {
	// Mint a new state version.
	Mint() int64
}

// counterMinter is the default VersionMinter: a monotonic counter seeded
// from the wall clock, so versions remain ascending across producer
// restarts under normal clock behavior.
type counterMinter struct {
	v atomic.Int64
}

// NewCounterMinter returns the default VersionMinter.
func NewCounterMinter() VersionMinter {
	var m = new(counterMinter)
	m.v.Store(time.Now().UnixMilli())
	return m
}

func (m *counterMinter) Mint() int64 { return m.v.Add(1) }
