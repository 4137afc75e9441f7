package producer

import (
	"context"

	"go.deltaset.dev/core/engine"
)

// Populator is user code which populates the dataset state of a cycle.
// A returned error aborts and rolls back the cycle.
type Populator func(ctx context.Context, ws *WriteState) error

// WriteState is the populator's mutable view of the state under
// production: the cycle's minted version, the object mapper, and the
// prior announced read state (nil at the start of a delta chain).
type WriteState struct {
	version int64
	mapper  *engine.Mapper
	prior   *ReadState
}

// Add maps |o| to a record and adds it to the state under production,
// returning the record's ordinal.
func (ws *WriteState) Add(o interface{}) (int, error) { return ws.mapper.Add(o) }

// Version is the version the produced state will be announced under.
func (ws *WriteState) Version() int64 { return ws.version }

// Mapper returns the producer's object mapper.
func (ws *WriteState) Mapper() *engine.Mapper { return ws.mapper }

// Engine returns the write engine under population.
func (ws *WriteState) Engine() *engine.WriteEngine { return ws.mapper.Engine() }

// Prior returns the read state this cycle transitions from, or nil if
// this cycle begins a new delta chain.
func (ws *WriteState) Prior() *ReadState { return ws.prior }
