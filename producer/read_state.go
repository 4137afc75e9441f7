package producer

import (
	"go.deltaset.dev/core/engine"
)

// ReadState pairs a version with its materialized read engine.
type ReadState struct {
	version int64
	engine  *engine.ReadEngine
}

func newReadState(version int64, eng *engine.ReadEngine) *ReadState {
	return &ReadState{version: version, engine: eng}
}

// Version of the state.
func (s *ReadState) Version() int64 { return s.version }

// Engine returns the materialized read engine of the state.
func (s *ReadState) Engine() *engine.ReadEngine { return s.engine }

// readStateHolder owns the producer's current and pending ReadStates.
// Its state space is tiny: empty, single (current only), or a pair while
// a cycle is between publish and commit. Transitions are total functions
// which panic on misuse, as misuse is a cycle-engine bug.
type readStateHolder struct {
	current *ReadState
	pending *ReadState
}

// newDeltaChain returns an empty holder, beginning a new delta chain.
func newDeltaChain() readStateHolder { return readStateHolder{} }

// restored returns a holder whose current state is |rs|.
func restored(rs *ReadState) readStateHolder { return readStateHolder{current: rs} }

func (h readStateHolder) hasCurrent() bool { return h.current != nil }

// roundtrip retains the current state as the cycle's base and adopts
// |pending| as the newly-minted pending state.
func (h readStateHolder) roundtrip(pending *ReadState) readStateHolder {
	if h.pending != nil {
		panic("roundtrip of a holder which already has a pending state")
	}
	return readStateHolder{current: h.current, pending: pending}
}

// swap exchanges the engines of the current and pending states, keeping
// each state's version. It's used after reverse-delta validation, where
// the forward-applied engine holds the pending data and the
// reverse-applied engine holds the current data: after the swap each
// slot's engine again matches its version.
func (h readStateHolder) swap() readStateHolder {
	if h.current == nil || h.pending == nil {
		panic("swap of a holder without a current and pending state")
	}
	return readStateHolder{
		current: newReadState(h.current.version, h.pending.engine),
		pending: newReadState(h.pending.version, h.current.engine),
	}
}

// commit drops the base state and promotes pending to current.
func (h readStateHolder) commit() readStateHolder {
	if h.pending == nil {
		panic("commit of a holder without a pending state")
	}
	return readStateHolder{current: h.pending}
}
