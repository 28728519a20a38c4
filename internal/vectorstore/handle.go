package vectorstore

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrNotReady    = errors.New("vector store not initialized")
	ErrIndexFailed = errors.New("vector index build failed")
)

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

type snapshot struct {
	state State
	index *Index
	err   error
}

// Handle publishes the index built at startup to request handlers.
type Handle struct {
	current atomic.Pointer[snapshot]
}

func NewHandle() *Handle {
	h := &Handle{}
	h.current.Store(&snapshot{state: StateUninitialized})
	return h
}

func (h *Handle) SetReady(index *Index) {
	h.current.Store(&snapshot{state: StateReady, index: index})
}

func (h *Handle) SetFailed(err error) {
	h.current.Store(&snapshot{state: StateFailed, err: err})
}

func (h *Handle) State() State {
	return h.current.Load().state
}

// Index returns the ready index, ErrNotReady before ingestion completes,
// or an error wrapping ErrIndexFailed after a failed build.
func (h *Handle) Index() (*Index, error) {
	s := h.current.Load()
	switch s.state {
	case StateReady:
		return s.index, nil
	case StateFailed:
		return nil, fmt.Errorf("%w: %v", ErrIndexFailed, s.err)
	default:
		return nil, ErrNotReady
	}
}
