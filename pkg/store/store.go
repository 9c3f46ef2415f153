package store

import (
	"sync/atomic"

	"github.com/driftflag/go-client/pkg/model"
)

// Store defines the interface for holding the current datafile.
type Store interface {
	// Swap replaces the current datafile. A datafile fully supersedes the
	// previous one; there is no partial patching.
	Swap(datafile *model.Datafile)
	// Current returns the current datafile, or nil and false if no
	// datafile has been received yet.
	Current() (*model.Datafile, bool)
	// SwapIfEmpty stores datafile only when none is held yet, reporting
	// whether the swap happened. Seeding a stale fallback snapshot must
	// never overwrite a datafile the stream delivered concurrently.
	SwapIfEmpty(datafile *model.Datafile) bool
}

// MemoryStore is an in-memory implementation of the Store interface.
// Writes are atomic pointer swaps so concurrent readers never observe a
// half-updated datafile.
type MemoryStore struct {
	current atomic.Pointer[model.Datafile]
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Swap(datafile *model.Datafile) {
	s.current.Store(datafile)
}

func (s *MemoryStore) SwapIfEmpty(datafile *model.Datafile) bool {
	return s.current.CompareAndSwap(nil, datafile)
}

func (s *MemoryStore) Current() (*model.Datafile, bool) {
	datafile := s.current.Load()
	if datafile == nil {
		return nil, false
	}
	return datafile, true
}
