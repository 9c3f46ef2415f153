// Package datasource abstracts "the current datafile" for the evaluation
// layer. Implementations must surface missing data as ErrNoData, which is
// distinct from a datafile that turns a flag off: the former triggers
// default-value fallback, the latter is a legitimate evaluation outcome.
package datasource

import (
	"context"
	"errors"

	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/store"
	"github.com/driftflag/go-client/pkg/transport"
)

// ErrNoData indicates that no datafile is available yet.
var ErrNoData = errors.New("datasource: no datafile available")

// Source provides the current datafile.
type Source interface {
	GetData(ctx context.Context) (*model.Datafile, error)
}

// StoreSource serves the datafile held in a shared store, typically kept
// current by the streaming sync client.
type StoreSource struct {
	store store.Store
}

// NewStoreSource creates a Source backed by st.
func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{store: st}
}

func (s *StoreSource) GetData(ctx context.Context) (*model.Datafile, error) {
	datafile, ok := s.store.Current()
	if !ok {
		return nil, ErrNoData
	}
	return datafile, nil
}

// FetchSource fetches a fresh datafile from the distribution API on every
// call, bounded by the transport's fetch timeout.
type FetchSource struct {
	transport transport.Transport
}

// NewFetchSource creates a Source that fetches per call.
func NewFetchSource(tr transport.Transport) *FetchSource {
	return &FetchSource{transport: tr}
}

func (s *FetchSource) GetData(ctx context.Context) (*model.Datafile, error) {
	datafile, err := s.transport.FetchDatafile(ctx)
	if err != nil {
		return nil, errors.Join(ErrNoData, err)
	}
	return datafile, nil
}
