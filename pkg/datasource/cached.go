package datasource

import (
	"context"

	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/requestcache"
)

// cachedReadKey scopes the memoized read inside a request cache.
type cachedReadKey struct{}

// CachedSource memoizes reads of an inner source per request: repeated
// calls within one request-scoped context share a single in-flight read.
// Outside a request scope it degrades to a plain pass-through.
type CachedSource struct {
	inner Source
}

// NewCachedSource wraps inner with request-scoped read memoization.
func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{inner: inner}
}

func (s *CachedSource) GetData(ctx context.Context) (*model.Datafile, error) {
	cache, ok := requestcache.FromContext(ctx)
	if !ok {
		return s.inner.GetData(ctx)
	}

	val, err := cache.Do(cachedReadKey{}, func() (any, error) {
		return s.inner.GetData(ctx)
	})
	if err != nil {
		return nil, err
	}
	return val.(*model.Datafile), nil
}
