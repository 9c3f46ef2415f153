// Package bootstrap defines how the client obtains its first datafile
// before the stream has delivered anything.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/transport"
	"github.com/driftflag/go-client/pkg/vault"
)

// Strategy defines the interface for bootstrapping the client.
type Strategy interface {
	Bootstrap(ctx context.Context) (*model.Datafile, error)
}

// FetchStrategy bootstraps with a one-shot datafile fetch.
type FetchStrategy struct {
	transport transport.Transport
}

// NewFetchStrategy creates a new FetchStrategy.
func NewFetchStrategy(tr transport.Transport) *FetchStrategy {
	return &FetchStrategy{transport: tr}
}

func (s *FetchStrategy) Bootstrap(ctx context.Context) (*model.Datafile, error) {
	datafile, err := s.transport.FetchDatafile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch datafile: %w", err)
	}
	return datafile, nil
}

// VaultStrategy bootstraps from the last-known snapshot in durable
// storage.
type VaultStrategy struct {
	service *vault.Service
}

// NewVaultStrategy creates a new VaultStrategy.
func NewVaultStrategy(service *vault.Service) *VaultStrategy {
	return &VaultStrategy{service: service}
}

func (s *VaultStrategy) Bootstrap(ctx context.Context) (*model.Datafile, error) {
	return s.service.LoadSnapshot(ctx)
}

// FallbackStrategy tries a primary strategy and falls back to a secondary
// one on failure.
type FallbackStrategy struct {
	primary   Strategy
	secondary Strategy
}

// NewFallbackStrategy creates a new FallbackStrategy.
func NewFallbackStrategy(primary, secondary Strategy) *FallbackStrategy {
	return &FallbackStrategy{primary: primary, secondary: secondary}
}

func (s *FallbackStrategy) Bootstrap(ctx context.Context) (*model.Datafile, error) {
	datafile, err := s.primary.Bootstrap(ctx)
	if err == nil {
		return datafile, nil
	}

	log.Printf("bootstrap: primary strategy failed: %v. Falling back.", err)

	datafile, err = s.secondary.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("all bootstrap strategies failed: %w", err)
	}
	return datafile, nil
}
