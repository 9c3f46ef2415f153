package vault

import (
	"context"
	"fmt"
	"io"
	"time"

	df_config "github.com/driftflag/go-client/pkg/config"
	"github.com/driftflag/go-client/pkg/model"
)

// Service loads and saves last-known datafile snapshots through a Fetcher.
type Service struct {
	cfg     *df_config.Config
	fetcher Fetcher
}

// NewService creates a Service over the given fetcher.
func NewService(cfg *df_config.Config, fetcher Fetcher) *Service {
	return &Service{cfg: cfg, fetcher: fetcher}
}

// NewDefaultService creates a Service backed by S3.
func NewDefaultService(ctx context.Context, cfg *df_config.Config) (*Service, error) {
	fetcher, err := NewS3Fetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewService(cfg, fetcher), nil
}

// LoadSnapshot fetches and decodes the last stored datafile.
func (s *Service) LoadSnapshot(ctx context.Context) (*model.Datafile, error) {
	if !s.cfg.VaultEnabled {
		return nil, fmt.Errorf("vault is not enabled")
	}

	reader, err := s.fetcher.FetchSnapshot(ctx, s.cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return DecodeSnapshot(data)
}

// SaveSnapshot encodes and persists a freshly received datafile so it can
// serve as a fallback when the distribution API is unreachable.
func (s *Service) SaveSnapshot(ctx context.Context, datafile *model.Datafile) error {
	if !s.cfg.VaultEnabled {
		return fmt.Errorf("vault is not enabled")
	}

	data, err := EncodeSnapshot(datafile, time.Now())
	if err != nil {
		return err
	}
	return s.fetcher.StoreSnapshot(ctx, datafile.ProjectID, data)
}
