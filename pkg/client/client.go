package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/driftflag/go-client/pkg/bootstrap"
	"github.com/driftflag/go-client/pkg/config"
	"github.com/driftflag/go-client/pkg/datasource"
	"github.com/driftflag/go-client/pkg/evaluation"
	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/store"
	"github.com/driftflag/go-client/pkg/stream"
	"github.com/driftflag/go-client/pkg/transport"
	"github.com/driftflag/go-client/pkg/vault"
)

// Client is the main entry point for the driftflag client. It keeps a
// local copy of the datafile current via the streaming sync client and
// evaluates flags against it.
type Client struct {
	cfg       *config.Config
	store     store.Store
	source    datasource.Source
	evaluator evaluation.Evaluator
	transport transport.Transport
	vaultSvc  *vault.Service

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a new Client and blocks until an initial datafile is
// available (per the configured bootstrap strategy) or the bootstrap
// timeout elapses.
func New(ctx context.Context, opts ...config.Option) (*Client, error) {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("Host is required")
	}

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}

	st := store.NewMemoryStore()
	c := &Client{
		cfg:       cfg,
		store:     st,
		source:    datasource.NewCachedSource(datasource.NewStoreSource(st)),
		evaluator: evaluation.NewRuleBasedEvaluator(),
		transport: transport.NewHTTPTransport(cfg.HTTPClient, cfg.Host, tokens),
	}

	if cfg.VaultEnabled {
		svc, err := vault.NewDefaultService(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise vault: %w", err)
		}
		c.vaultSvc = svc
	}

	if err := c.bootstrap(ctx, tokens); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Close stops the streaming sync client and releases resources.
func (c *Client) Close() error {
	if c.cancelStream != nil {
		c.cancelStream()
	}
	c.wg.Wait()
	return c.transport.Close()
}

// DataSource returns the request-cached source serving the current
// datafile.
func (c *Client) DataSource() datasource.Source {
	return c.source
}

// Evaluate resolves a flag against the current datafile and the supplied
// entities. Structural problems (no datafile, unknown flag, unknown
// environment) surface as an ERROR-reason result, never a panic.
func (c *Client) Evaluate(ctx context.Context, flagKey string, entities map[string]any) model.EvaluationResult {
	datafile, err := c.source.GetData(ctx)
	if err != nil {
		return model.EvaluationResult{Reason: model.ReasonError, ErrorMessage: err.Error()}
	}

	definition, ok := datafile.Flags[flagKey]
	if !ok {
		return model.EvaluationResult{
			Reason:       model.ReasonError,
			ErrorMessage: fmt.Sprintf("Could not find definition for flag %s", flagKey),
		}
	}

	return c.evaluator.Evaluate(evaluation.Params{
		Definition:  &definition,
		FlagKey:     flagKey,
		Environment: c.cfg.Environment,
		Entities:    entities,
		Segments:    datafile.Segments,
	})
}

// Value resolves a flag to a concrete value, substituting defaultValue on
// any ERROR-reason result.
func (c *Client) Value(ctx context.Context, flagKey string, entities map[string]any, defaultValue any) any {
	result := c.Evaluate(ctx, flagKey, entities)
	if result.Reason == model.ReasonError {
		log.Printf("client: evaluation of %q failed (%s), using default", flagKey, result.ErrorMessage)
		return defaultValue
	}
	return result.Value
}

func (c *Client) bootstrap(ctx context.Context, tokens transport.TokenProvider) error {
	switch c.cfg.BootstrapStrategy {
	case config.BootstrapStrategyStream:
		return c.startStream(tokens, nil)

	case config.BootstrapStrategyFetch:
		return c.adopt(bootstrap.NewFetchStrategy(c.transport).Bootstrap(ctx))

	case config.BootstrapStrategyVault:
		if c.vaultSvc == nil {
			return fmt.Errorf("vault bootstrap requires vault configuration")
		}
		return c.adopt(bootstrap.NewVaultStrategy(c.vaultSvc).Bootstrap(ctx))

	case config.BootstrapStrategyFallback:
		var secondary bootstrap.Strategy = bootstrap.NewFetchStrategy(c.transport)
		if c.vaultSvc != nil {
			secondary = bootstrap.NewFallbackStrategy(secondary, bootstrap.NewVaultStrategy(c.vaultSvc))
		}
		return c.startStream(tokens, secondary)

	default:
		return fmt.Errorf("unknown bootstrap strategy %q", c.cfg.BootstrapStrategy)
	}
}

// startStream launches the streaming sync client and waits up to the
// bootstrap timeout for its first datafile. With a fallback strategy
// configured, a slow or failing stream falls back while the stream keeps
// retrying in the background.
func (c *Client) startStream(tokens transport.TokenProvider, fallback bootstrap.Strategy) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancelStream = cancel

	connected := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		connected <- stream.Connect(streamCtx, stream.Config{
			Host:       c.cfg.Host,
			Tokens:     tokens,
			HTTPClient: c.cfg.HTTPClient,
			MaxRetries: c.cfg.MaxStreamRetries,
		}, stream.Handlers{
			OnMessage:    c.onDatafile,
			OnDisconnect: func() { log.Printf("client: stream disconnected, reconnecting") },
		})
	}()

	timeout := c.cfg.BootstrapTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-connected:
		if err == nil {
			return nil
		}
		if fallback == nil {
			return fmt.Errorf("stream bootstrap failed: %w", err)
		}
		log.Printf("client: stream bootstrap failed: %v. Falling back.", err)
	case <-timer.C:
		if fallback == nil {
			return fmt.Errorf("timed out waiting for initial datafile")
		}
		log.Printf("client: stream bootstrap timed out. Falling back.")
	}

	fallbackCtx, cancelFallback := context.WithTimeout(context.Background(), timeout)
	defer cancelFallback()
	datafile, err := fallback.Bootstrap(fallbackCtx)
	if err != nil {
		return err
	}
	// Only seed the store if the stream has not already delivered.
	c.store.SwapIfEmpty(datafile)
	return nil
}

func (c *Client) adopt(datafile *model.Datafile, err error) error {
	if err != nil {
		return err
	}
	c.store.Swap(datafile)
	return nil
}

// onDatafile handles every datafile message from the stream: it swaps the
// shared store and, when the vault is configured, persists a snapshot for
// future fallback bootstraps.
func (c *Client) onDatafile(datafile *model.Datafile) {
	c.store.Swap(datafile)

	if c.vaultSvc != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.vaultSvc.SaveSnapshot(ctx, datafile); err != nil {
				log.Printf("client: failed to save vault snapshot: %v", err)
			}
		}()
	}
}

func tokenProvider(cfg *config.Config) (transport.TokenProvider, error) {
	if cfg.AuthPrivateKeyPath != "" {
		key, err := transport.LoadRSAPrivateKey(cfg.AuthPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load auth private key: %w", err)
		}
		return transport.NewServiceAccountTokenProvider(key, cfg.AuthServiceAccount, cfg.ProjectID, cfg.AuthKeyID), nil
	}
	return transport.NewSDKKeyTokenProvider(cfg.SDKKey), nil
}
