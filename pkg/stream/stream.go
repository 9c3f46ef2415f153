package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/driftflag/go-client/pkg/model"
	"github.com/driftflag/go-client/pkg/transport"
)

const (
	streamPath  = "/v1/stream"
	retryHeader = "X-Retry-Attempt"

	messageTypePing     = "ping"
	messageTypeDatafile = "datafile"

	// DefaultMaxRetries bounds reconnect attempts while no datafile has
	// ever been received. Once data has arrived the client retries
	// indefinitely.
	DefaultMaxRetries = 10
	// DefaultBackoffBase is the starting reconnect delay.
	DefaultBackoffBase = time.Second
	// DefaultBackoffCap limits exponential backoff growth.
	DefaultBackoffCap = 30 * time.Second
	// DefaultMinGap is the floor between consecutive connection attempts,
	// applied even when the computed backoff would be smaller.
	DefaultMinGap = time.Second
)

// ErrRetriesExhausted is returned by Connect when the maximum reconnect
// count is reached before any datafile was received.
var ErrRetriesExhausted = errors.New("stream: retries exhausted before first datafile")

// message is one NDJSON line on the stream.
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handlers receives stream events. OnMessage is invoked for every datafile
// message, not just the first. OnDisconnect, if set, is invoked after a
// stream terminates once initial data had already been delivered.
type Handlers struct {
	OnMessage    func(datafile *model.Datafile)
	OnDisconnect func()
}

// Config holds stream client configuration. Zero timing fields fall back
// to the package defaults.
type Config struct {
	Host       string
	Tokens     transport.TokenProvider
	HTTPClient *http.Client

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MinGap      time.Duration
}

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MinGap == 0 {
		c.MinGap = DefaultMinGap
	}
}

type client struct {
	cfg      Config
	handlers Handlers
	received bool
}

// Connect opens a long-lived connection to the streaming endpoint and
// blocks until the first valid datafile message has been received,
// delivering it and all subsequent datafiles to handlers.OnMessage in the
// background until ctx is cancelled. It returns an error if ctx fires or
// the retry budget is exhausted before any datafile arrives.
func Connect(ctx context.Context, cfg Config, handlers Handlers) error {
	cfg.applyDefaults()
	if cfg.Host == "" {
		return fmt.Errorf("stream: host is required")
	}
	if handlers.OnMessage == nil {
		return fmt.Errorf("stream: OnMessage handler is required")
	}

	c := &client{cfg: cfg, handlers: handlers}

	first := make(chan struct{})
	failed := make(chan error, 1)
	go c.run(ctx, first, failed)

	select {
	case <-first:
		return nil
	case err := <-failed:
		return err
	}
}

// run is the reconnect loop. Reconnects are sequential: there is never
// more than one active connection attempt at a time.
func (c *client) run(ctx context.Context, first chan<- struct{}, failed chan<- error) {
	attempt := 0
	var lastAttempt time.Time

	for {
		if ctx.Err() != nil {
			failed <- ctx.Err()
			return
		}

		// Enforce the minimum gap between consecutive attempts.
		if !lastAttempt.IsZero() {
			if wait := c.cfg.MinGap - time.Since(lastAttempt); wait > 0 {
				if !sleep(ctx, wait) {
					failed <- ctx.Err()
					return
				}
			}
		}
		lastAttempt = time.Now()

		gotData := c.connectOnce(ctx, attempt, first)
		if gotData {
			// Successful receipt resets the cycle; the next attempt is
			// counted as 1.
			attempt = 0
		}

		if ctx.Err() != nil {
			failed <- ctx.Err()
			return
		}

		attempt++
		if !c.received && attempt > c.cfg.MaxRetries {
			log.Printf("stream: giving up after %d attempts without a datafile", c.cfg.MaxRetries)
			failed <- ErrRetriesExhausted
			return
		}

		if !sleep(ctx, c.backoff(attempt)) {
			failed <- ctx.Err()
			return
		}
	}
}

// connectOnce opens one streaming request and consumes it until the body
// ends or fails. It reports whether at least one datafile was received on
// this connection.
func (c *client) connectOnce(ctx context.Context, attempt int, first chan<- struct{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+streamPath, nil)
	if err != nil {
		log.Printf("stream: failed to create request: %v", err)
		return false
	}
	if err := transport.ApplyHeaders(req, c.cfg.Tokens); err != nil {
		log.Printf("stream: %v", err)
		return false
	}
	req.Header.Set(retryHeader, strconv.Itoa(attempt))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		log.Printf("stream: connection failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		log.Printf("stream: server returned status %d", resp.StatusCode)
		c.notifyDisconnect(ctx)
		return false
	}

	gotData := c.consume(ctx, resp.Body, first)
	c.notifyDisconnect(ctx)
	return gotData
}

// consume reads NDJSON lines until the body ends. Partial lines are
// buffered across chunks; blank lines are skipped; a malformed line is
// discarded and parsing resumes at the next newline.
func (c *client) consume(ctx context.Context, body io.Reader, first chan<- struct{}) bool {
	gotData := false
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && (err == nil || errors.Is(err, io.EOF)) {
			c.handleLine(ctx, line, first, &gotData)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("stream: read failed: %v", err)
			}
			return gotData
		}
	}
}

func (c *client) handleLine(ctx context.Context, line string, first chan<- struct{}, gotData *bool) {
	trimmed := trimLine(line)
	if trimmed == "" {
		return
	}

	var msg message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		log.Printf("stream: discarding malformed line: %v", err)
		return
	}

	switch msg.Type {
	case messageTypePing:
		// Keepalive, no payload.
	case messageTypeDatafile:
		var datafile model.Datafile
		if err := json.Unmarshal(msg.Data, &datafile); err != nil {
			log.Printf("stream: discarding malformed datafile message: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		*gotData = true
		firstEver := !c.received
		c.received = true
		c.handlers.OnMessage(&datafile)
		if firstEver {
			close(first)
		}
	default:
		log.Printf("stream: ignoring message of unknown type %q", msg.Type)
	}
}

// notifyDisconnect invokes OnDisconnect once initial data has been
// delivered. Before that, terminations are only logged and retried.
func (c *client) notifyDisconnect(ctx context.Context) {
	if c.received && ctx.Err() == nil && c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect()
	}
}

// backoff computes the reconnect delay for the given attempt number:
// exponential growth with random jitter, capped, and never below the
// minimum gap.
func (c *client) backoff(attempt int) time.Duration {
	delay := c.cfg.BackoffBase << (attempt - 1)
	if delay > c.cfg.BackoffCap || delay <= 0 {
		delay = c.cfg.BackoffCap
	}
	// Jitter in [0.5, 1.5) spreads reconnect storms.
	delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	if delay < c.cfg.MinGap {
		delay = c.cfg.MinGap
	}
	return delay
}

func trimLine(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
