package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftflag/go-client/pkg/model"
)

const (
	// ClientName identifies this SDK in User-Agent headers.
	ClientName = "driftflag-go"
	// Version is the SDK version reported to the server.
	Version = "0.4.0"

	datafilePath = "/v1/datafile"

	// FetchTimeout bounds a one-shot datafile fetch; the request is
	// aborted once it elapses.
	FetchTimeout = 10 * time.Second
)

// UserAgent returns the version-bearing User-Agent header value.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ClientName, Version)
}

// Transport defines the interface for fetching datafiles from the
// distribution API.
type Transport interface {
	FetchDatafile(ctx context.Context) (*model.Datafile, error)
	Close() error
}

// HTTPTransport is an HTTP implementation of the Transport interface.
type HTTPTransport struct {
	client *http.Client
	host   string
	tokens TokenProvider
}

// NewHTTPTransport creates a new HTTPTransport.
func NewHTTPTransport(client *http.Client, host string, tokens TokenProvider) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		client: client,
		host:   host,
		tokens: tokens,
	}
}

// FetchDatafile retrieves one full datafile snapshot. The request is
// abandoned after FetchTimeout.
func (t *HTTPTransport) FetchDatafile(ctx context.Context) (*model.Datafile, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.host+datafilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := ApplyHeaders(req, t.tokens); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var datafile model.Datafile
	if err := json.NewDecoder(resp.Body).Decode(&datafile); err != nil {
		return nil, fmt.Errorf("failed to decode datafile: %w", err)
	}
	return &datafile, nil
}

func (t *HTTPTransport) Close() error {
	return nil
}

// ApplyHeaders sets the Authorization and User-Agent headers shared by the
// fetch and stream endpoints.
func ApplyHeaders(req *http.Request, tokens TokenProvider) error {
	req.Header.Set("User-Agent", UserAgent())
	if tokens == nil {
		return nil
	}
	token, err := tokens.GetToken()
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
