package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/driftflag/go-client/pkg/config"
	"github.com/driftflag/go-client/pkg/model"
)

const testDatafileJSON = `{
	"projectId": "proj-1",
	"flags": {
		"checkout": {
			"variants": [false, true],
			"environments": {
				"production": {
					"rules": [
						{"conditions": [[["user", "plan"], "EQ", "pro"]], "outcome": 1}
					],
					"fallthrough": 0
				}
			}
		}
	},
	"segments": {}
}`

func fetchServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/datafile" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sdk-key-1" {
			t.Errorf("Authorization = %q, want Bearer sdk-key-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, testDatafileJSON)
	}))
	t.Cleanup(server.Close)
	return server
}

func newFetchClient(t *testing.T) *Client {
	t.Helper()
	server := fetchServer(t)

	c, err := New(context.Background(),
		config.WithHost(server.URL),
		config.WithSDKKey("sdk-key-1"),
		config.WithBootstrapStrategy(config.BootstrapStrategyFetch),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_FetchBootstrapAndEvaluate(t *testing.T) {
	c := newFetchClient(t)

	result := c.Evaluate(context.Background(), "checkout", map[string]any{
		"user": map[string]any{"plan": "pro"},
	})
	if result.Reason != model.ReasonRuleMatch {
		t.Errorf("Reason = %s, want RULE_MATCH (%s)", result.Reason, result.ErrorMessage)
	}
	if result.Value != true {
		t.Errorf("Value = %v, want true", result.Value)
	}

	result = c.Evaluate(context.Background(), "checkout", map[string]any{
		"user": map[string]any{"plan": "free"},
	})
	if result.Reason != model.ReasonFallthrough || result.Value != false {
		t.Errorf("result = %+v, want false via FALLTHROUGH", result)
	}
}

func TestClient_UnknownFlag(t *testing.T) {
	c := newFetchClient(t)

	result := c.Evaluate(context.Background(), "missing", nil)
	if result.Reason != model.ReasonError {
		t.Fatalf("Reason = %s, want ERROR", result.Reason)
	}
	want := "Could not find definition for flag missing"
	if result.ErrorMessage != want {
		t.Errorf("ErrorMessage = %q, want %q", result.ErrorMessage, want)
	}
}

func TestClient_ValueSubstitutesDefault(t *testing.T) {
	c := newFetchClient(t)

	if got := c.Value(context.Background(), "missing", nil, "fallback"); got != "fallback" {
		t.Errorf("Value() = %v, want fallback", got)
	}
	if got := c.Value(context.Background(), "checkout", map[string]any{
		"user": map[string]any{"plan": "pro"},
	}, false); got != true {
		t.Errorf("Value() = %v, want true", got)
	}
}

func TestClient_UnknownEnvironment(t *testing.T) {
	server := fetchServer(t)

	c, err := New(context.Background(),
		config.WithHost(server.URL),
		config.WithSDKKey("sdk-key-1"),
		config.WithEnvironment("staging"),
		config.WithBootstrapStrategy(config.BootstrapStrategyFetch),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	result := c.Evaluate(context.Background(), "checkout", nil)
	if result.Reason != model.ReasonError {
		t.Fatalf("Reason = %s, want ERROR", result.Reason)
	}
	if result.ErrorMessage != "Could not find envConfig for staging" {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
}

func TestClient_StreamBootstrap(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "{\"type\":\"ping\"}\n")
		flusher.Flush()

		var datafile json.RawMessage = []byte(testDatafileJSON)
		line, _ := json.Marshal(map[string]any{"type": "datafile", "data": datafile})
		fmt.Fprintf(w, "%s\n", line)
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	c, err := New(context.Background(),
		config.WithHost(server.URL),
		config.WithSDKKey("sdk-key-1"),
		config.WithBootstrapStrategy(config.BootstrapStrategyStream),
		config.WithBootstrapTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	result := c.Evaluate(context.Background(), "checkout", map[string]any{
		"user": map[string]any{"plan": "pro"},
	})
	if result.Value != true {
		t.Errorf("Value = %v, want true", result.Value)
	}
}

func TestClient_FallbackBootstrapUsesFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/stream":
			// Refuse streaming so bootstrap has to fall back.
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case "/v1/datafile":
			fmt.Fprint(w, testDatafileJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := New(context.Background(),
		config.WithHost(server.URL),
		config.WithSDKKey("sdk-key-1"),
		config.WithBootstrapStrategy(config.BootstrapStrategyFallback),
		config.WithBootstrapTimeout(10*time.Second),
		config.WithMaxStreamRetries(1),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	result := c.Evaluate(context.Background(), "checkout", nil)
	if result.Reason != model.ReasonFallthrough {
		t.Errorf("Reason = %s, want FALLTHROUGH (%s)", result.Reason, result.ErrorMessage)
	}
}

func TestClient_NoHost(t *testing.T) {
	_, err := New(context.Background(), config.WithHost(""))
	if err == nil || !strings.Contains(err.Error(), "Host") {
		t.Errorf("New() error = %v, want host requirement", err)
	}
}

func TestClient_EvaluateBeforeData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testDatafileJSON)
	}))
	defer server.Close()

	c, err := New(context.Background(),
		config.WithHost(server.URL),
		config.WithSDKKey("sdk-key-1"),
		config.WithBootstrapStrategy(config.BootstrapStrategyFetch),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Swap the store out from under the client to simulate no data yet.
	c.store.Swap(nil)
	result := c.Evaluate(context.Background(), "checkout", nil)
	if result.Reason != model.ReasonError {
		t.Errorf("Reason = %s, want ERROR", result.Reason)
	}
}
