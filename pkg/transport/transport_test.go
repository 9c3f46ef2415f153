package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPTransport_FetchDatafile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/v1/datafile" {
			t.Errorf("Expected path /v1/datafile, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sdk-secret" {
			t.Errorf("Authorization = %q, want Bearer sdk-secret", got)
		}
		if got := r.Header.Get("User-Agent"); got != UserAgent() {
			t.Errorf("User-Agent = %q, want %q", got, UserAgent())
		}
		fmt.Fprint(w, `{"projectId":"proj-1","flags":{"checkout":{"variants":[false,true],"environments":{"production":0}}},"segments":{}}`)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.Client(), server.URL, NewSDKKeyTokenProvider("sdk-secret"))
	datafile, err := tr.FetchDatafile(context.Background())
	if err != nil {
		t.Fatalf("FetchDatafile() error = %v", err)
	}
	if datafile.ProjectID != "proj-1" {
		t.Errorf("projectId = %q, want proj-1", datafile.ProjectID)
	}
	if _, ok := datafile.Flags["checkout"]; !ok {
		t.Error("missing checkout flag")
	}
}

func TestHTTPTransport_FetchDatafile_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.Client(), server.URL, NewSDKKeyTokenProvider("bad"))
	if _, err := tr.FetchDatafile(context.Background()); err == nil {
		t.Fatal("FetchDatafile() should fail on non-200")
	} else if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should mention status, got %v", err)
	}
}

func TestUserAgent(t *testing.T) {
	want := ClientName + "/" + Version
	if got := UserAgent(); got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
