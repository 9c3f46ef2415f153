package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/driftflag/go-client/pkg/model"
)

// stubStrategy returns a fixed result and counts invocations.
type stubStrategy struct {
	datafile *model.Datafile
	err      error
	calls    int
}

func (s *stubStrategy) Bootstrap(ctx context.Context) (*model.Datafile, error) {
	s.calls++
	return s.datafile, s.err
}

func TestFallbackStrategy_PrimarySucceeds(t *testing.T) {
	primary := &stubStrategy{datafile: &model.Datafile{ProjectID: "primary"}}
	secondary := &stubStrategy{datafile: &model.Datafile{ProjectID: "secondary"}}

	datafile, err := NewFallbackStrategy(primary, secondary).Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if datafile.ProjectID != "primary" {
		t.Errorf("ProjectID = %q, want primary", datafile.ProjectID)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestFallbackStrategy_PrimaryFails(t *testing.T) {
	primary := &stubStrategy{err: errors.New("stream unavailable")}
	secondary := &stubStrategy{datafile: &model.Datafile{ProjectID: "secondary"}}

	datafile, err := NewFallbackStrategy(primary, secondary).Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if datafile.ProjectID != "secondary" {
		t.Errorf("ProjectID = %q, want secondary", datafile.ProjectID)
	}
}

func TestFallbackStrategy_BothFail(t *testing.T) {
	primary := &stubStrategy{err: errors.New("stream unavailable")}
	secondary := &stubStrategy{err: errors.New("vault empty")}

	if _, err := NewFallbackStrategy(primary, secondary).Bootstrap(context.Background()); err == nil {
		t.Fatal("Bootstrap() should fail when every strategy fails")
	}
}
