package health_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/clawdlabs/clawd-domains/internal/health"
)

// flakyProbe fails until cleared.
type flakyProbe struct {
	mu   sync.Mutex
	fail bool
}

func (f *flakyProbe) check(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakyProbe) set(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func newChecker(threshold int) *health.Checker {
	return health.New(health.Config{FailThreshold: threshold}, zap.NewNop())
}

func TestReady_beforeFirstRun(t *testing.T) {
	c := newChecker(3)
	c.AddProbe("postgres", func(ctx context.Context) error { return nil })
	if !c.Ready() {
		t.Error("unprobed dependencies must read as healthy")
	}
}

func TestFailThreshold(t *testing.T) {
	c := newChecker(3)
	p := &flakyProbe{fail: true}
	c.AddProbe("registrar", p.check)

	ctx := context.Background()
	c.CheckAll(ctx)
	c.CheckAll(ctx)
	if !c.Ready() {
		t.Fatal("two failures must not flip readiness at threshold 3")
	}

	c.CheckAll(ctx)
	if c.Ready() {
		t.Fatal("three failures must flip readiness")
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Healthy || snap[0].FailCount != 3 {
		t.Errorf("snapshot: %+v", snap)
	}
	if snap[0].LastError == "" {
		t.Error("snapshot must carry the probe error")
	}
}

func TestRecovery(t *testing.T) {
	c := newChecker(2)
	p := &flakyProbe{fail: true}
	c.AddProbe("chain", p.check)

	ctx := context.Background()
	c.CheckAll(ctx)
	c.CheckAll(ctx)
	if c.Ready() {
		t.Fatal("expected unhealthy")
	}

	p.set(false)
	c.CheckAll(ctx)
	if !c.Ready() {
		t.Fatal("one success must recover the dependency")
	}
	snap := c.Snapshot()
	if snap[0].FailCount != 0 || snap[0].LastError != "" {
		t.Errorf("recovery must clear failure state: %+v", snap[0])
	}
}

func TestMetricsCallback(t *testing.T) {
	c := newChecker(1)
	c.AddProbe("postgres", func(ctx context.Context) error { return nil })
	c.AddProbe("registrar", func(ctx context.Context) error { return errors.New("503") })

	var mu sync.Mutex
	results := make(map[string]bool)
	c.SetMetricsRecord(func(name string, healthy bool) {
		mu.Lock()
		results[name] = healthy
		mu.Unlock()
	})

	c.CheckAll(context.Background())
	if !results["postgres"] || results["registrar"] {
		t.Errorf("results: %v", results)
	}
}

func TestIndependentDependencies(t *testing.T) {
	c := newChecker(1)
	c.AddProbe("postgres", func(ctx context.Context) error { return nil })
	c.AddProbe("registrar", func(ctx context.Context) error { return errors.New("down") })

	c.CheckAll(context.Background())
	if c.Ready() {
		t.Fatal("one unhealthy dependency must flip readiness")
	}
	for _, st := range c.Snapshot() {
		switch st.Name {
		case "postgres":
			if !st.Healthy {
				t.Error("postgres must stay healthy")
			}
		case "registrar":
			if st.Healthy {
				t.Error("registrar must be unhealthy")
			}
		}
	}
}
