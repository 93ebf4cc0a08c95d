// Package health runs periodic liveness probes against the broker's
// upstream dependencies (postgres, the chain RPC, the registrar API) and
// keeps a snapshot the readiness endpoint can serve without blocking.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds probe loop configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc checks one dependency. A nil return means healthy.
type ProbeFunc func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, healthy bool)

// Status is the last observed state of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	FailCount int       `json:"fail_count,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type probe struct {
	name  string
	check ProbeFunc
}

// Checker runs the probe loop.
type Checker struct {
	mu        sync.Mutex
	probes    []probe
	statuses  map[string]*Status
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		statuses: make(map[string]*Status),
		cfg:      cfg,
		logger:   logger,
	}
}

// AddProbe registers a named dependency check. Until its first run the
// dependency reads as healthy, so startup is not gated on the loop.
func (c *Checker) AddProbe(name string, check ProbeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, probe{name: name, check: check})
	c.statuses[name] = &Status{Name: name, Healthy: true}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until the context is cancelled.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every registered probe once, concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.Lock()
	probes := make([]probe, len(c.probes))
	copy(probes, c.probes)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := p.check(probeCtx)
			cancel()

			c.record(p.name, err)
		}(p)
	}
	wg.Wait()
}

func (c *Checker) record(name string, err error) {
	c.mu.Lock()
	st := c.statuses[name]
	st.CheckedAt = time.Now().UTC()
	if err == nil {
		wasDown := !st.Healthy
		st.Healthy = true
		st.FailCount = 0
		st.LastError = ""
		c.mu.Unlock()

		if wasDown {
			c.logger.Info("dependency recovered", zap.String("dependency", name))
		}
		if c.onMetrics != nil {
			c.onMetrics(name, true)
		}
		return
	}

	st.FailCount++
	st.LastError = err.Error()
	// A single failed probe does not flip readiness.
	crossed := st.FailCount == c.cfg.FailThreshold
	if st.FailCount >= c.cfg.FailThreshold {
		st.Healthy = false
	}
	healthy := st.Healthy
	count := st.FailCount
	c.mu.Unlock()

	if crossed {
		c.logger.Warn("dependency unhealthy",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err))
	}
	if c.onMetrics != nil {
		c.onMetrics(name, healthy)
	}
}

// Snapshot returns the current status of every dependency.
func (c *Checker) Snapshot() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.probes))
	for _, p := range c.probes {
		out = append(out, *c.statuses[p.name])
	}
	return out
}

// Ready reports whether every dependency is under its failure threshold.
func (c *Checker) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}
