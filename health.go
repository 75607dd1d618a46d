package trident

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor owns the long-lived sweep loop that migrates upstreams
// between the active and poverty lists based on a reachability probe.
type HealthMonitor struct {
	Pool     *Pool
	Interval time.Duration
	Timeout  time.Duration
	Log      *zap.Logger

	// OnSweep, if set, is invoked after every sweep with true when the
	// sweep observed no failure and false otherwise. Used to feed the health-sweep counter metric
	// without this package importing prometheus directly.
	OnSweep func(ok bool)
}

// Run blocks, performing one Sweep every Interval, until ctx is
// cancelled. Sweep errors are logged and otherwise ignored: per spec,
// "callers ignore the return value."
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.Sweep(ctx)
			if m.OnSweep != nil {
				m.OnSweep(err == nil)
			}
			if err != nil {
				m.Log.Warn("health sweep observed a failure", zap.Error(err))
			}
		}
	}
}

// probe issues a reachability check against url+"/v1" using a client
// fresh to this call (mirroring the original's per-probe client), and
// reports whether the response status was exactly 200.
func (m *HealthMonitor) probe(ctx context.Context, url string) (bool, error) {
	client := &http.Client{Timeout: m.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/v1", nil)
	if err != nil {
		return false, &HealthError{Reason: "building probe request", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, &HealthError{Reason: "probe transport failure", Err: err}
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Sweep performs one pass over both lists: upstreams currently in active
// that fail their probe are queued for demotion, upstreams currently in
// poverty that pass are queued for promotion. Both lists may be mutated
// by other actors between the snapshot and the write phase; applying
// changes by URL-keyed removal makes that race harmless; it's idempotent
// and order-independent.
func (m *HealthMonitor) Sweep(ctx context.Context) error {
	var activeSnapshot, povertySnapshot []*Upstream
	m.Pool.WithActiveRead(func(active []*Upstream) {
		activeSnapshot = snapshotClones(active)
	})
	m.Pool.WithPovertyRead(func(poverty []*Upstream) {
		povertySnapshot = snapshotClones(poverty)
	})

	anyFailure := false

	var toDemote []*Upstream
	for _, u := range activeSnapshot {
		healthy, err := m.probe(ctx, u.URL)
		if err != nil {
			anyFailure = true
			m.Log.Warn("probe failed for active upstream", zap.String("upstream", u.Name), zap.Error(err))
			continue
		}
		if !healthy {
			anyFailure = true
			toDemote = append(toDemote, u)
		}
	}

	var toPromote []*Upstream
	for _, u := range povertySnapshot {
		healthy, err := m.probe(ctx, u.URL)
		if err != nil {
			anyFailure = true
			m.Log.Warn("probe failed for poverty upstream", zap.String("upstream", u.Name), zap.Error(err))
			continue
		}
		if healthy {
			toPromote = append(toPromote, u)
		} else {
			anyFailure = true
		}
	}

	m.Pool.WithBothWrite(func(active, poverty *[]*Upstream) {
		for _, u := range toDemote {
			if removed, ok := removeByURL(active, u.URL); ok {
				removed.Status.IsErroring = true
				removed.Status.LastError = nowMicros()
				*poverty = append(*poverty, removed)
				m.Log.Info("demoted upstream to poverty", zap.String("upstream", u.Name))
			}
		}
		for _, u := range toPromote {
			if removed, ok := removeByURL(poverty, u.URL); ok {
				removed.Status.IsErroring = false
				*active = append(*active, removed)
				m.Log.Info("promoted upstream to active", zap.String("upstream", u.Name))
			}
		}
	})

	if anyFailure {
		return &HealthError{Reason: "one or more upstreams unresponsive"}
	}
	return nil
}
