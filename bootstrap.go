package trident

import (
	"context"
	"sort"
	"time"
)

// bootstrapResult is what each per-upstream startup probe goroutine sends
// back over the completion channel.
type bootstrapResult struct {
	upstream *Upstream
	errored  bool
}

// probeStartingLatency calls Syncing ma_length times on a throwaway
// clone of u, timing each call, and returns either the mean latency
// sample (success) or flags the upstream as erroring (any failed or
// negative probe).
func probeStartingLatency(ctx context.Context, u *Upstream, maLength int) (*Upstream, bool) {
	cp := u.Clone()
	samples := make([]float64, 0, maLength)

	for i := 0; i < maLength; i++ {
		start := time.Now()
		ok, err := cp.Syncing(ctx)
		elapsed := time.Since(start)
		if err != nil || !ok {
			cp.Status.IsErroring = true
			cp.Status.LastError = nowMicros()
			return cp, true
		}
		samples = append(samples, float64(elapsed.Nanoseconds()))
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	cp.Status.Latency = sum / float64(len(samples))
	cp.Status.LatencyData = samples
	return cp, false
}

// StartupSort measures initial latency for every upstream concurrently
// (one goroutine per upstream, funneled through a channel bounded to
// len(upstreams) so a slow probe can't stall the fast ones) and returns
// the active/poverty split: upstreams that fail any of their ma_length
// sync checks go to poverty, the rest go to active, sorted ascending by the latency
// just measured.
func StartupSort(ctx context.Context, upstreams []*Upstream, maLength int) (active, poverty []*Upstream) {
	if len(upstreams) == 0 {
		return nil, nil
	}

	results := make(chan bootstrapResult, len(upstreams))

	for _, u := range upstreams {
		go func(u *Upstream) {
			probed, errored := probeStartingLatency(ctx, u, maLength)
			results <- bootstrapResult{upstream: probed, errored: errored}
		}(u)
	}

	for i := 0; i < len(upstreams); i++ {
		r := <-results
		if r.errored {
			poverty = append(poverty, r.upstream)
		} else {
			active = append(active, r.upstream)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Status.Latency < active[j].Status.Latency
	})

	return active, poverty
}
