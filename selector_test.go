package trident

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestUpstream(name string, latencyNs float64, maxConsecutive uint32, minTimeDelta int64) *Upstream {
	u := NewUpstream("https://"+name+".example.com", "", maxConsecutive, minTimeDelta, 15)
	u.Status.Latency = latencyNs
	u.Status.LatencyData = []float64{latencyNs}
	return u
}

func TestPick_EmptyPool(t *testing.T) {
	host, idx, ok := Pick(nil)
	require.False(t, ok)
	require.Nil(t, host)
	require.Equal(t, -1, idx)
}

func TestPick_SingleElementIgnoresConstraints(t *testing.T) {
	a := newTestUpstream("a", 10, 0, 1_000_000)
	a.Consecutive = 0
	a.LastUsed = nowMicros() // as if just used, well within min_time_delta

	host, idx, ok := Pick([]*Upstream{a})
	require.True(t, ok)
	require.Equal(t, 0, idx)
	require.Equal(t, a.Name, host.Name)
}

// TestPick_WeightedSelectionUnderConsecutiveCap exercises scenario 4 from
// the design doc: A(lat=10, max_consecutive=2), B(lat=100,
// max_consecutive=5), both with min_time_delta=0. Expected pick order
// across four serial calls: A, A, B, A.
func TestPick_WeightedSelectionUnderConsecutiveCap(t *testing.T) {
	a := newTestUpstream("a", 10, 2, 0)
	b := newTestUpstream("b", 100, 5, 0)
	active := []*Upstream{a, b}

	var picks []string
	for i := 0; i < 4; i++ {
		host, idx, ok := Pick(active)
		require.True(t, ok)
		picks = append(picks, host.Name)
		require.LessOrEqual(t, active[idx].Consecutive, active[idx].MaxConsecutive)
	}

	require.Equal(t, []string{a.Name, a.Name, b.Name, a.Name}, picks)
}

// TestPick_RateLimitFallback exercises scenario 5: a single upstream
// whose min_time_delta can never be satisfied by two back-to-back calls
// must still be picked (no crash, no infinite loop) — the single-element
// path in Pick ignores the rate-delta and consecutive constraints
// entirely, since there is no alternative to fall back to.
func TestPick_RateLimitFallback(t *testing.T) {
	a := newTestUpstream("a", 10, 5, 1_000_000)
	active := []*Upstream{a}

	host1, _, ok1 := Pick(active)
	require.True(t, ok1)
	host2, _, ok2 := Pick(active)
	require.True(t, ok2)

	require.Equal(t, a.Name, host1.Name)
	require.Equal(t, a.Name, host2.Name)
}

func TestPick_ResetsConsecutiveOnNonChosen(t *testing.T) {
	a := newTestUpstream("a", 10, 5, 0)
	b := newTestUpstream("b", 20, 5, 0)
	a.Consecutive = 3
	active := []*Upstream{a, b}

	_, idx, ok := Pick(active)
	require.True(t, ok)

	for i, host := range active {
		if i == idx {
			continue
		}
		require.Zero(t, host.Consecutive)
	}
}
