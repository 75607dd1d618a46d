package trident

import (
	"sort"
	"time"
)

// nowMicros returns the current time as microseconds since the Unix
// epoch, the unit LastUsed and MinTimeDelta are expressed in throughout
// this package.
func nowMicros() int64 {
	return time.Now().UnixNano() / int64(time.Microsecond)
}

// argsortByLatency returns the indices of active sorted ascending by
// Status.Latency, truncated to integer nanoseconds as the sort key. The
// sort is unstable: ties break arbitrarily, which Pick's reverse-scan
// then resolves deterministically (among tied entries that qualify, the
// one earliest in the sorted order wins).
func argsortByLatency(active []*Upstream) []int {
	order := make([]int, len(active))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return int64(active[order[a]].Status.Latency) < int64(active[order[b]].Status.Latency)
	})
	return order
}

// Pick selects the next upstream to use from active, which the caller
// must hold under a write lease. It implements the canonical
// weighted-round-robin policy:
//
//  1. Sort active by ascending latency (truncated to int64 nanoseconds).
//  2. Starting from the default choice (the fastest), scan the sorted
//     order from slowest to fastest, overwriting the choice with any
//     index that still has consecutive-use budget and satisfies its
//     rate-delta constraint.
//  3. Reset Consecutive to zero on every index visited except the final
//     choice, whose Consecutive is incremented and LastUsed stamped.
//
// On an empty pool it returns (nil, -1, false). On a single-element pool
// it returns that element unconditionally, ignoring the consecutive and
// rate-delta constraints (there is no alternative to fall back to).
func Pick(active []*Upstream) (*Upstream, int, bool) {
	if len(active) == 0 {
		return nil, -1, false
	}
	if len(active) == 1 {
		return active[0].Clone(), 0, true
	}

	order := argsortByLatency(active)
	now := nowMicros()

	choice := order[0]
	choiceConsecutive := uint32(0)

	for i := len(order) - 1; i >= 0; i-- {
		idx := order[i]
		host := active[idx]
		if host.MaxConsecutive > host.Consecutive && now-host.LastUsed > host.MinTimeDelta {
			choice = idx
			choiceConsecutive = host.Consecutive
		}
		host.Consecutive = 0
	}

	active[choice].Consecutive = choiceConsecutive + 1
	active[choice].LastUsed = now

	return active[choice].Clone(), choice, true
}
