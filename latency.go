package trident

import "time"

// RecordLatency is the authoritative post-request latency update: it
// takes a write lease on the active list and folds elapsed into the
// moving average of the upstream at position. If the list shrank
// between selection and completion (the health monitor demoted someone
// mid-flight), position is clamped to the last valid index rather than
// rejected — the request still succeeded and the operator benefits from
// recording the sample somewhere, even if it lands on an unrelated
// neighbor. This is documented, known behavior, not a bug to fix.
func RecordLatency(pool *Pool, position int, elapsed time.Duration) {
	pool.WithActiveWrite(func(active *[]*Upstream) {
		if len(*active) == 0 {
			return
		}
		idx := position
		if idx < 0 {
			idx = 0
		}
		if idx >= len(*active) {
			idx = len(*active) - 1
		}

		host := (*active)[idx]
		host.UpdateLatency(float64(elapsed.Nanoseconds()))
		host.LastUsed = elapsed.Microseconds()
	})
}
