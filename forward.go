package trident

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ForwardResult is everything the caller needs to build the response
// envelope plus the bookkeeping the latency accountant requires.
type ForwardResult struct {
	Body       string
	StatusCode int
	UpstreamName string
	Position   int // -1 when no upstream was ever selected
}

// Forward implements the request forwarding state machine: select an
// upstream, attempt the request under a per-attempt deadline, retry on
// timeout or transport error up to maxRetries times, and return either
// the first successful (or non-transport-erroring) response or a
// synthesized failure.
//
// Any status returned by the upstream itself — e.g. a verbatim 500 — is
// NOT a retry trigger. Only a context deadline
// exceeded or a transport-level error causes a retry; the forwarder has
// no opinion on application-level status codes.
func Forward(ctx context.Context, pool *Pool, parts RequestParts, body []byte, ttl time.Duration, maxRetries uint32, log *zap.Logger, onRetry func()) ForwardResult {
	if log == nil {
		log = zap.NewNop()
	}

	var position int
	var retries uint32

	for {
		var host *Upstream
		var ok bool

		pool.WithActiveWrite(func(active *[]*Upstream) {
			host, position, ok = Pick(*active)
		})

		if !ok {
			return ForwardResult{
				Body:       "no RPC available",
				StatusCode: 503,
				Position:   -1,
			}
		}

		log.Info("forwarding request", zap.String("upstream", host.Name))

		attemptCtx, cancel := context.WithTimeout(ctx, ttl)
		respBody, status, err := host.SendRequest(attemptCtx, parts, body)
		cancel()

		if err == nil {
			return ForwardResult{
				Body:         respBody,
				StatusCode:   status,
				UpstreamName: host.Name,
				Position:     position,
			}
		}

		log.Warn("rpc request failed, retrying",
			zap.String("upstream", host.Name),
			zap.Error(err),
			zap.Uint32("retries", retries))

		// Latency penalty applies to the clone only: the shared pool entry
		// is untouched here, the authoritative update happens in
		// RecordLatency once the overall request settles (success or
		// exhaustion).
		host.UpdateLatency(float64(ttl.Nanoseconds()))
		if onRetry != nil {
			onRetry()
		}

		retries++
		if retries > maxRetries {
			return ForwardResult{
				Body:         "timed out",
				StatusCode:   408,
				UpstreamName: host.Name,
				Position:     position,
			}
		}
	}
}
