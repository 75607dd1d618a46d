package trident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// allowedHeaders is the fixed set of request headers copied verbatim onto
// the outbound upstream request. Everything else the client sent is
// dropped on the floor.
var allowedHeaders = []string{"Content-Type", "Authorization", "access-control-allow-origin"}

// healthSchema is decoded against a health probe's body to determine
// whether an upstream is "sync-validated", not merely reachable. Field
// presence and type (not value) is what matters; unknown extra fields are
// ignored.
type healthSchema struct {
	Epoch               string      `json:"epoch"`
	LedgerVersion       string      `json:"ledger_version"`
	OldestLedgerVersion string      `json:"oldest_ledger_version"`
	LedgerTimestamp     string      `json:"ledger_timestamp"`
	NodeRole            string      `json:"node_role"`
	OldestBlockHeight   string      `json:"oldest_block_height"`
	BlockHeight         string      `json:"block_height"`
	GitHash             string      `json:"git_hash"`
	ChainID             json.Number `json:"chain_id"`
}

// Status holds the mutable health and latency bookkeeping for an
// Upstream. UpdateLatency keeps Latency equal to the mean of
// LatencyData and, when MaLength >= 1, holds at most MaLength samples.
type Status struct {
	IsErroring  bool
	LastError   int64 // microseconds since epoch
	Latency     float64
	LatencyData []float64
	MaLength    int
}

// Upstream is a single RPC endpoint in the pool. Fields not behind
// Status are considered immutable after construction, except for the
// selector/forwarder-owned bookkeeping fields Consecutive and LastUsed,
// which are mutated only while the caller holds the pool's write lock.
type Upstream struct {
	Name   string
	URL    string
	WSURL  string
	Client *http.Client

	Status Status

	MaxConsecutive uint32
	Consecutive    uint32
	LastUsed       int64 // microseconds: since epoch when Pick stamps it, request elapsed time when RecordLatency does
	MinTimeDelta   int64 // microseconds
}

// NewUpstream builds an Upstream from already-normalized configuration.
// minTimeDeltaMicros is expected to already be converted from a
// requests-per-second figure by the caller (see internal/config).
func NewUpstream(rawURL, wsURL string, maxConsecutive uint32, minTimeDeltaMicros int64, maLength int) *Upstream {
	return &Upstream{
		Name:   sanitizeURL(rawURL),
		URL:    rawURL,
		WSURL:  wsURL,
		Client: &http.Client{Timeout: 30 * time.Second},
		Status: Status{
			MaLength: maLength,
		},
		MaxConsecutive: maxConsecutive,
		MinTimeDelta:   minTimeDeltaMicros,
	}
}

// sanitizeURL strips path, query, fragment and userinfo from a URL so
// that API keys embedded in the path never leak into logs. Falls back to
// the raw string if it doesn't parse as a URL at all.
func sanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// Clone returns a value copy of the upstream suitable for use outside the
// pool's lock: the forwarder mutates this copy during retries without
// touching the shared descriptor. The *http.Client is shared by
// reference since it's safe for concurrent use.
func (u *Upstream) Clone() *Upstream {
	cp := *u
	cp.Status.LatencyData = append([]float64(nil), u.Status.LatencyData...)
	return &cp
}

// UpdateLatency appends sampleNs to the moving-average window, evicting
// the oldest sample first if the window is already full, and recomputes
// the mean. Safe to call on a zero-value Status so long as MaLength >= 1.
func (u *Upstream) UpdateLatency(sampleNs float64) {
	s := &u.Status
	if s.MaLength > 0 && len(s.LatencyData) >= s.MaLength {
		s.LatencyData = s.LatencyData[1:]
	}
	s.LatencyData = append(s.LatencyData, sampleNs)

	var sum float64
	for _, v := range s.LatencyData {
		sum += v
	}
	s.Latency = sum / float64(len(s.LatencyData))
}

// RequestParts is the subset of an inbound HTTP request SendRequest
// needs in order to build the outbound one: method, path, raw query, and
// the allowlisted headers. It exists so the forwarder doesn't have to
// hand the whole *http.Request (and its body) down to every retry
// attempt.
type RequestParts struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
}

// SendRequest forwards a request to this upstream and waits for the full
// response body. It copies only the allowlisted headers, preserves the
// method, and appends the raw query string when non-empty. The returned
// status is the upstream's numeric HTTP status; the body is decoded as
// UTF-8 text.
func (u *Upstream) SendRequest(ctx context.Context, parts RequestParts, body []byte) (string, int, error) {
	target := u.URL + parts.Path
	if parts.RawQuery != "" {
		target += "?" + parts.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, parts.Method, target, bytes.NewReader(body))
	if err != nil {
		return "", 0, &RpcError{Upstream: u.Name, Reason: "building outbound request", Err: err}
	}

	for _, name := range allowedHeaders {
		if v := parts.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", 0, &RpcError{Upstream: u.Name, Reason: "transport failure", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &RpcError{Upstream: u.Name, Reason: "reading response body", Err: err}
	}
	if !isValidUTF8(respBody) {
		return "", 0, &RpcError{Upstream: u.Name, Reason: "response body is not valid UTF-8"}
	}

	return string(respBody), resp.StatusCode, nil
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "\uFFFD") == string(b)
}

// SendHealthRequest issues a bare GET {url}/v1 and returns the response
// body on any response the transport could deliver, regardless of
// status code. It fails only on a transport-level error.
func (u *Upstream) SendHealthRequest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL+"/v1", nil)
	if err != nil {
		return "", &RpcError{Upstream: u.Name, Reason: "building health request", Err: err}
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", &RpcError{Upstream: u.Name, Reason: "health probe transport failure", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RpcError{Upstream: u.Name, Reason: "reading health response", Err: err}
	}
	return string(body), nil
}

// Syncing reports whether this upstream's health body decodes as the
// expected Aptos node-status schema. It returns the transport error
// verbatim if the request itself failed; a body that merely fails to
// decode is not an error, it's a false result.
func (u *Upstream) Syncing(ctx context.Context) (bool, error) {
	body, err := u.SendHealthRequest(ctx)
	if err != nil {
		return false, err
	}
	return isValidHealthBody(body), nil
}

func isValidHealthBody(body string) bool {
	var schema healthSchema
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&schema); err != nil {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return false
	}
	for _, key := range []string{"epoch", "ledger_version", "oldest_ledger_version", "ledger_timestamp", "node_role", "oldest_block_height", "block_height", "git_hash"} {
		if v, ok := fields[key]; !ok || string(v) == "null" {
			return false
		}
	}
	if schema.ChainID == "" {
		return false
	}
	if _, err := schema.ChainID.Int64(); err != nil {
		return false
	}
	return true
}
