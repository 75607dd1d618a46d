// Package config loads Trident's settings from either a CSV rpc list on
// the command line or a TOML config file, mirroring the two code paths
// the original balancer supports. Precisely one of the two is active per
// run; --rpc_list and --config are mutually exclusive at the flag level.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	trident "github.com/kanalabs/trident"
)

// reservedTables are top-level TOML tables that are never interpreted as
// upstream definitions.
var reservedTables = map[string]bool{
	"trident": true,
	"sled":    true,
	"admin":   true,
}

// UpstreamConfig is one configured RPC endpoint, prior to conversion into
// a runtime *trident.Upstream (that conversion needs MaLength, which
// lives on Settings, so it happens one level up from here).
type UpstreamConfig struct {
	URL            string
	WSURL          string
	MaxConsecutive uint32
	MaxPerSecond   uint64
}

// MinTimeDeltaMicros converts MaxPerSecond into the minimum number of
// microseconds that must elapse between two picks of this upstream, per
// spec.md §3: 1_000_000 / M when M > 0, else 0 (no rate limiting).
func (u UpstreamConfig) MinTimeDeltaMicros() int64 {
	if u.MaxPerSecond == 0 {
		return 0
	}
	return 1_000_000 / int64(u.MaxPerSecond)
}

// Settings is the fully-resolved configuration for one Trident process.
type Settings struct {
	Address        string
	SortOnStartup  bool
	MaLength       int
	HealthCheck    bool
	TTL            time.Duration
	MaxRetries     uint32
	HealthCheckTTL time.Duration
	Upstreams      []UpstreamConfig
}

// CLIArgs holds the raw, already-parsed command-line flag values. It is
// populated by the cobra command in cmd/trident and handed to Load.
type CLIArgs struct {
	RPCList        string
	ConfigPath     string
	Port           int
	Address        string
	MaLength       int
	HealthCheck    bool
	TTL            int
	MaxRetries     uint32
	HealthCheckTTL uint64
	MaxPerSecond   uint64
}

// Load resolves Settings from CLIArgs: when RPCList is set, the CSV
// rpc_list path is used; otherwise Settings are read from the TOML file
// at ConfigPath, and a file that cannot be read is a ConfigError. Either
// path returns a *trident.ConfigError on any fatal problem.
func Load(args CLIArgs) (*Settings, error) {
	if args.RPCList == "" {
		data, err := os.ReadFile(args.ConfigPath)
		if err != nil {
			return nil, &trident.ConfigError{Key: args.ConfigPath, Reason: fmt.Sprintf("reading config file: %v", err)}
		}
		return fromTOML(string(data))
	}
	return fromCLI(args)
}

// fromCLI builds Settings from the CSV rpc_list path. Every upstream
// gets the same max_consecutive (6, matching the original's hardcoded
// default for this path) and the same max_per_second, since the CSV
// format has no room to configure per-upstream.
func fromCLI(args CLIArgs) (*Settings, error) {
	var upstreams []UpstreamConfig
	for _, raw := range strings.Split(args.RPCList, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		upstreams = append(upstreams, UpstreamConfig{
			URL:            raw,
			MaxConsecutive: 6,
			MaxPerSecond:   args.MaxPerSecond,
		})
	}

	address, err := normalizeAddress(args.Address, args.Port)
	if err != nil {
		return nil, err
	}

	return &Settings{
		Address:        address,
		SortOnStartup:  false,
		MaLength:       args.MaLength,
		HealthCheck:    args.HealthCheck,
		TTL:            time.Duration(args.TTL) * time.Millisecond,
		MaxRetries:     args.MaxRetries,
		HealthCheckTTL: time.Duration(args.HealthCheckTTL) * time.Millisecond,
		Upstreams:      upstreams,
	}, nil
}

// fromTOML parses the `trident` table plus one table per configured
// upstream out of a raw TOML document.
func fromTOML(doc string) (*Settings, error) {
	var raw map[string]interface{}
	if _, err := toml.Decode(doc, &raw); err != nil {
		return nil, &trident.ConfigError{Reason: fmt.Sprintf("parsing TOML: %v", err)}
	}

	tridentTable, ok := raw["trident"].(map[string]interface{})
	if !ok {
		return nil, &trident.ConfigError{Key: "trident", Reason: "missing [trident] table"}
	}

	address, err := requireString(tridentTable, "address")
	if err != nil {
		return nil, err
	}
	sortOnStartup, err := requireBool(tridentTable, "sort_on_startup")
	if err != nil {
		return nil, err
	}
	maLengthF, err := requireInt(tridentTable, "ma_length")
	if err != nil {
		return nil, err
	}
	healthCheck, err := requireBool(tridentTable, "health_check")
	if err != nil {
		return nil, err
	}
	ttl, err := requireInt(tridentTable, "ttl")
	if err != nil {
		return nil, err
	}
	maxRetries, err := requireInt(tridentTable, "max_retries")
	if err != nil {
		return nil, err
	}

	var healthCheckTTL int64
	if healthCheck {
		healthCheckTTL, err = requireInt(tridentTable, "health_check_ttl")
		if err != nil {
			return nil, err
		}
	} else {
		healthCheckTTL = math.MaxInt64
	}

	normalizedAddress, err := normalizeTOMLAddress(address)
	if err != nil {
		return nil, err
	}

	var upstreams []UpstreamConfig
	for name, v := range raw {
		if reservedTables[name] {
			continue
		}
		table, ok := v.(map[string]interface{})
		if !ok {
			continue
		}

		url, err := requireString(table, "url")
		if err != nil {
			return nil, &trident.ConfigError{Key: name, Reason: err.Error()}
		}
		maxConsecutive, err := requireInt(table, "max_consecutive")
		if err != nil {
			return nil, &trident.ConfigError{Key: name, Reason: err.Error()}
		}
		maxPerSecond, err := requireInt(table, "max_per_second")
		if err != nil {
			return nil, &trident.ConfigError{Key: name, Reason: err.Error()}
		}

		wsURL := ""
		if v, ok := table["ws_url"].(string); ok {
			wsURL = v
		}

		upstreams = append(upstreams, UpstreamConfig{
			URL:            url,
			WSURL:          wsURL,
			MaxConsecutive: uint32(maxConsecutive),
			MaxPerSecond:   uint64(maxPerSecond),
		})
	}

	var healthCheckTTLDuration time.Duration
	if healthCheckTTL == math.MaxInt64 {
		healthCheckTTLDuration = time.Duration(math.MaxInt64)
	} else {
		healthCheckTTLDuration = time.Duration(healthCheckTTL) * time.Millisecond
	}

	return &Settings{
		Address:        normalizedAddress,
		SortOnStartup:  sortOnStartup,
		MaLength:       int(maLengthF),
		HealthCheck:    healthCheck,
		TTL:            time.Duration(ttl) * time.Millisecond,
		MaxRetries:     uint32(maxRetries),
		HealthCheckTTL: healthCheckTTLDuration,
		Upstreams:      upstreams,
	}, nil
}

func requireString(table map[string]interface{}, key string) (string, error) {
	v, ok := table[key]
	if !ok {
		return "", &trident.ConfigError{Key: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &trident.ConfigError{Key: key, Reason: "not a string"}
	}
	return s, nil
}

func requireBool(table map[string]interface{}, key string) (bool, error) {
	v, ok := table[key]
	if !ok {
		return false, &trident.ConfigError{Key: key, Reason: "missing"}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &trident.ConfigError{Key: key, Reason: "not a bool"}
	}
	return b, nil
}

func requireInt(table map[string]interface{}, key string) (int64, error) {
	v, ok := table[key]
	if !ok {
		return 0, &trident.ConfigError{Key: key, Reason: "missing"}
	}
	i, ok := v.(int64)
	if !ok {
		return 0, &trident.ConfigError{Key: key, Reason: "not an integer"}
	}
	return i, nil
}

// normalizeAddress joins a CLI --address and --port into a single
// "host:port" string and applies normalizeTOMLAddress's localhost
// rewrite. The port is always appended, so an --address that already
// carries a port fails validation.
func normalizeAddress(address string, port int) (string, error) {
	return normalizeTOMLAddress(fmt.Sprintf("%s:%d", address, port))
}

// normalizeTOMLAddress rewrites a literal "localhost" to 127.0.0.1 and
// appends the default port :3000 when address carries none.
func normalizeTOMLAddress(address string) (string, error) {
	address = strings.Replace(address, "localhost", "127.0.0.1", 1)
	if !strings.Contains(address, ":") {
		address = address + ":3000"
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", &trident.ConfigError{Key: "address", Reason: fmt.Sprintf("invalid address %q: %v", address, err)}
	}
	return address, nil
}
