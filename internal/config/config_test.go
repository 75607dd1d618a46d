package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[trident]
address = "localhost"
sort_on_startup = false
ma_length = 15
health_check = true
ttl = 300
max_retries = 32
health_check_ttl = 2000

[alchemy]
url = "https://eth-mainnet.example.com/v2/key"
max_consecutive = 6
max_per_second = 10

[quicknode]
url = "https://fast.example.com"
ws_url = "wss://fast.example.com"
max_consecutive = 3
max_per_second = 0
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_FromTOML(t *testing.T) {
	path := writeTemp(t, sampleTOML)

	settings, err := Load(CLIArgs{ConfigPath: path})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:3000", settings.Address)
	require.False(t, settings.SortOnStartup)
	require.Equal(t, 15, settings.MaLength)
	require.True(t, settings.HealthCheck)
	require.Len(t, settings.Upstreams, 2)

	byURL := map[string]UpstreamConfig{}
	for _, u := range settings.Upstreams {
		byURL[u.URL] = u
	}

	alchemy := byURL["https://eth-mainnet.example.com/v2/key"]
	require.Equal(t, uint32(6), alchemy.MaxConsecutive)
	require.Equal(t, int64(100_000), alchemy.MinTimeDeltaMicros())

	quicknode := byURL["https://fast.example.com"]
	require.Equal(t, "wss://fast.example.com", quicknode.WSURL)
	require.Equal(t, int64(0), quicknode.MinTimeDeltaMicros())
}

func TestLoad_MissingTridentTable(t *testing.T) {
	path := writeTemp(t, `[alchemy]
url = "https://x.example.com"
max_consecutive = 1
max_per_second = 0
`)

	_, err := Load(CLIArgs{ConfigPath: path})
	require.Error(t, err)
}

func TestLoad_ReservedTablesAreNotUpstreams(t *testing.T) {
	path := writeTemp(t, sampleTOML+`
[admin]
enabled = true
`)
	settings, err := Load(CLIArgs{ConfigPath: path})
	require.NoError(t, err)
	require.Len(t, settings.Upstreams, 2)
}

func TestLoad_FromCSV(t *testing.T) {
	settings, err := Load(CLIArgs{
		RPCList:      "https://a.example.com, https://b.example.com",
		Address:      "127.0.0.1",
		Port:         3000,
		MaLength:     15,
		TTL:          300,
		MaxRetries:   32,
		MaxPerSecond: 4,
	})
	require.NoError(t, err)
	require.Len(t, settings.Upstreams, 2)
	require.Equal(t, uint32(6), settings.Upstreams[0].MaxConsecutive)
	require.Equal(t, int64(250_000), settings.Upstreams[0].MinTimeDeltaMicros())
}

func TestNormalizeAddress_LocalhostAndPort(t *testing.T) {
	addr, err := normalizeTOMLAddress("localhost")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3000", addr)

	addr, err = normalizeTOMLAddress("0.0.0.0:8080")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", addr)
}

func TestHealthCheckDisabled_SetsMaxTTL(t *testing.T) {
	path := writeTemp(t, `
[trident]
address = "127.0.0.1:3000"
sort_on_startup = false
ma_length = 15
health_check = false
ttl = 300
max_retries = 32
`)
	settings, err := Load(CLIArgs{ConfigPath: path})
	require.NoError(t, err)
	require.False(t, settings.HealthCheck)
	require.Equal(t, time.Duration(math.MaxInt64), settings.HealthCheckTTL)
}
