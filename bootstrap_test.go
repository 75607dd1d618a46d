package trident

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const validHealthBody = `{
	"epoch": "1",
	"ledger_version": "2",
	"oldest_ledger_version": "0",
	"ledger_timestamp": "1000",
	"node_role": "full_node",
	"oldest_block_height": "0",
	"block_height": "10",
	"git_hash": "abc123",
	"chain_id": 1
}`

func TestStartupSort_SplitsAndSortsByLatency(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(validHealthBody))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"nope":true}`))
	}))
	defer bad.Close()

	a := NewUpstream(good.URL, "", 1, 0, 2)
	b := NewUpstream(bad.URL, "", 1, 0, 2)

	active, poverty := StartupSort(context.Background(), []*Upstream{a, b}, 2)

	require.Len(t, active, 1)
	require.Equal(t, a.Name, active[0].Name)
	require.Len(t, poverty, 1)
	require.Equal(t, b.Name, poverty[0].Name)
	require.True(t, poverty[0].Status.IsErroring)
	require.NotZero(t, active[0].Status.Latency)
}

func TestStartupSort_Empty(t *testing.T) {
	active, poverty := StartupSort(context.Background(), nil, 2)
	require.Nil(t, active)
	require.Nil(t, poverty)
}
