package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})

	m := NewManager(mux, cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_StartAndServe(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.BoundAddr() + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestManager_DoubleStartFails(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
}

func TestManager_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	m := testManager(t)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Error(t, m.Start(), "a closed server cannot restart")
}

func TestManager_ListenFailure(t *testing.T) {
	t.Parallel()

	first := testManager(t)
	require.NoError(t, first.Start())

	cfg := DefaultConfig()
	cfg.Addr = first.BoundAddr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Error(t, second.Start(), "port already bound")
}
