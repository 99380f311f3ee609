package hubrpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handle Handler) *Server {
	t.Helper()
	srv := &Server{
		SocketPath: filepath.Join(t.TempDir(), "hub.sock"),
		Handle:     handle,
	}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func TestClientPingSucceeds(t *testing.T) {
	srv := startTestServer(t, func(ctx context.Context, op string, args json.RawMessage) (any, error) {
		return nil, nil
	})

	client, err := Dial(srv.SocketPath, time.Second)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping())
}

func TestClientCallReturnsHandlerData(t *testing.T) {
	srv := startTestServer(t, func(ctx context.Context, op string, args json.RawMessage) (any, error) {
		assert.Equal(t, OpStatus, op)
		return StatusData{Uptime: 12.5, ActiveJobs: 2}, nil
	})

	client, err := Dial(srv.SocketPath, time.Second)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(OpStatus, nil)
	require.NoError(t, err)
	var status StatusData
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, 12.5, status.Uptime)
	assert.Equal(t, 2, status.ActiveJobs)
}

func TestClientCallSurfacesHandlerError(t *testing.T) {
	srv := startTestServer(t, func(ctx context.Context, op string, args json.RawMessage) (any, error) {
		return nil, assertErr
	})

	client, err := Dial(srv.SocketPath, time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(OpDump, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDialFailsWhenNoDaemonListening(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "missing.sock"), 100*time.Millisecond)
	assert.Error(t, err)
}

var assertErr = &sentinelErr{"boom"}

type sentinelErr struct{ msg string }

func (e *sentinelErr) Error() string { return e.msg }
