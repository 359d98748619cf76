package daemon

import (
	"os"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestConstants(t *testing.T) {
	t.Parallel()

	all := []string{
		RequestStatus,
		RequestStop,
		RequestStatFS,
		RequestSave,
		RequestListSnapshots,
		RequestDeleteSnapshot,
		RequestPrune,
	}
	seen := make(map[string]bool)
	for _, v := range all {
		assert.NotEmpty(t, v)
		assert.False(t, seen[v], "duplicate request type: %s", v)
		seen[v] = true
	}
}

func TestResponseEncoding(t *testing.T) {
	t.Parallel()

	resp := &Response{
		Success:   true,
		PID:       42,
		Snapshots: []SnapshotInfo{{ID: "a", Message: "m", CreatedAt: 10}},
	}
	data, err := cbor.Marshal(resp)
	require.NoError(t, err)

	var got Response
	require.NoError(t, cbor.Unmarshal(data, &got))
	assert.Equal(t, *resp, got)
	assert.Nil(t, got.Status, "omitted fields stay nil")
}

// shortConfigDir keeps the socket path under the ~104 byte limit macOS
// places on unix socket paths
func shortConfigDir(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "spk")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv(EnvConfigDir, dir)
}

func startTestIPC(t *testing.T, handler func(*Request) *Response) *Client {
	t.Helper()
	shortConfigDir(t)

	server := NewServer(handler)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	client, err := Connect()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerStartStop(t *testing.T) {
	shortConfigDir(t)

	server := NewServer(func(req *Request) *Response {
		return &Response{Success: true}
	})
	require.NoError(t, server.Start())

	_, err := os.Stat(SocketPath())
	assert.NoError(t, err, "socket file should be created")

	server.Stop()

	_, err = os.Stat(SocketPath())
	assert.True(t, os.IsNotExist(err), "socket should be removed after Stop()")
}

func TestClientServerCommunication(t *testing.T) {
	client := startTestIPC(t, func(req *Request) *Response {
		return &Response{Success: true, Message: "received: " + req.Type, PID: os.Getpid()}
	})

	resp, err := client.Send(&Request{Type: RequestStatus})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "received: status", resp.Message)
	assert.Equal(t, os.Getpid(), resp.PID)
}

func TestClientRequests(t *testing.T) {
	t.Run("save", func(t *testing.T) {
		var received *Request
		client := startTestIPC(t, func(req *Request) *Response {
			received = req
			return &Response{Success: true, Snapshot: &SnapshotInfo{ID: "snap-1", Message: req.Message}}
		})

		snap, err := client.Save("before upgrade")
		require.NoError(t, err)
		assert.Equal(t, RequestSave, received.Type)
		assert.Equal(t, "snap-1", snap.ID)
		assert.Equal(t, "before upgrade", snap.Message)
	})

	t.Run("prune", func(t *testing.T) {
		var received *Request
		client := startTestIPC(t, func(req *Request) *Response {
			received = req
			return &Response{Success: true, Pruned: 3}
		})

		n, err := client.Prune(2)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 2, received.Keep)
	})

	t.Run("delete", func(t *testing.T) {
		var received *Request
		client := startTestIPC(t, func(req *Request) *Response {
			received = req
			return &Response{Success: true}
		})

		require.NoError(t, client.DeleteSnapshot("abc"))
		assert.Equal(t, RequestDeleteSnapshot, received.Type)
		assert.Equal(t, "abc", received.SnapshotID)
	})

	t.Run("failure becomes error", func(t *testing.T) {
		client := startTestIPC(t, func(req *Request) *Response {
			return errorResponse("snapshot %s not found", req.SnapshotID)
		})

		err := client.DeleteSnapshot("missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "snapshot missing not found")
	})

	t.Run("statfs", func(t *testing.T) {
		client := startTestIPC(t, func(req *Request) *Response {
			return &Response{Success: true, StatFS: &StatFSInfo{BlockSize: 4096, Blocks: 10}}
		})

		st, err := client.StatFS()
		require.NoError(t, err)
		assert.Equal(t, uint32(4096), st.BlockSize)
		assert.Equal(t, uint64(10), st.Blocks)
	})
}

func TestIsDaemonRunning(t *testing.T) {
	t.Run("returns false when not running", func(t *testing.T) {
		shortConfigDir(t)
		assert.False(t, IsDaemonRunning())

		_, err := Connect()
		assert.Error(t, err)
	})

	t.Run("returns true when running", func(t *testing.T) {
		startTestIPC(t, func(req *Request) *Response { return &Response{Success: true} })
		assert.True(t, IsDaemonRunning())
	})
}
