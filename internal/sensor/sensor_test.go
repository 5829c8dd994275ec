package sensor

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListenAndServeForwardsEventAndAcks(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "sensor.sock")
	out := make(chan Event, 4)

	srv := NewServer(socketPath, out, func() float64 { return 42 }, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.ListenAndServe(ctx) }()
	waitForSocket(t, socketPath)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	ev := Event{Type: EventFocusGained, File: "main.go", TMs: 1000}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	select {
	case got := <-out:
		require.Equal(t, EventFocusGained, got.Type)
		require.Equal(t, "main.go", got.File)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var ack ackEnvelope
	require.NoError(t, json.Unmarshal(buf[:n-1], &ack))
	require.Equal(t, "ack", ack.Type)
	require.Equal(t, float64(42), ack.BatteryLevel)
}

func TestInvalidJSONYieldsErrorEnvelope(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "sensor.sock")
	out := make(chan Event, 4)
	srv := NewServer(socketPath, out, func() float64 { return 0 }, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()
	waitForSocket(t, socketPath)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var ack ackEnvelope
	require.NoError(t, json.Unmarshal(buf[:n-1], &ack))
	require.Equal(t, "error", ack.Type)
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never became available", path)
}
