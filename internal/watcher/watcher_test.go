package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeStripsPrefixAndDots(t *testing.T) {
	rel, ok := normalize("/repo", "/repo/./src/../src/main.go")
	require.True(t, ok)
	require.Equal(t, "src/main.go", rel)
}

func TestNormalizeRejectsOutsideRoot(t *testing.T) {
	_, ok := normalize("/repo", "/other/file.go")
	require.False(t, ok)
}

func TestFilteredIgnoresConfiguredDirAndExtension(t *testing.T) {
	m := &Monitor{policy: Policy{
		IgnoreDirs:       map[string]bool{".git": true, "node_modules": true},
		IgnoreExtensions: map[string]bool{"log": true, "lock": true},
	}}
	require.True(t, m.filtered(".git/HEAD"))
	require.True(t, m.filtered("deep/nested/app.log"))
	require.False(t, m.filtered("src/main.go"))
}

func TestDebounceSuppressesWithinWindowButNotDelete(t *testing.T) {
	m := &Monitor{
		policy:   Policy{DebounceWindow: 50 * time.Millisecond, EvictEvery: 4096, EvictAgeMultiple: 16},
		lastEmit: make(map[string]time.Time),
	}

	require.False(t, m.debounce("src/main.go", Create))
	require.True(t, m.debounce("src/main.go", Modify))
	require.False(t, m.debounce("src/main.go", Delete))

	time.Sleep(60 * time.Millisecond)
	require.False(t, m.debounce("src/main.go", Modify))
}

// TestStopGracefulDrainsBacklogWithoutPanic exercises the shutdown
// handshake under a pending raw-event backlog: consumeLoop must drain
// m.raw and deliver every event over Events() before it closes the
// channel, and Stop must never send on an already-closed channel.
func TestStopGracefulDrainsBacklogWithoutPanic(t *testing.T) {
	dir := t.TempDir()
	policy := Policy{
		RawChannelCapacity:     16,
		OutChannelCapacity:     16,
		DebounceWindow:         time.Millisecond,
		EvictEvery:             4096,
		EvictAgeMultiple:       16,
		GracefulDrainMax:       time.Second,
		GracefulDrainMaxEvents: 100,
	}
	m, err := New(dir, policy, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	const n = 5
	for i := 0; i < n; i++ {
		m.raw <- rawEvent{path: dir + "/file" + string(rune('a'+i)) + ".go", ts: nowMicros(), kind: Modify}
	}

	statsCh := make(chan Stats, 1)
	go func() { statsCh <- m.Stop(ShutdownGraceful) }()

	var got []EditEvent
	for ev := range m.Events() {
		got = append(got, ev)
	}
	stats := <-statsCh

	require.Len(t, got, n)
	require.EqualValues(t, n, stats.Emitted)
}
