package focus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProductivityFilter(t *testing.T) {
	base := time.Now()
	clock := base
	tr := New(func() time.Time { return clock })

	tr.FocusGained("a.go")
	clock = clock.Add(30 * time.Second)
	tr.FocusGained("b.go")
	clock = clock.Add(30 * time.Second)
	tr.FocusLost()

	tr.MarkAsProductive("a.go")

	m := tr.Export()
	require.Greater(t, m.TotalFocusMins, 0.0)
	require.Equal(t, 1, m.UniqueFiles)
}

func TestEditBurstOpensImplicitSession(t *testing.T) {
	tr := New(nil)
	tr.EditBurst("a.go", 10)
	require.NotNil(t, tr.current)
	require.Equal(t, "a.go", tr.current.File)
	require.Equal(t, int64(10), tr.charsDeltaNet)
}

func TestResetClearsEverything(t *testing.T) {
	tr := New(nil)
	tr.FocusGained("a.go")
	tr.MarkAsProductive("a.go")
	tr.Heartbeat()
	tr.Reset()

	require.Nil(t, tr.current)
	require.False(t, tr.IsAlive())
	m := tr.Export()
	require.Equal(t, 0, m.UniqueFiles)
}

func TestIsAliveWithinWindow(t *testing.T) {
	base := time.Now()
	clock := base
	tr := New(func() time.Time { return clock })
	tr.Heartbeat()
	require.True(t, tr.IsAlive())
	clock = clock.Add(61 * time.Second)
	require.False(t, tr.IsAlive())
}

func TestNavigationRingEviction(t *testing.T) {
	tr := New(nil)
	for i := 0; i < navRingSize+10; i++ {
		tr.Navigation("a.go", time.Now())
	}
	require.Equal(t, navRingSize, tr.navRingLen)
}
