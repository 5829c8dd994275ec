package battery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatteryBoundsUnderChargeAndConsume(t *testing.T) {
	base := time.Now()
	clock := base
	b := New(100, 0.5, 15, func() time.Time { return clock })

	for i := 0; i < 50; i++ {
		clock = clock.Add(time.Second)
		b.ChargeFocus(float64(i%5), i%7, i%3)
		b.Consume(float64(i % 30))
		level := b.Level()
		require.GreaterOrEqual(t, level, -1e-10)
		require.LessOrEqual(t, level, 100+1e-10)
	}
}

func TestCausalityForbidsPhantomCharge(t *testing.T) {
	base := time.Now()
	clock := base
	b := New(100, 0, 0, func() time.Time { return clock })

	b.ChargeLegacy(0.5, time.Second, 10, 0)
	levelAfterFirst := b.Level()
	require.Greater(t, levelAfterFirst, 0.0)

	// No new hardware events since cursor: level must not increase.
	b.ChargeLegacy(0.9, time.Second, 10, 5)
	require.Equal(t, levelAfterFirst, b.Level())
}

func TestConsumeFailsWithoutSubtractingOnInsufficientEnergy(t *testing.T) {
	b := New(100, 0, 5, nil)
	ok := b.Consume(50)
	require.False(t, ok)
	require.Equal(t, 5.0, b.Level())
}

func TestConsumeSucceedsAndSubtracts(t *testing.T) {
	b := New(100, 0, 50, nil)
	ok := b.Consume(20)
	require.True(t, ok)
	require.Equal(t, 30.0, b.Level())
}

func TestDecayLeaksTowardZero(t *testing.T) {
	base := time.Now()
	clock := base
	b := New(100, 1.0, 50, func() time.Time { return clock })

	clock = clock.Add(10 * time.Second)
	require.InDelta(t, 40.0, b.Level(), 1e-9)

	clock = clock.Add(1000 * time.Second)
	require.Equal(t, 0.0, b.Level())
}

func TestJumpstartClampedToCapacity(t *testing.T) {
	b := New(10, 0.5, 999, nil)
	require.Equal(t, 10.0, b.Level())
}
