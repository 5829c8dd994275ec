package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attnd/attnd/internal/battery"
	"github.com/attnd/attnd/internal/core"
	"github.com/attnd/attnd/internal/identity"
)

func TestHumanProbabilityBuckets(t *testing.T) {
	require.Equal(t, "high", humanProbability(0.7))
	require.Equal(t, "medium", humanProbability(0.3))
	require.Equal(t, "low", humanProbability(0.1))
	require.Equal(t, "unknown", humanProbability(0))
}

func TestDispatchUnknownCommandYieldsError(t *testing.T) {
	s := &Server{}
	resp := s.dispatch(Request{Cmd: "bogus"})
	require.Equal(t, "error", resp.Type)
	require.NotEmpty(t, resp.Error)
}

func TestDispatchPing(t *testing.T) {
	s := &Server{}
	resp := s.dispatch(Request{Cmd: "ping"})
	require.Equal(t, "pong", resp.Type)
}

func TestCmdGetTicketScalesByConfiguredMinEntropy(t *testing.T) {
	batt := battery.New(100, 0, 100, time.Now)
	c := core.New(core.Config{}, batt, nil, zap.NewNop())
	id, err := identity.Load(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	s := &Server{core: c, identity: id, minEntropy: 3.0, startedAt: time.Now()}

	resp := s.cmdGetTicket(10)
	require.NotNil(t, resp.Ticket)
	require.True(t, resp.Ticket.Success)
	// adjusted cost = 10 * (3.0/2.5) = 12; battery starts at 100 so this
	// must succeed and the signed payload must echo the raw, unscaled cost.
	require.Contains(t, resp.Ticket.Message, "cost=10.00")
	require.InDelta(t, 88, c.BatteryLevel(), 1)
}
