package core

import (
	"testing"

	"github.com/attnd/attnd/internal/focus"
	"github.com/attnd/attnd/internal/kinematics"
	"github.com/stretchr/testify/require"
)

func TestComputeHumanScoreHalvedWhenSynthetic(t *testing.T) {
	c := &Core{cfg: Config{}}
	snap := kinematics.Metrics{Burstiness: 0.5, IsSynthetic: true}
	fm := focus.Metrics{TotalFocusMins: 5, NavigationEvts: 2}

	scoreSynthetic := c.computeHumanScore(snap, nil, fm)

	snap.IsSynthetic = false
	fm.IsSynthetic = false
	scoreNormal := c.computeHumanScore(snap, nil, fm)

	require.InDelta(t, scoreNormal/2, scoreSynthetic, 1e-9)
}

func TestComputeHumanScoreBounded(t *testing.T) {
	c := &Core{cfg: Config{}}
	snap := kinematics.Metrics{Burstiness: 1, IsSynthetic: false}
	fm := focus.Metrics{TotalFocusMins: 1000, NavigationEvts: 1000}
	c.noveltyEMA = 1

	score := c.computeHumanScore(snap, nil, fm)
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestBuildRepoContextEmptyDirYieldsEmptyContext(t *testing.T) {
	dir := t.TempDir()
	ctx := buildRepoContext(dir, 8)
	require.Empty(t, ctx)
}

func TestClamp01(t *testing.T) {
	require.Equal(t, 0.0, clamp01(-5))
	require.Equal(t, 1.0, clamp01(5))
	require.Equal(t, 0.5, clamp01(0.5))
}
