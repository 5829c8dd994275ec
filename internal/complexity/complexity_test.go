package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreEmptyInput(t *testing.T) {
	c := Score(nil, "go", 2.5)
	require.Equal(t, 0.0, c.Compression)
}

func TestScoreBoundsForAnyInput(t *testing.T) {
	inputs := []string{
		"",
		"a",
		strings.Repeat("x", 10000),
		strings.Repeat("fn foo() {}\n", 50),
	}
	for _, in := range inputs {
		c := Score([]byte(in), "rs", 2.5)
		require.GreaterOrEqual(t, c.Total, 0.0)
		require.LessOrEqual(t, c.Total, 100.0)
	}
}

func TestScoreStabilityUnderWhitespaceAppend(t *testing.T) {
	base := strings.Repeat("fn foo() { let x = 1; }\n", 20)
	c1 := Score([]byte(base), "rs", 2.5)
	c2 := Score([]byte(base+" "), "rs", 2.5)
	require.InDelta(t, c1.Total, c2.Total, 5.0)
}

func TestSemanticDensitySourceCountsDeclarations(t *testing.T) {
	src := "fn a() {}\nstruct B {}\nenum C {}\nimpl D {}\n"
	score := ScoreSemanticDensity([]byte(src), "rs")
	require.Equal(t, 40.0, score)
}

func TestSemanticDensityCapped(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("fn f() {}\n")
	}
	score := ScoreSemanticDensity([]byte(sb.String()), "rs")
	require.Equal(t, 50.0, score)
}

func TestSemanticDensityNonSourceLineBased(t *testing.T) {
	text := "line one\nline two\nline one\n"
	score := ScoreSemanticDensity([]byte(text), "md")
	require.Greater(t, score, 0.0)
}

func TestNCDIdentityIsLow(t *testing.T) {
	content := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 30))
	v := Novelty(content, content)
	require.Less(t, v, 0.1)
}

func TestNoveltyEmptyContextIsMaximal(t *testing.T) {
	v := Novelty([]byte("anything"), nil)
	require.Equal(t, 1.0, v)
}

func TestClassifyExtension(t *testing.T) {
	require.Equal(t, ClassSource, ClassifyExtension(".rs"))
	require.Equal(t, ClassConfig, ClassifyExtension("yaml"))
	require.Equal(t, ClassDoc, ClassifyExtension("md"))
	require.Equal(t, ClassOther, ClassifyExtension("bin"))
}

func TestPasteThresholdFallsBackToOther(t *testing.T) {
	thresholds := map[string]float64{"other": 0.15, "source": 0.1}
	require.Equal(t, 0.1, PasteThreshold(thresholds, "rs"))
	require.Equal(t, 0.15, PasteThreshold(thresholds, "bin"))
}

func TestIsSpamBelowTen(t *testing.T) {
	c := Score([]byte(""), "bin", 2.5)
	require.True(t, c.IsSpam)
}
