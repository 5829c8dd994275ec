// Package complexity implements the Complexity Engine (component C2):
// entropic cost of a single edit, and novelty against a cached repository
// context. Both signals share the fixed-level compressor in internal/ncd,
// following the compression-ratio style of the pack's anomaly scoring but
// applied to file content rather than syscall windows.
package complexity

import (
	"regexp"
	"strings"

	"github.com/attnd/attnd/internal/ncd"
)

// Cost is the result of scoring a single edit.
type Cost struct {
	Compression float64
	Semantic    float64
	Total       float64 // clamp(Compression+Semantic, 1, 100)
	IsSpam      bool
}

// ExtensionClass buckets a file extension for paste-threshold policy.
type ExtensionClass string

const (
	ClassSource ExtensionClass = "source"
	ClassConfig ExtensionClass = "config"
	ClassDoc    ExtensionClass = "doc"
	ClassOther  ExtensionClass = "other"
)

var sourceExtensions = map[string]bool{
	"rs": true, "go": true, "py": true, "js": true, "ts": true,
	"java": true, "c": true, "cpp": true, "h": true, "hpp": true,
	"rb": true, "swift": true, "kt": true,
}

var configExtensions = map[string]bool{
	"yaml": true, "yml": true, "toml": true, "json": true, "ini": true,
}

var docExtensions = map[string]bool{
	"md": true, "rst": true, "txt": true, "adoc": true,
}

// ClassifyExtension maps a file extension (with or without a leading dot,
// any case) to its paste-threshold bucket.
func ClassifyExtension(ext string) ExtensionClass {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch {
	case sourceExtensions[ext]:
		return ClassSource
	case configExtensions[ext]:
		return ClassConfig
	case docExtensions[ext]:
		return ClassDoc
	default:
		return ClassOther
	}
}

// topLevelDeclPattern recognizes the declaration kinds spec.md names for
// Rust-like source: functions, structures, enumerations, impl blocks. A
// line-anchored regex is used rather than a real parser: the pack carries
// a cgo tree-sitter binding (vjache-cie/pkg/sigparse) with no grammar for
// this purpose, so a lightweight lexical count — within what spec.md asks
// for ("count top-level declarations") — is used instead. See DESIGN.md
// for why this is a deliberate stdlib-only choice.
var topLevelDeclPattern = regexp.MustCompile(`(?m)^\s*(pub\s+)?(async\s+)?(fn|struct|enum|impl|trait)\s`)

// ScoreCompression computes (compressed / raw) * 50 at the fixed level.
// Empty input scores 0; a compressor failure scores the documented 0.5
// fallback.
func ScoreCompression(content []byte) float64 {
	if len(content) == 0 {
		return 0
	}
	compressed, err := ncd.CompressedSize(content)
	if err != nil {
		return 0.5
	}
	return (float64(compressed) / float64(len(content))) * 50
}

// ScoreSemanticDensity scores structural density of content. Source-like
// extensions count top-level declarations; everything else counts
// non-empty distinct lines. Capped at 50.
func ScoreSemanticDensity(content []byte, ext string) float64 {
	class := ClassifyExtension(ext)
	text := string(content)

	if class == ClassSource {
		n := len(topLevelDeclPattern.FindAllStringIndex(text, -1))
		score := float64(n) * 10
		if score > 50 {
			score = 50
		}
		return score
	}

	lines := strings.Split(text, "\n")
	nonEmpty := 0
	seen := make(map[string]bool)
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		seen[trimmed] = true
	}
	unique := len(seen)
	effective := nonEmpty
	if cap := unique * 3; cap < effective {
		effective = cap
	}
	score := float64(effective) * 2
	if score > 50 {
		score = 50
	}
	return score
}

// Score computes the full Cost for one edit's content.
func Score(content []byte, ext string, minEntropy float64) Cost {
	compression := ScoreCompression(content)
	semantic := ScoreSemanticDensity(content, ext)
	total := clamp(compression+semantic, 1, 100)

	// Difficulty scaling is applied by the caller (Correlation Core) at
	// consumption time, per spec §4.3 — "the core multiplies cost by
	// configured_min_entropy / 2.5 before consumption" — so Score reports
	// the unscaled cost and callers scale explicitly.
	_ = minEntropy

	return Cost{
		Compression: compression,
		Semantic:    semantic,
		Total:       total,
		IsSpam:      total < 10,
	}
}

// ScaleByDifficulty applies the core's difficulty-scaling factor.
func ScaleByDifficulty(cost, minEntropy float64) float64 {
	return cost * (minEntropy / 2.5)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Novelty computes NCD-based novelty of newContent against a cached
// repository context, per spec §4.3.
func Novelty(newContent, context []byte) float64 {
	return ncd.NCDAgainstContext(newContent, context)
}

// PasteThreshold returns the configured novelty floor for ext's class,
// falling back to the default class when unset.
func PasteThreshold(thresholds map[string]float64, ext string) float64 {
	class := string(ClassifyExtension(ext))
	if v, ok := thresholds[class]; ok {
		return v
	}
	return thresholds["other"]
}
