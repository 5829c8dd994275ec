// Package ncd provides a fixed-level compressor and the Normalized
// Compression Distance (NCD) calculation shared by the Kinematic Analyzer
// and the Complexity Engine. Both spec.md §4.2 and §4.3 ask for "a fixed
// level compressor" — zstd's EncoderLevel is that knob; there is no
// per-call tuning, matching the spec's "fixed level" language.
package ncd

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Level is the single compression level used throughout attnd, matching
// the Complexity Engine's documented "fixed level (3)".
const Level = zstd.SpeedDefault

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	encErr  error
)

func getEncoder() (*zstd.Encoder, error) {
	encOnce.Do(func() {
		encoder, encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(Level))
	})
	return encoder, encErr
}

// CompressedSize returns the compressed length of data at the fixed
// level. A compressor failure yields (0, err); callers apply their own
// fallback per spec (0.5 for Complexity Engine's compression score).
func CompressedSize(data []byte) (int, error) {
	enc, err := getEncoder()
	if err != nil {
		return 0, err
	}
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2+16))
	return len(out), nil
}

// NCD computes the Normalized Compression Distance between x and y:
// (C(xy) − min(C(x),C(y))) / max(C(x),C(y)). A compressor failure or a
// zero denominator yields 0.
func NCD(x, y []byte) float64 {
	cx, errX := CompressedSize(x)
	cy, errY := CompressedSize(y)
	if errX != nil || errY != nil {
		return 0
	}
	xy := make([]byte, 0, len(x)+len(y))
	xy = append(xy, x...)
	xy = append(xy, y...)
	cxy, errXY := CompressedSize(xy)
	if errXY != nil {
		return 0
	}

	minC, maxC := cx, cy
	if cy < cx {
		minC, maxC = cy, cx
	}
	if maxC == 0 {
		return 0
	}
	return float64(cxy-minC) / float64(maxC)
}

// NCDAgainstContext implements the Complexity Engine's novelty formula:
// max(0, min(1, (C(ctx‖new) − min(C(ctx),C(new))) / max(C(ctx),C(new)))).
// An empty context yields novelty 1 (maximum novelty assumption, per
// spec §7's "cache miss is not an error").
func NCDAgainstContext(newContent, ctx []byte) float64 {
	if len(ctx) == 0 {
		return 1
	}
	v := NCD(ctx, newContent)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
