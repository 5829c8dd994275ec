// Package core implements the Correlation Core (component C7): the
// single-owner async task that fuses the Kinematic Analyzer's pointer
// samples, the Sensor Intake's editor events, and the FileMonitor's
// EditEvents, driving the Complexity Engine and updating the FocusTracker
// and AttentionBattery. The select-loop shape — channels plus a periodic
// ticker plus cancellation — follows internal/kernel/events.go's
// ring-buffer processor; the composite-score combination follows the
// weighted-sum style of internal/escalation/severity.go, applied to
// spec's own human-score formula rather than the pack's severity weights.
package core

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/attnd/attnd/internal/battery"
	"github.com/attnd/attnd/internal/complexity"
	"github.com/attnd/attnd/internal/focus"
	"github.com/attnd/attnd/internal/kinematics"
	"github.com/attnd/attnd/internal/observability"
	"github.com/attnd/attnd/internal/sensor"
	"github.com/attnd/attnd/internal/watcher"
)

// Config carries the subset of internal/config.Config the Core consumes.
type Config struct {
	WatchRoot        string
	RingSize         int
	MinSamples       int
	SyntheticCVLimit float64
	AnalysisTick     time.Duration
	NoveltyEMARho    float64
	CouplingEMARho   float64
	ScoreHistoryCap  int
	MinEntropy       float64
	PasteThresholds  map[string]float64
	RepoContextTTL   time.Duration
	RepoContextFiles int
}

// InputSample is spec's InputSample union: pointer samples carry X/Y;
// keystroke samples carry only T and IsKeystroke=true.
type InputSample struct {
	X, Y        float64
	T           float64
	IsKeystroke bool
}

// Core is the Correlation Core.
type Core struct {
	cfg     Config
	log     *zap.Logger
	metrics *observability.Metrics

	ring      *kinematics.Ring
	tracker   *focus.Tracker
	trackerMu sync.Mutex // guards tracker: the Ticket Service also resets it (GetWitness{reset:true})
	batt      *battery.Battery

	snapMu       sync.RWMutex
	snapshot     kinematics.Metrics
	hasSnapshot  bool
	noveltyEMA   float64
	couplingEMA  float64
	scoreHistory []float64

	keyboardHits atomic.Uint64

	repoCtxMu      sync.Mutex
	repoCtx        []byte
	repoCtxBuiltAt time.Time

	eventsCaptured atomic.Uint64
	startedAt      time.Time

	inputCh  chan InputSample
	sensorCh chan sensor.Event
	fileCh   chan watcher.EditEvent
}

// New creates a Core. The three intake channels are buffered at 2048;
// RingSize, AnalysisTick and ScoreHistoryCap fall back to defaults when
// not positive. metrics may be nil, in which case per-tick
// instrumentation is skipped.
func New(cfg Config, batt *battery.Battery, metrics *observability.Metrics, log *zap.Logger) *Core {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1024
	}
	if cfg.AnalysisTick <= 0 {
		cfg.AnalysisTick = 5 * time.Second
	}
	if cfg.ScoreHistoryCap <= 0 {
		cfg.ScoreHistoryCap = 50
	}
	return &Core{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		ring:      kinematics.NewRing(cfg.RingSize),
		tracker:   focus.New(nil),
		batt:      batt,
		startedAt: time.Now(),
		inputCh:   make(chan InputSample, 2048),
		sensorCh:  make(chan sensor.Event, 2048),
		fileCh:    make(chan watcher.EditEvent, 2048),
	}
}

// InputChan exposes the pointer/keystroke sample intake channel.
func (c *Core) InputChan() chan<- InputSample { return c.inputCh }

// SensorChan exposes the sensor-event intake channel.
func (c *Core) SensorChan() chan<- sensor.Event { return c.sensorCh }

// FileChan exposes the file-event intake channel.
func (c *Core) FileChan() chan<- watcher.EditEvent { return c.fileCh }

// BatteryLevel is a convenience accessor used to wire the Sensor Intake's
// ack envelopes (spec §4.4 step 4).
func (c *Core) BatteryLevel() float64 { return c.batt.Level() }

// Consume applies the battery's decay-then-consume, for the Ticket
// Service's GetTicket handler (spec §4.8). Safe to call concurrently
// with Run: battery.Battery guards itself with its own mutex.
func (c *Core) Consume(cost float64) bool { return c.batt.Consume(cost) }

// ResetTracker resets the FocusTracker, for the Ticket Service's
// GetWitness{reset:true} handler. Synchronized against the Run loop via
// trackerMu since FocusTracker itself carries no internal lock.
func (c *Core) ResetTracker() {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	c.tracker.Reset()
}

// Run is the single-owner select loop. Blocks until ctx is cancelled.
func (c *Core) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.AnalysisTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.inputCh:
			c.onInputSample(s)
		case ev := <-c.sensorCh:
			c.onSensorEvent(ev)
		case ev := <-c.fileCh:
			c.onFileEvent(ev)
		case <-ticker.C:
			c.onAnalysisTick()
		}
	}
}

func (c *Core) onInputSample(s InputSample) {
	c.eventsCaptured.Add(1)
	if s.IsKeystroke {
		c.keyboardHits.Add(1)
		return
	}
	c.ring.Push(kinematics.Sample{X: s.X, Y: s.Y, T: s.T})
}

func (c *Core) onSensorEvent(ev sensor.Event) {
	c.eventsCaptured.Add(1)

	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	switch ev.Type {
	case sensor.EventFocusGained:
		c.tracker.FocusGained(ev.File)
	case sensor.EventFocusLost:
		c.tracker.FocusLost()
	case sensor.EventEditBurst:
		c.tracker.EditBurst(ev.File, ev.CharsDelta)
	case sensor.EventNavigation:
		c.tracker.Navigation(ev.File, time.Now())
	case sensor.EventHeartbeat:
		c.tracker.Heartbeat()
	case sensor.EventKeystroke:
		c.tracker.Heartbeat() // liveness pulse, per spec §4.7.
	case sensor.EventDisconnect:
		c.tracker.Reset()
	}
}

func (c *Core) onFileEvent(ev watcher.EditEvent) {
	c.eventsCaptured.Add(1)
	if ev.Kind == watcher.Delete {
		return
	}

	content, err := os.ReadFile(filepath.Join(c.cfg.WatchRoot, ev.RelativePath))
	if err != nil {
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(ev.RelativePath), ".")
	cost := complexity.Score(content, ext, c.cfg.MinEntropy)
	ctx := c.repoContext()
	novelty := complexity.Novelty(content, ctx)

	motorProxy := c.motorEntropyProxy()
	coupling := clamp01(1 - math.Abs(cost.Total/100-motorProxy))

	c.snapMu.Lock()
	c.noveltyEMA = c.cfg.NoveltyEMARho*c.noveltyEMA + (1-c.cfg.NoveltyEMARho)*novelty
	c.couplingEMA = c.cfg.CouplingEMARho*c.couplingEMA + (1-c.cfg.CouplingEMARho)*coupling
	c.snapMu.Unlock()

	threshold := complexity.PasteThreshold(c.cfg.PasteThresholds, ext)
	if novelty < threshold {
		c.log.Warn("paste detected",
			zap.String("path", ev.RelativePath),
			zap.Float64("novelty", novelty),
			zap.Float64("threshold", threshold))
	}

	adjusted := complexity.ScaleByDifficulty(cost.Total, c.cfg.MinEntropy)
	if c.batt.Consume(adjusted) {
		c.trackerMu.Lock()
		c.tracker.MarkAsProductive(ev.RelativePath)
		c.trackerMu.Unlock()
	} else {
		c.log.Warn("thermodynamic anomaly: insufficient battery",
			zap.String("path", ev.RelativePath),
			zap.Float64("cost", adjusted))
	}
}

// motorEntropyProxy uses current kinematic velocity_entropy/8 as the
// coupling formula's motor proxy, per spec §4.7.
func (c *Core) motorEntropyProxy() float64 {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	if !c.hasSnapshot {
		return 0
	}
	return c.snapshot.VelocityEntropy / 8
}

func (c *Core) onAnalysisTick() {
	samples := c.ring.Samples()
	snap, err := kinematics.Analyze(samples, c.cfg.MinSamples, c.cfg.SyntheticCVLimit)
	if err == nil {
		c.snapMu.Lock()
		c.snapshot = snap
		c.hasSnapshot = true
		c.snapMu.Unlock()
	}

	keyboardHits := int(c.keyboardHits.Swap(0))
	events := c.eventsCaptured.Load()
	c.batt.ChargeLegacy(motorEntropyOrZero(snap, err), c.cfg.AnalysisTick, events, keyboardHits)

	c.trackerMu.Lock()
	fm := c.tracker.Export()
	c.trackerMu.Unlock()
	c.batt.ChargeFocus(fm.TotalFocusMins, fm.EditBurstCount, fm.NavigationEvts)

	humanScore := c.computeHumanScore(snap, err, fm)
	c.pushScore(humanScore)

	if c.metrics != nil {
		c.snapMu.RLock()
		novelty := c.noveltyEMA
		c.snapMu.RUnlock()
		isSynthetic := fm.IsSynthetic || (err == nil && snap.IsSynthetic)
		c.metrics.ObserveSnapshot(humanScore, novelty, c.batt.Level(), isSynthetic)
	}
}

func motorEntropyOrZero(snap kinematics.Metrics, err error) float64 {
	if err != nil {
		return 0
	}
	return clamp01(snap.VelocityEntropy / 8)
}

// computeHumanScore implements spec §4.7's human-score formula exactly.
func (c *Core) computeHumanScore(snap kinematics.Metrics, snapErr error, fm focus.Metrics) float64 {
	burstiness := 0.0
	isSynthetic := fm.IsSynthetic
	if snapErr == nil {
		burstiness = snap.Burstiness
		isSynthetic = isSynthetic || snap.IsSynthetic
	}

	c.snapMu.RLock()
	noveltyEMA := c.noveltyEMA
	c.snapMu.RUnlock()

	normB := (burstiness + 1) / 2
	normN := clamp01(noveltyEMA)
	focusScore := math.Min(1, 0.1*fm.TotalFocusMins+0.02*float64(fm.NavigationEvts))

	score := 0.4*focusScore + 0.4*normB + 0.2*normN
	if isSynthetic {
		score *= 0.5
	}
	return score
}

func (c *Core) pushScore(score float64) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.scoreHistory = append(c.scoreHistory, score)
	if len(c.scoreHistory) > c.cfg.ScoreHistoryCap {
		c.scoreHistory = c.scoreHistory[len(c.scoreHistory)-c.cfg.ScoreHistoryCap:]
	}
}

// Snapshot is a read-only view for the Ticket Service's GetMetrics/GetStatus.
type Snapshot struct {
	Kinematics     kinematics.Metrics
	HasKinematics  bool
	NoveltyEMA     float64
	CouplingEMA    float64
	ScoreHistory   []float64
	HumanScore     float64
	BatteryLevel   float64
	FocusMetrics   focus.Metrics
	IsFocused      bool
	EventsCaptured uint64
	UptimeSeconds  int64
}

// ReadSnapshot takes a short read lock and returns a consistent view,
// per spec §5: "Ticket responses observe the battery state at the
// instant consume returns, not at receive time" and snapshots are
// single-writer/many-reader.
func (c *Core) ReadSnapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	history := make([]float64, len(c.scoreHistory))
	copy(history, c.scoreHistory)

	c.trackerMu.Lock()
	fm := c.tracker.Export()
	isFocused := c.tracker.IsAlive()
	c.trackerMu.Unlock()

	var humanScore float64
	if len(history) > 0 {
		humanScore = history[len(history)-1]
	}

	return Snapshot{
		Kinematics:     c.snapshot,
		HasKinematics:  c.hasSnapshot,
		NoveltyEMA:     c.noveltyEMA,
		CouplingEMA:    c.couplingEMA,
		ScoreHistory:   history,
		HumanScore:     humanScore,
		BatteryLevel:   c.batt.Level(),
		FocusMetrics:   fm,
		IsFocused:      isFocused,
		EventsCaptured: c.eventsCaptured.Load(),
		UptimeSeconds:  int64(time.Since(c.startedAt).Seconds()),
	}
}

// repoContext returns the cached repository context, rebuilding it if the
// TTL has elapsed. Each rebuild replaces the cache with whatever the walk
// collected, which may be empty (an unreadable entry ends the walk early);
// an empty context yields maximal novelty (spec §7).
func (c *Core) repoContext() []byte {
	c.repoCtxMu.Lock()
	defer c.repoCtxMu.Unlock()

	if time.Since(c.repoCtxBuiltAt) < c.cfg.RepoContextTTL && c.repoCtx != nil {
		return c.repoCtx
	}

	ctx := buildRepoContext(c.cfg.WatchRoot, c.cfg.RepoContextFiles)
	c.repoCtx = ctx
	c.repoCtxBuiltAt = time.Now()
	return ctx
}

// buildRepoContext samples up to maxFiles source files under root and
// concatenates their contents, bounding the work to a small, fixed set
// (spec §5: "paths that could stall are bounded by context-sample size").
func buildRepoContext(root string, maxFiles int) []byte {
	if maxFiles <= 0 {
		maxFiles = 8
	}
	var out []byte
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || count >= maxFiles {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if complexity.ClassifyExtension(ext) != complexity.ClassSource {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		out = append(out, data...)
		count++
		return nil
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
