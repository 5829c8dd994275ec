// Package watcher implements the FileMonitor (component C3): a recursive
// fsnotify watch over a working tree that produces debounced, bounded,
// path-filtered EditEvents. The bounded-channel/drop-on-full backpressure
// shape follows the pack's ring-buffer event processor
// (internal/kernel/events.go); debounce is per path, keyed on the time of
// the last emitted event for that path (no timers).
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/attnd/attnd/internal/attnerr"
)

// EventKind classifies an EditEvent's underlying filesystem operation.
type EventKind int

const (
	Create EventKind = iota
	Modify
	Delete
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// EditEvent is the downstream, filtered, debounced event.
type EditEvent struct {
	RelativePath string
	TimestampUs  int64
	Kind         EventKind
}

type rawEvent struct {
	path string
	ts   int64
	kind EventKind
}

// Policy configures FileMonitor behavior.
type Policy struct {
	RawChannelCapacity     int
	OutChannelCapacity     int
	DebounceWindow         time.Duration
	EvictEvery             int
	EvictAgeMultiple       int
	IgnoreDirs             map[string]bool
	IgnoreExtensions       map[string]bool
	GracefulDrainMax       time.Duration
	GracefulDrainMaxEvents int
}

// Stats is the exit-time statistics snapshot.
type Stats struct {
	RawDroppedOverflow int64
	OutDroppedOverflow int64
	WatcherErrors      int64
	Emitted            int64
	Debounced          int64
}

// ShutdownMode selects between an immediate exit and a draining one.
type ShutdownMode int

const (
	ShutdownImmediate ShutdownMode = iota
	ShutdownGraceful
)

// Monitor is the FileMonitor.
type Monitor struct {
	root   string
	policy Policy
	log    *zap.Logger

	watcher  *fsnotify.Watcher
	raw      chan rawEvent
	out      chan EditEvent
	stop     atomic.Bool
	shutdown chan ShutdownMode
	stopped  chan struct{}

	rawDropped int64
	outDropped int64
	watchErrs  int64
	emitted    int64
	debounced  int64

	debounceMu sync.Mutex
	lastEmit   map[string]time.Time
	observed   int
}

// New creates a Monitor rooted at root with the given policy.
func New(root string, policy Policy, log *zap.Logger) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		root:     root,
		policy:   policy,
		log:      log,
		watcher:  w,
		raw:      make(chan rawEvent, policy.RawChannelCapacity),
		out:      make(chan EditEvent, policy.OutChannelCapacity),
		lastEmit: make(map[string]time.Time),
		shutdown: make(chan ShutdownMode, 1),
		stopped:  make(chan struct{}),
	}
	return m, nil
}

// Events returns the downstream, filtered EditEvent channel.
func (m *Monitor) Events() <-chan EditEvent { return m.out }

// Start begins watching recursively from the root. Watcher-creation and
// watch-start errors are terminal.
func (m *Monitor) Start(ctx context.Context) error {
	if err := addRecursive(m.watcher, m.root, m.policy.IgnoreDirs); err != nil {
		return err
	}

	go m.callbackLoop()
	go m.consumeLoop(ctx)
	return nil
}

// callbackLoop is the OS-watcher-owned callback thread: it only enqueues
// onto the bounded raw channel, dropping newest on overflow.
func (m *Monitor) callbackLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if m.stop.Load() {
				continue
			}
			kind, ok := translateOp(ev.Op)
			if !ok {
				continue
			}
			re := rawEvent{path: ev.Name, ts: nowMicros(), kind: kind}
			select {
			case m.raw <- re:
			default:
				atomic.AddInt64(&m.rawDropped, 1)
				cerr := attnerr.New(attnerr.Capacity, "watcher.raw", nil)
				m.log.Debug("dropping raw fs event: channel full", zap.String("kind", cerr.Kind.String()), zap.String("path", ev.Name))
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			atomic.AddInt64(&m.watchErrs, 1)
			m.log.Warn("watcher: callback error", zap.Error(err))
		}
	}
}

// consumeLoop is the single async consumer: debounce, filter, forward. It
// is the sole owner of m.out — a graceful shutdown drains m.raw here,
// before the deferred close, so nothing sends on out after it is closed.
func (m *Monitor) consumeLoop(ctx context.Context) {
	defer close(m.stopped)
	defer m.watcher.Close()
	defer close(m.out)

	for {
		select {
		case mode := <-m.shutdown:
			m.stop.Store(true)
			m.drain(mode)
			return
		case <-ctx.Done():
			m.stop.Store(true)
			m.drain(ShutdownImmediate)
			return
		case re, ok := <-m.raw:
			if !ok {
				return
			}
			m.process(re)
		}
	}
}

// drain empties m.raw into process, up to the configured caps, when mode
// is ShutdownGraceful. ShutdownImmediate exits without draining.
func (m *Monitor) drain(mode ShutdownMode) {
	if mode != ShutdownGraceful {
		return
	}
	deadline := time.Now().Add(m.policy.GracefulDrainMax)
	drained := 0
	for drained < m.policy.GracefulDrainMaxEvents && time.Now().Before(deadline) {
		select {
		case re, ok := <-m.raw:
			if !ok {
				return
			}
			m.process(re)
			drained++
		default:
			return
		}
	}
}

func (m *Monitor) process(re rawEvent) {
	rel, ok := normalize(m.root, re.path)
	if !ok {
		return
	}
	if m.filtered(rel) {
		return
	}
	if m.debounce(rel, re.kind) {
		atomic.AddInt64(&m.debounced, 1)
		return
	}
	ev := EditEvent{RelativePath: rel, TimestampUs: re.ts, Kind: re.kind}
	select {
	case m.out <- ev:
		atomic.AddInt64(&m.emitted, 1)
	default:
		atomic.AddInt64(&m.outDropped, 1)
		cerr := attnerr.New(attnerr.Capacity, "watcher.out", nil)
		m.log.Debug("dropping edit event: channel full", zap.String("kind", cerr.Kind.String()), zap.String("path", rel))
	}
}

// debounce applies per-path suppression. Delete is never suppressed.
func (m *Monitor) debounce(path string, kind EventKind) bool {
	if kind == Delete {
		m.debounceMu.Lock()
		delete(m.lastEmit, path)
		m.debounceMu.Unlock()
		return false
	}

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	now := time.Now()
	if last, ok := m.lastEmit[path]; ok && now.Sub(last) < m.policy.DebounceWindow {
		return true
	}
	m.lastEmit[path] = now
	m.observed++

	if m.policy.EvictEvery > 0 && m.observed%m.policy.EvictEvery == 0 {
		m.evictStale(now)
	}
	return false
}

func (m *Monitor) evictStale(now time.Time) {
	maxAge := m.policy.DebounceWindow * time.Duration(m.policy.EvictAgeMultiple)
	for k, t := range m.lastEmit {
		if now.Sub(t) > maxAge {
			delete(m.lastEmit, k)
		}
	}
}

func (m *Monitor) filtered(rel string) bool {
	first := strings.SplitN(rel, "/", 2)[0]
	if m.policy.IgnoreDirs[first] {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	return m.policy.IgnoreExtensions[ext]
}

// Stop triggers a shutdown and blocks until consumeLoop has drained (when
// mode is ShutdownGraceful) and closed the Events channel. mode selects
// Immediate (exit without draining) or Graceful (drain up to the
// configured caps, applying debounce, before exiting).
func (m *Monitor) Stop(mode ShutdownMode) Stats {
	m.stop.Store(true)
	select {
	case m.shutdown <- mode:
	default:
		// consumeLoop already exited (e.g. ctx was cancelled first).
	}
	<-m.stopped
	return m.StatsSnapshot()
}

// StatsSnapshot returns the current statistics.
func (m *Monitor) StatsSnapshot() Stats {
	return Stats{
		RawDroppedOverflow: atomic.LoadInt64(&m.rawDropped),
		OutDroppedOverflow: atomic.LoadInt64(&m.outDropped),
		WatcherErrors:      atomic.LoadInt64(&m.watchErrs),
		Emitted:            atomic.LoadInt64(&m.emitted),
		Debounced:          atomic.LoadInt64(&m.debounced),
	}
}

func translateOp(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Create, true
	case op&fsnotify.Write != 0:
		return Modify, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return Delete, true
	default:
		return 0, false
	}
}

// normalize makes path relative to root and applies lexical normalization
// (CurDir dropped, ParentDir pops the accumulator, no symlink resolution).
func normalize(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "..") {
		return "", false
	}

	parts := strings.Split(rel, "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	if len(stack) == 0 {
		return "", false
	}
	return strings.Join(stack, "/"), true
}

func addRecursive(w *fsnotify.Watcher, root string, ignoreDirs map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}
