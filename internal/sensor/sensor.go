// Package sensor implements the Sensor Intake (component C4): a Unix
// domain socket accepting many concurrent editor connections, each a
// newline-delimited JSON stream of SensorEvents forwarded to the
// Correlation Core. The accept-loop/per-connection-goroutine shape
// follows internal/operator/server.go; unlike the operator socket this
// one is high-concurrency (one connection per editor instance, no
// semaphore cap) and long-lived per connection rather than one-shot.
package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attnd/attnd/internal/attnerr"
	"github.com/attnd/attnd/internal/observability"
)

// EventType tags a SensorEvent's kind.
type EventType string

const (
	EventFocusGained EventType = "focus_gained"
	EventFocusLost   EventType = "focus_lost"
	EventEditBurst   EventType = "edit_burst"
	EventNavigation  EventType = "navigation"
	EventHeartbeat   EventType = "heartbeat"
	EventDisconnect  EventType = "disconnect"
	EventKeystroke   EventType = "keystroke"
)

// Event is the wire shape of a SensorEvent.
type Event struct {
	Type       EventType `json:"type"`
	File       string    `json:"file,omitempty"`
	TMs        int64     `json:"t_ms"`
	CharsDelta int64     `json:"chars_delta,omitempty"`
	NavKind    string    `json:"nav_kind,omitempty"`
	Char       string    `json:"char,omitempty"`
}

// BatteryLevelFunc reports the current battery level for ack envelopes.
type BatteryLevelFunc func() float64

// Server is the Sensor Intake socket server.
type Server struct {
	socketPath string
	out        chan<- Event
	battery    BatteryLevelFunc
	metrics    *observability.Metrics
	log        *zap.Logger

	mu    sync.Mutex
	lis   net.Listener
	conns map[net.Conn]struct{}
}

// NewServer creates a Sensor Intake server. out is the bounded channel
// events are forwarded to; the caller owns its capacity. metrics may be
// nil, in which case per-event counters are skipped.
func NewServer(socketPath string, out chan<- Event, battery BatteryLevelFunc, metrics *observability.Metrics, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		out:        out,
		battery:    battery,
		metrics:    metrics,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the socket, removing any stale file first, and
// accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		lis.Close()
		return err
	}

	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.log.Info("sensor socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn("sensor: accept error", zap.Error(err))
				continue
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		active := len(s.conns)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SensorConnectionsActive.Set(float64(active))
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		s.lis.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) forgetConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	active := len(s.conns)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SensorConnectionsActive.Set(float64(active))
	}
}

// handleConn processes one connection's newline-delimited JSON stream:
// decode, count, forward (dropping on backpressure), ack, and exit on
// an explicit disconnect event.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.forgetConn(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			perr := attnerr.New(attnerr.Parse, "sensor.decode", err)
			s.writeEnvelope(conn, ackEnvelope{Type: "error", Message: perr.Error()})
			continue
		}

		if s.metrics != nil {
			s.metrics.SensorEventsReceivedTotal.WithLabelValues(string(ev.Type)).Inc()
		}

		select {
		case s.out <- ev:
		default:
			cerr := attnerr.New(attnerr.Capacity, "sensor.forward", nil)
			s.log.Debug("dropping sensor event: channel full", zap.String("kind", cerr.Kind.String()), zap.String("event_type", string(ev.Type)))
		}

		s.writeEnvelope(conn, ackEnvelope{Type: "ack", BatteryLevel: s.battery()})

		if ev.Type == EventDisconnect {
			return
		}
	}
}

type ackEnvelope struct {
	Type         string  `json:"type"`
	BatteryLevel float64 `json:"battery_level,omitempty"`
	Message      string  `json:"message,omitempty"`
}

func (s *Server) writeEnvelope(conn net.Conn, env ackEnvelope) {
	data, _ := json.Marshal(env)
	data = append(data, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write(data)
}
