// Package ticket implements the Ticket Service (component C8): a
// one-request-one-response Unix socket RPC issuing signed tickets and
// witness blobs to the CLI. The accept-loop and request/response JSON
// shape follow internal/operator/server.go; unlike that socket, every
// connection here is a single GetStatus/GetMetrics/GetTicket/GetWitness/
// Ping round trip.
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/attnd/attnd/internal/complexity"
	"github.com/attnd/attnd/internal/core"
	"github.com/attnd/attnd/internal/identity"
	"github.com/attnd/attnd/internal/ledger"
	"github.com/attnd/attnd/internal/observability"
)

const (
	maxRequestBytes = 4096
	connTimeout     = 10 * time.Second
)

// Request is the tagged-sum request envelope.
type Request struct {
	Cmd   string  `json:"cmd"` // get_status | get_metrics | get_ticket | get_witness | ping
	Cost  float64 `json:"cost,omitempty"`
	Reset bool    `json:"reset,omitempty"`
}

// Response is the tagged-sum response envelope; one payload field is
// populated per response, matching the kind named in Type (none for pong).
type Response struct {
	Type string `json:"type"` // status | metrics | ticket | witness | pong | error

	Status  *StatusPayload  `json:"status,omitempty"`
	Metrics *MetricsPayload `json:"metrics,omitempty"`
	Ticket  *TicketPayload  `json:"ticket,omitempty"`
	Witness *WitnessPayload `json:"witness,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusPayload answers GetStatus.
type StatusPayload struct {
	Running        bool  `json:"running"`
	UptimeSec       int64 `json:"uptime_sec"`
	EventsCaptured uint64 `json:"events_captured"`
}

// MetricsPayload answers GetMetrics.
type MetricsPayload struct {
	LDLJ            float64   `json:"ldlj"`
	VelocityEntropy float64   `json:"velocity_entropy"`
	Throughput      float64   `json:"throughput"`
	HumanScore      float64   `json:"human_score"`
	Coupling        float64   `json:"coupling"`
	BatteryLevel    float64   `json:"battery_level"`
	FocusTimeMins   float64   `json:"focus_time_mins"`
	EditBursts      int       `json:"edit_bursts"`
	IsFocused       bool      `json:"is_focused"`
	ZKPProof        *string   `json:"zkp_proof,omitempty"`
	ScoreHistory    []float64 `json:"score_history"`
}

// TicketPayload answers GetTicket.
type TicketPayload struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message"`
}

// WitnessPayload answers GetWitness (the literal version string is part
// of the wire contract external verifiers parse against).
type WitnessPayload struct {
	FocusTimeMins    float64 `json:"focus_time_mins"`
	EditBursts       int     `json:"edit_bursts"`
	FilesTouched     int     `json:"files_touched"`
	HumanProbability string  `json:"human_probability"`
	Version          string  `json:"version"`
}

// zkpThreshold gates the placeholder zero-knowledge-proof field: its
// presence merely indicates the score cleared this threshold.
const zkpThreshold = 0.6

// Server is the Ticket Service.
type Server struct {
	socketPath string
	core       *core.Core
	identity   *identity.Identity
	ledger     *ledger.DB
	metrics    *observability.Metrics
	log        *zap.Logger
	startedAt  time.Time
	minEntropy float64

	ledgerSeq atomic.Uint64
}

// NewServer creates a Ticket Service server. ledgerDB and metrics may be
// nil, in which case auditing/instrumentation is skipped. minEntropy is
// the configured Complexity.MinEntropy, used to scale GetTicket's cost
// the same way the file-event path scales complexity.Score's output.
func NewServer(socketPath string, c *core.Core, id *identity.Identity, ledgerDB *ledger.DB, metrics *observability.Metrics, log *zap.Logger, minEntropy float64) *Server {
	return &Server{socketPath: socketPath, core: c, identity: id, ledger: ledgerDB, metrics: metrics, log: log, startedAt: time.Now(), minEntropy: minEntropy}
}

// recordLedger appends an audit entry, logging (but not failing the
// request) if the write itself errors.
func (s *Server) recordLedger(kind string, success bool, cost float64, message string) {
	if s.ledger == nil {
		return
	}
	entry := ledger.Entry{Kind: kind, Success: success, Cost: cost, Message: message}
	if err := s.ledger.Append(entry, s.ledgerSeq.Add(1)); err != nil {
		s.log.Warn("ticket: ledger append failed", zap.Error(err), zap.String("kind", kind))
	}
}

// ListenAndServe binds the socket and serves one request per connection
// until ctx is cancelled, then removes the socket file.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ticket: remove stale socket %q: %w", s.socketPath, err)
	}
	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ticket: listen %q: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		lis.Close()
		return fmt.Errorf("ticket: chmod %q: %w", s.socketPath, err)
	}
	defer os.Remove(s.socketPath)

	s.log.Info("ticket socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn("ticket: accept error", zap.Error(err))
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("ticket: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.write(conn, Response{Type: "error", Error: "invalid JSON: " + err.Error()})
		return
	}

	s.write(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "get_status":
		return s.cmdGetStatus()
	case "get_metrics":
		return s.cmdGetMetrics()
	case "get_ticket":
		return s.cmdGetTicket(req.Cost)
	case "get_witness":
		return s.cmdGetWitness(req.Reset)
	case "ping":
		return Response{Type: "pong"}
	default:
		return Response{Type: "error", Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdGetStatus() Response {
	snap := s.core.ReadSnapshot()
	return Response{Type: "status", Status: &StatusPayload{
		Running:        true,
		UptimeSec:      snap.UptimeSeconds,
		EventsCaptured: snap.EventsCaptured,
	}}
}

func (s *Server) cmdGetMetrics() Response {
	snap := s.core.ReadSnapshot()

	var zkp *string
	if snap.HumanScore >= zkpThreshold {
		v := "cleared"
		zkp = &v
	}

	return Response{Type: "metrics", Metrics: &MetricsPayload{
		LDLJ:            snap.Kinematics.LDLJ,
		VelocityEntropy: snap.Kinematics.VelocityEntropy,
		Throughput:      snap.Kinematics.Throughput,
		HumanScore:      snap.HumanScore,
		Coupling:        snap.CouplingEMA,
		BatteryLevel:    snap.BatteryLevel,
		FocusTimeMins:   snap.FocusMetrics.TotalFocusMins,
		EditBursts:      snap.FocusMetrics.EditBurstCount,
		IsFocused:       snap.IsFocused,
		ZKPProof:        zkp,
		ScoreHistory:    snap.ScoreHistory,
	}}
}

func (s *Server) cmdGetTicket(cost float64) Response {
	adjusted := complexity.ScaleByDifficulty(cost, s.minEntropy)
	if !s.core.Consume(adjusted) {
		msg := fmt.Sprintf("THERMODYNAMIC FAILURE: insufficient attention energy for cost %.2f", adjusted)
		s.recordLedger("ticket", false, adjusted, msg)
		if s.metrics != nil {
			s.metrics.TicketsIssuedTotal.WithLabelValues("false").Inc()
		}
		return Response{Type: "ticket", Ticket: &TicketPayload{
			Success: false,
			Message: msg,
		}}
	}

	ts := uint64(time.Since(s.startedAt).Seconds())
	payload := fmt.Sprintf("VALID:cost=%.2f:ts=%d", cost, ts)
	sig := s.identity.Sign([]byte(payload))
	s.recordLedger("ticket", true, adjusted, payload)
	if s.metrics != nil {
		s.metrics.TicketsIssuedTotal.WithLabelValues("true").Inc()
		s.metrics.BatteryConsumedTotal.Add(adjusted)
	}

	return Response{Type: "ticket", Ticket: &TicketPayload{
		Success:   true,
		Signature: fmt.Sprintf("%x", sig),
		Message:   payload,
	}}
}

func (s *Server) cmdGetWitness(reset bool) Response {
	snap := s.core.ReadSnapshot()
	fm := snap.FocusMetrics

	w := &WitnessPayload{
		FocusTimeMins:    fm.TotalFocusMins,
		EditBursts:       fm.EditBurstCount,
		FilesTouched:     fm.UniqueFiles,
		HumanProbability: humanProbability(snap.HumanScore),
		Version:          "2.0",
	}
	if reset {
		s.core.ResetTracker()
	}
	s.recordLedger("witness", true, 0, w.HumanProbability)
	if s.metrics != nil {
		s.metrics.WitnessesIssuedTotal.Inc()
	}
	return Response{Type: "witness", Witness: w}
}

func humanProbability(score float64) string {
	switch {
	case score >= 0.5:
		return "high"
	case score >= 0.25:
		return "medium"
	case score > 0:
		return "low"
	default:
		return "unknown"
	}
}

func (s *Server) write(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	_, _ = conn.Write(data)
}
