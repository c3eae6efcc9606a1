package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"colonybridge/internal/buildinfo"
	"colonybridge/internal/metrics"
)

// StateSource is the tracker's status-facing slice.
type StateSource interface {
	Snapshot() map[string]any
	SetStealth(enabled bool)
	Stealth() bool
}

// CarrierControl is the carrier handler's status-facing slice.
type CarrierControl interface {
	Summary() []map[string]any
	CargoOf(marketID int64) (map[string]int, bool)
	ApplySnapshot(marketID int64, cargo map[string]int) bool
}

// OutboxInfo reports pending deferred deliveries.
type OutboxInfo interface {
	Pending(ctx context.Context) (int, error)
}

// Server exposes the bridge over HTTP: health, metrics, state, carrier
// snapshot ingestion, a stealth toggle and the WebSocket notice feed.
type Server struct {
	addr     string
	log      *zap.Logger
	state    StateSource
	carriers CarrierControl
	outbox   OutboxInfo
	broker   Broker
	upgrader websocket.Upgrader
}

func NewServer(addr string, state StateSource, carriers CarrierControl, ob OutboxInfo, broker Broker, log *zap.Logger) *Server {
	return &Server{
		addr:     addr,
		log:      log.Named("status"),
		state:    state,
		carriers: carriers,
		outbox:   ob,
		broker:   broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local operator surface; the feed carries no credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/carriers", s.handleCarriers)
	mux.HandleFunc("GET /v1/carriers/{marketID}/cargo", s.handleCarrierCargo)
	mux.HandleFunc("POST /v1/carriers/{marketID}/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /v1/stealth", s.handleStealth)
	mux.HandleFunc("GET /v1/feed", s.handleFeed)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("status server listening", zap.String("addr", s.addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	out := s.state.Snapshot()
	if s.outbox != nil {
		if n, err := s.outbox.Pending(r.Context()); err == nil {
			out["outboxPending"] = n
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCarriers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.carriers.Summary())
}

func (s *Server) handleCarrierCargo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("marketID"), 10, 64)
	if err != nil {
		problem(w, http.StatusBadRequest, "invalid market id")
		return
	}
	cargo, ok := s.carriers.CargoOf(id)
	if !ok {
		problem(w, http.StatusNotFound, "carrier not linked")
		return
	}
	writeJSON(w, http.StatusOK, cargo)
}

// handleSnapshot ingests an out-of-band cargo snapshot for one carrier, the
// replacement for the host's capability API hook. Replace semantics, applied
// at most once per carrier per process.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("marketID"), 10, 64)
	if err != nil {
		problem(w, http.StatusBadRequest, "invalid market id")
		return
	}
	var cargo map[string]int
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&cargo); err != nil {
		problem(w, http.StatusBadRequest, "invalid cargo body")
		return
	}
	accepted := s.carriers.ApplySnapshot(id, cargo)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (s *Server) handleStealth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.state.SetStealth(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"stealth": s.state.Stealth()})
}

// handleFeed streams notices over a WebSocket until the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.broker.Subscribe(r.Context())
	defer cancel()

	// Reader goroutine notices client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func problem(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "status": status})
}
