// Package apiserver exposes the §6 metrics/config polling surface over
// HTTP with gin, mirroring the teacher's own REST API shape in
// cmd/driver/hasher-host/main.go: a route group, JSON handlers reading
// from shared state under a lock, graceful shutdown driven by the
// caller's context.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/config"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/rtloop"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
)

// MetricsResponse is the §6 metrics surface, served as a read-only
// polled snapshot — the core never pushes.
type MetricsResponse struct {
	SessionID         string            `json:"session_id"`
	TotalTicks        uint64            `json:"total_ticks"`
	MissedTicks       uint64            `json:"missed_ticks"`
	MissedTickRate    float64           `json:"missed_tick_rate"`
	WritePendingCount uint64            `json:"write_pending_count"`
	WriteLatencyUsP50 uint64            `json:"write_latency_us_p50"`
	WriteLatencyUsP99 uint64            `json:"write_latency_us_p99"`
	WriteLatencyUsMax uint64            `json:"write_latency_us_max"`
	TickJitterNsP99   uint64            `json:"tick_jitter_ns_p99"`
	TickJitterNsMax   uint64            `json:"tick_jitter_ns_max"`
	FaultEventsTotal  map[string]uint64 `json:"fault_events_total"`
	SoftStopActive    bool              `json:"soft_stop_active"`
	HighTorqueGrants  uint64            `json:"high_torque_grants"`
	ChallengesFailed  uint64            `json:"challenges_failed"`
}

// HealthResponse is a coarse liveness summary for load balancers /
// orchestrators, distinct from the FMEA SafetyState in SafetyResponse.
type HealthResponse struct {
	Status   string `json:"status"`
	SafetyState string `json:"safety_state"`
	UptimeSecs float64 `json:"uptime_secs"`
}

// SafetyResponse surfaces the current C4 state, omitting the challenge
// token itself (never exposed outside the device interlock handshake).
type SafetyResponse struct {
	State string `json:"state"`
	Fault string `json:"fault,omitempty"`
}

// Server wires the metrics/health/safety/config endpoints over gin.
type Server struct {
	sessionID uuid.UUID
	startTime time.Time
	metrics   *rtloop.Metrics
	safety    *safety.Service
	doc       *config.Document

	httpSrv *http.Server
}

func NewServer(addr string, metrics *rtloop.Metrics, svc *safety.Service, doc *config.Document) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		sessionID: uuid.New(),
		startTime: time.Now(),
		metrics:   metrics,
		safety:    svc,
		doc:       doc,
	}

	api := router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/metrics", s.handleMetrics)
		api.GET("/safety", s.handleSafety)
		api.GET("/config", s.handleConfig)
	}

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Run starts the HTTP server and blocks until ctx is canceled, then
// shuts down gracefully with a bounded deadline.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("apiserver: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("apiserver: shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.safety.State()
	status := "healthy"
	if st.Kind == safety.StateFaulted {
		status = "faulted"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:      status,
		SafetyState: st.Kind.String(),
		UptimeSecs:  time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.metrics.Snapshot()
	c.JSON(http.StatusOK, MetricsResponse{
		SessionID:         s.sessionID.String(),
		TotalTicks:        snap.TotalTicks,
		MissedTicks:       snap.MissedTicks,
		MissedTickRate:    snap.MissedTickRate(),
		WritePendingCount: snap.WritePendingCount,
		WriteLatencyUsP50: snap.WriteLatencyUsP50,
		WriteLatencyUsP99: snap.WriteLatencyUsP99,
		WriteLatencyUsMax: snap.WriteLatencyUsMax,
		TickJitterNsP99:   snap.TickJitterNsP99,
		TickJitterNsMax:   snap.TickJitterNsMax,
		FaultEventsTotal:  snap.FaultEventsTotal,
		SoftStopActive:    snap.SoftStopActive,
		HighTorqueGrants:  snap.HighTorqueGrants,
		ChallengesFailed:  snap.ChallengesFailed,
	})
}

func (s *Server) handleSafety(c *gin.Context) {
	st := s.safety.State()
	resp := SafetyResponse{State: st.Kind.String()}
	if st.Kind == safety.StateFaulted {
		resp.Fault = st.Fault.String()
	}
	c.JSON(http.StatusOK, resp)
}

// handleConfig returns a read-only snapshot of the active configuration
// document, per spec.md §6's "read-only snapshot of the current
// configuration" requirement.
func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.doc)
}
