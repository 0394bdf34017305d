// Package httpapi serves the operational surface: decision stats, health,
// Prometheus metrics, and a live websocket feed of pipeline events.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/pulsecast/pulsecast/internal/bandit"
	"github.com/pulsecast/pulsecast/internal/gate"
	"github.com/pulsecast/pulsecast/internal/metrics"
	"github.com/pulsecast/pulsecast/internal/persistence"
)

// StatsResponse is the /stats payload.
type StatsResponse struct {
	TotalDecisions    int64             `json:"total_decisions"`
	ResolvedDecisions int64             `json:"resolved_decisions"`
	CompletionRate    float64           `json:"completion_rate"`
	AvgReward         float64           `json:"avg_reward"`
	MaxReward         float64           `json:"max_reward"`
	Epsilon           float64           `json:"epsilon"`
	TopArms           []persistence.Arm `json:"top_arms"`
	RemainingSlots    map[string]int    `json:"remaining_slots"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Server exposes the read-only HTTP surface.
type Server struct {
	repo      *persistence.Repository
	selector  *bandit.Selector
	gateCfg   gate.Config
	platforms []string
	registry  *metrics.Registry
	hub       *Hub

	srv *http.Server
}

// NewServer builds the server and its router.
func NewServer(addr string, repo *persistence.Repository, selector *bandit.Selector, gateCfg gate.Config, platforms []string, registry *metrics.Registry) *Server {
	s := &Server{
		repo:      repo,
		selector:  selector,
		gateCfg:   gateCfg,
		platforms: platforms,
		registry:  registry,
		hub:       NewHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", registry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/decisions", s.hub.handleWS)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Hub returns the event hub for wiring into the scheduler.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http server starting")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and closes the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := s.repo.Decisions.Stats(ctx, time.Time{})
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		log.Error().Err(err).Msg("decision stats read failed")
		return
	}
	topArms, err := s.repo.Arms.TopByAvgReward(ctx, 5)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		log.Error().Err(err).Msg("top arms read failed")
		return
	}

	now := time.Now()
	remaining := make(map[string]int, len(s.platforms))
	for _, platform := range s.platforms {
		state, err := s.repo.Windows.State(ctx, platform, now)
		if err != nil {
			log.Warn().Err(err).Str("platform", platform).Msg("publish window read failed")
			continue
		}
		remaining[platform] = max(0, s.gateCfg.LimitsFor(platform).MaxPerDay-state.PublishedToday)
	}

	resp := StatsResponse{
		TotalDecisions:    stats.TotalDecisions,
		ResolvedDecisions: stats.ResolvedDecisions,
		AvgReward:         stats.AvgReward,
		MaxReward:         stats.MaxReward,
		Epsilon:           s.selector.Epsilon(),
		TopArms:           topArms,
		RemainingSlots:    remaining,
		Timestamp:         now,
	}
	if stats.TotalDecisions > 0 {
		resp.CompletionRate = float64(stats.ResolvedDecisions) / float64(stats.TotalDecisions)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("stats encode failed")
	}
}
