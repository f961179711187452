package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
	"github.com/weiihann/energy-stats-indexer/internal/service"
)

// StatsProvider computes or recalls energy statistics for a contract.
type StatsProvider interface {
	SystemStats(ctx context.Context, contractID string, refresh bool) (service.Result[energy.SystemReport], error)
	UserStats(ctx context.Context, contractID, address string, refresh bool) (service.Result[energy.UserEnergyStats], error)
}

type Server struct {
	stats      StatsProvider
	production bool
	log        *slog.Logger
	server     *http.Server
}

// NewServer returns an API server. In production error responses carry no
// detail beyond a generic message.
func NewServer(stats StatsProvider, production bool) *Server {
	return &Server{
		stats:      stats,
		production: production,
		log:        logger.GetLogger("api-server"),
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(recordMetrics)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Energy Stats API"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/energy/{contractId}", func(r chi.Router) {
		r.Get("/", s.handleGetSystemStats)
		r.Get("/user", s.handleGetUserStats)
	})

	return r
}

func (s *Server) Run(ctx context.Context, host string, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("Starting API server", "host", host, "port", port, "address", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server listen error", "error", err)
		}
	}()

	<-ctx.Done()

	s.log.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Error("API server shutdown error", "error", err)
		return err
	}

	s.log.Info("API server stopped gracefully")
	return nil
}

// cors allows GET from any origin and answers preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

type successResponse struct {
	Status    string `json:"status"`
	FromCache bool   `json:"fromCache"`
	Data      any    `json:"data"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func getBoolQueryParam(r *http.Request, key string) (bool, error) {
	valStr := strings.TrimSpace(r.URL.Query().Get(key))
	if valStr == "" {
		return false, nil
	}
	return strconv.ParseBool(valStr)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, err error) {
	resp := errorResponse{Status: "error", Error: message}
	if err != nil && !s.production {
		resp.Detail = err.Error()
	}
	respondWithJSON(w, code, resp)
}

func respondWithSuccess(w http.ResponseWriter, fromCache bool, data any) {
	respondWithJSON(w, http.StatusOK, successResponse{Status: "success", FromCache: fromCache, Data: data})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) handleGetSystemStats(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	refresh, err := getBoolQueryParam(r, "refresh")
	if err != nil {
		s.log.Warn("Invalid refresh parameter", "error", err, "remote_addr", r.RemoteAddr)
		s.respondWithError(w, http.StatusBadRequest, "Invalid 'refresh' query parameter", nil)
		return
	}

	res, err := s.stats.SystemStats(r.Context(), contractID, refresh)
	if err != nil {
		s.handleStatsError(w, r, err, "Could not compute energy statistics")
		return
	}

	s.log.Debug("Served system energy stats",
		"contract_id", contractID,
		"refresh", refresh,
		"from_cache", res.FromCache,
		"remote_addr", r.RemoteAddr)
	respondWithSuccess(w, res.FromCache, res.Data)
}

func (s *Server) handleGetUserStats(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		s.log.Warn("Missing address parameter", "contract_id", contractID, "remote_addr", r.RemoteAddr)
		s.respondWithError(w, http.StatusBadRequest, "Missing 'address' query parameter", nil)
		return
	}

	refresh, err := getBoolQueryParam(r, "refresh")
	if err != nil {
		s.log.Warn("Invalid refresh parameter", "error", err, "remote_addr", r.RemoteAddr)
		s.respondWithError(w, http.StatusBadRequest, "Invalid 'refresh' query parameter", nil)
		return
	}

	res, err := s.stats.UserStats(r.Context(), contractID, address, refresh)
	if err != nil {
		s.handleStatsError(w, r, err, "Could not compute user energy statistics")
		return
	}

	s.log.Debug("Served user energy stats",
		"contract_id", contractID,
		"address", address,
		"refresh", refresh,
		"from_cache", res.FromCache,
		"has_data", res.Data.HasData,
		"remote_addr", r.RemoteAddr)
	respondWithSuccess(w, res.FromCache, res.Data)
}

func (s *Server) handleStatsError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, service.ErrInvalidArgument) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	s.log.Error("Failed to serve energy stats",
		"error", err,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)
	s.respondWithError(w, http.StatusInternalServerError, message, err)
}
