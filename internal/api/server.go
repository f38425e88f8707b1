// Package api serves the read-side HTTP and websocket surface.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/internal/cache"
	"github.com/bhavesh0009/NFO-dashboard/internal/database"
	"github.com/bhavesh0009/NFO-dashboard/internal/messaging"
	"github.com/bhavesh0009/NFO-dashboard/internal/poller"
	"github.com/bhavesh0009/NFO-dashboard/internal/resolver"
	"github.com/bhavesh0009/NFO-dashboard/internal/session"
	"github.com/bhavesh0009/NFO-dashboard/pkg/config"
)

// Server is the HTTP API server.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	mysqlDB    *database.MySQLClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	resolver   *resolver.Resolver
	poller     *poller.Poller
	session    *session.Controller
	stream     *StreamHub
}

// NewServer creates the API server and wires its routes.
func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	mysqlDB *database.MySQLClient,
	redisCache *cache.RedisClient,
	natsClient *messaging.NATSClient,
	res *resolver.Resolver,
	poll *poller.Poller,
	sess *session.Controller,
	stream *StreamHub,
) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mysqlDB:    mysqlDB,
		redisCache: redisCache,
		natsClient: natsClient,
		resolver:   res,
		poller:     poll,
		session:    sess,
		stream:     stream,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiV1.HandleFunc("/status", s.handleStatus).Methods("GET")

	apiV1.HandleFunc("/market-data", s.handleGetMarketData).Methods("GET")
	apiV1.HandleFunc("/instruments", s.handleGetInstruments).Methods("GET")
	apiV1.HandleFunc("/indicators/{token}", s.handleGetIndicators).Methods("GET")
	apiV1.HandleFunc("/quotes/{token}", s.handleGetQuote).Methods("GET")
	apiV1.HandleFunc("/atm", s.handleGetATMBindings).Methods("GET")
	apiV1.HandleFunc("/atm/{underlying}", s.handleGetATMBinding).Methods("GET")

	if s.stream != nil {
		apiV1.HandleFunc("/ws", s.stream.HandleWebSocket).Methods("GET")
	}
}

// Start blocks serving HTTP until Stop or a listener error.
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}

// handleHealth reports component health for readiness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := map[string]bool{
		"mysql": s.mysqlDB != nil && s.mysqlDB.Health(ctx) == nil,
		"redis": s.redisCache != nil && s.redisCache.Health(ctx) == nil,
		"nats":  s.natsClient != nil && s.natsClient.IsConnected(),
	}

	status := "healthy"
	code := http.StatusOK
	if !services["mysql"] {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus reports the session phase and latest tick stats.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"timestamp": time.Now().Unix(),
	}
	if s.session != nil {
		resp["phase"] = s.session.Phase()
	}
	if s.poller != nil {
		resp["last_tick"] = s.poller.Stats()
	}
	if s.resolver != nil {
		resp["underlyings"] = s.resolver.Underlyings()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetMarketData returns the latest projection: one row per spot
// with its last finalized bar and indicators.
func (s *Server) handleGetMarketData(w http.ResponseWriter, r *http.Request) {
	rows, err := s.mysqlDB.GetLatestMarketData(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to get latest market data")
		http.Error(w, "Failed to retrieve market data", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rows,
		"count": len(rows),
	})
}

// handleGetInstruments lists the catalog, filterable by kind and exchange.
func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.mysqlDB.GetInstruments(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to get instruments")
		http.Error(w, "Failed to retrieve instruments", http.StatusInternalServerError)
		return
	}

	kind := r.URL.Query().Get("kind")
	exchange := r.URL.Query().Get("exchange")

	filtered := instruments[:0:0]
	for _, ins := range instruments {
		if kind != "" && string(ins.Kind) != kind {
			continue
		}
		if exchange != "" && ins.Exchange != exchange {
			continue
		}
		filtered = append(filtered, ins)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instruments": filtered,
		"count":       len(filtered),
	})
}

// handleGetIndicators returns recent indicator records for a token,
// newest first. ?limit defaults to 30.
func (s *Server) handleGetIndicators(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.mysqlDB.GetIndicatorRecords(r.Context(), token, limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get indicator records")
		http.Error(w, "Failed to retrieve indicators", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		http.Error(w, "No indicators for token", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"records": records,
		"count":   len(records),
	})
}

// handleGetQuote returns the cached latest snapshot for a token.
func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	snap, err := s.redisCache.GetLatestQuote(r.Context(), token)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get cached quote")
		http.Error(w, "Failed to retrieve quote", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "Quote not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleGetATMBindings returns the current binding of every underlying.
func (s *Server) handleGetATMBindings(w http.ResponseWriter, r *http.Request) {
	bindings := make(map[string]interface{})
	for _, name := range s.resolver.Underlyings() {
		if binding, ok := s.resolver.Binding(name); ok {
			bindings[name] = binding
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bindings": bindings,
		"count":    len(bindings),
	})
}

// handleGetATMBinding returns one underlying's binding.
func (s *Server) handleGetATMBinding(w http.ResponseWriter, r *http.Request) {
	underlying := mux.Vars(r)["underlying"]

	binding, ok := s.resolver.Binding(underlying)
	if !ok {
		http.Error(w, "No binding for underlying", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack supports websocket upgrades through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}
