// Package server exposes the calculator over a REST and WebSocket API. The
// browser frontend is a static bundle served from the same process; all
// projection math runs server side.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/advisor"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/comparison"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/funding"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/projection"
	"github.com/MarcusNeufeldt/fundingscope/internal/config"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/concurrency"
)

var (
	websocketActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fundingscope_websocket_active_connections",
		Help: "Current number of active WebSocket connections",
	}, []string{"endpoint"})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundingscope_websocket_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})

	apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundingscope_api_requests_total",
		Help: "API requests by route and status",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
	prometheus.MustRegister(apiRequestsTotal)
}

// Server serves the calculator API, the live market channel and the static
// frontend.
type Server struct {
	cfg    config.ServerConfig
	calc   config.CalcConfig
	logger core.Logger

	engine     *funding.Engine
	pipeline   *projection.Pipeline
	comparator *comparison.Comparator
	adv        *advisor.Advisor
	feed       core.PriceFeed
	pool       *concurrency.WorkerPool

	hub           *Hub
	srv           *http.Server
	upgrader      websocket.Upgrader
	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
	mu            sync.Mutex
}

// New assembles the server. Feed may be nil, in which case the market
// endpoints report the feed unavailable and the poll loop is skipped.
func New(cfg config.ServerConfig, calcCfg config.CalcConfig, feed core.PriceFeed, pool *concurrency.WorkerPool, logger core.Logger) *Server {
	engine := funding.NewEngine()
	s := &Server{
		cfg:           cfg,
		calc:          calcCfg,
		logger:        logger,
		engine:        engine,
		pipeline:      projection.New(engine),
		comparator:    comparison.New(engine),
		adv:           advisor.New(logger),
		feed:          feed,
		pool:          pool,
		hub:           NewHub(logger),
		connSemaphore: make(chan struct{}, cfg.MaxWSConnections),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/projection", s.withMiddleware("projection", s.handleProjection))
	mux.HandleFunc("POST /api/v1/comparison", s.withMiddleware("comparison", s.handleComparison))
	mux.HandleFunc("POST /api/v1/recommendations", s.withMiddleware("recommendations", s.handleRecommendations))
	mux.HandleFunc("POST /api/v1/scenarios/matrix", s.withMiddleware("scenario_matrix", s.handleScenarioMatrix))
	mux.HandleFunc("GET /api/v1/scenarios", s.withMiddleware("scenarios", s.handleScenarios))
	mux.HandleFunc("GET /api/v1/instruments", s.withMiddleware("instruments", s.handleInstruments))
	mux.HandleFunc("GET /api/v1/market/{symbol}", s.withMiddleware("market", s.handleMarket))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))

	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.Handler()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Starting API server", "addr", addr)
	}

	go s.hub.Run(ctx)
	if s.feed != nil && len(s.cfg.WatchSymbols) > 0 {
		go s.pollMarkets(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("Stopping API server")
	}

	return s.srv.Shutdown(ctx)
}

// withMiddleware applies per-IP rate limiting, request IDs and request
// metrics to an API handler.
func (s *Server) withMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.getRemoteIP(r)
		if !s.getIPLimiter(ip).Allow() {
			apiRequestsTotal.WithLabelValues(route, "429").Inc()
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		apiRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", rec.status)).Inc()
		if s.logger != nil {
			s.logger.Debug("API request",
				"route", route, "status", rec.status, "request_id", requestID, "ip", ip)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// checkOrigin validates the WebSocket connection origin against the whitelist
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		if s.logger != nil {
			s.logger.Warn("Rejected WebSocket connection with missing Origin header",
				"remote_addr", r.RemoteAddr)
		}
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	if s.logger != nil {
		s.logger.Warn("Rejected WebSocket connection from unauthorized origin",
			"origin", origin, "remote_addr", r.RemoteAddr)
	}
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// handleWebSocket handles WebSocket upgrade and client management
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.getRemoteIP(r)
	if !s.getIPLimiter(ip).Allow() {
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		websocketActiveConnections.WithLabelValues(r.URL.Path).Inc()
		defer func() {
			<-s.connSemaphore
			websocketActiveConnections.WithLabelValues(r.URL.Path).Dec()
		}()
	default:
		if s.logger != nil {
			s.logger.Warn("Max connections reached")
		}
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("WebSocket upgrade failed", "error", err)
		}
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID)
	s.hub.Register(client)

	if s.logger != nil {
		s.logger.Info("Client connected", "client_id", clientID, "remote_addr", r.RemoteAddr)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()

	if s.logger != nil {
		s.logger.Info("Client disconnected", "client_id", clientID)
	}
}

// writePump sends messages from hub to WebSocket connection
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				if s.logger != nil {
					s.logger.Warn("Write error", "client_id", client.id, "error", err)
				}
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from WebSocket connection (handles pong responses)
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.hub.Unregister(client)
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		// Clients never send payloads; the read loop only services ping/pong.
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if s.logger != nil {
					s.logger.Warn("Read error", "client_id", client.id, "error", err)
				}
			}
			break
		}
	}
}

// pollMarkets periodically snapshots the watched symbols and broadcasts them
// to connected clients.
func (s *Server) pollMarkets(ctx context.Context) {
	interval := time.Duration(s.cfg.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		for _, symbol := range s.cfg.WatchSymbols {
			snap, err := s.feed.Snapshot(ctx, symbol)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("Market poll failed", "symbol", symbol, "error", err)
				}
				continue
			}
			s.hub.Broadcast(NewMarketMessage(snap))
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// getRemoteIP extracts the client IP address
func (s *Server) getRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getIPLimiter returns or creates a rate limiter for the given IP
func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	newLimiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitPerSec), s.cfg.RateLimitBurst)
	actual, _ := s.ipLimiters.LoadOrStore(ip, newLimiter)
	return actual.(*rate.Limiter)
}
