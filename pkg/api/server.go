// Status dashboard API server. Serves read-only REST endpoints over the
// router's state plus a WebSocket stream of live events.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/cron"
	"github.com/mochibot/mochi/pkg/events"
	"github.com/mochibot/mochi/pkg/history"
	"github.com/mochibot/mochi/pkg/logger"
	"github.com/mochibot/mochi/pkg/router"
)

// Server is the HTTP API server for the status dashboard.
type Server struct {
	config      *config.Config
	router      *router.Router
	cronService *cron.Service
	store       *history.Store
	messageBus  *bus.MessageBus
	wsHub       *WSHub
	eventBridge *EventBridge
	startTime   time.Time
	server      *http.Server
	mu          sync.RWMutex
}

// NewServer creates the API server. The history store and cron service are
// optional.
func NewServer(
	cfg *config.Config,
	rt *router.Router,
	cronSvc *cron.Service,
	store *history.Store,
	msgBus *bus.MessageBus,
) *Server {
	// Secure by default: generate a session key when none is configured,
	// printed once at startup. Set gateway.api_key for a persistent key.
	if cfg.Gateway.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Gateway.APIKey = hex.EncodeToString(raw)
			fmt.Printf("\nAPI key for this session: %s\n", cfg.Gateway.APIKey)
			fmt.Println("Set gateway.api_key in config.yaml to make it permanent.")
			fmt.Println()
		}
	}
	s := &Server{
		config:      cfg,
		router:      rt,
		cronService: cronSvc,
		store:       store,
		messageBus:  msgBus,
		startTime:   time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(msgBus, s.wsHub)
	return s
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/system/info", s.handleSystemInfo)

	mux.HandleFunc("/api/bots", s.handleBots)

	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionDetail)

	mux.HandleFunc("/api/cron/jobs", s.handleCronJobs)
	mux.HandleFunc("/api/cron/status", s.handleCronStatus)

	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(authMiddleware(s.config.Gateway.APIKey, mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Dashboard API server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)
	go s.eventBridge.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. Connected dashboard clients get a
// shutdown notice first so they can distinguish it from a dropped socket.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.eventBridge.BroadcastSystemEvent(events.SystemStopping, map[string]interface{}{
		"reason": "shutdown",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)

	cronStatus := map[string]interface{}{}
	if s.cronService != nil {
		cronStatus = s.cronService.Status()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  int(uptime.Seconds()),
		"uptime_human":    formatDuration(uptime),
		"running":         s.router.Running(),
		"active_sessions": s.router.ActiveSessions(),
		"bots":            s.router.Snapshot(),
		"cron":            cronStatus,
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":     hostname,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"cpus":         runtime.NumCPU(),
		"goroutines":   runtime.NumGoroutine(),
		"memory_mb":    float64(m.Alloc) / 1024 / 1024,
		"workspace":    s.config.WorkspacePath(),
		"gateway_host": s.config.Gateway.Host,
		"gateway_port": s.config.Gateway.Port,
	})
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"live": s.router.Sessions(),
	}
	if s.store != nil {
		sums, err := s.store.Sessions()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out["history"] = sums
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session key required"})
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.Purge(key); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	entries, err := s.store.Session(key, 500)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_key": key,
		"messages":    entries,
	})
}

func (s *Server) handleCronJobs(w http.ResponseWriter, r *http.Request) {
	if s.cronService == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.cronService.Jobs())
}

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	if s.cronService == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.cronService.Status())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
