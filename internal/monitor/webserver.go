// Package monitor serves the HTTP status interface for the acquisition
// driver: health, throughput, the latest filtered scan, and recent
// lifecycle events.
package monitor

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/orchardeye/canopyscan/internal/eventlog"
	"github.com/orchardeye/canopyscan/internal/httputil"
	"github.com/orchardeye/canopyscan/internal/tim561"
	"github.com/orchardeye/canopyscan/internal/units"
	"github.com/orchardeye/canopyscan/internal/version"
)

// WebServer handles the HTTP interface for monitoring the lidar driver.
type WebServer struct {
	address string
	driver  *tim561.Driver
	events  *eventlog.Store
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Driver  *tim561.Driver
	Events  *eventlog.Store // optional; /api/events 404s without it
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		driver:  config.Driver,
		events:  config.Events,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Start begins the HTTP server in a goroutine and shuts it down when the
// context is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealthz)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/scan", ws.handleScan)
	mux.HandleFunc("/api/events", ws.handleEvents)
	return mux
}

func (ws *WebServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleStatus reports driver health plus per-session event counts.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	health := ws.driver.Health()

	resp := map[string]any{
		"health":  health,
		"version": version.Version,
	}
	if _, age, ok := ws.driver.GetWithAge(); ok {
		resp["scan_age_ms"] = age.Milliseconds()
	}
	if ws.events != nil && health.SessionID != "" {
		counts, err := ws.events.CountBySession(health.SessionID)
		if err != nil {
			log.Printf("event counts failed: %v", err)
		} else {
			resp["session_events"] = counts
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// handleScan returns the latest filtered scan, 404 before the first
// publish. The age field lets consumers flag staleness during an outage;
// the units parameter converts distances at the edge, storage stays in mm.
func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	targetUnits := units.MM
	if v := r.URL.Query().Get("units"); v != "" {
		if !units.IsValid(v) {
			httputil.BadRequest(w, "invalid units, must be one of: "+units.GetValidUnitsString())
			return
		}
		targetUnits = v
	}

	scan, age, ok := ws.driver.GetWithAge()
	if !ok {
		httputil.NotFound(w, "no scan published yet")
		return
	}

	if targetUnits != units.MM {
		for i := range scan.Points {
			scan.Points[i].DistanceMM = units.ConvertDistance(scan.Points[i].DistanceMM, targetUnits)
		}
	}

	httputil.WriteJSONOK(w, map[string]any{
		"scan":   scan,
		"units":  targetUnits,
		"age_ms": age.Milliseconds(),
	})
}

func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if ws.events == nil {
		httputil.NotFound(w, "event log not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	events, err := ws.events.Recent(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"events": events})
}
