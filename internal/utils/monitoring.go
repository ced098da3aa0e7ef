package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"
)

// MonitoringServer exposes health, metrics and pprof on `metrics_addr`
type MonitoringServer struct {
	server    *http.Server
	listener  net.Listener
	addr      string
	startTime time.Time
	logger    *LogsManager
	metrics   http.Handler
}

type HealthStatus struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	Timestamp  string `json:"timestamp"`
	Version    string `json:"version,omitempty"`
}

// NewMonitoringServer serves metricsHandler under /metrics; nil disables it
func NewMonitoringServer(config *ConfigManager, logger *LogsManager, metricsHandler http.Handler) *MonitoringServer {
	return &MonitoringServer{
		addr:      config.GetConfigWithDefault("metrics_addr", "127.0.0.1:9464"),
		startTime: time.Now(),
		logger:    logger,
		metrics:   metricsHandler,
	}
}

func (ms *MonitoringServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", func(w http.ResponseWriter, r *http.Request) {
		http.DefaultServeMux.ServeHTTP(w, r)
	})
	mux.HandleFunc("/health", ms.handleHealth)
	if ms.metrics != nil {
		mux.Handle("/metrics", ms.metrics)
	}

	listener, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return fmt.Errorf("failed to bind monitoring address %s: %v", ms.addr, err)
	}
	ms.listener = listener
	ms.addr = listener.Addr().String()

	ms.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		if err := ms.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			ms.logger.Error(fmt.Sprintf("Monitoring server error: %v", err), "monitoring")
		}
	}()

	ms.logger.Info(fmt.Sprintf("Monitoring server listening on %s (/health, /metrics, /debug/pprof/)", ms.addr), "monitoring")
	return nil
}

func (ms *MonitoringServer) Stop() error {
	if ms.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ms.server.Shutdown(ctx); err != nil {
		ms.logger.Warn(fmt.Sprintf("Error shutting down monitoring server: %v", err), "monitoring")
		return err
	}
	return nil
}

// Addr returns the bound address, resolved once Start succeeds
func (ms *MonitoringServer) Addr() string {
	return ms.addr
}

func (ms *MonitoringServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:     "ok",
		Uptime:     time.Since(ms.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
