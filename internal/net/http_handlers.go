package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"scenehub/server/internal/observability"
	"scenehub/server/internal/telemetry"
	"scenehub/server/logging"
)

// SceneStats is the registry view exposed by /diagnostics.
type SceneStats interface {
	Len() int
	Revision() uint64
	Backend() string
}

// SessionStats is the connection view exposed by /diagnostics.
type SessionStats interface {
	Count() int
	Limit() int
}

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
	// Websocket serves the /ws upgrade endpoint.
	Websocket nethttp.HandlerFunc

	Scene    SceneStats
	Sessions SessionStats
	Clients  func() int
	Metrics  *logging.Metrics
	LogStats func() logging.RouterStats

	Observability observability.Config
}

func NewHTTPHandler(cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	mux := nethttp.NewServeMux()

	if cfg.Websocket != nil {
		mux.HandleFunc("/ws", cfg.Websocket)
	}

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := diagnostics{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
		}
		if cfg.Scene != nil {
			payload.Objects = cfg.Scene.Len()
			payload.Revision = cfg.Scene.Revision()
			payload.Store = cfg.Scene.Backend()
		}
		if cfg.Sessions != nil {
			payload.Connections = cfg.Sessions.Count()
			payload.ConnectionLimit = cfg.Sessions.Limit()
		}
		if cfg.Clients != nil {
			payload.Clients = cfg.Clients()
		}
		if cfg.Metrics != nil {
			payload.Telemetry = cfg.Metrics.Snapshot()
		}
		if cfg.LogStats != nil {
			stats := cfg.LogStats()
			payload.Logging = &stats
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Printf("failed to encode diagnostics: %v", err)
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

type diagnostics struct {
	Status          string               `json:"status"`
	ServerTime      int64                `json:"serverTime"`
	Connections     int                  `json:"connections"`
	ConnectionLimit int                  `json:"connectionLimit"`
	Clients         int                  `json:"clients"`
	Objects         int                  `json:"objects"`
	Revision        uint64               `json:"revision"`
	Store           string               `json:"store,omitempty"`
	Telemetry       map[string]uint64    `json:"telemetry,omitempty"`
	Logging         *logging.RouterStats `json:"logging,omitempty"`
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
