// Package api exposes LEONA over HTTP and MCP: the chat endpoint, status and
// health probes, Prometheus metrics, and token-protected management routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/laudza/leona/internal/handler"
	"github.com/laudza/leona/internal/memory"
	"github.com/laudza/leona/internal/metrics"
	"github.com/laudza/leona/internal/orchestrator"
)

const maxChatBodySize = 1 << 20 // 1MB

// Processor runs one request through the assistant pipeline.
type Processor interface {
	Process(ctx context.Context, input string) orchestrator.Result
}

// HealthChecker reports whether the model backend is reachable.
type HealthChecker interface {
	IsRunning(ctx context.Context) bool
}

// Deps holds everything the HTTP layer serves from.
type Deps struct {
	Processor  Processor
	Store      *memory.Store
	Backend    HealthChecker
	SmartHome  *handler.SmartHome
	Automation *handler.Automation
	Token      string
	StartedAt  time.Time
	Version    string
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response   string `json:"response"`
	Handler    string `json:"handler,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewHandler builds the full LEONA router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", handleChat(deps))
		r.Get("/status", handleStatus(deps))

		// Management routes stay off entirely without a token.
		if deps.Token != "" {
			r.Group(func(r chi.Router) {
				r.Use(BearerAuth(deps.Token))
				r.Get("/tasks", handleTasks(deps))
				r.Get("/devices", handleDevices(deps))
				r.Post("/smarthome/control", handleControl(deps))
				r.Get("/workflows", handleWorkflows(deps))
			})
		}
	})

	return r
}

// instrument records request counts and latency per route.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		metrics.Requests.WithLabelValues(r.Method, endpoint).Inc()
		metrics.ResponseDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		start := time.Now()
		result := deps.Processor.Process(r.Context(), req.Message)
		elapsed := time.Since(start)

		agent := result.Handler
		if agent == "" {
			agent = "conversation"
		}
		metrics.ObserveAgent(agent, elapsed)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Response:   result.Response,
			Handler:    result.Handler,
			DurationMs: elapsed.Milliseconds(),
		})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversations, err := deps.Store.ConversationCount()
		if err != nil {
			metrics.Errors.WithLabelValues("storage").Inc()
			httpError(w, http.StatusInternalServerError, "api_error", "reading conversation count: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "running",
			"version":        deps.Version,
			"uptime_seconds": int(time.Since(deps.StartedAt).Seconds()),
			"conversations":  conversations,
			"model_backend":  deps.Backend.IsRunning(ctx),
		})
	}
}

func handleTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Store.PendingTasks()
		if err != nil {
			metrics.Errors.WithLabelValues("storage").Inc()
			httpError(w, http.StatusInternalServerError, "api_error", "listing tasks: %v", err)
			return
		}
		if tasks == nil {
			tasks = []memory.Task{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"tasks": tasks})
	}
}

func handleDevices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := deps.Store.ListDevices()
		if err != nil {
			metrics.Errors.WithLabelValues("storage").Inc()
			httpError(w, http.StatusInternalServerError, "api_error", "listing devices: %v", err)
			return
		}
		if devices == nil {
			devices = []memory.Device{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"devices": devices})
	}
}

type controlRequest struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

func handleControl(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req controlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Device == "" || req.State == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "device and state are required")
			return
		}

		device, err := deps.SmartHome.ControlDevice(r.Context(), req.Device, req.State)
		if err != nil {
			metrics.Errors.WithLabelValues("smarthome").Inc()
			httpError(w, http.StatusBadGateway, "api_error", "controlling device: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"device": device.ID, "state": device.State})
	}
}

func handleWorkflows(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"workflows": deps.Automation.Workflows()})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
