package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"npud/internal/hal"
	"npud/internal/manager"
	"npud/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	SubmitTask(req types.InferenceRequest, prio types.Priority, res types.ResourceSpec, hints types.SchedulingHints) (types.TaskID, error)
	TaskStatus(id types.TaskID) (types.TaskStatus, bool)
	CancelTask(id types.TaskID) error
	Devices() []types.DeviceSnapshot
	UsageStats() types.SystemStats
	Models() []types.Model
	Ready() bool
}

// NewMux builds the router exposing the task, device, and stats surface.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/tasks", submitTask(svc))
	r.Get("/tasks/{id}", taskStatus(svc))
	r.Delete("/tasks/{id}", cancelTask(svc))
	r.Get("/devices", listDevices(svc))
	r.Get("/stats", usageStats(svc))
	r.Get("/models", listModels(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

// submitTask handles POST /tasks.
//
// @Summary  Submit an inference task
// @Accept   json
// @Produce  json
// @Param    request body types.SubmitTaskRequest true "task"
// @Success  202 {object} types.SubmitTaskResponse
// @Failure  400 {object} types.ErrorResponse
// @Router   /tasks [post]
func submitTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.SubmitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		prio, ok := types.ParsePriority(req.Priority)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown priority: "+req.Priority)
			return
		}
		id, err := svc.SubmitTask(req.Request, prio, req.Resources, req.Hints)
		if err != nil {
			if manager.IsInvalidTask(err) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			if hal.IsInternalInconsistency(err) {
				writeJSONError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(types.SubmitTaskResponse{TaskID: id})
	}
}

// taskStatus handles GET /tasks/{id}.
//
// @Summary  Get task status
// @Produce  json
// @Param    id path string true "task id"
// @Success  200 {object} types.TaskStatusResponse
// @Failure  404 {object} types.ErrorResponse
// @Router   /tasks/{id} [get]
func taskStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := types.TaskID(chi.URLParam(r, "id"))
		status, ok := svc.TaskStatus(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown task: "+string(id))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.TaskStatusResponse{TaskID: id, Status: status})
	}
}

// cancelTask handles DELETE /tasks/{id}.
//
// @Summary  Cancel a task
// @Produce  json
// @Param    id path string true "task id"
// @Success  204 "cancelled"
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /tasks/{id} [delete]
func cancelTask(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := types.TaskID(chi.URLParam(r, "id"))
		if err := svc.CancelTask(id); err != nil {
			switch {
			case manager.IsUnknownTask(err):
				writeJSONError(w, http.StatusNotFound, err.Error())
			case manager.IsAlreadyTerminal(err):
				writeJSONError(w, http.StatusConflict, err.Error())
			default:
				writeJSONError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// listDevices handles GET /devices.
//
// @Summary  List registered devices
// @Produce  json
// @Success  200 {array} types.DeviceSnapshot
// @Router   /devices [get]
func listDevices(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"devices": svc.Devices()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// usageStats handles GET /stats.
//
// @Summary  Aggregate usage statistics
// @Produce  json
// @Success  200 {object} types.SystemStats
// @Router   /stats [get]
func usageStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.UsageStats()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// listModels handles GET /models.
//
// @Summary  List the model catalog
// @Produce  json
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func listModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.Models()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// requestLogger emits one structured line per request when a logger is set.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if zlog == nil {
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		z := zlog.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", sr.status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("http request")
	})
}
