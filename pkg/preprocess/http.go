package preprocess

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/common/models"
	obsmetrics "github.com/synaptica-ai/ehrdata/pkg/observability/metrics"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"github.com/synaptica-ai/ehrdata/pkg/storage"
)

// Handler serves the preprocessing API.
type Handler struct {
	service  *Service
	features *storage.FeatureStore
	dataPath string
	labels   []string
	window   records.AgeWindow
}

func NewHandler(service *Service, features *storage.FeatureStore, dataPath string, labels []string, window records.AgeWindow) *Handler {
	return &Handler{service: service, features: features, dataPath: dataPath, labels: labels, window: window}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.metrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/preprocess/runs", h.createRun).Methods(http.MethodPost)
	api.HandleFunc("/preprocess/runs", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/preprocess/runs/{id}", h.getRun).Methods(http.MethodGet)
	api.HandleFunc("/datasets/stats", h.stats).Methods(http.MethodGet)
	api.HandleFunc("/features/{patient_id}", h.getFeatures).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	obsmetrics.WritePrometheus(w)
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req models.PreprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	run, err := h.service.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create preprocess run")
		http.Error(w, "failed to create run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.service.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list preprocess runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// stats accepts age_start, age_stop, age_in_months and labels query overrides.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win := h.window
	if v := q.Get("age_start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid age_start", http.StatusBadRequest)
			return
		}
		win.Start = n
	}
	if v := q.Get("age_stop"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid age_stop", http.StatusBadRequest)
			return
		}
		win.Stop = n
	}
	if v := q.Get("age_in_months"); v != "" {
		months, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid age_in_months", http.StatusBadRequest)
			return
		}
		win.Unit = records.Years
		if months {
			win.Unit = records.Months
		}
	}
	if err := win.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	labels := h.labels
	if v := q["labels"]; len(v) > 0 {
		labels = v
	}

	stats, err := Stats(h.dataPath, win, labels)
	if errors.Is(err, patient.ErrNotPreprocessed) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to compute dataset stats")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getFeatures(w http.ResponseWriter, r *http.Request) {
	if h.features == nil {
		http.Error(w, "feature store not configured", http.StatusServiceUnavailable)
		return
	}
	features, err := h.features.GetPatientFeatures(r.Context(), mux.Vars(r)["patient_id"])
	if errors.Is(err, storage.ErrFeaturesNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to read patient features")
		http.Error(w, "failed to read features", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, features)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to encode response")
	}
}

// Logging logs one line per request with its id and duration.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
			r.Header.Set("X-Request-ID", reqID)
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)

		logger.Log.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": reqID,
			"duration":   time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
