// Package api exposes the advisor engine over a local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agsys/soil-advisor/internal/crops"
	"github.com/agsys/soil-advisor/internal/engine"
	"github.com/agsys/soil-advisor/internal/reconcile"
	"github.com/agsys/soil-advisor/internal/soil"
)

// Engine is the part of the advisor engine the API serves
type Engine interface {
	Record(ctx context.Context, raw map[string]string) (*engine.Assessment, error)
	UpdateFields(ctx context.Context, id string, raw map[string]string) (*engine.Assessment, error)
	History() []soil.Measurement
	Current() (soil.Measurement, bool)
	Assess(id string) (*engine.Assessment, error)
	Sync(ctx context.Context) reconcile.Result
}

// Options configures the router
type Options struct {
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
}

type handler struct {
	engine Engine
}

// NewRouter builds the HTTP routes for e
func NewRouter(e Engine, opts Options) http.Handler {
	h := &handler{engine: e}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/crops", h.listCrops)
		r.Get("/measurements", h.listMeasurements)
		r.Post("/measurements", h.recordMeasurement)
		r.Put("/measurements/{id}", h.updateMeasurement)
		r.Get("/measurements/{id}/crops", h.rankCrops)
		r.Post("/sync", h.sync)
	})

	return r
}

// NewServer wraps the router in an http.Server listening on port
func NewServer(port int, e Engine, opts Options) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(e, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *handler) listCrops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, crops.Catalog())
}

type historyResponse struct {
	Current      string             `json:"current,omitempty"`
	Measurements []soil.Measurement `json:"measurements"`
}

func (h *handler) listMeasurements(w http.ResponseWriter, r *http.Request) {
	resp := historyResponse{Measurements: h.engine.History()}
	if cur, ok := h.engine.Current(); ok {
		resp.Current = cur.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) recordMeasurement(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeForm(r)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.engine.Record(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handler) updateMeasurement(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeForm(r)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := h.engine.UpdateFields(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) rankCrops(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Assess(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	list := a.Suggestions
	if water := r.URL.Query().Get("water"); water != "" {
		tier := crops.Tier(water)
		if tier != crops.TierLow && tier != crops.TierMedium && tier != crops.TierHigh {
			writeError(w, &soil.ValidationError{Field: "water", Reason: "must be low, medium or high"})
			return
		}
		list = crops.FilterByWater(list, tier)
	}
	if season := r.URL.Query().Get("season"); season != "" {
		list = crops.FilterBySeason(list, season)
	}
	writeJSON(w, http.StatusOK, list)
}

// sync answers 200 with the pass result, or 503 when no pass could run
func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	res := h.engine.Sync(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// decodeForm reads a flat JSON object of field values. Numbers are accepted
// as well as strings; null values are treated as absent.
func decodeForm(r *http.Request) (map[string]string, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errBadBody
	}
	raw := make(map[string]string, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case nil:
		case string:
			raw[k] = val
		case float64:
			raw[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return nil, &soil.ValidationError{Field: k, Reason: "must be a string or number"}
		}
	}
	return raw, nil
}

var errBadBody = eris.New("api: invalid request body")

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var verr *soil.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, errBadBody):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "measurement not found"})
	default:
		zap.L().Error("api request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to write response", zap.Error(err))
	}
}
