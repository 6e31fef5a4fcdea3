// Package api serves the planner over HTTP. The handlers and the
// daemon's periodic loop share one planning path, RunPlan, so a run
// behaves the same no matter what triggered it.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loadshift/loadshift/internal/engine"
	"github.com/loadshift/loadshift/internal/forecast"
	"github.com/loadshift/loadshift/internal/notify"
	"github.com/loadshift/loadshift/internal/store"
	"github.com/loadshift/loadshift/internal/telemetry"
	"github.com/rs/zerolog"
)

// ErrNoTariff means planning was requested before any tariff was
// configured or supplied.
var ErrNoTariff = errors.New("no tariff configured")

type Server struct {
	store    *store.Store
	site     forecast.Site
	system   forecast.SystemConfig
	scoring  engine.ScoringConfig
	recorder *telemetry.Recorder
	notifier notify.Publisher
	log      zerolog.Logger
}

// Options carries the collaborators and tuning the server needs.
// Recorder and Notifier may be nil; metrics and publishing are then
// skipped.
type Options struct {
	Site     forecast.Site
	System   forecast.SystemConfig
	Scoring  engine.ScoringConfig
	Recorder *telemetry.Recorder
	Notifier notify.Publisher
	Log      zerolog.Logger
}

func NewServer(st *store.Store, opts Options) *Server {
	if opts.Scoring == (engine.ScoringConfig{}) {
		opts.Scoring = engine.DefaultScoring()
	}
	if opts.System == (forecast.SystemConfig{}) {
		opts.System = forecast.DefaultSystem()
	}
	return &Server{
		store:    st,
		site:     opts.Site,
		system:   opts.System,
		scoring:  opts.Scoring,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		log:      opts.Log,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tariff", s.handleGetTariff)
		r.Put("/tariff", s.handleUpdateTariff)
		r.Get("/appliances", s.handleGetAppliances)
		r.Post("/appliances", s.handleCreateAppliance)
		r.Get("/appliances/{name}", s.handleGetAppliance)
		r.Put("/appliances/{name}", s.handleUpdateAppliance)
		r.Delete("/appliances/{name}", s.handleDeleteAppliance)
		r.Get("/forecast", s.handleGetForecast)
		r.Post("/plan", s.handlePlan)
		r.Get("/recommendations", s.handleGetRecommendations)
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	appliances, err := s.store.ListAppliances()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, tariffErr := s.store.GetTariff()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"version":           "1.0.0",
		"appliances":        len(appliances),
		"tariff_configured": tariffErr == nil,
	})
}

func (s *Server) handleGetTariff(w http.ResponseWriter, r *http.Request) {
	tariff, err := s.store.GetTariff()
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "tariff not configured")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tariff)
}

func (s *Server) handleUpdateTariff(w http.ResponseWriter, r *http.Request) {
	var tariff engine.Tariff
	if err := json.NewDecoder(r.Body).Decode(&tariff); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := tariff.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveTariff(tariff); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tariff)
}

func (s *Server) handleGetAppliances(w http.ResponseWriter, r *http.Request) {
	appliances, err := s.store.ListAppliances()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, appliances)
}

func (s *Server) handleCreateAppliance(w http.ResponseWriter, r *http.Request) {
	var appliance engine.Appliance
	if err := json.NewDecoder(r.Body).Decode(&appliance); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := appliance.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := s.store.GetAppliance(appliance.Name)
	if err == nil {
		respondError(w, http.StatusConflict, "appliance already exists")
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.SaveAppliance(appliance); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, appliance)
}

func (s *Server) handleGetAppliance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	appliance, err := s.store.GetAppliance(name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appliance not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleUpdateAppliance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var appliance engine.Appliance
	if err := json.NewDecoder(r.Body).Decode(&appliance); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The path owns the identity; the body cannot rename.
	appliance.Name = name
	if err := appliance.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveAppliance(appliance); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, appliance)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.store.DeleteAppliance(name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "appliance not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted", "name": name})
}

// ForecastResponse is the planning forecast the server would use for a
// run started now, labeled with where it came from.
type ForecastResponse struct {
	Source string                 `json:"source"`
	Points []engine.ForecastPoint `json:"points"`
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	source, points := s.forecastPoints()
	respondJSON(w, http.StatusOK, ForecastResponse{Source: source, Points: points})
}

// PlanRequest optionally overrides the persisted inputs for a single
// run. Empty fields fall back to the stored tariff, the stored
// catalog, and the cached forecast.
type PlanRequest struct {
	Tariff     *engine.Tariff         `json:"tariff,omitempty"`
	Appliances []engine.Appliance     `json:"appliances,omitempty"`
	Forecast   []engine.ForecastPoint `json:"forecast,omitempty"`
}

// PlanResult is one completed planning run.
type PlanResult struct {
	Run             store.Run               `json:"run"`
	ForecastSource  string                  `json:"forecast_source,omitempty"`
	Recommendations []engine.Recommendation `json:"recommendations"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, a := range req.Appliances {
		if err := a.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for i, p := range req.Forecast {
		if p.SolarKW < 0 || p.GridCO2 < 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("forecast point %d (%s): values must not be negative", i, p.TSLocal))
			return
		}
	}

	result, err := s.RunPlan(req)
	if err != nil {
		var ve *engine.ValidationError
		switch {
		case errors.Is(err, ErrNoTariff), errors.As(err, &ve):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	run, recs, err := s.store.LatestRun()
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no planning runs yet")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, PlanResult{Run: run, Recommendations: recs})
}

// RunPlan executes one planning pass end to end: resolve the tariff,
// catalog, and forecast, rank, persist the run, then record metrics
// and publish the recommendations. Publish failures are logged, not
// returned; the run already happened and is saved.
func (s *Server) RunPlan(req PlanRequest) (PlanResult, error) {
	started := time.Now()

	tariff, err := s.resolveTariff(req)
	if err != nil {
		return PlanResult{}, err
	}

	appliances := req.Appliances
	if appliances == nil {
		appliances, err = s.store.ListAppliances()
		if err != nil {
			return PlanResult{}, err
		}
	}

	source, points := "request", req.Forecast
	if len(points) == 0 {
		source, points = s.forecastPoints()
	}

	recs, err := engine.Rank(tariff, appliances, points, s.scoring)
	if err != nil {
		return PlanResult{}, err
	}

	run, err := s.store.SaveRun(recs)
	if err != nil {
		return PlanResult{}, err
	}

	if s.recorder != nil {
		s.recorder.RecordPlan(time.Since(started), len(recs), len(appliances)-len(recs), run.TotalSavingsUSD)
	}
	s.publish(recs)

	s.log.Info().
		Str("run_id", run.ID).
		Str("forecast_source", source).
		Int("appliances", len(appliances)).
		Int("recommendations", len(recs)).
		Float64("total_savings_usd", run.TotalSavingsUSD).
		Msg("planning run complete")

	return PlanResult{Run: run, ForecastSource: source, Recommendations: recs}, nil
}

func (s *Server) resolveTariff(req PlanRequest) (engine.Tariff, error) {
	if req.Tariff != nil {
		return *req.Tariff, nil
	}
	tariff, err := s.store.GetTariff()
	if errors.Is(err, store.ErrNotFound) {
		return engine.Tariff{}, ErrNoTariff
	}
	return tariff, err
}

// forecastPoints resolves the freshest usable forecast for today: a
// cached provider fetch when one covers the day, otherwise the built-in
// synthetic clear-sky profile.
func (s *Server) forecastPoints() (string, []engine.ForecastPoint) {
	loc, err := time.LoadLocation(s.site.Timezone)
	if err != nil {
		loc = time.UTC
	}
	day := time.Now().In(loc)

	for _, source := range []string{forecast.SourceOpenMeteo, forecast.SourceNASAPower} {
		samples, err := s.store.GetCachedForecast(source, day)
		if err != nil {
			continue
		}
		if points := forecast.Points(samples, day, loc, s.system); len(points) > 0 {
			return source, points
		}
	}
	return "synthetic", engine.SynthProfile(engine.DefaultSynth())
}

func (s *Server) publish(recs []engine.Recommendation) {
	if s.notifier == nil {
		return
	}
	for _, rec := range recs {
		if err := s.notifier.Publish(rec); err != nil {
			s.log.Error().Err(err).Str("appliance", rec.Appliance).Msg("failed to publish recommendation")
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
