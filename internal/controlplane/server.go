package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/cropcare/internal/completion"
	"github.com/fentz26/cropcare/internal/models"
)

// Server provides the HTTP API for cropcare.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
	metrics http.Handler
	version string
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		addr:    addr,
		version: "dev",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Plant endpoints
	mux.HandleFunc("POST /plants", s.createPlant)
	mux.HandleFunc("GET /plants", s.listPlants)
	mux.HandleFunc("GET /plants/{id}", s.getPlant)
	mux.HandleFunc("DELETE /plants/{id}", s.deactivatePlant)
	mux.HandleFunc("POST /plants/{id}/refresh", s.refreshPlan)
	mux.HandleFunc("GET /plants/{id}/decisions", s.listDecisions)

	// Disease endpoints
	mux.HandleFunc("POST /plants/{id}/diseases", s.reportDisease)
	mux.HandleFunc("DELETE /plants/{id}/diseases/{index}", s.deleteDisease)
	mux.HandleFunc("POST /plants/{id}/diseases/{index}/feedback", s.submitFeedback)

	// Action endpoints
	mux.HandleFunc("GET /plants/{id}/days/{day}/actions/{index}/analysis", s.analyzeAction)
	mux.HandleFunc("POST /plants/{id}/days/{day}/actions/{action}/toggle", s.toggleAction)
	mux.HandleFunc("POST /plants/{id}/days/{day}/actions/{action}/token", s.issueToken)

	// Completion links are opened from email, so GET redeems too.
	mux.HandleFunc("GET "+completion.RedeemPath+"{token}", s.redeemToken)
	mux.HandleFunc("POST "+completion.RedeemPath+"{token}", s.redeemToken)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	s.logger.Info("Starting cropcare daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Plant Handlers ---

func (s *Server) createPlant(w http.ResponseWriter, r *http.Request) {
	var req PlantInput
	if !decodeBody(w, r, &req) {
		return
	}

	plant, err := s.service.CreatePlant(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plant)
}

func (s *Server) listPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.service.ListPlants(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if plants == nil {
		plants = []models.Plant{}
	}
	writeJSON(w, http.StatusOK, plants)
}

func (s *Server) getPlant(w http.ResponseWriter, r *http.Request) {
	plant, err := s.service.GetPlant(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) deactivatePlant(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeactivatePlant(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) refreshPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.RefreshPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.service.ListDecisions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Disease Handlers ---

func (s *Server) reportDisease(w http.ResponseWriter, r *http.Request) {
	var req DiseaseInput
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.service.ReportDisease(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) deleteDisease(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}
	if err := s.service.DeleteDisease(r.Context(), r.PathValue("id"), index); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type feedbackRequest struct {
	Status models.FeedbackStatus `json:"status"`
	Notes  string                `json:"notes"`
}

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.service.SubmitDiseaseFeedback(r.Context(), r.PathValue("id"), index, req.Status, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Action Handlers ---

func (s *Server) analyzeAction(w http.ResponseWriter, r *http.Request) {
	day, ok := pathInt(w, r, "day")
	if !ok {
		return
	}
	index, ok := pathInt(w, r, "index")
	if !ok {
		return
	}

	a, err := s.service.AnalyzeAction(r.Context(), r.PathValue("id"), day, index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type toggleRequest struct {
	Completed bool `json:"completed"`
}

func (s *Server) toggleAction(w http.ResponseWriter, r *http.Request) {
	day, ok := pathInt(w, r, "day")
	if !ok {
		return
	}
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plan, err := s.service.ToggleAction(r.Context(), r.PathValue("id"), day, r.PathValue("action"), req.Completed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// TokenResponse is the body returned when a completion token is issued.
type TokenResponse struct {
	Token string `json:"token"`
	Link  string `json:"link"`
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	day, ok := pathInt(w, r, "day")
	if !ok {
		return
	}

	raw, err := s.service.IssueCompletionToken(r.Context(), r.PathValue("id"), day, r.PathValue("action"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: raw, Link: s.service.CompletionLink(raw)})
}

func (s *Server) redeemToken(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.RedeemCompletionToken(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrTokenAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}
