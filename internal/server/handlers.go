package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/render"
)

// HealthResponse is the /health body
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the body of every non-2xx API answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse lists one domain's method statistics
type StatsResponse struct {
	Domain  string             `json:"domain"`
	Methods []core.MethodStats `json:"methods"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("Health check failed", "error", err.Error())
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	checks["database"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// handlePrefs handles GET /api/prefs/{domain}
func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	domain := normalizeDomain(chi.URLParam(r, "domain"))
	prefs, err := s.store.DomainPrefs(r.Context(), domain)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load preferences", err)
		return
	}
	if prefs == nil {
		s.respondError(w, http.StatusNotFound, "no preferences for "+domain, nil)
		return
	}
	s.respondJSON(w, http.StatusOK, prefs)
}

// handleStats handles GET /api/stats/{domain}
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	domain := normalizeDomain(chi.URLParam(r, "domain"))
	stats, err := s.store.MethodStats(r.Context(), domain)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load statistics", err)
		return
	}
	if stats == nil {
		stats = []core.MethodStats{}
	}
	s.respondJSON(w, http.StatusOK, StatsResponse{Domain: domain, Methods: stats})
}

// handleMethodHealth handles GET /api/health/methods?min_attempts=&limit=
func (s *Server) handleMethodHealth(w http.ResponseWriter, r *http.Request) {
	opts := quality.HealthOptions{
		MinAttempts: queryInt(r, "min_attempts"),
		MaxItems:    queryInt(r, "limit"),
	}

	stats, err := s.store.AllMethodStats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load statistics", err)
		return
	}
	drift := map[string]bool{}
	for _, row := range stats {
		if _, done := drift[row.Domain]; done {
			continue
		}
		prefs, err := s.store.DomainPrefs(r.Context(), row.Domain)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to load preferences", err)
			return
		}
		drift[row.Domain] = prefs != nil && prefs.DriftFlag
	}

	health := quality.BuildMethodHealth(stats, drift, opts)
	if health == nil {
		health = []quality.MethodHealth{}
	}
	s.respondJSON(w, http.StatusOK, health)
}

// handleLatestDigest handles GET /api/digest/latest
func (s *Server) handleLatestDigest(w http.ResponseWriter, r *http.Request) {
	path, err := render.LatestDocumentPath(s.opts.DigestDir)
	if errors.Is(err, os.ErrNotExist) {
		s.respondError(w, http.StatusNotFound, "no digest has been rendered yet", nil)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to find digest", err)
		return
	}
	doc, err := render.LoadDocument(path)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read digest", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError logs err, if any, and writes message as an ErrorResponse
func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.log.Error(message, "error", err)
	}
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
