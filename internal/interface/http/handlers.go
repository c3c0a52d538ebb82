package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/fitness-progression/internal/application/saga"
	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Fitness Progression API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":       "/health",
			"catalog":      "/api/v1/achievements",
			"stats":        "/api/v1/users/{id}/stats",
			"achievements": "/api/v1/users/{id}/achievements",
			"activities":   "/api/v1/users/{id}/activities",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// metricsHandler exposes the Prometheus registry.
func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStats handles GET /api/v1/users/{id}/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Service.GetStats(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, "GetStats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleGetUserAchievements handles GET /api/v1/users/{id}/achievements?category=streak
func (s *Server) handleGetUserAchievements(w http.ResponseWriter, r *http.Request) {
	category := achievement.Category(r.URL.Query().Get("category"))
	result, err := s.deps.Service.ListAchievementsInCategory(r.Context(), r.PathValue("id"), category)
	if err != nil {
		s.writeDomainError(w, r, "ListAchievements", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleGetCatalog handles GET /api/v1/achievements
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Service.Catalog().All())
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// CompleteActivityRequest is the body of POST /api/v1/users/{id}/activities.
// All fields are optional.
type CompleteActivityRequest struct {
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RPE             *int       `json:"rpe,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// CompleteActivityResponse is the outcome of one activity completion.
type CompleteActivityResponse struct {
	XPAwarded       int                         `json:"xp_awarded"`
	Reward          progression.RewardBreakdown `json:"reward"`
	XP              int                         `json:"xp"`
	Level           int                         `json:"level"`
	LevelName       string                      `json:"level_name"`
	LeveledUp       bool                        `json:"leveled_up"`
	Streak          int                         `json:"streak"`
	StreakBonus     *progression.StreakTier     `json:"streak_bonus,omitempty"`
	NewAchievements []achievement.Definition    `json:"new_achievements"`
	AchievementXP   int                         `json:"achievement_xp"`
	Warnings        []string                    `json:"warnings,omitempty"`
}

// handleCompleteActivity handles POST /api/v1/users/{id}/activities
func (s *Server) handleCompleteActivity(w http.ResponseWriter, r *http.Request) {
	var req CompleteActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body must be a JSON object")
		return
	}

	rec := progression.ActivityRecord{
		UserID:          r.PathValue("id"),
		RPE:             req.RPE,
		DurationSeconds: req.DurationSeconds,
	}
	if req.CompletedAt != nil {
		rec.CompletedAt = req.CompletedAt.UTC()
	}

	result, err := s.deps.Service.CompleteActivity(r.Context(), rec)
	if err != nil {
		s.writeDomainError(w, r, "CompleteActivity", err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusCreated, newCompleteActivityResponse(result), &ResponseMeta{
		Partial: result.Partial(),
	})
}

func newCompleteActivityResponse(result *saga.ProgressionResult) CompleteActivityResponse {
	resp := CompleteActivityResponse{
		XPAwarded:       result.XPAwarded,
		Reward:          result.Reward,
		XP:              result.XP,
		Level:           result.Level,
		LevelName:       result.LevelName,
		LeveledUp:       result.LeveledUp,
		Streak:          result.Streak,
		StreakBonus:     result.StreakBonus,
		NewAchievements: make([]achievement.Definition, 0, len(result.NewAchievements)),
		AchievementXP:   result.AchievementXP,
	}
	for _, o := range result.NewAchievements {
		resp.NewAchievements = append(resp.NewAchievements, o.Definition)
	}
	if result.StreakErr != nil {
		resp.Warnings = append(resp.Warnings, "streak not updated")
	}
	if result.AchievementErr != nil {
		resp.Warnings = append(resp.Warnings, "achievements not evaluated")
	}
	return resp
}
