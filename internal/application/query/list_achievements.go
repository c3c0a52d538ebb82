package query

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERY
// Полученные достижения пользователя вместе с определениями из каталога.
// ══════════════════════════════════════════════════════════════════════════════

// ListAchievementsQuery содержит параметры запроса.
type ListAchievementsQuery struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Category - фильтр по категории (пустая = все).
	Category achievement.Category
}

// Validate проверяет корректность параметров запроса.
func (q ListAchievementsQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// AchievementDTO - полученное достижение.
type AchievementDTO struct {
	Code          string               `json:"code"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Category      achievement.Category `json:"category"`
	Rarity        achievement.Rarity   `json:"rarity"`
	XPReward      int                  `json:"xp_reward"`
	EarnedAt      time.Time            `json:"earned_at"`
	ObservedValue *float64             `json:"observed_value,omitempty"`
}

// AchievementsResult - результат запроса.
type AchievementsResult struct {
	UserID       string           `json:"user_id"`
	Achievements []AchievementDTO `json:"achievements"`

	// Earned / Total - сколько получено из всего каталога.
	Earned int `json:"earned"`
	Total  int `json:"total"`
}

// ListAchievementsHandler обрабатывает запрос.
type ListAchievementsHandler struct {
	evaluator *achievement.Evaluator
}

// NewListAchievementsHandler создаёт обработчик.
func NewListAchievementsHandler(evaluator *achievement.Evaluator) *ListAchievementsHandler {
	return &ListAchievementsHandler{evaluator: evaluator}
}

// Handle выполняет запрос. Ничего не вычисляет и не выдаёт.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) (*AchievementsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "ListAchievements", shared.ErrValidation, err.Error(), err)
	}

	held, err := h.evaluator.Held(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	result := &AchievementsResult{
		UserID:       q.UserID,
		Achievements: make([]AchievementDTO, 0, len(held)),
		Earned:       len(held),
		Total:        h.evaluator.Catalog().Len(),
	}
	for _, item := range held {
		if q.Category != "" && item.Definition.Category != q.Category {
			continue
		}
		result.Achievements = append(result.Achievements, AchievementDTO{
			Code:          item.Definition.Code,
			Name:          item.Definition.Name,
			Description:   item.Definition.Description,
			Category:      item.Definition.Category,
			Rarity:        item.Definition.Rarity,
			XPReward:      item.Definition.XPReward,
			EarnedAt:      item.Grant.EarnedAt,
			ObservedValue: item.Grant.ObservedValue,
		})
	}
	return result, nil
}
