// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Текущий XP, уровень и прогресс до следующего уровня.
// Запрос только читает: достижения не выдаются, прогресс не создаётся.
// ══════════════════════════════════════════════════════════════════════════════

// GetStatsQuery содержит параметры запроса статистики.
type GetStatsQuery struct {
	// UserID - идентификатор пользователя.
	UserID string

	// SkipCache - читать напрямую из хранилища.
	SkipCache bool
}

// Validate проверяет корректность параметров запроса.
func (q GetStatsQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// Stats - DTO со статистикой пользователя.
type Stats struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Идентификация
	// ─────────────────────────────────────────────────────────────────────────

	// UserID - идентификатор пользователя.
	UserID string `json:"user_id"`

	// ─────────────────────────────────────────────────────────────────────────
	// XP и уровень
	// ─────────────────────────────────────────────────────────────────────────

	// XP - накопленный опыт.
	XP int `json:"xp"`

	// Level - текущий уровень.
	Level int `json:"level"`

	// LevelName - отображаемое имя уровня.
	LevelName string `json:"level_name"`

	// MaxLevel - максимальный уровень таблицы.
	MaxLevel int `json:"max_level"`

	// ─────────────────────────────────────────────────────────────────────────
	// Прогресс до следующего уровня
	// ─────────────────────────────────────────────────────────────────────────

	// XPToNextLevel - сколько XP осталось (0 на максимальном уровне).
	XPToNextLevel int `json:"xp_to_next_level"`

	// Progress - доля пройденного уровня в [0, 1].
	Progress float64 `json:"progress"`

	// IntoLevel - XP сверх порога текущего уровня.
	IntoLevel int `json:"into_level"`

	// LevelSpan - ширина текущего уровня в XP.
	LevelSpan int `json:"level_span"`
}

// IsMaxLevel возвращает true, если достигнут потолок таблицы.
func (s Stats) IsMaxLevel() bool {
	return s.Level >= s.MaxLevel
}

// StatsCache - кеш статистики (read-through).
// Реализуется redis.ReadThrough[Stats].
type StatsCache interface {
	GetOrLoad(ctx context.Context, key string, load func(context.Context) (Stats, error)) (Stats, error)
	Invalidate(ctx context.Context, key string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetStatsHandler обрабатывает запрос статистики.
type GetStatsHandler struct {
	ledger *progression.Ledger
	cache  StatsCache
}

// NewGetStatsHandler создаёт обработчик. cache может быть nil.
func NewGetStatsHandler(ledger *progression.Ledger, cache StatsCache) *GetStatsHandler {
	return &GetStatsHandler{
		ledger: ledger,
		cache:  cache,
	}
}

// Handle выполняет запрос статистики.
// Если строки прогресса нет, но пользователь существует у провайдера
// идентичности, возвращается статистика по умолчанию (уровень 1) без записи.
func (h *GetStatsHandler) Handle(ctx context.Context, q GetStatsQuery) (*Stats, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetStats", shared.ErrValidation, err.Error(), err)
	}

	if h.cache == nil || q.SkipCache {
		return h.load(ctx, q.UserID)
	}

	stats, err := h.cache.GetOrLoad(ctx, q.UserID, func(ctx context.Context) (Stats, error) {
		s, err := h.load(ctx, q.UserID)
		if err != nil {
			return Stats{}, err
		}
		return *s, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Invalidate сбрасывает кеш статистики пользователя.
func (h *GetStatsHandler) Invalidate(ctx context.Context, userID string) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Invalidate(ctx, userID)
}

// load читает прогресс через Ledger и строит DTO.
func (h *GetStatsHandler) load(ctx context.Context, userID string) (*Stats, error) {
	p, err := h.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildStats(h.ledger.Table(), p), nil
}

// BuildStats строит DTO по прогрессу и таблице уровней.
func BuildStats(table *progression.Table, p *progression.UserProgress) *Stats {
	progress := table.ProgressToNext(p.XP, p.Level)
	return &Stats{
		UserID:        p.UserID,
		XP:            p.XP,
		Level:         p.Level,
		LevelName:     table.NameFor(p.Level),
		MaxLevel:      table.MaxLevel(),
		XPToNextLevel: table.XPToNextLevel(p.XP),
		Progress:      progress.Fraction,
		IntoLevel:     progress.Into,
		LevelSpan:     progress.Span,
	}
}
