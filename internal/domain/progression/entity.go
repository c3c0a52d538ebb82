package progression

import (
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinRPE - минимальное значение субъективной нагрузки (Rate of Perceived Exertion).
	MinRPE = 1

	// MaxRPE - максимальное значение RPE.
	MaxRPE = 10

	// StartingLevel - уровень нового пользователя.
	StartingLevel = 1
)

// Причины начисления XP. Записываются в историю XP.
const (
	ReasonActivityCompleted = "activity_completed"
	ReasonStreakBonus       = "streak_bonus"
	ReasonAchievementPrefix = "achievement:"
)

// AchievementReason формирует причину начисления для награды за достижение.
func AchievementReason(code string) string {
	return ReasonAchievementPrefix + code
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress представляет накопленный прогресс пользователя.
// Изменяется только через Ledger.Award.
type UserProgress struct {
	// UserID - идентификатор пользователя (выдаётся внешним провайдером идентичности).
	UserID string

	// XP - накопленный опыт, всегда >= 0.
	XP int

	// Level - уровень, всегда равен Table.LevelFor(XP).
	Level int

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewUserProgress создаёт прогресс по умолчанию (xp=0, level=1).
func NewUserProgress(userID string) *UserProgress {
	return &UserProgress{
		UserID: userID,
		XP:     0,
		Level:  StartingLevel,
	}
}

// XPChange описывает одно начисление XP для журнала истории.
type XPChange struct {
	// Delta - начисленное количество XP (> 0).
	Delta int

	// OldXP - XP до начисления.
	OldXP int

	// Reason - причина начисления (activity_completed, streak_bonus, achievement:CODE).
	Reason string

	// At - время начисления.
	At time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRecord - завершённая тренировка. Неизменяема, создаётся внешним сервисом сессий.
type ActivityRecord struct {
	// ID - идентификатор записи.
	ID string

	// UserID - владелец записи.
	UserID string

	// CompletedAt - время завершения.
	CompletedAt time.Time

	// RPE - субъективная нагрузка 1..10 (nil если пользователь не указал).
	RPE *int

	// DurationSeconds - длительность в секундах (nil если неизвестна).
	DurationSeconds *int
}

// HasRPE возвращает true, если для тренировки указан RPE.
func (r ActivityRecord) HasRPE() bool {
	return r.RPE != nil
}

// ActivityMeta - метаданные только что завершённой тренировки.
type ActivityMeta struct {
	// RPE - субъективная нагрузка 1..10, опционально.
	RPE *int

	// DurationSeconds - длительность в секундах, опционально.
	DurationSeconds *int
}

// Validate проверяет метаданные. Значения вне диапазона отклоняются, а не обрезаются.
func (m ActivityMeta) Validate() error {
	if m.RPE != nil && (*m.RPE < MinRPE || *m.RPE > MaxRPE) {
		return shared.WrapError("progression", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("rpe %d outside [%d, %d]", *m.RPE, MinRPE, MaxRPE), shared.ErrInvalidRPE)
	}
	if m.DurationSeconds != nil && *m.DurationSeconds < 0 {
		return shared.WrapError("progression", "Validate", shared.ErrNegativeValue,
			fmt.Sprintf("duration %d", *m.DurationSeconds), shared.ErrNegativeDuration)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD RESULT
// ══════════════════════════════════════════════════════════════════════════════

// AwardResult - результат одного начисления XP.
type AwardResult struct {
	// UserID - получатель.
	UserID string

	// Amount - начисленное количество XP.
	Amount int

	// Reason - причина начисления.
	Reason string

	// PreviousXP - XP до начисления.
	PreviousXP int

	// XP - XP после начисления.
	XP int

	// PreviousLevel - уровень до начисления.
	PreviousLevel int

	// Level - уровень после начисления.
	Level int

	// LeveledUp - true, если уровень вырос.
	LeveledUp bool

	// NewLevel - новый уровень при повышении, 0 если повышения не было.
	NewLevel int

	// Created - true, если строка прогресса создана этим начислением.
	Created bool
}
