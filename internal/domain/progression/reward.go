package progression

import (
	"fmt"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD POLICY
// ══════════════════════════════════════════════════════════════════════════════

// StreakTier - порог серии, при пересечении которого начисляется бонус.
type StreakTier struct {
	// Name - название порога (day, week, month).
	Name string `json:"name"`

	// Days - длина серии в днях.
	Days int `json:"days"`

	// Bonus - бонус XP за пересечение.
	Bonus int `json:"bonus"`
}

// RewardPolicy - данные о размере наград. Не хранит состояния.
// Ledger применяет только итоговую сумму, политика решает, какой она будет.
type RewardPolicy struct {
	// BaseReward - XP за любую завершённую тренировку.
	BaseReward int `json:"base_reward"`

	// FirstActivityBonus - бонус за самую первую тренировку.
	FirstActivityBonus int `json:"first_activity_bonus"`

	// EffortBonus - бонус за высокую нагрузку.
	EffortBonus int `json:"effort_bonus"`

	// EffortRPEThreshold - минимальный RPE для бонуса за нагрузку.
	EffortRPEThreshold int `json:"effort_rpe_threshold"`

	// StreakTiers - пороги серии по возрастанию.
	StreakTiers []StreakTier `json:"streak_tiers"`
}

// RewardBreakdown - разбивка награды за тренировку.
type RewardBreakdown struct {
	Base          int `json:"base"`
	FirstActivity int `json:"first_activity"`
	Effort        int `json:"effort"`
}

// Total возвращает итоговую сумму.
func (b RewardBreakdown) Total() int {
	return b.Base + b.FirstActivity + b.Effort
}

// DefaultRewardPolicy возвращает политику по умолчанию.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		BaseReward:         10,
		FirstActivityBonus: 50,
		EffortBonus:        10,
		EffortRPEThreshold: 8,
		StreakTiers: []StreakTier{
			{Name: "day", Days: 3, Bonus: 15},
			{Name: "week", Days: 7, Bonus: 50},
			{Name: "month", Days: 30, Bonus: 200},
		},
	}
}

// Validate проверяет политику: базовая награда положительна, бонусы неотрицательны,
// пороги серии строго возрастают.
func (p RewardPolicy) Validate() error {
	if p.BaseReward <= 0 {
		return shared.NewDomainError("progression", "RewardPolicy", shared.ErrInvalidInput, "base reward must be positive")
	}
	if p.FirstActivityBonus < 0 || p.EffortBonus < 0 {
		return shared.NewDomainError("progression", "RewardPolicy", shared.ErrNegativeValue, "bonuses cannot be negative")
	}
	if p.EffortRPEThreshold < MinRPE || p.EffortRPEThreshold > MaxRPE {
		return shared.NewDomainError("progression", "RewardPolicy", shared.ErrValueOutOfRange,
			fmt.Sprintf("effort rpe threshold %d outside [%d, %d]", p.EffortRPEThreshold, MinRPE, MaxRPE))
	}
	prev := 0
	for _, tier := range p.StreakTiers {
		if tier.Days <= prev {
			return shared.NewDomainError("progression", "RewardPolicy", shared.ErrInvalidInput,
				fmt.Sprintf("streak tier %q must be longer than %d days", tier.Name, prev))
		}
		if tier.Bonus <= 0 {
			return shared.NewDomainError("progression", "RewardPolicy", shared.ErrInvalidInput,
				fmt.Sprintf("streak tier %q bonus must be positive", tier.Name))
		}
		prev = tier.Days
	}
	return nil
}

// ActivityReward считает награду за завершённую тренировку.
// isFirst - это первая тренировка пользователя.
func (p RewardPolicy) ActivityReward(meta ActivityMeta, isFirst bool) RewardBreakdown {
	b := RewardBreakdown{Base: p.BaseReward}
	if isFirst {
		b.FirstActivity = p.FirstActivityBonus
	}
	if meta.RPE != nil && *meta.RPE >= p.EffortRPEThreshold {
		b.Effort = p.EffortBonus
	}
	return b
}

// StreakBonus возвращает старший порог, пересечённый при переходе previous → current.
// Если порог не пересечён, возвращает false.
func (p RewardPolicy) StreakBonus(previous, current int) (StreakTier, bool) {
	var (
		crossed StreakTier
		found   bool
	)
	for _, tier := range p.StreakTiers {
		if previous < tier.Days && current >= tier.Days {
			crossed = tier
			found = true
		}
	}
	return crossed, found
}
