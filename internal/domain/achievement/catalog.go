package achievement

import (
	"fmt"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// Коды достижений стандартного каталога.
const (
	CodeStreak3       = "STREAK_3"
	CodeStreak7       = "STREAK_7"
	CodeStreak30      = "STREAK_30"
	CodeStreak100     = "STREAK_100"
	CodeSessions10    = "SESSIONS_10"
	CodeSessions50    = "SESSIONS_50"
	CodeSessions100   = "SESSIONS_100"
	CodeSessions500   = "SESSIONS_500"
	CodeWeeklyWarrior = "WEEKLY_WARRIOR"
	CodeHighIntensity = "HIGH_INTENSITY"
	CodeLevel10       = "LEVEL_10"
	CodeLevel25       = "LEVEL_25"
	CodeLevel50       = "LEVEL_50"
	CodeTop5Percent   = "TOP_5_PERCENT"
	CodeTop1Percent   = "TOP_1_PERCENT"
)

// Catalog - неизменяемый упорядоченный список определений.
// Порядок стабилен: от него зависит порядок результатов Evaluate.
type Catalog struct {
	defs   []Definition
	byCode map[string]int
}

// NewCatalog создаёт каталог и проверяет его: коды уникальны и не пусты,
// редкость известна, награда неотрицательна, правило задано и корректно.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]Definition, len(defs)),
		byCode: make(map[string]int, len(defs)),
	}
	copy(c.defs, defs)

	for i, d := range c.defs {
		if err := validateDefinition(d); err != nil {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidInput,
				fmt.Sprintf("definition %d (%q): %v", i, d.Code, err), shared.ErrInvalidCatalog)
		}
		if _, dup := c.byCode[d.Code]; dup {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidInput,
				fmt.Sprintf("duplicate code %q", d.Code), shared.ErrInvalidCatalog)
		}
		c.byCode[d.Code] = i
	}
	return c, nil
}

func validateDefinition(d Definition) error {
	if d.Code == "" {
		return fmt.Errorf("code is empty")
	}
	if !d.Rarity.IsValid() {
		return fmt.Errorf("unknown rarity %q", d.Rarity)
	}
	if d.XPReward < 0 {
		return fmt.Errorf("negative xp reward")
	}
	if d.Rule == nil {
		return fmt.Errorf("rule is missing")
	}
	return d.Rule.validate()
}

// MustCatalog как NewCatalog, но паникует при ошибке.
func MustCatalog(defs []Definition) *Catalog {
	c, err := NewCatalog(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// All возвращает копию определений в порядке каталога.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len возвращает размер каталога.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Lookup находит определение по коду.
func (c *Catalog) Lookup(code string) (Definition, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Get как Lookup, но возвращает ErrAchievementNotFound.
func (c *Catalog) Get(code string) (Definition, error) {
	d, ok := c.Lookup(code)
	if !ok {
		return Definition{}, shared.WrapError("achievement", "Get", shared.ErrNotFound,
			fmt.Sprintf("code %q", code), shared.ErrAchievementNotFound)
	}
	return d, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// DefaultDefinitions возвращает стандартные определения.
func DefaultDefinitions() []Definition {
	return []Definition{
		// ── Серии ─────────────────────────────────────────────────────────────
		{Code: CodeStreak3, Name: "Warming Up", Description: "Train 3 days in a row",
			Category: CategoryStreak, Rarity: RarityCommon, XPReward: 25, Rule: StreakRule{MinDays: 3}},
		{Code: CodeStreak7, Name: "Full Week", Description: "Train 7 days in a row",
			Category: CategoryStreak, Rarity: RarityRare, XPReward: 50, Rule: StreakRule{MinDays: 7}},
		{Code: CodeStreak30, Name: "Iron Habit", Description: "Train 30 days in a row",
			Category: CategoryStreak, Rarity: RarityEpic, XPReward: 200, Rule: StreakRule{MinDays: 30}},
		{Code: CodeStreak100, Name: "Unbreakable", Description: "Train 100 days in a row",
			Category: CategoryStreak, Rarity: RarityLegendary, XPReward: 500, Rule: StreakRule{MinDays: 100}},

		// ── Объём ─────────────────────────────────────────────────────────────
		{Code: CodeSessions10, Name: "Getting Started", Description: "Complete 10 sessions",
			Category: CategoryVolume, Rarity: RarityCommon, XPReward: 25, Rule: CountRule{MinSessions: 10}},
		{Code: CodeSessions50, Name: "Committed", Description: "Complete 50 sessions",
			Category: CategoryVolume, Rarity: RarityRare, XPReward: 75, Rule: CountRule{MinSessions: 50}},
		{Code: CodeSessions100, Name: "Century", Description: "Complete 100 sessions",
			Category: CategoryVolume, Rarity: RarityEpic, XPReward: 150, Rule: CountRule{MinSessions: 100}},
		{Code: CodeSessions500, Name: "Lifer", Description: "Complete 500 sessions",
			Category: CategoryVolume, Rarity: RarityLegendary, XPReward: 500, Rule: CountRule{MinSessions: 500}},

		// ── Регулярность и нагрузка ───────────────────────────────────────────
		{Code: CodeWeeklyWarrior, Name: "Weekly Warrior", Description: "Complete 4 sessions within 7 days",
			Category: CategoryConsistency, Rarity: RarityRare, XPReward: 40,
			Rule: RollingCountRule{WindowDays: 7, MinCompletions: 4}},
		{Code: CodeHighIntensity, Name: "High Intensity", Description: "Average RPE of 8 or more over 7 days",
			Category: CategoryIntensity, Rarity: RarityRare, XPReward: 40,
			Rule: AverageRPERule{WindowDays: 7, MinAverage: 8}},

		// ── Уровни ────────────────────────────────────────────────────────────
		{Code: CodeLevel10, Name: "Double Digits", Description: "Reach level 10",
			Category: CategoryLevel, Rarity: RarityRare, XPReward: 50, Rule: LevelRule{MinLevel: 10}},
		{Code: CodeLevel25, Name: "Seasoned", Description: "Reach level 25",
			Category: CategoryLevel, Rarity: RarityEpic, XPReward: 150, Rule: LevelRule{MinLevel: 25}},
		{Code: CodeLevel50, Name: "Summit", Description: "Reach level 50",
			Category: CategoryLevel, Rarity: RarityLegendary, XPReward: 500, Rule: LevelRule{MinLevel: 50}},

		// ── Рейтинг (нужен внешний Ranker) ────────────────────────────────────
		{Code: CodeTop5Percent, Name: "Top 5%", Description: "Rank in the top 5% of athletes",
			Category: CategoryRanking, Rarity: RarityEpic, XPReward: 200, Rule: PercentileRule{TopPercent: 5}},
		{Code: CodeTop1Percent, Name: "Top 1%", Description: "Rank in the top 1% of athletes",
			Category: CategoryRanking, Rarity: RarityLegendary, XPReward: 500, Rule: PercentileRule{TopPercent: 1}},
	}
}

// DefaultCatalog возвращает стандартный каталог.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultDefinitions())
}
