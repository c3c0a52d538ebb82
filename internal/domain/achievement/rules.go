package achievement

import (
	"encoding/json"
	"fmt"
)

// RuleKind - вид условия достижения.
type RuleKind string

const (
	KindStreak            RuleKind = "streak_threshold"
	KindCount             RuleKind = "count_threshold"
	KindRollingCount      RuleKind = "rolling_count"
	KindRollingAverageRPE RuleKind = "rolling_average_rpe"
	KindLevel             RuleKind = "level_threshold"
	KindPercentile        RuleKind = "percentile"
)

// Rule - условие достижения. Закрытый набор видов, каждый несёт только свои данные.
// Вычисление выполняет Evaluator по виду правила.
type Rule interface {
	Kind() RuleKind
	validate() error
}

// StreakRule - серия не короче MinDays дней.
type StreakRule struct {
	MinDays int `json:"min_days"`
}

// CountRule - всего завершённых тренировок не меньше MinSessions.
type CountRule struct {
	MinSessions int `json:"min_sessions"`
}

// RollingCountRule - не меньше MinCompletions тренировок за последние WindowDays дней.
type RollingCountRule struct {
	WindowDays     int `json:"window_days"`
	MinCompletions int `json:"min_completions"`
}

// AverageRPERule - средний RPE за последние WindowDays дней не ниже MinAverage.
// Учитываются только тренировки с указанным RPE.
type AverageRPERule struct {
	WindowDays int     `json:"window_days"`
	MinAverage float64 `json:"min_average"`
}

// LevelRule - уровень не ниже MinLevel.
type LevelRule struct {
	MinLevel int `json:"min_level"`
}

// PercentileRule - пользователь в верхних TopPercent процентах.
// Требует внешний Ranker; без него условие не выполняется.
type PercentileRule struct {
	TopPercent float64 `json:"top_percent"`
}

func (StreakRule) Kind() RuleKind       { return KindStreak }
func (CountRule) Kind() RuleKind        { return KindCount }
func (RollingCountRule) Kind() RuleKind { return KindRollingCount }
func (AverageRPERule) Kind() RuleKind   { return KindRollingAverageRPE }
func (LevelRule) Kind() RuleKind        { return KindLevel }
func (PercentileRule) Kind() RuleKind   { return KindPercentile }

func (r StreakRule) validate() error {
	if r.MinDays < 1 {
		return fmt.Errorf("min_days must be >= 1")
	}
	return nil
}

func (r CountRule) validate() error {
	if r.MinSessions < 1 {
		return fmt.Errorf("min_sessions must be >= 1")
	}
	return nil
}

func (r RollingCountRule) validate() error {
	if r.WindowDays < 1 || r.MinCompletions < 1 {
		return fmt.Errorf("window_days and min_completions must be >= 1")
	}
	return nil
}

func (r AverageRPERule) validate() error {
	if r.WindowDays < 1 {
		return fmt.Errorf("window_days must be >= 1")
	}
	if r.MinAverage < 1 || r.MinAverage > 10 {
		return fmt.Errorf("min_average must be within [1, 10]")
	}
	return nil
}

func (r LevelRule) validate() error {
	if r.MinLevel < 1 {
		return fmt.Errorf("min_level must be >= 1")
	}
	return nil
}

func (r PercentileRule) validate() error {
	if r.TopPercent <= 0 || r.TopPercent > 100 {
		return fmt.Errorf("top_percent must be within (0, 100]")
	}
	return nil
}

func decodeRule(kind RuleKind, params json.RawMessage) (Rule, error) {
	var rule Rule
	var err error
	switch kind {
	case KindStreak:
		var r StreakRule
		err = json.Unmarshal(params, &r)
		rule = r
	case KindCount:
		var r CountRule
		err = json.Unmarshal(params, &r)
		rule = r
	case KindRollingCount:
		var r RollingCountRule
		err = json.Unmarshal(params, &r)
		rule = r
	case KindRollingAverageRPE:
		var r AverageRPERule
		err = json.Unmarshal(params, &r)
		rule = r
	case KindLevel:
		var r LevelRule
		err = json.Unmarshal(params, &r)
		rule = r
	case KindPercentile:
		var r PercentileRule
		err = json.Unmarshal(params, &r)
		rule = r
	default:
		return nil, fmt.Errorf("unknown rule kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s rule: %w", kind, err)
	}
	return rule, nil
}

// Verdict - результат проверки условия.
type Verdict struct {
	// Earned - условие выполнено.
	Earned bool

	// Observed - наблюдаемое значение метрики (nil если неизвестно).
	Observed *float64
}

func earnedIf(ok bool, observed float64) Verdict {
	return Verdict{Earned: ok, Observed: &observed}
}
