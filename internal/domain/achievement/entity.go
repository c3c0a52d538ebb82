// Package achievement содержит каталог достижений и их вычисление.
//
// Достижения - это фиксированный, скомпилированный в код каталог. Условие каждого
// достижения задаётся данными (Rule), а не замыканием, поэтому каталог сериализуем
// и тестируется отдельно от хранилища. Выдача (Grant) создаётся не более одного раза
// на пару (пользователь, код) и никогда не отзывается.
package achievement

import (
	"encoding/json"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Category группирует достижения по смыслу.
type Category string

const (
	CategoryStreak      Category = "streak"
	CategoryVolume      Category = "volume"
	CategoryConsistency Category = "consistency"
	CategoryIntensity   Category = "intensity"
	CategoryLevel       Category = "level"
	CategoryRanking     Category = "ranking"
)

// Rarity - уровень редкости. Используется только для отображения.
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// IsValid проверяет значение редкости.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Definition - определение достижения в каталоге.
type Definition struct {
	// Code - стабильный уникальный идентификатор, используется как внешний ключ выдач.
	Code string

	// Name - название для интерфейса.
	Name string

	// Description - описание условия.
	Description string

	// Category - группа.
	Category Category

	// Rarity - редкость.
	Rarity Rarity

	// XPReward - награда XP за получение (>= 0).
	XPReward int

	// Rule - условие получения.
	Rule Rule
}

type definitionJSON struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    Category        `json:"category"`
	Rarity      Rarity          `json:"rarity"`
	XPReward    int             `json:"xp_reward"`
	Rule        json.RawMessage `json:"rule"`
}

type ruleEnvelope struct {
	Kind   RuleKind        `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON кодирует правило как {"kind": ..., "params": {...}}.
func (d Definition) MarshalJSON() ([]byte, error) {
	var rule json.RawMessage
	if d.Rule != nil {
		params, err := json.Marshal(d.Rule)
		if err != nil {
			return nil, err
		}
		rule, err = json.Marshal(ruleEnvelope{Kind: d.Rule.Kind(), Params: params})
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(definitionJSON{
		Code:        d.Code,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Rarity:      d.Rarity,
		XPReward:    d.XPReward,
		Rule:        rule,
	})
}

// UnmarshalJSON восстанавливает правило по полю kind.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Definition{
		Code:        raw.Code,
		Name:        raw.Name,
		Description: raw.Description,
		Category:    raw.Category,
		Rarity:      raw.Rarity,
		XPReward:    raw.XPReward,
	}
	if len(raw.Rule) == 0 || string(raw.Rule) == "null" {
		return nil
	}

	var env ruleEnvelope
	if err := json.Unmarshal(raw.Rule, &env); err != nil {
		return err
	}
	rule, err := decodeRule(env.Kind, env.Params)
	if err != nil {
		return fmt.Errorf("achievement %s: %w", raw.Code, err)
	}
	d.Rule = rule
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRANT
// ══════════════════════════════════════════════════════════════════════════════

// Grant - факт получения достижения пользователем. Неизменяем.
type Grant struct {
	// ID - идентификатор записи (назначается хранилищем).
	ID string `json:"id,omitempty"`

	// UserID - владелец.
	UserID string `json:"user_id"`

	// Code - код достижения.
	Code string `json:"code"`

	// EarnedAt - время получения.
	EarnedAt time.Time `json:"earned_at"`

	// ObservedValue - значение метрики в момент получения (серия, количество, средний RPE).
	ObservedValue *float64 `json:"observed_value,omitempty"`
}

// Outcome - результат вычисления одного заработанного достижения.
type Outcome struct {
	// Definition - определение из каталога.
	Definition Definition

	// NewlyGranted - true, если выдача создана этим вычислением.
	NewlyGranted bool

	// Grant - выдача. Для ранее полученных это сохранённая запись;
	// nil, если хранилище её не вернуло.
	Grant *Grant
}

// Held - полученное достижение вместе с определением.
type Held struct {
	Definition Definition
	Grant      Grant
}
