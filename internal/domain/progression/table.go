package progression

import (
	"fmt"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Threshold - порог уровня: минимальный накопленный XP и отображаемое имя.
type Threshold struct {
	// Level - номер уровня, начиная с 1.
	Level int `json:"level"`

	// CumulativeXP - накопленный XP, необходимый для уровня.
	CumulativeXP int `json:"cumulative_xp"`

	// DisplayName - название уровня для интерфейса.
	DisplayName string `json:"display_name"`
}

// Table - неизменяемая таблица уровней.
// Создаётся один раз при старте процесса и передаётся во все компоненты.
type Table struct {
	thresholds []Threshold
}

// Progress - прогресс внутри текущего уровня.
type Progress struct {
	// Into - XP, набранный сверх порога текущего уровня.
	Into int `json:"into"`

	// Span - ширина текущего уровня в XP (0 на максимальном уровне).
	Span int `json:"span"`

	// Fraction - доля пройденного уровня в [0, 1]; 1 на максимальном уровне.
	Fraction float64 `json:"fraction"`
}

// NewTable создаёт таблицу и проверяет инварианты:
// уровни идут подряд с 1, порог уровня 1 равен 0, пороги строго возрастают.
func NewTable(thresholds []Threshold) (*Table, error) {
	if len(thresholds) == 0 {
		return nil, shared.WrapError("progression", "NewTable", shared.ErrInvalidInput,
			"table is empty", shared.ErrInvalidTable)
	}

	copied := make([]Threshold, len(thresholds))
	copy(copied, thresholds)

	for i, th := range copied {
		if th.Level != i+1 {
			return nil, shared.WrapError("progression", "NewTable", shared.ErrInvalidInput,
				fmt.Sprintf("level at position %d is %d, want %d", i, th.Level, i+1), shared.ErrInvalidTable)
		}
		if i == 0 && th.CumulativeXP != 0 {
			return nil, shared.WrapError("progression", "NewTable", shared.ErrInvalidInput,
				"level 1 threshold must be 0", shared.ErrInvalidTable)
		}
		if i > 0 && th.CumulativeXP <= copied[i-1].CumulativeXP {
			return nil, shared.WrapError("progression", "NewTable", shared.ErrInvalidInput,
				fmt.Sprintf("threshold for level %d does not increase", th.Level), shared.ErrInvalidTable)
		}
	}

	return &Table{thresholds: copied}, nil
}

// MustTable как NewTable, но паникует при ошибке. Для таблиц, заданных в коде.
func MustTable(thresholds []Threshold) *Table {
	t, err := NewTable(thresholds)
	if err != nil {
		panic(err)
	}
	return t
}

// MaxLevel возвращает максимальный определённый уровень.
func (t *Table) MaxLevel() int {
	return t.thresholds[len(t.thresholds)-1].Level
}

// LevelFor возвращает наибольший уровень, порог которого <= xp.
// Поиск идёт сверху вниз. Отрицательный xp отсекается выше (Ledger), здесь даёт уровень 1.
func (t *Table) LevelFor(xp int) int {
	for i := len(t.thresholds) - 1; i >= 0; i-- {
		if xp >= t.thresholds[i].CumulativeXP {
			return t.thresholds[i].Level
		}
	}
	return StartingLevel
}

// ThresholdFor возвращает порог XP уровня. false - уровень вне [1, MaxLevel].
func (t *Table) ThresholdFor(level int) (int, bool) {
	if level < 1 || level > len(t.thresholds) {
		return 0, false
	}
	return t.thresholds[level-1].CumulativeXP, true
}

// NameFor возвращает имя уровня. Уровни вне таблицы прижимаются к её границам.
func (t *Table) NameFor(level int) string {
	switch {
	case level < 1:
		return t.thresholds[0].DisplayName
	case level > len(t.thresholds):
		return t.thresholds[len(t.thresholds)-1].DisplayName
	default:
		return t.thresholds[level-1].DisplayName
	}
}

// ProgressToNext возвращает прогресс внутри уровня.
// На максимальном уровне потолок жёсткий: Span = 0, Fraction = 1.
func (t *Table) ProgressToNext(xp, level int) Progress {
	current, ok := t.ThresholdFor(level)
	if !ok {
		current = 0
	}
	into := xp - current

	next, ok := t.ThresholdFor(level + 1)
	if !ok {
		return Progress{Into: into, Span: 0, Fraction: 1}
	}

	span := next - current
	fraction := float64(into) / float64(span)
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return Progress{Into: into, Span: span, Fraction: fraction}
}

// XPToNextLevel возвращает, сколько XP осталось до следующего уровня (0 на максимуме).
func (t *Table) XPToNextLevel(xp int) int {
	next, ok := t.ThresholdFor(t.LevelFor(xp) + 1)
	if !ok {
		return 0
	}
	return next - xp
}

// Thresholds возвращает копию порогов.
func (t *Table) Thresholds() []Threshold {
	out := make([]Threshold, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULT TABLE
// ══════════════════════════════════════════════════════════════════════════════

// defaultCumulativeXP - пороги 50 уровней, подобранные вручную.
// Первые уровни стоят десятки XP, дальше рост быстрее линейного.
var defaultCumulativeXP = [...]int{
	0, 10, 25, 50, 80, 120, 170, 230, 300, 380,
	470, 570, 680, 800, 930, 1070, 1220, 1380, 1550, 1730,
	1920, 2120, 2330, 2550, 2780, 3020, 3270, 3530, 3800, 4080,
	4370, 4670, 4980, 5300, 5630, 5970, 6320, 6680, 7050, 7430,
	7820, 8220, 8630, 9050, 9480, 9920, 10370, 10830, 11300, 11780,
}

// defaultLevelName возвращает имя уровня по диапазону.
func defaultLevelName(level int) string {
	switch {
	case level >= 50:
		return "Legend"
	case level >= 35:
		return "Elite"
	case level >= 25:
		return "Veteran"
	case level >= 15:
		return "Contender"
	case level >= 10:
		return "Athlete"
	case level >= 5:
		return "Regular"
	default:
		return "Rookie"
	}
}

// DefaultThresholds возвращает пороги стандартной таблицы.
func DefaultThresholds() []Threshold {
	out := make([]Threshold, len(defaultCumulativeXP))
	for i, xp := range defaultCumulativeXP {
		out[i] = Threshold{
			Level:        i + 1,
			CumulativeXP: xp,
			DisplayName:  defaultLevelName(i + 1),
		}
	}
	return out
}

// DefaultTable возвращает стандартную таблицу из 50 уровней.
func DefaultTable() *Table {
	return MustTable(DefaultThresholds())
}
