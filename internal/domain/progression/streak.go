package progression

import (
	"time"

	"github.com/alem-hub/fitness-progression/pkg/timeutil"
)

// DefaultLookbackDays - глубина истории для расчёта серии.
// Серии длиннее окна могут быть занижены, но не ограничены по смыслу.
const DefaultLookbackDays = 365

// StreakCalculator считает текущую серию последовательных дней с тренировками.
type StreakCalculator struct {
	loc          *time.Location
	lookbackDays int
}

// NewStreakCalculator создаёт калькулятор.
// loc определяет границу календарного дня (nil = UTC).
func NewStreakCalculator(loc *time.Location, lookbackDays int) *StreakCalculator {
	if loc == nil {
		loc = time.UTC
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &StreakCalculator{loc: loc, lookbackDays: lookbackDays}
}

// Location возвращает часовой пояс границы дня.
func (c *StreakCalculator) Location() *time.Location {
	return c.loc
}

// LookbackDays возвращает глубину истории.
func (c *StreakCalculator) LookbackDays() int {
	return c.lookbackDays
}

// CurrentStreak возвращает серию на момент now.
//
// Идём назад от сегодняшнего дня. Отсутствие тренировки сегодня серию не рвёт,
// просто сегодняшний день не засчитывается. Первый пропущенный день начиная со вчера
// завершает обход. Несколько тренировок в один день считаются один раз,
// записи из будущего игнорируются.
func (c *StreakCalculator) CurrentStreak(history []ActivityRecord, now time.Time) int {
	today := timeutil.StartOfDay(now, c.loc)
	todayKey := timeutil.DayKey(today, c.loc)
	oldest := today.AddDate(0, 0, -c.lookbackDays)

	days := make(map[string]struct{}, len(history))
	for _, rec := range history {
		day := timeutil.StartOfDay(rec.CompletedAt, c.loc)
		if day.After(today) || day.Before(oldest) {
			continue
		}
		days[timeutil.DayKey(day, c.loc)] = struct{}{}
	}
	if len(days) == 0 {
		return 0
	}

	streak := 0
	if _, ok := days[todayKey]; ok {
		streak++
	}

	day := today
	for i := 1; i <= c.lookbackDays; i++ {
		day = timeutil.PreviousDay(day)
		if _, ok := days[timeutil.DayKey(day, c.loc)]; !ok {
			break
		}
		streak++
	}
	return streak
}

// StreakBefore возвращает серию без записи activityID, то есть состояние
// до завершённой тренировки. Тренировка может быть внесена задним числом,
// поэтому исключается именно она, а не самая свежая запись.
//
// Пустой activityID означает "последняя запись истории". Если записи с таким
// ID нет в окне, она не влияет на серию и результат равен текущей серии.
func (c *StreakCalculator) StreakBefore(history []ActivityRecord, activityID string, now time.Time) int {
	if len(history) == 0 {
		return 0
	}
	if activityID == "" {
		return c.CurrentStreak(history[1:], now)
	}

	rest := make([]ActivityRecord, 0, len(history))
	for i, rec := range history {
		if rec.ID == activityID {
			rest = append(rest, history[i+1:]...)
			return c.CurrentStreak(rest, now)
		}
		rest = append(rest, rec)
	}
	return c.CurrentStreak(history, now)
}
