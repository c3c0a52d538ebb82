package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator прогоняет каталог по одному пользователю и выдаёт новые достижения
// ровно один раз. Выданные достижения никогда не отзываются.
type Evaluator struct {
	catalog  *Catalog
	grants   GrantStore
	history  progression.HistoryStore
	progress ProgressReader
	table    *progression.Table
	streaks  *progression.StreakCalculator
	ranker   Ranker
	now      func() time.Time
}

// EvaluatorOption настраивает Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRanker подключает внешний сервис рейтинга для процентильных достижений.
func WithRanker(r Ranker) EvaluatorOption {
	return func(e *Evaluator) {
		if r != nil {
			e.ranker = r
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator создаёт Evaluator.
func NewEvaluator(
	catalog *Catalog,
	grants GrantStore,
	history progression.HistoryStore,
	progress ProgressReader,
	table *progression.Table,
	streaks *progression.StreakCalculator,
	opts ...EvaluatorOption,
) *Evaluator {
	e := &Evaluator{
		catalog:  catalog,
		grants:   grants,
		history:  history,
		progress: progress,
		table:    table,
		streaks:  streaks,
		ranker:   NoRanker{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog возвращает каталог.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate проверяет каждое определение в порядке каталога.
//
// Не заработанные достижения в результат не попадают. Для заработанных:
// нет выдачи - создаём и NewlyGranted=true; есть - NewlyGranted=false.
// Если Create проиграл гонку уникальности, это тоже NewlyGranted=false.
// При ошибке хранилища возвращаются результаты, полученные до неё.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]Outcome, error) {
	if userID == "" {
		return nil, shared.ErrEmptyUserID
	}

	f := &facts{ctx: ctx, userID: userID, now: e.now(), e: e}
	var outcomes []Outcome

	for _, def := range e.catalog.defs {
		verdict, err := e.check(f, def.Rule)
		if err != nil {
			return outcomes, shared.StoreError("achievement", "Evaluate",
				fmt.Errorf("check %s: %w", def.Code, err))
		}
		if !verdict.Earned {
			continue
		}

		has, err := e.grants.Has(ctx, userID, def.Code)
		if err != nil {
			return outcomes, shared.StoreError("achievement", "Has", err)
		}
		if has {
			stored, err := f.grant(def.Code)
			if err != nil {
				return outcomes, shared.StoreError("achievement", "ListByUser", err)
			}
			outcomes = append(outcomes, Outcome{Definition: def, Grant: stored})
			continue
		}

		grant := Grant{
			UserID:        userID,
			Code:          def.Code,
			EarnedAt:      f.now.UTC(),
			ObservedValue: verdict.Observed,
		}
		created, err := e.grants.Create(ctx, grant)
		if err != nil {
			return outcomes, shared.StoreError("achievement", "Create", err)
		}
		if created {
			outcomes = append(outcomes, Outcome{Definition: def, NewlyGranted: true, Grant: &grant})
			continue
		}

		// Конкурентный писатель успел первым: перечитываем и отдаём его запись.
		f.heldLoaded = false
		stored, err := f.grant(def.Code)
		if err != nil {
			return outcomes, shared.StoreError("achievement", "ListByUser", err)
		}
		outcomes = append(outcomes, Outcome{Definition: def, Grant: stored})
	}
	return outcomes, nil
}

// Held возвращает полученные достижения пользователя вместе с определениями.
// Выдачи с кодами, которых больше нет в каталоге, пропускаются.
func (e *Evaluator) Held(ctx context.Context, userID string) ([]Held, error) {
	grants, err := e.grants.ListByUser(ctx, userID)
	if err != nil {
		return nil, shared.StoreError("achievement", "ListByUser", err)
	}
	out := make([]Held, 0, len(grants))
	for _, g := range grants {
		def, ok := e.catalog.Lookup(g.Code)
		if !ok {
			continue
		}
		out = append(out, Held{Definition: def, Grant: g})
	}
	return out, nil
}

// check вычисляет правило по снимку фактов.
func (e *Evaluator) check(f *facts, rule Rule) (Verdict, error) {
	switch r := rule.(type) {
	case StreakRule:
		streak, err := f.streak()
		if err != nil {
			return Verdict{}, err
		}
		return earnedIf(streak >= r.MinDays, float64(streak)), nil

	case CountRule:
		count, err := f.count()
		if err != nil {
			return Verdict{}, err
		}
		return earnedIf(count >= r.MinSessions, float64(count)), nil

	case RollingCountRule:
		window, err := f.window(r.WindowDays)
		if err != nil {
			return Verdict{}, err
		}
		return earnedIf(len(window) >= r.MinCompletions, float64(len(window))), nil

	case AverageRPERule:
		window, err := f.window(r.WindowDays)
		if err != nil {
			return Verdict{}, err
		}
		sum, n := 0, 0
		for _, rec := range window {
			if rec.RPE == nil {
				continue
			}
			sum += *rec.RPE
			n++
		}
		if n == 0 {
			return Verdict{}, nil
		}
		avg := float64(sum) / float64(n)
		return earnedIf(avg >= r.MinAverage, avg), nil

	case LevelRule:
		level, err := f.level()
		if err != nil {
			return Verdict{}, err
		}
		return earnedIf(level >= r.MinLevel, float64(level)), nil

	case PercentileRule:
		pct, ok, err := e.ranker.TopPercent(f.ctx, f.userID)
		if err != nil {
			return Verdict{}, err
		}
		if !ok {
			return Verdict{}, nil
		}
		return earnedIf(pct <= r.TopPercent, pct), nil

	default:
		return Verdict{}, fmt.Errorf("unsupported rule kind %T", rule)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTS
// ══════════════════════════════════════════════════════════════════════════════

// facts - снимок истории пользователя на время одного вычисления.
// Каждый источник читается не более одного раза и только если он нужен правилу.
type facts struct {
	ctx    context.Context
	userID string
	now    time.Time
	e      *Evaluator

	history       []progression.ActivityRecord
	historyLoaded bool

	total       int
	totalLoaded bool

	lvl       int
	lvlLoaded bool

	held       map[string]Grant
	heldLoaded bool
}

// grant возвращает сохранённую выдачу по коду или nil.
// Выдачи читаются одним ListByUser на вычисление.
func (f *facts) grant(code string) (*Grant, error) {
	if !f.heldLoaded {
		grants, err := f.e.grants.ListByUser(f.ctx, f.userID)
		if err != nil {
			return nil, err
		}
		f.held = make(map[string]Grant, len(grants))
		for _, g := range grants {
			f.held[g.Code] = g
		}
		f.heldLoaded = true
	}
	g, ok := f.held[code]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (f *facts) recent() ([]progression.ActivityRecord, error) {
	if f.historyLoaded {
		return f.history, nil
	}
	records, err := f.e.history.RecentCompletions(f.ctx, f.userID, f.e.streaks.LookbackDays())
	if err != nil {
		return nil, err
	}
	f.history = records
	f.historyLoaded = true
	return records, nil
}

func (f *facts) streak() (int, error) {
	records, err := f.recent()
	if err != nil {
		return 0, err
	}
	return f.e.streaks.CurrentStreak(records, f.now), nil
}

func (f *facts) count() (int, error) {
	if f.totalLoaded {
		return f.total, nil
	}
	n, err := f.e.history.CountCompletions(f.ctx, f.userID)
	if err != nil {
		return 0, err
	}
	f.total = n
	f.totalLoaded = true
	return n, nil
}

// window возвращает тренировки за последние days*24 часа, не позже now.
func (f *facts) window(days int) ([]progression.ActivityRecord, error) {
	records, err := f.recent()
	if err != nil {
		return nil, err
	}
	since := timeutil.TrailingWindow(f.now, days)
	out := make([]progression.ActivityRecord, 0, len(records))
	for _, rec := range records {
		if rec.CompletedAt.After(since) && !rec.CompletedAt.After(f.now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *facts) level() (int, error) {
	if f.lvlLoaded {
		return f.lvl, nil
	}
	p, err := f.e.progress.Get(f.ctx, f.userID)
	switch {
	case err != nil && shared.IsNotFound(err), err == nil && p == nil:
		f.lvl = progression.StartingLevel
	case err != nil:
		return 0, err
	default:
		// Уровень всегда пересчитывается из XP по таблице.
		f.lvl = f.e.table.LevelFor(p.XP)
	}
	f.lvlLoaded = true
	return f.lvl, nil
}
