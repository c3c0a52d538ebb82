// Package application wires the progression use cases into a single service.
//
// The Service is the only entry point callers need: one mutating operation
// (AwardForCompletedActivity) and read-only queries (GetStats, ListAchievements).
package application

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/fitness-progression/internal/application/query"
	"github.com/alem-hub/fitness-progression/internal/application/saga"
	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/pkg/logger"
)

// ActivityRecorder persists completed activities.
type ActivityRecorder interface {
	Record(ctx context.Context, rec progression.ActivityRecord) (progression.ActivityRecord, error)
}

// Dependencies holds everything the Service is built from.
// Fields marked optional may be left zero.
type Dependencies struct {
	// Domain configuration
	Table   *progression.Table
	Policy  progression.RewardPolicy
	Streaks *progression.StreakCalculator
	Catalog *achievement.Catalog

	// Stores
	Progress progression.ProgressStore
	History  progression.HistoryStore
	Identity progression.IdentityResolver
	Grants   achievement.GrantStore
	Locker   progression.Locker

	// Optional collaborators
	Recorder   ActivityRecorder
	Ranker     achievement.Ranker
	Events     shared.EventPublisher
	StatsCache query.StatsCache
	Observer   saga.FlowObserver
	Logger     *logger.Logger
	Clock      func() time.Time

	// AwardAchievementXP grants achievement XP rewards through the ledger.
	AwardAchievementXP bool
}

// Service is the progression engine facade.
type Service struct {
	ledger       *progression.Ledger
	evaluator    *achievement.Evaluator
	flow         *saga.ProgressionFlowSaga
	stats        *query.GetStatsHandler
	achievements *query.ListAchievementsHandler
	recorder     ActivityRecorder
	log          *logger.Logger
}

// NewService validates the dependencies and builds the service.
func NewService(deps Dependencies) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ranker := deps.Ranker
	if ranker == nil {
		ranker = achievement.NoRanker{}
	}

	ledger := progression.NewLedger(deps.Table, deps.Progress, deps.Identity, deps.Locker).WithClock(clock)
	evaluator := achievement.NewEvaluator(
		deps.Catalog, deps.Grants, deps.History, deps.Progress, deps.Table, deps.Streaks,
		achievement.WithRanker(ranker),
		achievement.WithClock(clock),
	)

	flow := saga.NewProgressionFlowSaga(
		ledger, deps.History, deps.Streaks, deps.Policy, evaluator, deps.Events, log,
		saga.ProgressionFlowConfig{AwardAchievementXP: deps.AwardAchievementXP},
		saga.WithObserver(deps.Observer),
		saga.WithClock(clock),
	)

	return &Service{
		ledger:       ledger,
		evaluator:    evaluator,
		flow:         flow,
		stats:        query.NewGetStatsHandler(ledger, deps.StatsCache),
		achievements: query.NewListAchievementsHandler(evaluator),
		recorder:     deps.Recorder,
		log:          log.Named("service"),
	}, nil
}

func (d Dependencies) validate() error {
	var missing []error
	check := func(ok bool, name string) {
		if !ok {
			missing = append(missing, errors.New(name+" is required"))
		}
	}
	check(d.Table != nil, "table")
	check(d.Streaks != nil, "streak calculator")
	check(d.Catalog != nil, "catalog")
	check(d.Progress != nil, "progress store")
	check(d.History != nil, "history store")
	check(d.Identity != nil, "identity resolver")
	check(d.Grants != nil, "grant store")
	check(d.Locker != nil, "locker")
	if err := errors.Join(missing...); err != nil {
		return shared.WrapError("application", "NewService", shared.ErrInvalidInput, "incomplete dependencies", err)
	}
	return d.Policy.Validate()
}

// AwardForCompletedActivity applies XP, streak bonus and achievements for an
// activity that is already recorded in the history store.
func (s *Service) AwardForCompletedActivity(
	ctx context.Context,
	userID string,
	meta progression.ActivityMeta,
) (*saga.ProgressionResult, error) {
	return s.award(ctx, saga.ActivityCompletedInput{UserID: userID, Meta: meta})
}

// AwardForRecordedActivity is AwardForCompletedActivity for a record whose ID
// is known. Only that record is left out of the previous streak, which keeps
// backdated sessions from paying a streak bonus twice.
func (s *Service) AwardForRecordedActivity(ctx context.Context, rec progression.ActivityRecord) (*saga.ProgressionResult, error) {
	return s.award(ctx, saga.ActivityCompletedInput{
		UserID:     rec.UserID,
		Meta:       progression.ActivityMeta{RPE: rec.RPE, DurationSeconds: rec.DurationSeconds},
		ActivityID: rec.ID,
	})
}

func (s *Service) award(ctx context.Context, input saga.ActivityCompletedInput) (*saga.ProgressionResult, error) {
	result, err := s.flow.Execute(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.stats.Invalidate(ctx, input.UserID); err != nil {
		s.log.Warn("failed to invalidate stats cache", logger.UserID(input.UserID), logger.Err(err))
	}
	return result, nil
}

// CompleteActivity records the activity and then runs AwardForCompletedActivity.
// Requires a Recorder.
func (s *Service) CompleteActivity(ctx context.Context, rec progression.ActivityRecord) (*saga.ProgressionResult, error) {
	if s.recorder == nil {
		return nil, shared.NewDomainError("application", "CompleteActivity", shared.ErrInvalidState,
			"no activity recorder configured")
	}
	if rec.UserID == "" {
		return nil, shared.ErrEmptyUserID
	}
	meta := progression.ActivityMeta{RPE: rec.RPE, DurationSeconds: rec.DurationSeconds}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	recorded, err := s.recorder.Record(ctx, rec)
	if err != nil {
		return nil, shared.StoreError("application", "RecordActivity", err)
	}
	return s.AwardForRecordedActivity(ctx, recorded)
}

// GetStats returns the user's XP, level and progress. Never writes.
func (s *Service) GetStats(ctx context.Context, userID string) (*query.Stats, error) {
	return s.stats.Handle(ctx, query.GetStatsQuery{UserID: userID})
}

// ListAchievements returns the achievements the user holds.
func (s *Service) ListAchievements(ctx context.Context, userID string) (*query.AchievementsResult, error) {
	return s.achievements.Handle(ctx, query.ListAchievementsQuery{UserID: userID})
}

// ListAchievementsInCategory is ListAchievements filtered by category.
func (s *Service) ListAchievementsInCategory(
	ctx context.Context,
	userID string,
	category achievement.Category,
) (*query.AchievementsResult, error) {
	return s.achievements.Handle(ctx, query.ListAchievementsQuery{UserID: userID, Category: category})
}

// Catalog returns the achievement catalog.
func (s *Service) Catalog() *achievement.Catalog {
	return s.evaluator.Catalog()
}

// Table returns the progression table.
func (s *Service) Table() *progression.Table {
	return s.ledger.Table()
}
