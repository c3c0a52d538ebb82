package application

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/fitness-progression/internal/application/saga"
	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/messaging"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/metrics"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/memory"
)

var serviceNow = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

type fixedRanker struct{ percent float64 }

func (r fixedRanker) TopPercent(context.Context, string) (float64, bool, error) {
	return r.percent, true, nil
}

func newDeps(store *memory.Store) Dependencies {
	return Dependencies{
		Table:              progression.DefaultTable(),
		Policy:             progression.DefaultRewardPolicy(),
		Streaks:            progression.NewStreakCalculator(time.UTC, 30),
		Catalog:            achievement.DefaultCatalog(),
		Progress:           store,
		History:            store,
		Identity:           store,
		Grants:             store,
		Locker:             progression.NewKeyedLocker(),
		Recorder:           store,
		Clock:              func() time.Time { return serviceNow },
		AwardAchievementXP: true,
	}
}

func newTestStore() *memory.Store {
	return memory.NewStore(memory.WithOpenIdentities(), memory.WithClock(func() time.Time { return serviceNow }))
}

func TestNewService_RequiresStores(t *testing.T) {
	_, err := NewService(Dependencies{})
	assert.True(t, shared.IsValidation(err))

	deps := newDeps(newTestStore())
	deps.Policy.BaseReward = 0
	_, err = NewService(deps)
	assert.True(t, shared.IsValidation(err))
}

func TestService_CompleteActivityThenStats(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(newDeps(newTestStore()))
	require.NoError(t, err)

	before, err := svc.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, before.Level)

	result, err := svc.CompleteActivity(ctx, progression.ActivityRecord{UserID: "u1", CompletedAt: serviceNow})
	require.NoError(t, err)
	assert.Equal(t, 60, result.XP)

	after, err := svc.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 60, after.XP)
	assert.Equal(t, 4, after.Level)
	assert.Equal(t, result.LevelName, after.LevelName)
}

func TestService_BackdatedActivityDoesNotRepayStreakBonus(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(newDeps(newTestStore()))
	require.NoError(t, err)

	var last *saga.ProgressionResult
	for _, daysBack := range []int{2, 1, 0} {
		last, err = svc.CompleteActivity(ctx, progression.ActivityRecord{
			UserID: "u1", CompletedAt: serviceNow.AddDate(0, 0, -daysBack),
		})
		require.NoError(t, err)
	}
	require.NotNil(t, last.StreakBonus)
	xp := last.XP

	result, err := svc.CompleteActivity(ctx, progression.ActivityRecord{
		UserID: "u1", CompletedAt: serviceNow.AddDate(0, 0, -20),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Streak)
	assert.Equal(t, 3, result.PreviousStreak)
	assert.Nil(t, result.StreakBonus)
	assert.Equal(t, 10, result.XPAwarded)
	assert.Equal(t, xp+10, result.XP)
}

func TestService_CompleteActivityRejectsBadMeta(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	svc, err := NewService(newDeps(store))
	require.NoError(t, err)

	rpe := 0
	_, err = svc.CompleteActivity(ctx, progression.ActivityRecord{UserID: "u1", RPE: &rpe})
	assert.True(t, shared.IsValidation(err))

	count, err := store.CountCompletions(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_CompleteActivityWithoutRecorder(t *testing.T) {
	deps := newDeps(newTestStore())
	deps.Recorder = nil
	svc, err := NewService(deps)
	require.NoError(t, err)

	_, err = svc.CompleteActivity(context.Background(), progression.ActivityRecord{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestService_PercentileAchievementWithRanker(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	deps := newDeps(store)
	deps.Ranker = fixedRanker{percent: 0.5}
	svc, err := NewService(deps)
	require.NoError(t, err)

	result, err := svc.CompleteActivity(ctx, progression.ActivityRecord{UserID: "u1", CompletedAt: serviceNow})
	require.NoError(t, err)

	codes := make([]string, 0, len(result.NewAchievements))
	for _, o := range result.NewAchievements {
		codes = append(codes, o.Definition.Code)
	}
	assert.Equal(t, []string{achievement.CodeTop5Percent, achievement.CodeTop1Percent}, codes)
	assert.Equal(t, 700, result.AchievementXP)

	held, err := svc.ListAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, held.Earned)
}

func TestService_MetricsAndEventsWiring(t *testing.T) {
	ctx := context.Background()
	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	defer bus.Close()

	collector := metrics.NewCollector("test")
	require.NoError(t, collector.Attach(bus))

	deps := newDeps(newTestStore())
	deps.Events = bus
	deps.Observer = collector
	svc, err := NewService(deps)
	require.NoError(t, err)

	_, err = svc.CompleteActivity(ctx, progression.ActivityRecord{UserID: "u1", CompletedAt: serviceNow})
	require.NoError(t, err)

	runs, err := testutil.GatherAndCount(collector.Registry(), "test_flow_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)

	levelUps, err := testutil.GatherAndCount(collector.Registry(), "test_level_ups_total")
	require.NoError(t, err)
	assert.Equal(t, 1, levelUps)
}

func TestService_CatalogAndTable(t *testing.T) {
	svc, err := NewService(newDeps(newTestStore()))
	require.NoError(t, err)

	_, ok := svc.Catalog().Lookup(achievement.CodeStreak7)
	assert.True(t, ok)
	assert.Equal(t, 50, svc.Table().MaxLevel())
}
