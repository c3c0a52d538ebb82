package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/messaging"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/memory"
)

var flowNow = time.Date(2026, 5, 20, 18, 0, 0, 0, time.UTC)

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (b *recordingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

// failingGrants fails every lookup.
type failingGrants struct {
	*memory.Store
}

func (failingGrants) Has(context.Context, string, string) (bool, error) {
	return false, errors.New("grants offline")
}

type recordingObserver struct {
	flows    []error
	partials []string
}

func (o *recordingObserver) RecordFlow(_ time.Duration, err error) { o.flows = append(o.flows, err) }
func (o *recordingObserver) RecordPartialFailure(stage string)    { o.partials = append(o.partials, stage) }

type flowFixture struct {
	store    *memory.Store
	bus      *recordingBus
	observer *recordingObserver
	saga     *ProgressionFlowSaga
}

func newFlowFixture(
	t *testing.T,
	cfg ProgressionFlowConfig,
	wrapGrants func(*memory.Store) achievement.GrantStore,
	storeOpts ...memory.Option,
) *flowFixture {
	t.Helper()

	clock := func() time.Time { return flowNow }
	store := memory.NewStore(append([]memory.Option{memory.WithClock(clock)}, storeOpts...)...)
	var grants achievement.GrantStore = store
	if wrapGrants != nil {
		grants = wrapGrants(store)
	}

	table := progression.DefaultTable()
	streaks := progression.NewStreakCalculator(time.UTC, 30)
	ledger := progression.NewLedger(table, store, store, progression.NewKeyedLocker()).WithClock(clock)
	evaluator := achievement.NewEvaluator(achievement.DefaultCatalog(), grants, store, store, table, streaks,
		achievement.WithClock(clock))

	f := &flowFixture{store: store, bus: &recordingBus{}, observer: &recordingObserver{}}
	f.saga = NewProgressionFlowSaga(ledger, store, streaks, progression.DefaultRewardPolicy(), evaluator,
		f.bus, nil, cfg, WithObserver(f.observer), WithClock(clock))
	return f
}

// complete records a session and returns its ID.
func (f *flowFixture) complete(t *testing.T, userID string, at time.Time) string {
	t.Helper()
	rec, err := f.store.Record(context.Background(), progression.ActivityRecord{UserID: userID, CompletedAt: at})
	require.NoError(t, err)
	return rec.ID
}

func TestProgressionFlow_FirstActivity(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 60, result.XPAwarded)
	assert.Equal(t, 50, result.Reward.FirstActivity)
	assert.Equal(t, 60, result.XP)
	assert.Equal(t, 4, result.Level)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 4, result.NewLevel)
	assert.Equal(t, 1, result.Streak)
	assert.Nil(t, result.StreakBonus)
	assert.False(t, result.HasNewAchievements())
	assert.NoError(t, result.Err())

	assert.Equal(t, []shared.EventType{
		shared.EventXPAwarded,
		shared.EventStreakUpdated,
		shared.EventLevelUp,
	}, f.bus.types())
	assert.Equal(t, []error{nil}, f.observer.flows)
}

func TestProgressionFlow_StreakCrossingGrantsBonusAndAchievement(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.Add(-48*time.Hour))
	f.complete(t, "u1", flowNow.Add(-24*time.Hour))
	f.complete(t, "u1", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1", CorrelationID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Streak)
	assert.Equal(t, 2, result.PreviousStreak)
	require.NotNil(t, result.StreakBonus)
	assert.Equal(t, "day", result.StreakBonus.Name)

	require.Len(t, result.NewAchievements, 1)
	assert.Equal(t, achievement.CodeStreak3, result.NewAchievements[0].Definition.Code)
	assert.Equal(t, 25, result.AchievementXP)

	// 10 base + 15 streak bonus + 25 achievement
	assert.Equal(t, 50, result.XPAwarded)
	assert.Equal(t, 50, result.XP)
	assert.Equal(t, 4, result.Level)

	assert.Equal(t, []shared.EventType{
		shared.EventXPAwarded,
		shared.EventStreakUpdated,
		shared.EventXPAwarded,
		shared.EventAchievementGranted,
		shared.EventXPAwarded,
		shared.EventLevelUp,
	}, f.bus.types())
	for _, e := range f.bus.events {
		switch ev := e.(type) {
		case shared.XPAwardedEvent:
			assert.Equal(t, "req-1", ev.CorrelationID)
		case shared.LevelUpEvent:
			assert.Equal(t, 1, ev.OldLevel)
			assert.Equal(t, 4, ev.NewLevel)
		}
	}

	history, err := f.store.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, progression.AchievementReason(achievement.CodeStreak3), history[0].Reason)
	assert.Equal(t, progression.ReasonStreakBonus, history[1].Reason)
	assert.Equal(t, progression.ReasonActivityCompleted, history[2].Reason)
}

func TestProgressionFlow_AchievementXPDisabled(t *testing.T) {
	f := newFlowFixture(t, ProgressionFlowConfig{AwardAchievementXP: false}, nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.Add(-48*time.Hour))
	f.complete(t, "u1", flowNow.Add(-24*time.Hour))
	f.complete(t, "u1", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, result.HasNewAchievements())
	assert.Zero(t, result.AchievementXP)
	assert.Equal(t, 25, result.XP)
}

func TestProgressionFlow_RepeatDoesNotRegrant(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.Add(-48*time.Hour))
	f.complete(t, "u1", flowNow.Add(-24*time.Hour))
	f.complete(t, "u1", flowNow)

	_, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	f.complete(t, "u1", flowNow)
	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	assert.False(t, result.HasNewAchievements())
	assert.Nil(t, result.StreakBonus)
	assert.Equal(t, 10, result.XPAwarded)
	assert.Equal(t, 60, result.XP)
	assert.False(t, result.LeveledUp)
}

func TestProgressionFlow_BackfilledSessionDoesNotRepayStreakBonus(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	for _, daysBack := range []int{2, 1, 0} {
		id := f.complete(t, "u1", flowNow.AddDate(0, 0, -daysBack))
		_, err := f.saga.Execute(ctx, ActivityCompletedInput{UserID: "u1", ActivityID: id})
		require.NoError(t, err)
	}

	stats, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	before := stats.XP

	for _, daysBack := range []int{20, 25} {
		id := f.complete(t, "u1", flowNow.AddDate(0, 0, -daysBack))
		result, err := f.saga.Execute(ctx, ActivityCompletedInput{UserID: "u1", ActivityID: id})
		require.NoError(t, err)

		assert.Equal(t, 3, result.Streak)
		assert.Equal(t, 3, result.PreviousStreak)
		assert.Nil(t, result.StreakBonus)
		assert.Equal(t, 10, result.XPAwarded)
	}

	stats, err = f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+20, stats.XP)
}

func TestProgressionFlow_BackfillClosingGapCrossesTier(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.AddDate(0, 0, -2))
	f.complete(t, "u1", flowNow)

	id := f.complete(t, "u1", flowNow.AddDate(0, 0, -1))
	result, err := f.saga.Execute(ctx, ActivityCompletedInput{UserID: "u1", ActivityID: id})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PreviousStreak)
	assert.Equal(t, 3, result.Streak)
	require.NotNil(t, result.StreakBonus)
	assert.Equal(t, "day", result.StreakBonus.Name)
}

func TestProgressionFlow_EffortBonus(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.Add(-72*time.Hour))
	f.complete(t, "u1", flowNow)

	rpe := 9
	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{
		UserID: "u1",
		Meta:   progression.ActivityMeta{RPE: &rpe},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Reward.Effort)
	assert.Equal(t, 20, result.Reward.Total())
}

func TestProgressionFlow_UnknownUserIsFatal(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil)
	f.complete(t, "ghost", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "ghost"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, shared.IsNotFound(err))

	var flowErr *ProgressionFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepAwardActivity, flowErr.Step)
	assert.Equal(t, "ghost", flowErr.UserID)

	assert.Empty(t, f.bus.types())
	require.Len(t, f.observer.flows, 1)
	assert.Error(t, f.observer.flows[0])
}

func TestProgressionFlow_InvalidInput(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())

	_, err := f.saga.Execute(context.Background(), ActivityCompletedInput{})
	assert.True(t, shared.IsValidation(err))

	bad := 11
	_, err = f.saga.Execute(context.Background(), ActivityCompletedInput{
		UserID: "u1",
		Meta:   progression.ActivityMeta{RPE: &bad},
	})
	assert.True(t, shared.IsValidation(err))

	var flowErr *ProgressionFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepValidate, flowErr.Step)
}

func TestProgressionFlow_AchievementFailureKeepsAwards(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), func(s *memory.Store) achievement.GrantStore {
		return failingGrants{s}
	}, memory.WithOpenIdentities())
	f.complete(t, "u1", flowNow.Add(-48*time.Hour))
	f.complete(t, "u1", flowNow.Add(-24*time.Hour))
	f.complete(t, "u1", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	// 10 base + 15 streak bonus; STREAK_3 could not be checked
	assert.Equal(t, 25, result.XP)
	assert.True(t, result.Partial())
	assert.Error(t, result.AchievementErr)
	assert.NoError(t, result.StreakErr)
	assert.Empty(t, result.NewAchievements)
	assert.True(t, shared.IsStoreUnavailable(result.Err()))
	assert.Equal(t, []string{"achievements"}, f.observer.partials)

	p, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, p.XP)
}

func TestProgressionFlow_PublishFailureIsNotFatal(t *testing.T) {
	f := newFlowFixture(t, DefaultProgressionFlowConfig(), nil, memory.WithOpenIdentities())
	f.bus.err = errors.New("bus down")
	f.complete(t, "u1", flowNow)

	result, err := f.saga.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 60, result.XP)
}

func TestProgressionFlow_WithInMemoryBus(t *testing.T) {
	clock := func() time.Time { return flowNow }
	store := memory.NewStore(memory.WithClock(clock), memory.WithOpenIdentities())
	table := progression.DefaultTable()
	streaks := progression.NewStreakCalculator(time.UTC, 30)
	ledger := progression.NewLedger(table, store, store, progression.NewKeyedLocker()).WithClock(clock)
	evaluator := achievement.NewEvaluator(achievement.DefaultCatalog(), store, store, store, table, streaks)

	bus := messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var levelUps int
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		levelUps++
		return nil
	}))

	flow := NewProgressionFlowSaga(ledger, store, streaks, progression.DefaultRewardPolicy(), evaluator,
		bus, nil, DefaultProgressionFlowConfig(), WithClock(clock))

	_, err := store.Record(context.Background(), progression.ActivityRecord{UserID: "u1", CompletedAt: flowNow})
	require.NoError(t, err)
	_, err = flow.Execute(context.Background(), ActivityCompletedInput{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, levelUps)
}
