package query

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
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/memory"
)

// mapCache is an in-process StatsCache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]Stats
	loads   int
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]Stats)}
}

func (c *mapCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) (Stats, error)) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[key]; ok {
		return s, nil
	}
	c.loads++
	s, err := load(ctx)
	if err != nil {
		return Stats{}, err
	}
	c.entries[key] = s
	return s, nil
}

func (c *mapCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func newLedger(store *memory.Store) *progression.Ledger {
	return progression.NewLedger(progression.DefaultTable(), store, store, progression.NewKeyedLocker())
}

func TestGetStats_ExistingUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithOpenIdentities())
	ledger := newLedger(store)
	_, err := ledger.Award(ctx, "u1", 60, progression.ReasonActivityCompleted)
	require.NoError(t, err)

	stats, err := NewGetStatsHandler(ledger, nil).Handle(ctx, GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 60, stats.XP)
	assert.Equal(t, 4, stats.Level)
	assert.Equal(t, "Rookie", stats.LevelName)
	assert.Equal(t, 20, stats.XPToNextLevel)
	assert.Equal(t, 10, stats.IntoLevel)
	assert.Equal(t, 30, stats.LevelSpan)
	assert.InDelta(t, 1.0/3.0, stats.Progress, 1e-9)
	assert.False(t, stats.IsMaxLevel())
}

func TestGetStats_UnknownRowRecoversWithoutWriting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Register(ctx, "fresh"))

	stats, err := NewGetStatsHandler(newLedger(store), nil).Handle(ctx, GetStatsQuery{UserID: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.XP)
	assert.Equal(t, 1, stats.Level)
	assert.Equal(t, 10, stats.XPToNextLevel)

	_, err = store.Get(ctx, "fresh")
	assert.True(t, shared.IsNotFound(err))
}

func TestGetStats_UnknownUser(t *testing.T) {
	_, err := NewGetStatsHandler(newLedger(memory.NewStore()), nil).
		Handle(context.Background(), GetStatsQuery{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetStats_Validation(t *testing.T) {
	_, err := NewGetStatsHandler(newLedger(memory.NewStore()), nil).
		Handle(context.Background(), GetStatsQuery{})
	assert.True(t, shared.IsValidation(err))
}

func TestGetStats_MaxLevel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithOpenIdentities())
	ledger := newLedger(store)
	_, err := ledger.Award(ctx, "u1", 20000, progression.ReasonActivityCompleted)
	require.NoError(t, err)

	stats, err := NewGetStatsHandler(ledger, nil).Handle(ctx, GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Level)
	assert.True(t, stats.IsMaxLevel())
	assert.Equal(t, 0, stats.XPToNextLevel)
	assert.Equal(t, 1.0, stats.Progress)
}

func TestGetStats_Cache(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithOpenIdentities())
	ledger := newLedger(store)
	cache := newMapCache()
	h := NewGetStatsHandler(ledger, cache)

	_, err := ledger.Award(ctx, "u1", 10, progression.ReasonActivityCompleted)
	require.NoError(t, err)

	first, err := h.Handle(ctx, GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 10, first.XP)

	_, err = ledger.Award(ctx, "u1", 10, progression.ReasonActivityCompleted)
	require.NoError(t, err)

	stale, err := h.Handle(ctx, GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 10, stale.XP)

	direct, err := h.Handle(ctx, GetStatsQuery{UserID: "u1", SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 20, direct.XP)

	require.NoError(t, h.Invalidate(ctx, "u1"))
	fresh, err := h.Handle(ctx, GetStatsQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 20, fresh.XP)
	assert.Equal(t, 2, cache.loads)
}

func TestGetStats_CacheDoesNotStoreErrors(t *testing.T) {
	cache := newMapCache()
	h := NewGetStatsHandler(newLedger(memory.NewStore()), cache)

	_, err := h.Handle(context.Background(), GetStatsQuery{UserID: "ghost"})
	require.Error(t, err)
	assert.Empty(t, cache.entries)
}

// brokenGrants fails every listing.
type brokenGrants struct {
	*memory.Store
}

func (brokenGrants) ListByUser(context.Context, string) ([]achievement.Grant, error) {
	return nil, errors.New("connection reset")
}

func newEvaluator(store *memory.Store, grants achievement.GrantStore) *achievement.Evaluator {
	table := progression.DefaultTable()
	return achievement.NewEvaluator(achievement.DefaultCatalog(), grants, store, store, table,
		progression.NewStreakCalculator(time.UTC, 30))
}

func TestListAchievements(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	earned := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := store.Create(ctx, achievement.Grant{UserID: "u1", Code: achievement.CodeStreak3, EarnedAt: earned})
	require.NoError(t, err)
	_, err = store.Create(ctx, achievement.Grant{UserID: "u1", Code: achievement.CodeSessions10, EarnedAt: earned.Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.Create(ctx, achievement.Grant{UserID: "u1", Code: "RETIRED_CODE", EarnedAt: earned})
	require.NoError(t, err)

	h := NewListAchievementsHandler(newEvaluator(store, store))

	all, err := h.Handle(ctx, ListAchievementsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all.Achievements, 2)
	assert.Equal(t, achievement.CodeStreak3, all.Achievements[0].Code)
	assert.Equal(t, 25, all.Achievements[0].XPReward)
	assert.Equal(t, 2, all.Earned)
	assert.Equal(t, achievement.DefaultCatalog().Len(), all.Total)

	streakOnly, err := h.Handle(ctx, ListAchievementsQuery{UserID: "u1", Category: achievement.CategoryStreak})
	require.NoError(t, err)
	require.Len(t, streakOnly.Achievements, 1)
	assert.Equal(t, achievement.CodeStreak3, streakOnly.Achievements[0].Code)
}

func TestListAchievements_Errors(t *testing.T) {
	store := memory.NewStore()

	_, err := NewListAchievementsHandler(newEvaluator(store, store)).
		Handle(context.Background(), ListAchievementsQuery{})
	assert.True(t, shared.IsValidation(err))

	_, err = NewListAchievementsHandler(newEvaluator(store, brokenGrants{store})).
		Handle(context.Background(), ListAchievementsQuery{UserID: "u1"})
	assert.True(t, shared.IsStoreUnavailable(err))
}
