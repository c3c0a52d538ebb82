package achievement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

var evalNow = time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeGrants struct {
	mu        sync.Mutex
	rows      map[string]Grant
	hasErr    error
	hideHas   bool // simulate a concurrent writer: Has says no, Create conflicts
	hideList  bool // simulate a lagging replica: ListByUser returns nothing
	createCnt int
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{rows: make(map[string]Grant)}
}

func (g *fakeGrants) Has(_ context.Context, userID, code string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasErr != nil {
		return false, g.hasErr
	}
	if g.hideHas {
		return false, nil
	}
	_, ok := g.rows[userID+"/"+code]
	return ok, nil
}

func (g *fakeGrants) Create(_ context.Context, grant Grant) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCnt++
	key := grant.UserID + "/" + grant.Code
	if _, ok := g.rows[key]; ok {
		return false, nil
	}
	g.rows[key] = grant
	return true, nil
}

func (g *fakeGrants) ListByUser(_ context.Context, userID string) ([]Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hideList {
		return nil, nil
	}
	var out []Grant
	for _, gr := range g.rows {
		if gr.UserID == userID {
			out = append(out, gr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type fakeHistory struct {
	records     []progression.ActivityRecord
	total       int
	err         error
	recentCalls int
	countCalls  int
}

func (h *fakeHistory) RecentCompletions(_ context.Context, _ string, _ int) ([]progression.ActivityRecord, error) {
	h.recentCalls++
	return h.records, h.err
}

func (h *fakeHistory) CountCompletions(_ context.Context, _ string) (int, error) {
	h.countCalls++
	return h.total, h.err
}

type fakeProgress struct {
	xp int
}

func (p fakeProgress) Get(_ context.Context, userID string) (*progression.UserProgress, error) {
	if p.xp == 0 {
		return nil, shared.ErrUserNotFound
	}
	return &progression.UserProgress{UserID: userID, XP: p.xp}, nil
}

type fakeRanker struct {
	percent float64
}

func (r fakeRanker) TopPercent(context.Context, string) (float64, bool, error) {
	return r.percent, true, nil
}

func rpe(v int) *int { return &v }

// sessions returns n records, one per minute going back from evalNow (all on one day,
// so no streak tiers fire).
func sessions(n int) []progression.ActivityRecord {
	out := make([]progression.ActivityRecord, n)
	for i := range out {
		out[i] = progression.ActivityRecord{UserID: "u-1", CompletedAt: evalNow.Add(-time.Duration(i+1) * time.Minute)}
	}
	return out
}

func newTestEvaluator(history *fakeHistory, grants *fakeGrants, opts ...EvaluatorOption) *Evaluator {
	opts = append([]EvaluatorOption{WithClock(func() time.Time { return evalNow })}, opts...)
	return NewEvaluator(
		DefaultCatalog(),
		grants,
		history,
		fakeProgress{},
		progression.DefaultTable(),
		progression.NewStreakCalculator(time.UTC, 0),
		opts...,
	)
}

func codes(outcomes []Outcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Definition.Code)
	}
	return out
}

func findOutcome(outcomes []Outcome, code string) (Outcome, bool) {
	for _, o := range outcomes {
		if o.Definition.Code == code {
			return o, true
		}
	}
	return Outcome{}, false
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestEvaluate_Sessions10(t *testing.T) {
	ctx := context.Background()
	grants := newFakeGrants()
	history := &fakeHistory{records: sessions(3), total: 10}
	eval := newTestEvaluator(history, grants)

	outcomes, err := eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	o, ok := findOutcome(outcomes, CodeSessions10)
	require.True(t, ok)
	assert.True(t, o.NewlyGranted)
	require.NotNil(t, o.Grant.ObservedValue)
	assert.Equal(t, 10.0, *o.Grant.ObservedValue)
	assert.Equal(t, evalNow, o.Grant.EarnedAt)

	outcomes, err = eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	o, ok = findOutcome(outcomes, CodeSessions10)
	require.True(t, ok)
	assert.False(t, o.NewlyGranted)

	// Nine sessions: not earned, so absent from the result entirely.
	nine := newTestEvaluator(&fakeHistory{records: sessions(3), total: 9}, newFakeGrants())
	outcomes, err = nine.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	_, ok = findOutcome(outcomes, CodeSessions10)
	assert.False(t, ok)
}

func TestEvaluate_Idempotent(t *testing.T) {
	ctx := context.Background()
	grants := newFakeGrants()
	history := &fakeHistory{records: sessions(5), total: 55}
	eval := newTestEvaluator(history, grants)

	first, err := eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	heldBefore, err := grants.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	createsBefore := grants.createCnt

	second, err := eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	heldAfter, err := grants.ListByUser(ctx, "u-1")
	require.NoError(t, err)

	assert.Equal(t, codes(first), codes(second))
	for _, o := range second {
		assert.False(t, o.NewlyGranted, o.Definition.Code)
	}
	assert.Equal(t, heldBefore, heldAfter)
	assert.Equal(t, createsBefore, grants.createCnt)
}

func TestEvaluate_ResultsFollowCatalogOrder(t *testing.T) {
	history := &fakeHistory{records: sessions(5), total: 120}
	eval := newTestEvaluator(history, newFakeGrants())

	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{CodeSessions10, CodeSessions50, CodeSessions100, CodeWeeklyWarrior}, codes(outcomes))
}

func TestEvaluate_GrantsAreNeverRevoked(t *testing.T) {
	ctx := context.Background()
	grants := newFakeGrants()

	// Three consecutive days ending today.
	history := &fakeHistory{records: []progression.ActivityRecord{
		{CompletedAt: evalNow.Add(-time.Hour)},
		{CompletedAt: evalNow.AddDate(0, 0, -1)},
		{CompletedAt: evalNow.AddDate(0, 0, -2)},
	}, total: 3}
	eval := newTestEvaluator(history, grants)

	outcomes, err := eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	o, ok := findOutcome(outcomes, CodeStreak3)
	require.True(t, ok)
	assert.True(t, o.NewlyGranted)

	// The streak breaks: the predicate is false, the grant stays.
	history.records = history.records[2:]
	outcomes, err = eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)
	_, ok = findOutcome(outcomes, CodeStreak3)
	assert.False(t, ok)

	held, err := eval.Held(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, CodeStreak3, held[0].Definition.Code)
}

func TestEvaluate_LostCreateRaceIsNotNewlyGranted(t *testing.T) {
	grants := newFakeGrants()
	grants.rows["u-1/"+CodeSessions10] = Grant{UserID: "u-1", Code: CodeSessions10, EarnedAt: evalNow}
	grants.hideHas = true

	eval := newTestEvaluator(&fakeHistory{records: sessions(1), total: 10}, grants)
	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)

	o, ok := findOutcome(outcomes, CodeSessions10)
	require.True(t, ok)
	assert.False(t, o.NewlyGranted)
	assert.Len(t, grants.rows, 1)

	// The winner's record is reported, not the one that lost.
	require.NotNil(t, o.Grant)
	assert.Equal(t, evalNow, o.Grant.EarnedAt)
	assert.Nil(t, o.Grant.ObservedValue)
}

func TestEvaluate_HeldOutcomeCarriesStoredGrant(t *testing.T) {
	ctx := context.Background()
	earned := evalNow.AddDate(0, 0, -40)
	observed := 10.0
	grants := newFakeGrants()
	grants.rows["u-1/"+CodeSessions10] = Grant{
		UserID: "u-1", Code: CodeSessions10, EarnedAt: earned, ObservedValue: &observed,
	}

	eval := newTestEvaluator(&fakeHistory{records: sessions(1), total: 12}, grants)
	outcomes, err := eval.Evaluate(ctx, "u-1")
	require.NoError(t, err)

	o, ok := findOutcome(outcomes, CodeSessions10)
	require.True(t, ok)
	assert.False(t, o.NewlyGranted)
	require.NotNil(t, o.Grant)
	assert.Equal(t, earned, o.Grant.EarnedAt)
	require.NotNil(t, o.Grant.ObservedValue)
	assert.Equal(t, 10.0, *o.Grant.ObservedValue)
}

func TestEvaluate_HeldOutcomeWithoutStoredRecord(t *testing.T) {
	grants := newFakeGrants()
	grants.rows["u-1/"+CodeSessions10] = Grant{UserID: "u-1", Code: CodeSessions10}
	grants.hideList = true

	eval := newTestEvaluator(&fakeHistory{records: sessions(1), total: 10}, grants)
	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)

	o, ok := findOutcome(outcomes, CodeSessions10)
	require.True(t, ok)
	assert.False(t, o.NewlyGranted)
	assert.Nil(t, o.Grant)
}

func TestEvaluate_WeeklyWarriorAndHighIntensity(t *testing.T) {
	records := []progression.ActivityRecord{
		{CompletedAt: evalNow.Add(-1 * time.Hour), RPE: rpe(9)},
		{CompletedAt: evalNow.Add(-30 * time.Hour)},
		{CompletedAt: evalNow.Add(-50 * time.Hour), RPE: rpe(8)},
		{CompletedAt: evalNow.Add(-6 * 24 * time.Hour), RPE: rpe(7)},
		// Outside the trailing week.
		{CompletedAt: evalNow.Add(-8 * 24 * time.Hour), RPE: rpe(1)},
	}
	eval := newTestEvaluator(&fakeHistory{records: records, total: 5}, newFakeGrants())

	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)

	ww, ok := findOutcome(outcomes, CodeWeeklyWarrior)
	require.True(t, ok)
	assert.Equal(t, 4.0, *ww.Grant.ObservedValue)

	hi, ok := findOutcome(outcomes, CodeHighIntensity)
	require.True(t, ok, "average of 9, 8, 7 over RPE-reporting sessions is 8")
	assert.InDelta(t, 8.0, *hi.Grant.ObservedValue, 1e-9)
}

func TestEvaluate_HighIntensityNeedsRPE(t *testing.T) {
	records := []progression.ActivityRecord{
		{CompletedAt: evalNow.Add(-1 * time.Hour)},
		{CompletedAt: evalNow.Add(-2 * time.Hour)},
	}
	eval := newTestEvaluator(&fakeHistory{records: records, total: 2}, newFakeGrants())

	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	_, ok := findOutcome(outcomes, CodeHighIntensity)
	assert.False(t, ok)
}

func TestEvaluate_LevelRulesUseTable(t *testing.T) {
	table := progression.DefaultTable()
	xp, _ := table.ThresholdFor(25)

	eval := NewEvaluator(DefaultCatalog(), newFakeGrants(), &fakeHistory{}, fakeProgress{xp: xp},
		table, progression.NewStreakCalculator(time.UTC, 0), WithClock(func() time.Time { return evalNow }))

	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{CodeLevel10, CodeLevel25}, codes(outcomes))
}

func TestEvaluate_PercentileRules(t *testing.T) {
	// Without a ranking collaborator the rules are not earned.
	eval := newTestEvaluator(&fakeHistory{}, newFakeGrants())
	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	// With one they are earnable like any other rule.
	eval = newTestEvaluator(&fakeHistory{}, newFakeGrants(), WithRanker(fakeRanker{percent: 3}))
	outcomes, err = eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{CodeTop5Percent}, codes(outcomes))

	eval = newTestEvaluator(&fakeHistory{}, newFakeGrants(), WithRanker(fakeRanker{percent: 0.5}))
	outcomes, err = eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{CodeTop5Percent, CodeTop1Percent}, codes(outcomes))
}

func TestEvaluate_LoadsFactsOnce(t *testing.T) {
	history := &fakeHistory{records: sessions(2), total: 2}
	eval := newTestEvaluator(history, newFakeGrants())

	_, err := eval.Evaluate(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, history.recentCalls)
	assert.Equal(t, 1, history.countCalls)
}

func TestEvaluate_StoreErrors(t *testing.T) {
	boom := errors.New("timeout")

	eval := newTestEvaluator(&fakeHistory{err: boom}, newFakeGrants())
	_, err := eval.Evaluate(context.Background(), "u-1")
	require.Error(t, err)
	assert.True(t, shared.IsStoreUnavailable(err))
	assert.ErrorIs(t, err, boom)

	grants := newFakeGrants()
	grants.hasErr = boom
	eval = newTestEvaluator(&fakeHistory{records: sessions(1), total: 10}, grants)
	outcomes, err := eval.Evaluate(context.Background(), "u-1")
	assert.True(t, shared.IsStoreUnavailable(err))
	assert.Empty(t, outcomes)
}

func TestEvaluate_EmptyUser(t *testing.T) {
	eval := newTestEvaluator(&fakeHistory{}, newFakeGrants())
	_, err := eval.Evaluate(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}
