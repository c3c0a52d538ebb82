// Package saga contains business processes that orchestrate
// several domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION FLOW SAGA
// Business process run once per completed activity.
// Flow: Validate → Award Activity XP → Recompute Streak → Award Streak Bonus →
//
//	Evaluate Achievements → Award Achievement XP → Publish Events
//
// Only the first award is fatal. XP is durable once persisted: a later step
// failing is attached to the result and never rolls earlier awards back.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityCompletedInput contains data about a just-completed activity.
// The activity is expected to be recorded in the history store already.
type ActivityCompletedInput struct {
	// UserID - owner of the activity.
	UserID string

	// Meta - optional RPE and duration reported for the activity.
	Meta progression.ActivityMeta

	// ActivityID - ID of the recorded activity. It is left out when computing
	// the previous streak, so backfilled sessions cannot re-cross a tier.
	// When empty the newest history record is assumed to be the activity.
	ActivityID string

	// CorrelationID - ties the published events to the caller's request.
	// Generated when empty.
	CorrelationID string
}

// Validate checks if the input is valid.
func (i ActivityCompletedInput) Validate() error {
	if i.UserID == "" {
		return shared.ErrEmptyUserID
	}
	return i.Meta.Validate()
}

// ProgressionResult contains the outcome of one progression flow.
type ProgressionResult struct {
	// UserID - the user whose progress changed.
	UserID string `json:"user_id"`

	// XPAwarded - total XP persisted by this flow across all awards.
	XPAwarded int `json:"xp_awarded"`

	// Reward - breakdown of the activity award.
	Reward progression.RewardBreakdown `json:"reward"`

	// XP - running total after the last successful award.
	XP int `json:"xp"`

	// Level - level after the last successful award.
	Level int `json:"level"`

	// LevelName - display name of Level.
	LevelName string `json:"level_name"`

	// LeveledUp - true if the flow ended on a higher level than it started.
	LeveledUp bool `json:"leveled_up"`

	// NewLevel - the level reached when LeveledUp, zero otherwise.
	NewLevel int `json:"new_level,omitempty"`

	// Streak - current streak including the completed activity.
	Streak int `json:"streak"`

	// PreviousStreak - streak before the completed activity.
	PreviousStreak int `json:"previous_streak"`

	// StreakBonus - the tier crossed by this activity, if any.
	StreakBonus *progression.StreakTier `json:"streak_bonus,omitempty"`

	// NewAchievements - achievements granted by this flow, in catalog order.
	NewAchievements []achievement.Outcome `json:"new_achievements"`

	// AchievementXP - XP persisted for NewAchievements.
	AchievementXP int `json:"achievement_xp"`

	// StreakErr - failure of the streak step, if any.
	StreakErr error `json:"-"`

	// AchievementErr - failure of the achievement steps, if any.
	AchievementErr error `json:"-"`

	// ProcessedAt - when the flow completed.
	ProcessedAt time.Time `json:"processed_at"`
}

// HasNewAchievements returns true if any achievements were granted.
func (r *ProgressionResult) HasNewAchievements() bool {
	return len(r.NewAchievements) > 0
}

// Partial reports whether a step after the activity award failed.
func (r *ProgressionResult) Partial() bool {
	return r.StreakErr != nil || r.AchievementErr != nil
}

// Err joins the non-fatal step errors.
func (r *ProgressionResult) Err() error {
	return errors.Join(r.StreakErr, r.AchievementErr)
}

// ProgressionFlowStep represents a step in the progression flow.
type ProgressionFlowStep string

const (
	StepValidate         ProgressionFlowStep = "validate"
	StepAwardActivity    ProgressionFlowStep = "award_activity"
	StepRecomputeStreak  ProgressionFlowStep = "recompute_streak"
	StepAwardStreakBonus ProgressionFlowStep = "award_streak_bonus"
	StepEvaluate         ProgressionFlowStep = "evaluate_achievements"
	StepAchievementXP    ProgressionFlowStep = "award_achievement_xp"
	StepPublishEvents    ProgressionFlowStep = "publish_events"
	StepComplete         ProgressionFlowStep = "complete"
)

// ProgressionFlowState tracks the current state of the flow.
type ProgressionFlowState struct {
	CurrentStep   ProgressionFlowStep
	Input         ActivityCompletedInput
	Now           time.Time
	StartLevel    int
	LastAward     progression.AwardResult
	Result        *ProgressionResult
	Events        []shared.Event
	StartedAt     time.Time
	FailedStep    ProgressionFlowStep
	Error         error
	correlationID string
}

// FlowObserver receives flow-level measurements.
type FlowObserver interface {
	RecordFlow(duration time.Duration, err error)
	RecordPartialFailure(stage string)
}

type noopObserver struct{}

func (noopObserver) RecordFlow(time.Duration, error) {}
func (noopObserver) RecordPartialFailure(string)     {}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionFlowSaga orchestrates XP awards, streak bonuses and achievements
// for one completed activity.
type ProgressionFlowSaga struct {
	// Dependencies
	ledger    *progression.Ledger
	history   progression.HistoryStore
	streaks   *progression.StreakCalculator
	policy    progression.RewardPolicy
	evaluator *achievement.Evaluator
	eventBus  shared.EventPublisher
	log       *logger.Logger
	observer  FlowObserver
	now       func() time.Time

	// Configuration
	awardAchievementXP bool
}

// ProgressionFlowConfig contains configuration for the progression flow saga.
type ProgressionFlowConfig struct {
	// AwardAchievementXP grants each new achievement's XPReward through the ledger.
	AwardAchievementXP bool
}

// DefaultProgressionFlowConfig returns default configuration.
func DefaultProgressionFlowConfig() ProgressionFlowConfig {
	return ProgressionFlowConfig{AwardAchievementXP: true}
}

// FlowOption customizes a ProgressionFlowSaga.
type FlowOption func(*ProgressionFlowSaga)

// WithObserver attaches a FlowObserver (metrics).
func WithObserver(o FlowObserver) FlowOption {
	return func(s *ProgressionFlowSaga) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock replaces the flow clock. The evaluator keeps its own clock.
func WithClock(now func() time.Time) FlowOption {
	return func(s *ProgressionFlowSaga) {
		if now != nil {
			s.now = now
		}
	}
}

// NewProgressionFlowSaga creates a new progression flow saga with all dependencies.
// eventBus and log may be nil.
func NewProgressionFlowSaga(
	ledger *progression.Ledger,
	history progression.HistoryStore,
	streaks *progression.StreakCalculator,
	policy progression.RewardPolicy,
	evaluator *achievement.Evaluator,
	eventBus shared.EventPublisher,
	log *logger.Logger,
	config ProgressionFlowConfig,
	opts ...FlowOption,
) *ProgressionFlowSaga {
	if log == nil {
		log = logger.Nop()
	}
	s := &ProgressionFlowSaga{
		ledger:             ledger,
		history:            history,
		streaks:            streaks,
		policy:             policy,
		evaluator:          evaluator,
		eventBus:           eventBus,
		log:                log.Named("progression_flow"),
		observer:           noopObserver{},
		now:                time.Now,
		awardAchievementXP: config.AwardAchievementXP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the complete flow for one completed activity.
func (s *ProgressionFlowSaga) Execute(ctx context.Context, input ActivityCompletedInput) (*ProgressionResult, error) {
	state := &ProgressionFlowState{
		CurrentStep:   StepValidate,
		Input:         input,
		Now:           s.now(),
		StartedAt:     time.Now(),
		correlationID: input.CorrelationID,
		Result:        &ProgressionResult{UserID: input.UserID},
	}
	if state.correlationID == "" {
		state.correlationID = uuid.NewString()
	}

	log := s.log.With(logger.UserID(input.UserID), logger.String("correlation_id", state.correlationID))

	// Step 1: Validate input
	if err := input.Validate(); err != nil {
		state.FailedStep = StepValidate
		state.Error = err
		return nil, s.fail(log, state)
	}

	// Step 2: Award activity XP (the only fatal mutation)
	state.CurrentStep = StepAwardActivity
	if err := s.stepAwardActivity(ctx, state); err != nil {
		return nil, s.fail(log, state)
	}

	// Step 3: Recompute streak and award the bonus on a tier crossing
	state.CurrentStep = StepRecomputeStreak
	if err := s.stepStreak(ctx, state); err != nil {
		state.Result.StreakErr = err
		s.observer.RecordPartialFailure("streak")
		log.Warn("streak step failed, continuing",
			logger.String("step", string(state.CurrentStep)), logger.Err(err))
	}

	// Step 4: Evaluate achievements and award their XP
	state.CurrentStep = StepEvaluate
	if err := s.stepAchievements(ctx, state); err != nil {
		state.Result.AchievementErr = err
		s.observer.RecordPartialFailure("achievements")
		log.Warn("achievement step failed, continuing",
			logger.String("step", string(state.CurrentStep)), logger.Err(err))
	}

	for _, o := range state.Result.NewAchievements {
		log.Info("achievement granted",
			logger.AchievementCode(o.Definition.Code),
			logger.XPAmount(o.Definition.XPReward))
	}

	// Step 5: Publish domain events
	state.CurrentStep = StepPublishEvents
	s.stepPublishEvents(log, state)

	// Complete
	state.CurrentStep = StepComplete
	result := s.finish(state)

	s.observer.RecordFlow(time.Since(state.StartedAt), nil)
	log.Info("activity progression applied",
		logger.XPAmount(result.XPAwarded),
		logger.LevelNumber(result.Level),
		logger.StreakDays(result.Streak),
		logger.Int("new_achievements", len(result.NewAchievements)),
		logger.Bool("partial", result.Partial()),
		logger.Latency(time.Since(state.StartedAt)),
	)

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepAwardActivity sizes the activity reward and persists it.
func (s *ProgressionFlowSaga) stepAwardActivity(ctx context.Context, state *ProgressionFlowState) error {
	userID := state.Input.UserID

	// The completed activity is already in the store, so the first one counts as 1.
	count, err := s.history.CountCompletions(ctx, userID)
	if err != nil {
		state.FailedStep = StepAwardActivity
		state.Error = shared.StoreError("saga", "CountCompletions", err)
		return state.Error
	}

	reward := s.policy.ActivityReward(state.Input.Meta, count <= 1)
	state.Result.Reward = reward

	res, err := s.ledger.Award(ctx, userID, reward.Total(), progression.ReasonActivityCompleted)
	if err != nil {
		state.FailedStep = StepAwardActivity
		state.Error = err
		return err
	}

	state.StartLevel = res.PreviousLevel
	s.recordAward(state, res)
	return nil
}

// stepStreak recomputes the streak and awards the bonus of a newly crossed tier.
func (s *ProgressionFlowSaga) stepStreak(ctx context.Context, state *ProgressionFlowState) error {
	userID := state.Input.UserID

	records, err := s.history.RecentCompletions(ctx, userID, s.streaks.LookbackDays())
	if err != nil {
		return shared.StoreError("saga", "RecentCompletions", err)
	}

	current := s.streaks.CurrentStreak(records, state.Now)
	previous := s.streaks.StreakBefore(records, state.Input.ActivityID, state.Now)
	state.Result.Streak = current
	state.Result.PreviousStreak = previous

	tier, crossed := s.policy.StreakBonus(previous, current)
	state.Events = append(state.Events,
		withCorrelation(shared.NewStreakUpdatedEvent(userID, previous, current, crossed), state.correlationID))
	if !crossed {
		return nil
	}

	state.CurrentStep = StepAwardStreakBonus
	res, err := s.ledger.Award(ctx, userID, tier.Bonus, progression.ReasonStreakBonus)
	if err != nil {
		return fmt.Errorf("streak bonus %s: %w", tier.Name, err)
	}
	state.Result.StreakBonus = &tier
	s.recordAward(state, res)
	return nil
}

// stepAchievements evaluates the catalog and awards the XP of new grants.
// Grants created before a failure are kept in the result.
func (s *ProgressionFlowSaga) stepAchievements(ctx context.Context, state *ProgressionFlowState) error {
	userID := state.Input.UserID

	outcomes, evalErr := s.evaluator.Evaluate(ctx, userID)
	for _, o := range outcomes {
		if !o.NewlyGranted {
			continue
		}
		state.Result.NewAchievements = append(state.Result.NewAchievements, o)
		state.Events = append(state.Events, withCorrelation(
			shared.NewAchievementGrantedEvent(userID, o.Definition.Code, string(o.Definition.Rarity), o.Definition.XPReward),
			state.correlationID))
	}

	state.CurrentStep = StepAchievementXP
	var awardErrs []error
	if s.awardAchievementXP {
		for _, o := range state.Result.NewAchievements {
			if o.Definition.XPReward <= 0 {
				continue
			}
			res, err := s.ledger.Award(ctx, userID, o.Definition.XPReward, progression.AchievementReason(o.Definition.Code))
			if err != nil {
				awardErrs = append(awardErrs, fmt.Errorf("achievement %s xp: %w", o.Definition.Code, err))
				continue
			}
			state.Result.AchievementXP += res.Amount
			s.recordAward(state, res)
		}
	}

	return errors.Join(append([]error{evalErr}, awardErrs...)...)
}

// stepPublishEvents publishes collected events. Failures are logged only.
func (s *ProgressionFlowSaga) stepPublishEvents(log *logger.Logger, state *ProgressionFlowState) {
	if s.eventBus == nil {
		return
	}

	last := state.LastAward
	if last.Level > state.StartLevel {
		state.Events = append(state.Events, withCorrelation(
			shared.NewLevelUpEvent(state.Input.UserID, state.StartLevel, last.Level, s.ledger.Table().NameFor(last.Level)),
			state.correlationID))
	}

	for _, event := range state.Events {
		if err := s.eventBus.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// recordAward folds one persisted award into the flow state.
func (s *ProgressionFlowSaga) recordAward(state *ProgressionFlowState, res progression.AwardResult) {
	state.LastAward = res
	state.Result.XPAwarded += res.Amount
	state.Events = append(state.Events, withCorrelation(
		shared.NewXPAwardedEvent(res.UserID, res.Amount, res.XP, res.Reason), state.correlationID))
}

// finish fills the summary fields from the last persisted award.
func (s *ProgressionFlowSaga) finish(state *ProgressionFlowState) *ProgressionResult {
	r := state.Result
	last := state.LastAward
	r.XP = last.XP
	r.Level = last.Level
	r.LevelName = s.ledger.Table().NameFor(last.Level)
	if last.Level > state.StartLevel {
		r.LeveledUp = true
		r.NewLevel = last.Level
	}
	r.ProcessedAt = s.now().UTC()
	return r
}

// fail records a fatal failure and wraps it with flow context.
func (s *ProgressionFlowSaga) fail(log *logger.Logger, state *ProgressionFlowState) error {
	s.observer.RecordFlow(time.Since(state.StartedAt), state.Error)
	log.Warn("progression flow failed",
		logger.String("step", string(state.FailedStep)), logger.Err(state.Error))

	return &ProgressionFlowError{
		Step:   state.FailedStep,
		UserID: state.Input.UserID,
		Cause:  state.Error,
		Message: fmt.Sprintf("progression flow failed at step '%s': %v",
			state.FailedStep, state.Error),
	}
}

// withCorrelation stamps the correlation id on the events this saga emits.
func withCorrelation(event shared.Event, id string) shared.Event {
	switch e := event.(type) {
	case shared.XPAwardedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.LevelUpEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.StreakUpdatedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.AchievementGrantedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	default:
		return event
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionFlowError is returned when the flow fails before any XP is persisted.
type ProgressionFlowError struct {
	Step    ProgressionFlowStep
	UserID  string
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *ProgressionFlowError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ProgressionFlowError) Unwrap() error {
	return e.Cause
}
