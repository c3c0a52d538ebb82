// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after a progression flow completes;
// subscribers are in-process (metrics, logging) and nothing is pushed to clients.
const (
	// Progress events
	EventXPAwarded     EventType = "progress.xp_awarded"
	EventLevelUp       EventType = "progress.level_up"
	EventStreakUpdated EventType = "progress.streak_updated"

	// Achievement events
	EventAchievementGranted EventType = "achievement.granted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted for every persisted XP award.
type XPAwardedEvent struct {
	BaseEvent
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
	Reason   string `json:"reason"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"amount":    e.Amount,
		"new_total": e.NewTotal,
		"reason":    e.Reason,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID string, amount, newTotal int, reason string) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, userID),
		Amount:    amount,
		NewTotal:  newTotal,
		Reason:    reason,
	}
}

// LevelUpEvent is emitted when a flow ends on a higher level than it started.
type LevelUpEvent struct {
	BaseEvent
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
	LevelName string `json:"level_name"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.AggregateId,
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
		"level_name": e.LevelName,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, levelName string) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		LevelName: levelName,
	}
}

// StreakUpdatedEvent is emitted when a completed activity recomputes the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	PreviousStreak int  `json:"previous_streak"`
	CurrentStreak  int  `json:"current_streak"`
	TierCrossed    bool `json:"tier_crossed"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.AggregateId,
		"previous_streak": e.PreviousStreak,
		"current_streak":  e.CurrentStreak,
		"tier_crossed":    e.TierCrossed,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, previous, current int, tierCrossed bool) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, userID),
		PreviousStreak: previous,
		CurrentStreak:  current,
		TierCrossed:    tierCrossed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementGrantedEvent is emitted once per newly created grant.
type AchievementGrantedEvent struct {
	BaseEvent
	Code     string `json:"code"`
	Rarity   string `json:"rarity"`
	XPReward int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.AggregateId,
		"code":      e.Code,
		"rarity":    e.Rarity,
		"xp_reward": e.XPReward,
	}
}

// NewAchievementGrantedEvent creates a new AchievementGrantedEvent.
func NewAchievementGrantedEvent(userID, code, rarity string, xpReward int) AchievementGrantedEvent {
	return AchievementGrantedEvent{
		BaseEvent: NewBaseEvent(EventAchievementGranted, userID),
		Code:      code,
		Rarity:    rarity,
		XPReward:  xpReward,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
