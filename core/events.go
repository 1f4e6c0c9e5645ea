package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventQuestCompleted EventType = "quest_completed"
	EventXPGained       EventType = "xp_gained"
	EventPointsAwarded  EventType = "points_awarded"
	EventLevelUp        EventType = "level_up"
	EventBadgeUnlocked  EventType = "badge_unlocked"
	EventDailySpin      EventType = "daily_spin"
)

// EventTypes lists every event type the engine publishes.
var EventTypes = []EventType{
	EventQuestCompleted, EventXPGained, EventPointsAwarded,
	EventLevelUp, EventBadgeUnlocked, EventDailySpin,
}

// Event represents an immutable domain event.
type Event struct {
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id"`
	QuestID  QuestID        `json:"quest_id,omitempty"`
	Delta    int64          `json:"delta,omitempty"`
	Total    int64          `json:"total,omitempty"`
	Level    int64          `json:"level,omitempty"`
	Badge    *Badge         `json:"badge,omitempty"`
	Reward   *SpinReward    `json:"reward,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewQuestCompleted(at time.Time, user UserID, quest Quest) Event {
	return Event{
		Type: EventQuestCompleted, Time: at.UTC(), UserID: user, QuestID: quest.ID,
		Metadata: map[string]any{"category": string(quest.Category)},
	}
}

func NewXPGained(at time.Time, user UserID, delta, total int64) Event {
	return Event{Type: EventXPGained, Time: at.UTC(), UserID: user, Delta: delta, Total: total}
}

func NewPointsAwarded(at time.Time, user UserID, delta, total int64) Event {
	return Event{Type: EventPointsAwarded, Time: at.UTC(), UserID: user, Delta: delta, Total: total}
}

func NewLevelUp(at time.Time, user UserID, level int64) Event {
	return Event{Type: EventLevelUp, Time: at.UTC(), UserID: user, Level: level}
}

func NewBadgeUnlocked(at time.Time, user UserID, badge Badge) Event {
	b := badge
	return Event{Type: EventBadgeUnlocked, Time: at.UTC(), UserID: user, Badge: &b}
}

func NewDailySpin(at time.Time, user UserID, reward SpinReward, date Date) Event {
	r := reward
	return Event{
		Type: EventDailySpin, Time: at.UTC(), UserID: user, Reward: &r,
		Metadata: map[string]any{"date": date.String()},
	}
}
