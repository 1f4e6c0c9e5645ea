package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the progression domain.
type UserID string

// QuestID identifies a catalog quest.
type QuestID string

// BadgeID identifies a catalog badge.
type BadgeID string

// Category is the fixed enumeration of quest categories.
type Category string

const (
	CategoryLegal    Category = "legal"
	CategorySocial   Category = "social"
	CategoryCultural Category = "cultural"
	CategoryFood     Category = "food"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryLegal, CategorySocial, CategoryCultural, CategoryFood}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Rarity orders badges: common < rare < epic < legendary.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rarities lists every rarity in ascending order.
var Rarities = []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}

// Rank returns the ordinal of r (0 for common). Unknown rarities sort last.
func (r Rarity) Rank() int {
	for i, known := range Rarities {
		if r == known {
			return i
		}
	}
	return len(Rarities)
}

// Valid reports whether r is one of the known rarities.
func (r Rarity) Valid() bool { return r.Rank() < len(Rarities) }

// Difficulty buckets quests by the XP they award.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// DifficultyOf classifies a quest XP amount: <=15 beginner, <=25 intermediate, else advanced.
func DifficultyOf(xp int64) Difficulty {
	switch {
	case xp <= 15:
		return DifficultyBeginner
	case xp <= 25:
		return DifficultyIntermediate
	default:
		return DifficultyAdvanced
	}
}

// Profile is a user's progression record. Level is cached and must equal LevelFromXP(TotalXP).
type Profile struct {
	ID                UserID    `json:"id"`
	DisplayName       string    `json:"display_name"`
	TotalPoints       int64     `json:"total_points"`
	TotalXP           int64     `json:"total_xp"`
	Level             int64     `json:"level"`
	DailySpinLastUsed Date      `json:"daily_spin_last_used,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Quest is immutable catalog reference data.
type Quest struct {
	ID              QuestID  `json:"id" db:"id" validate:"required,max=64"`
	Title           string   `json:"title" db:"title" validate:"required"`
	Description     string   `json:"description,omitempty" db:"description"`
	Category        Category `json:"category" db:"category" validate:"required,oneof=legal social cultural food"`
	Points          int64    `json:"points" db:"points" validate:"gte=0"`
	XP              int64    `json:"xp" db:"xp" validate:"gte=0"`
	Tips            string   `json:"tips,omitempty" db:"tips"`
	Region          string   `json:"region,omitempty" db:"region"`
	Featured        bool     `json:"featured,omitempty" db:"featured"`
	CompletionQuote string   `json:"completion_quote,omitempty" db:"completion_quote"`
	Icon            string   `json:"icon,omitempty" db:"icon"`
	OrderIndex      int      `json:"order_index" db:"order_index"`
}

// Difficulty derives the quest's difficulty tier from its XP.
func (q Quest) Difficulty() Difficulty { return DifficultyOf(q.XP) }

// QuestProgress is the single progress row for a (user, quest) pair.
type QuestProgress struct {
	ID          string     `json:"id"`
	UserID      UserID     `json:"user_id"`
	QuestID     QuestID    `json:"quest_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	XPEarned    int64      `json:"xp_earned"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Badge is a catalog achievement with a declarative unlock rule.
type Badge struct {
	ID          BadgeID `json:"id" validate:"required,max=64"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	Rarity      Rarity  `json:"rarity" validate:"required,oneof=common rare epic legendary"`
	UnlockRule  RawRule `json:"unlock_rule"`
}

// UserBadge records a permanent unlock.
type UserBadge struct {
	UserID     UserID    `json:"user_id"`
	BadgeID    BadgeID   `json:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// RewardType is the kind of daily spin outcome.
type RewardType string

const (
	RewardXP    RewardType = "xp"
	RewardQuest RewardType = "quest"
)

// SpinReward is one segment of the daily wheel.
type SpinReward struct {
	Type  RewardType `json:"type"`
	Value int64      `json:"value"`
	Label string     `json:"label"`
}

// DailySpin is the audit row of a user's spin on a calendar date.
type DailySpin struct {
	ID          string     `json:"id"`
	UserID      UserID     `json:"user_id"`
	Date        Date       `json:"date"`
	RewardType  RewardType `json:"reward_type"`
	RewardValue int64      `json:"reward_value"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LeaderboardRow is one aggregated ranking entry.
type LeaderboardRow struct {
	Rank                int    `json:"rank"`
	UserID              UserID `json:"user_id" db:"user_id"`
	DisplayName         string `json:"display_name" db:"display_name"`
	TotalPoints         int64  `json:"total_points" db:"total_points"`
	TotalXP             int64  `json:"total_xp" db:"total_xp"`
	Level               int64  `json:"level" db:"level"`
	CompletedQuestCount int64  `json:"completed_quest_count" db:"completed_quest_count"`
	BadgeCount          int64  `json:"badge_count" db:"badge_count"`
}

// Date is a calendar date in ISO form (YYYY-MM-DD). The zero value means "never".
type Date string

const dateLayout = "2006-01-02"

// DateOf returns the calendar date of t in loc (UTC when loc is nil).
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(dateLayout))
}

// ParseDate validates an ISO date string.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	// tolerate full timestamps, keep the date part
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d == "" }

// Before reports whether d is strictly before other. An unset date is before any set date.
func (d Date) Before(other Date) bool {
	if d.IsZero() {
		return !other.IsZero()
	}
	return string(d) < string(other)
}

func (d Date) String() string { return string(d) }

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", InvalidInput("user_id", "empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateID ensures a non-empty catalog id with a simple charset check.
func ValidateID(kind, id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return InvalidInput(kind+"_id", "empty %s id", kind)
	}
	// alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return InvalidInput(kind+"_id", "invalid %s id", kind)
	}
	return nil
}

// ProfileMutation derives the next profile state from the current one inside a
// storage transaction. Returning an error aborts the write.
type ProfileMutation func(current Profile) (Profile, error)
