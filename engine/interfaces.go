package engine

import (
	"context"

	"questline/core"
)

// Storage abstracts persistence for progression state. Implementations must
// make CompleteQuest, InsertUserBadge and RecordSpin atomic with respect to the
// (user, quest), (user, badge) and (user, date) uniqueness they guard.
type Storage interface {
	GetProfile(ctx context.Context, user core.UserID) (core.Profile, error)
	GetQuest(ctx context.Context, id core.QuestID) (core.Quest, error)
	ListQuests(ctx context.Context) ([]core.Quest, error)
	GetQuestProgress(ctx context.Context, user core.UserID, quest core.QuestID) (core.QuestProgress, bool, error)
	ListCompletedQuests(ctx context.Context, user core.UserID) ([]core.QuestID, error)

	// CompleteQuest marks progress completed and applies mutate to the owner's
	// profile in one step. When the pair was already completed nothing is
	// written, applied is false and the current profile is returned.
	CompleteQuest(ctx context.Context, progress core.QuestProgress, mutate core.ProfileMutation) (profile core.Profile, applied bool, err error)
	// UpdateQuestNotes replaces the notes of an existing progress row without
	// touching any other field. updated is false when the row is missing or
	// already holds notes.
	UpdateQuestNotes(ctx context.Context, user core.UserID, quest core.QuestID, notes string) (updated bool, err error)

	ListBadges(ctx context.Context) ([]core.Badge, error)
	ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error)
	// InsertUserBadge reports inserted=false, without error, for an existing pair.
	InsertUserBadge(ctx context.Context, ub core.UserBadge) (inserted bool, err error)

	GetDailySpin(ctx context.Context, user core.UserID, date core.Date) (core.DailySpin, bool, error)
	// RecordSpin inserts the spin row and applies mutate in one step. A second
	// spin for the same (user, date) fails with core.ErrAlreadySpunToday.
	RecordSpin(ctx context.Context, spin core.DailySpin, mutate core.ProfileMutation) (core.Profile, error)

	// LeaderboardRows returns at most limit rows ordered by total points
	// descending, then user id ascending.
	LeaderboardRows(ctx context.Context, limit int) ([]core.LeaderboardRow, error)
}

// Seeder loads reference data and provisions profiles.
type Seeder interface {
	PutQuest(ctx context.Context, q core.Quest) error
	PutBadge(ctx context.Context, b core.Badge) error
	// PutProfile creates the profile or updates its display name. Progression
	// fields of an existing profile are never overwritten.
	PutProfile(ctx context.Context, p core.Profile) (stored core.Profile, created bool, err error)
}

// Store is a Storage that can also be seeded.
type Store interface {
	Storage
	Seeder
}
