package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questline/core"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutQuest(ctx, core.Quest{ID: "kela", Title: "Register with Kela", Category: core.CategoryLegal, Points: 20, XP: 15}))
	require.NoError(t, s.PutBadge(ctx, core.Badge{ID: "starter", Name: "Starter", Rarity: core.RarityCommon,
		UnlockRule: core.RawRule(`{"attribute":"total_completed_quests","op":">=","value":1}`)}))
	_, created, err := s.PutProfile(ctx, core.Profile{ID: "alice", DisplayName: "Alice", TotalXP: 90, TotalPoints: 10})
	require.NoError(t, err)
	require.True(t, created)
	return s
}

func addXP(xp, points int64) core.ProfileMutation {
	return func(p core.Profile) (core.Profile, error) {
		p.TotalXP += xp
		p.TotalPoints += points
		p.Level = core.LevelFromXP(p.TotalXP)
		return p, nil
	}
}

func TestProfileLifecycle(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Level)

	p, created, err := s.PutProfile(ctx, core.Profile{ID: "alice", DisplayName: "Alice K", TotalXP: 9999})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Alice K", p.DisplayName)
	assert.Equal(t, int64(90), p.TotalXP, "progression fields are never overwritten")

	_, err = s.GetProfile(ctx, "bob")
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = s.GetQuest(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCompleteQuestOnce(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now().UTC()
	prog := core.QuestProgress{ID: "p1", UserID: "alice", QuestID: "kela", Completed: true, CompletedAt: &now, XPEarned: 15}

	p, applied, err := s.CompleteQuest(ctx, prog, addXP(15, 20))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(105), p.TotalXP)
	assert.Equal(t, int64(2), p.Level)

	p, applied, err = s.CompleteQuest(ctx, prog, addXP(15, 20))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(105), p.TotalXP)

	done, err := s.ListCompletedQuests(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []core.QuestID{"kela"}, done)
}

func TestUpdateQuestNotes(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	updated, err := s.UpdateQuestNotes(ctx, "alice", "kela", "nothing yet")
	require.NoError(t, err)
	assert.False(t, updated, "no progress row")

	now := time.Now().UTC()
	_, _, err = s.CompleteQuest(ctx, core.QuestProgress{ID: "p1", UserID: "alice", QuestID: "kela", Completed: true, CompletedAt: &now, XPEarned: 15, Notes: "queue was long"}, addXP(15, 20))
	require.NoError(t, err)

	updated, err = s.UpdateQuestNotes(ctx, "alice", "kela", "queue was long")
	require.NoError(t, err)
	assert.False(t, updated)
	updated, err = s.UpdateQuestNotes(ctx, "alice", "kela", "bring a number ticket")
	require.NoError(t, err)
	assert.True(t, updated)

	row, _, err := s.GetQuestProgress(ctx, "alice", "kela")
	require.NoError(t, err)
	assert.Equal(t, "bring a number ticket", row.Notes)
	assert.True(t, row.Completed)
	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(105), p.TotalXP)

	_, err = s.UpdateQuestNotes(ctx, "ghost", "kela", "x")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCompleteQuestMutationErrorLeavesState(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	prog := core.QuestProgress{ID: "p1", UserID: "alice", QuestID: "kela", Completed: true}
	_, applied, err := s.CompleteQuest(ctx, prog, func(p core.Profile) (core.Profile, error) {
		return p, errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, applied)
	_, found, _ := s.GetQuestProgress(ctx, "alice", "kela")
	assert.False(t, found)
	p, _ := s.GetProfile(ctx, "alice")
	assert.Equal(t, int64(90), p.TotalXP)
}

func TestConcurrentCompletionAwardsOnce(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prog := core.QuestProgress{UserID: "alice", QuestID: "kela", Completed: true}
			_, applied, err := s.CompleteQuest(ctx, prog, addXP(15, 20))
			if err == nil && applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, appliedCount)
	p, _ := s.GetProfile(ctx, "alice")
	assert.Equal(t, int64(105), p.TotalXP)
}

func TestUserBadgeUnique(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	ub := core.UserBadge{UserID: "alice", BadgeID: "starter", UnlockedAt: time.Now()}
	ok, err := s.InsertUserBadge(ctx, ub)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.InsertUserBadge(ctx, ub)
	require.NoError(t, err)
	assert.False(t, ok)
	badges, _ := s.ListUserBadges(ctx, "alice")
	assert.Len(t, badges, 1)
}

func TestRecordSpinOncePerDate(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	spin := core.DailySpin{ID: "s1", UserID: "alice", Date: "2024-05-01", RewardType: core.RewardXP, RewardValue: 10}
	setDate := func(p core.Profile) (core.Profile, error) {
		p.TotalXP += 10
		p.DailySpinLastUsed = "2024-05-01"
		return p, nil
	}
	p, err := s.RecordSpin(ctx, spin, setDate)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.TotalXP)

	_, err = s.RecordSpin(ctx, spin, setDate)
	assert.True(t, errors.Is(err, core.ErrAlreadySpunToday))
	p, _ = s.GetProfile(ctx, "alice")
	assert.Equal(t, int64(100), p.TotalXP)

	got, ok, err := s.GetDailySpin(ctx, "alice", "2024-05-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.RewardValue)
}

func TestLeaderboardRows(t *testing.T) {
	s := New()
	ctx := context.Background()
	for id, pts := range map[core.UserID]int64{"u1": 300, "u2": 500, "u3": 400, "u0": 400} {
		_, _, err := s.PutProfile(ctx, core.Profile{ID: id, TotalPoints: pts})
		require.NoError(t, err)
	}
	rows, err := s.LeaderboardRows(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, core.UserID("u2"), rows[0].UserID)
	assert.Equal(t, core.UserID("u0"), rows[1].UserID)
	assert.Equal(t, core.UserID("u3"), rows[2].UserID)
}

func TestLeaderboardRowsTrackEveryWrite(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	_, _, err := s.PutProfile(ctx, core.Profile{ID: "bob", DisplayName: "Bob", TotalPoints: 25})
	require.NoError(t, err)

	rows, err := s.LeaderboardRows(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.UserID("bob"), rows[0].UserID)
	assert.Equal(t, 1, rows[0].Rank)

	_, _, err = s.CompleteQuest(ctx, core.QuestProgress{ID: "p", UserID: "alice", QuestID: "kela", Completed: true}, addXP(15, 20))
	require.NoError(t, err)
	_, err = s.InsertUserBadge(ctx, core.UserBadge{UserID: "alice", BadgeID: "starter"})
	require.NoError(t, err)
	_, _, err = s.PutProfile(ctx, core.Profile{ID: "alice", DisplayName: "Alice K"})
	require.NoError(t, err)

	rows, err = s.LeaderboardRows(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.LeaderboardRow{
		Rank: 1, UserID: "alice", DisplayName: "Alice K", TotalPoints: 30, TotalXP: 105, Level: 2,
		CompletedQuestCount: 1, BadgeCount: 1,
	}, rows[0])
	assert.Equal(t, 2, rows[1].Rank)

	rows, err = s.LeaderboardRows(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	_, _, err := s.CompleteQuest(ctx, core.QuestProgress{ID: "p", UserID: "alice", QuestID: "kela", Completed: true}, addXP(15, 20))
	require.NoError(t, err)

	d := s.Export()
	other := New()
	other.Import(d)
	assert.Equal(t, d, other.Export())

	rows, _ := other.LeaderboardRows(ctx, 10)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].CompletedQuestCount)
}
