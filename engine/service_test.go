package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "questline/adapters/memory"
	"questline/core"
)

var day = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func fixedPicker(i int) RewardPicker { return func(int) int { return i } }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	store  *mem.Store
	svc    *ProgressionService
	clock  *clock
	events []core.Event
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: mem.New(), clock: &clock{t: day}}
	bus := NewEventBus(DispatchSync)
	var mu sync.Mutex
	bus.SubscribeAll(func(_ context.Context, e core.Event) {
		mu.Lock()
		f.events = append(f.events, e)
		mu.Unlock()
	})
	base := []Option{WithClock(f.clock.Now), WithLogger(quietLogger()), WithRewardPicker(fixedPicker(1))}
	f.svc = NewProgressionService(f.store, bus, append(base, opts...)...)
	return f
}

func (f *fixture) quest(t *testing.T, q core.Quest) {
	t.Helper()
	require.NoError(t, f.store.PutQuest(context.Background(), q))
}

func (f *fixture) badge(t *testing.T, id core.BadgeID, rarity core.Rarity, rule string) {
	t.Helper()
	require.NoError(t, f.store.PutBadge(context.Background(), core.Badge{ID: id, Name: string(id), Rarity: rarity, UnlockRule: core.RawRule(rule)}))
}

func (f *fixture) user(t *testing.T, p core.Profile) {
	t.Helper()
	_, _, err := f.store.PutProfile(context.Background(), p)
	require.NoError(t, err)
}

func (f *fixture) count(typ core.EventType) int {
	n := 0
	for _, e := range f.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestCompleteQuestAwardsAndLevelsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice", DisplayName: "Alice", TotalXP: 90, TotalPoints: 10})
	f.quest(t, core.Quest{ID: "sauna", Title: "Sauna", Category: core.CategoryCultural, XP: 15, Points: 20})

	res, err := f.svc.CompleteQuest(ctx, "alice", "sauna", "first time")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(105), res.Profile.TotalXP)
	assert.Equal(t, int64(30), res.Profile.TotalPoints)
	assert.Equal(t, int64(2), res.Profile.Level)
	assert.Equal(t, int64(1), res.PreviousLevel)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, int64(15), res.XPAwarded)
	assert.Equal(t, int64(20), res.PointsAwarded)
	assert.Empty(t, res.NewBadges)

	assert.Equal(t, 1, f.count(core.EventQuestCompleted))
	assert.Equal(t, 1, f.count(core.EventXPGained))
	assert.Equal(t, 1, f.count(core.EventPointsAwarded))
	assert.Equal(t, 1, f.count(core.EventLevelUp))

	prog, found, err := f.store.GetQuestProgress(ctx, "alice", "sauna")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first time", prog.Notes)
	assert.Equal(t, int64(15), prog.XPEarned)
}

func TestCompleteQuestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	f.quest(t, core.Quest{ID: "kela", Title: "Kela", Category: core.CategoryLegal, XP: 20, Points: 30})

	_, err := f.svc.CompleteQuest(ctx, "alice", "kela", "")
	require.NoError(t, err)
	res, err := f.svc.CompleteQuest(ctx, "alice", "kela", "again")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(20), res.Profile.TotalXP)
	assert.Equal(t, int64(30), res.Profile.TotalPoints)
	assert.Equal(t, 1, f.count(core.EventQuestCompleted))
}

func TestCompleteQuestRepeatUpdatesNotesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	f.quest(t, core.Quest{ID: "sauna", Title: "Sauna", Category: core.CategoryCultural, XP: 15, Points: 20})

	_, err := f.svc.CompleteQuest(ctx, "alice", "sauna", "first")
	require.NoError(t, err)
	first, _, err := f.store.GetQuestProgress(ctx, "alice", "sauna")
	require.NoError(t, err)

	f.clock.Add(time.Hour)
	res, err := f.svc.CompleteQuest(ctx, "alice", "sauna", "edited notes")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(15), res.Profile.TotalXP)
	assert.Equal(t, int64(20), res.Profile.TotalPoints)

	prog, found, err := f.store.GetQuestProgress(ctx, "alice", "sauna")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "edited notes", prog.Notes)
	assert.Equal(t, first.ID, prog.ID)
	assert.Equal(t, first.CompletedAt, prog.CompletedAt)
	assert.Equal(t, int64(15), prog.XPEarned)
	assert.Equal(t, 1, f.count(core.EventQuestCompleted))
	assert.Equal(t, 1, f.count(core.EventXPGained))
}

func TestCompleteQuestConcurrentCallsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	f.quest(t, core.Quest{ID: "kela", Title: "Kela", Category: core.CategoryLegal, XP: 20, Points: 30})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.CompleteQuest(ctx, "alice", "kela", "")
		}()
	}
	wg.Wait()
	p, err := f.svc.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.TotalXP)
	assert.Equal(t, int64(30), p.TotalPoints)
}

func TestCompleteQuestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	f.quest(t, core.Quest{ID: "kela", Title: "Kela", Category: core.CategoryLegal, XP: 20})

	_, err := f.svc.CompleteQuest(ctx, "alice", "missing", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.svc.CompleteQuest(ctx, "bob", "kela", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.svc.CompleteQuest(ctx, "  ", "kela", "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = f.svc.CompleteQuest(ctx, "alice", "bad id!", "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.NotErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrPersistence)
	var ie *core.InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "quest_id", ie.Field)
	_, err = f.svc.EvaluateBadges(ctx, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = f.svc.SpinWheel(ctx, " ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, f.events)
}

func TestFoodBadgeUnlocksOnFifthCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	for i := 1; i <= 5; i++ {
		f.quest(t, core.Quest{ID: core.QuestID(fmt.Sprintf("food-%d", i)), Title: "Food", Category: core.CategoryFood, XP: 10, Points: 5})
	}
	f.badge(t, "foodie", core.RarityRare, `{"attribute":"completed_quests_by_category[food]","op":">=","value":5}`)
	f.badge(t, "broken", core.RarityCommon, `{"attribute":"mystery","op":">=","value":1}`)

	for i := 1; i <= 4; i++ {
		res, err := f.svc.CompleteQuest(ctx, "alice", core.QuestID(fmt.Sprintf("food-%d", i)), "")
		require.NoError(t, err)
		assert.Empty(t, res.NewBadges)
	}
	res, err := f.svc.CompleteQuest(ctx, "alice", "food-5", "")
	require.NoError(t, err)
	require.Len(t, res.NewBadges, 1)
	assert.Equal(t, core.BadgeID("foodie"), res.NewBadges[0].ID)
	assert.Equal(t, 1, f.count(core.EventBadgeUnlocked))

	again, err := f.svc.EvaluateBadges(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, again)

	statuses, err := f.svc.GetBadges(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, core.BadgeID("broken"), statuses[0].ID)
	assert.False(t, statuses[0].Unlocked)
	assert.True(t, statuses[1].Unlocked)
	require.NotNil(t, statuses[1].UnlockedAt)
}

func TestCascadingBadgesUnlockTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})
	f.quest(t, core.Quest{ID: "q1", Title: "Q1", Category: core.CategorySocial, XP: 10, Points: 10})
	f.badge(t, "starter", core.RarityCommon, `{"attribute":"total_completed_quests","op":">=","value":1}`)
	f.badge(t, "collector", core.RarityEpic, `{"attribute":"total_badges","op":">=","value":1}`)

	res, err := f.svc.CompleteQuest(ctx, "alice", "q1", "")
	require.NoError(t, err)
	require.Len(t, res.NewBadges, 2)
	assert.Equal(t, core.BadgeID("starter"), res.NewBadges[0].ID)
	assert.Equal(t, core.BadgeID("collector"), res.NewBadges[1].ID)
}

type failingBadges struct {
	*mem.Store
}

func (failingBadges) InsertUserBadge(context.Context, core.UserBadge) (bool, error) {
	return false, errors.New("disk full")
}

func TestBadgeFailureDoesNotFailCompletion(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	_, _, err := store.PutProfile(ctx, core.Profile{ID: "alice"})
	require.NoError(t, err)
	require.NoError(t, store.PutQuest(ctx, core.Quest{ID: "q1", Title: "Q1", Category: core.CategorySocial, XP: 10, Points: 10}))
	require.NoError(t, store.PutBadge(ctx, core.Badge{ID: "starter", Name: "Starter", Rarity: core.RarityCommon,
		UnlockRule: core.RawRule(`{"attribute":"total_completed_quests","op":">=","value":1}`)}))

	svc := NewProgressionService(failingBadges{store}, NewEventBus(DispatchSync), WithLogger(quietLogger()))
	res, err := svc.CompleteQuest(ctx, "alice", "q1", "")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Empty(t, res.NewBadges)
	assert.Equal(t, int64(10), res.Profile.TotalXP)

	_, err = svc.EvaluateBadges(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func TestSpinWheelOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice", TotalXP: 95})

	ok, err := f.svc.CanSpin(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := f.svc.SpinWheel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.RewardXP, res.Reward.Type)
	assert.Equal(t, int64(10), res.Reward.Value)
	assert.Equal(t, core.Date("2024-03-15"), res.Date)
	assert.Equal(t, int64(105), res.Profile.TotalXP)
	assert.Equal(t, int64(2), res.Profile.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, f.count(core.EventDailySpin))
	assert.Equal(t, 1, f.count(core.EventLevelUp))

	_, err = f.svc.SpinWheel(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrAlreadySpunToday)
	ok, err = f.svc.CanSpin(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := f.svc.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(105), p.TotalXP)

	spin, found, err := f.svc.GetDailySpin(ctx, "alice", "2024-03-15")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), spin.RewardValue)

	f.clock.Add(24 * time.Hour)
	_, err = f.svc.SpinWheel(ctx, "alice")
	require.NoError(t, err)
}

func TestSpinWheelConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, rejected := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SpinWheel(ctx, "alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, core.ErrAlreadySpunToday):
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 11, rejected)
	p, err := f.svc.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.TotalXP)
}

func TestSpinQuestRewardLeavesXP(t *testing.T) {
	f := newFixture(t, WithRewardPicker(fixedPicker(5)))
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice", TotalXP: 40})

	res, err := f.svc.SpinWheel(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.RewardQuest, res.Reward.Type)
	assert.Equal(t, int64(40), res.Profile.TotalXP)
	assert.Equal(t, core.Date("2024-03-15"), res.Profile.DailySpinLastUsed)
	assert.Equal(t, 0, f.count(core.EventXPGained))
}

func TestSpinDateFollowsLocation(t *testing.T) {
	helsinki := time.FixedZone("EET", 2*60*60)
	f := newFixture(t, WithLocation(helsinki))
	f.clock = &clock{t: time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)}
	f.svc.now = f.clock.Now
	f.user(t, core.Profile{ID: "alice"})

	res, err := f.svc.SpinWheel(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, core.Date("2024-03-16"), res.Date)
}

func TestSpinRewardDistributionIsUniform(t *testing.T) {
	pick := NewRandomPicker()
	counts := make([]int, 6)
	const draws = 60000
	for i := 0; i < draws; i++ {
		counts[pick(6)]++
	}
	for i, c := range counts {
		assert.InDelta(t, draws/6, c, 800, "segment %d", i)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "u1", TotalPoints: 300})
	f.user(t, core.Profile{ID: "u2", TotalPoints: 500})
	f.user(t, core.Profile{ID: "u3", TotalPoints: 400})

	rows, err := f.svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{500, 400, 300}, []int64{rows[0].TotalPoints, rows[1].TotalPoints, rows[2].TotalPoints})
	assert.Equal(t, []int{1, 2, 3}, []int{rows[0].Rank, rows[1].Rank, rows[2].Rank})

	rows, err = f.svc.GetLeaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestListQuestsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.quest(t, core.Quest{ID: "b", Title: "B", Category: core.CategoryFood, XP: 30, OrderIndex: 1})
	f.quest(t, core.Quest{ID: "a", Title: "A", Category: core.CategoryFood, XP: 10, OrderIndex: 2})
	f.quest(t, core.Quest{ID: "c", Title: "C", Category: core.CategoryLegal, XP: 20, OrderIndex: 9})

	all, err := f.svc.ListQuests(ctx, QuestFilter{})
	require.NoError(t, err)
	ids := make([]core.QuestID, 0, len(all))
	for _, q := range all {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []core.QuestID{"c", "b", "a"}, ids)

	food, err := f.svc.ListQuests(ctx, QuestFilter{Category: core.CategoryFood, Difficulty: core.DifficultyBeginner})
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, core.QuestID("a"), food[0].ID)

	_, err = f.svc.ListQuests(ctx, QuestFilter{Category: "sports"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.EqualError(t, err, `unknown category "sports"`)
	_, err = f.svc.ListQuests(ctx, QuestFilter{Difficulty: "hard"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, core.Profile{ID: "alice", TotalXP: 150})
	f.quest(t, core.Quest{ID: "q1", Title: "Q1", Category: core.CategorySocial, XP: 50})
	f.quest(t, core.Quest{ID: "q2", Title: "Q2", Category: core.CategorySocial, XP: 50})

	_, err := f.svc.CompleteQuest(ctx, "alice", "q1", "")
	require.NoError(t, err)
	view, err := f.svc.GetProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), view.Profile.TotalXP)
	assert.Equal(t, int64(2), view.Level.Level)
	assert.Equal(t, int64(100), view.Level.XPInLevel)
	assert.Equal(t, int64(300), view.Level.XPNeeded)
	assert.Equal(t, 1, view.CompletedQuests)
	assert.Equal(t, 2, view.TotalQuests)
	assert.True(t, view.CanSpin)

	_, err = f.svc.GetProgress(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRuleCacheReparsesChangedRule(t *testing.T) {
	f := newFixture(t, WithRuleCacheSize(8))
	b := core.Badge{ID: "lvl", UnlockRule: core.RawRule(`{"attribute":"level","op":">=","value":2}`)}
	r1, err := f.svc.parseRule(b)
	require.NoError(t, err)
	r2, err := f.svc.parseRule(b)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	b.UnlockRule = core.RawRule(`{"attribute":"level","op":">=","value":3}`)
	r3, err := f.svc.parseRule(b)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r3)
}

func TestNewProgressionServicePanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewProgressionService(nil, NewEventBus(DispatchSync)) })
	assert.Panics(t, func() { NewProgressionService(mem.New(), nil) })
}
