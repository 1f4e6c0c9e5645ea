package engine

import (
	"context"
	crand "crypto/rand"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"questline/core"
)

// DefaultRewardTable is the daily wheel: five XP segments and one bonus quest,
// all equally likely.
func DefaultRewardTable() []core.SpinReward {
	return []core.SpinReward{
		{Type: core.RewardXP, Value: 5, Label: "+5 XP"},
		{Type: core.RewardXP, Value: 10, Label: "+10 XP"},
		{Type: core.RewardXP, Value: 15, Label: "+15 XP"},
		{Type: core.RewardXP, Value: 20, Label: "+20 XP"},
		{Type: core.RewardXP, Value: 25, Label: "+25 XP"},
		{Type: core.RewardQuest, Value: 0, Label: "Bonus quest"},
	}
}

// RewardPicker returns an index in [0, n).
type RewardPicker func(n int) int

// NewRandomPicker returns a uniform picker backed by a ChaCha8 stream seeded
// from the operating system's CSPRNG. Safe for concurrent use.
func NewRandomPicker() RewardPicker {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	var mu sync.Mutex
	r := rand.New(rand.NewChaCha8(seed))
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.IntN(n)
	}
}

// SpinResult is the outcome of SpinWheel.
type SpinResult struct {
	Reward    core.SpinReward `json:"reward"`
	Date      core.Date       `json:"date"`
	Profile   core.Profile    `json:"profile"`
	LeveledUp bool            `json:"leveled_up"`
	NewBadges []core.Badge    `json:"new_badges"`
}

// CanSpin reports whether user has not spun yet on today's calendar date.
func (s *ProgressionService) CanSpin(ctx context.Context, user core.UserID) (bool, error) {
	return s.CanSpinOn(ctx, user, s.today())
}

// CanSpinOn reports whether user's last spin date is unset or strictly before today.
func (s *ProgressionService) CanSpinOn(ctx context.Context, user core.UserID, today core.Date) (bool, error) {
	p, err := s.GetProfile(ctx, user)
	if err != nil {
		return false, err
	}
	return p.DailySpinLastUsed.Before(today), nil
}

// SpinWheel draws one reward for user and applies it. A second spin on the
// same calendar date fails with core.ErrAlreadySpunToday and changes nothing.
func (s *ProgressionService) SpinWheel(ctx context.Context, user core.UserID) (SpinResult, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return SpinResult{}, err
	}
	now := s.now()
	today := core.DateOf(now, s.loc)
	p, err := s.storage.GetProfile(ctx, user)
	if err != nil {
		return SpinResult{}, core.Persistence("get profile", err)
	}
	if !p.DailySpinLastUsed.Before(today) {
		return SpinResult{}, core.ErrAlreadySpunToday
	}

	reward := s.rewards[s.pick(len(s.rewards))]
	spin := core.DailySpin{
		ID:          uuid.NewString(),
		UserID:      user,
		Date:        today,
		RewardType:  reward.Type,
		RewardValue: reward.Value,
		CreatedAt:   now.UTC(),
	}
	var before core.Profile
	updated, err := s.storage.RecordSpin(ctx, spin, func(cur core.Profile) (core.Profile, error) {
		before = cur
		if !cur.DailySpinLastUsed.Before(today) {
			return cur, core.ErrAlreadySpunToday
		}
		next := cur
		if reward.Type == core.RewardXP {
			var err error
			if next, err = awardXP(cur, reward.Value, 0, now.UTC()); err != nil {
				return cur, err
			}
		}
		next.DailySpinLastUsed = today
		next.UpdatedAt = now.UTC()
		return next, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrAlreadySpunToday) {
			return SpinResult{}, core.ErrAlreadySpunToday
		}
		return SpinResult{}, core.Persistence("record spin", err)
	}

	res := SpinResult{
		Reward:    reward,
		Date:      today,
		Profile:   updated,
		LeveledUp: updated.Level > before.Level,
		NewBadges: []core.Badge{},
	}
	s.log.Info("daily spin", "user", user, "date", today, "reward", reward.Type, "value", reward.Value)
	at := now.UTC()
	s.bus.Publish(ctx, core.NewDailySpin(at, user, reward, today))
	s.publishProgress(ctx, at, before, updated)

	if reward.Type == core.RewardXP && reward.Value > 0 {
		granted, err := s.grantBadges(ctx, updated)
		if err != nil {
			s.log.Error("badge grant failed", "user", user, "error", err)
		}
		res.NewBadges = append(res.NewBadges, granted...)
	}
	return res, nil
}

// GetDailySpin returns the audit row of user's spin on date, if any.
func (s *ProgressionService) GetDailySpin(ctx context.Context, user core.UserID, date core.Date) (core.DailySpin, bool, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.DailySpin{}, false, err
	}
	spin, ok, err := s.storage.GetDailySpin(ctx, user, date)
	return spin, ok, core.Persistence("get daily spin", err)
}
