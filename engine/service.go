package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"questline/core"
	"questline/leaderboard"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	DefaultRuleCacheSize    = 256
)

// ProgressionService applies quest completions, daily spins and badge grants
// to user profiles held in Storage, and publishes the resulting domain events.
type ProgressionService struct {
	storage Storage
	bus     *EventBus
	log     *slog.Logger
	now     func() time.Time
	loc     *time.Location

	rewards []core.SpinReward
	pick    RewardPicker

	rules     *lru.Cache
	evaluator core.BadgeEvaluator

	lbDefault int
	lbMax     int
}

// Option configures a ProgressionService.
type Option func(*ProgressionService)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ProgressionService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ProgressionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone whose calendar date bounds the daily spin. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *ProgressionService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRewardTable replaces the daily wheel segments.
func WithRewardTable(rewards []core.SpinReward) Option {
	return func(s *ProgressionService) {
		if len(rewards) > 0 {
			s.rewards = append([]core.SpinReward(nil), rewards...)
		}
	}
}

// WithRewardPicker replaces the random segment picker.
func WithRewardPicker(p RewardPicker) Option {
	return func(s *ProgressionService) {
		if p != nil {
			s.pick = p
		}
	}
}

// WithLeaderboardLimits sets the default and maximum leaderboard size.
func WithLeaderboardLimits(def, max int) Option {
	return func(s *ProgressionService) {
		if def > 0 {
			s.lbDefault = def
		}
		if max > 0 {
			s.lbMax = max
		}
		if s.lbDefault > s.lbMax {
			s.lbDefault = s.lbMax
		}
	}
}

// WithRuleCacheSize bounds the number of parsed unlock rules kept in memory.
func WithRuleCacheSize(n int) Option {
	return func(s *ProgressionService) {
		if n <= 0 {
			return
		}
		if c, err := lru.New(n); err == nil {
			s.rules = c
		}
	}
}

func NewProgressionService(storage Storage, bus *EventBus, opts ...Option) *ProgressionService {
	if storage == nil || bus == nil {
		panic("NewProgressionService requires non-nil storage and bus")
	}
	s := &ProgressionService{
		storage:   storage,
		bus:       bus,
		log:       slog.Default(),
		now:       time.Now,
		loc:       time.UTC,
		rewards:   DefaultRewardTable(),
		pick:      NewRandomPicker(),
		lbDefault: DefaultLeaderboardLimit,
		lbMax:     MaxLeaderboardLimit,
	}
	s.rules, _ = lru.New(DefaultRuleCacheSize)
	for _, o := range opts {
		o(s)
	}
	s.evaluator = core.BadgeEvaluator{Parse: s.parseRule}
	return s
}

type cachedRule struct {
	rule core.Rule
	err  error
}

func (s *ProgressionService) parseRule(b core.Badge) (core.Rule, error) {
	key := string(b.ID) + "\x00" + string(b.UnlockRule)
	if v, ok := s.rules.Get(key); ok {
		c := v.(cachedRule)
		return c.rule, c.err
	}
	r, err := core.ParseRule(b.UnlockRule)
	s.rules.Add(key, cachedRule{rule: r, err: err})
	return r, err
}

// Subscribe convenience method.
func (s *ProgressionService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *ProgressionService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

func (s *ProgressionService) Close() { s.bus.Close() }

// CompletionResult is the outcome of CompleteQuest.
type CompletionResult struct {
	Profile       core.Profile `json:"profile"`
	Quest         core.Quest   `json:"quest"`
	Applied       bool         `json:"applied"`
	XPAwarded     int64        `json:"xp_awarded"`
	PointsAwarded int64        `json:"points_awarded"`
	PreviousLevel int64        `json:"previous_level"`
	LeveledUp     bool         `json:"leveled_up"`
	NewBadges     []core.Badge `json:"new_badges"`
}

// CompleteQuest marks quest completed for user exactly once and awards its XP
// and points. Repeating the call succeeds without awarding anything.
// Badge grants are best-effort: their failure is logged and does not fail
// the completion.
func (s *ProgressionService) CompleteQuest(ctx context.Context, user core.UserID, questID core.QuestID, notes string) (CompletionResult, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return CompletionResult{}, err
	}
	if err := core.ValidateID("quest", string(questID)); err != nil {
		return CompletionResult{}, err
	}
	quest, err := s.storage.GetQuest(ctx, questID)
	if err != nil {
		return CompletionResult{}, core.Persistence("get quest", err)
	}
	profile, err := s.storage.GetProfile(ctx, user)
	if err != nil {
		return CompletionResult{}, core.Persistence("get profile", err)
	}
	res := CompletionResult{Profile: profile, Quest: quest, NewBadges: []core.Badge{}, PreviousLevel: profile.Level}

	existing, found, err := s.storage.GetQuestProgress(ctx, user, questID)
	if err != nil {
		return CompletionResult{}, core.Persistence("get quest progress", err)
	}
	if found && existing.Completed {
		if existing.Notes != notes {
			if _, err := s.storage.UpdateQuestNotes(ctx, user, questID, notes); err != nil {
				return CompletionResult{}, core.Persistence("update quest notes", err)
			}
			s.log.Debug("quest notes updated", "user", user, "quest", questID)
		}
		return res, nil
	}

	now := s.now().UTC()
	progress := core.QuestProgress{
		ID:          uuid.NewString(),
		UserID:      user,
		QuestID:     questID,
		Completed:   true,
		CompletedAt: &now,
		XPEarned:    quest.XP,
		Notes:       notes,
		CreatedAt:   now,
	}
	var before core.Profile
	updated, applied, err := s.storage.CompleteQuest(ctx, progress, func(p core.Profile) (core.Profile, error) {
		before = p
		return awardXP(p, quest.XP, quest.Points, now)
	})
	if err != nil {
		return CompletionResult{}, core.Persistence("complete quest", err)
	}
	res.Profile = updated
	if !applied {
		return res, nil
	}
	res.Applied = true
	res.XPAwarded = quest.XP
	res.PointsAwarded = quest.Points
	res.PreviousLevel = before.Level
	res.LeveledUp = updated.Level > before.Level

	s.log.Info("quest completed",
		"user", user, "quest", questID, "xp", quest.XP, "points", quest.Points,
		"total_xp", updated.TotalXP, "level", updated.Level)
	s.publishProgress(ctx, now, before, updated)
	s.bus.Publish(ctx, core.NewQuestCompleted(now, user, quest))

	granted, err := s.grantBadges(ctx, updated)
	if err != nil {
		s.log.Error("badge grant failed", "user", user, "quest", questID, "error", err)
	}
	res.NewBadges = append(res.NewBadges, granted...)
	return res, nil
}

// awardXP adds xp and points to p and re-derives its level.
func awardXP(p core.Profile, xp, points int64, now time.Time) (core.Profile, error) {
	var err error
	if p.TotalXP, err = core.AddSafe(p.TotalXP, xp); err != nil {
		return p, fmt.Errorf("total_xp: %w", err)
	}
	if p.TotalPoints, err = core.AddSafe(p.TotalPoints, points); err != nil {
		return p, fmt.Errorf("total_points: %w", err)
	}
	p.Level = core.LevelFromXP(p.TotalXP)
	p.UpdatedAt = now
	return p, nil
}

func (s *ProgressionService) publishProgress(ctx context.Context, at time.Time, before, after core.Profile) {
	if d := after.TotalXP - before.TotalXP; d > 0 {
		s.bus.Publish(ctx, core.NewXPGained(at, after.ID, d, after.TotalXP))
	}
	if d := after.TotalPoints - before.TotalPoints; d > 0 {
		s.bus.Publish(ctx, core.NewPointsAwarded(at, after.ID, d, after.TotalPoints))
	}
	if after.Level > before.Level {
		s.log.Info("level up", "user", after.ID, "from", before.Level, "to", after.Level)
		s.bus.Publish(ctx, core.NewLevelUp(at, after.ID, after.Level))
	}
}

type snapshot struct {
	state  core.UserState
	quests []core.Quest
	badges []core.Badge
	owned  []core.UserBadge
	done   []core.QuestID
}

// loadSnapshot reads everything badge rules may reference, concurrently.
func (s *ProgressionService) loadSnapshot(ctx context.Context, p core.Profile) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.quests, err = s.storage.ListQuests(gctx)
		return core.Persistence("list quests", err)
	})
	g.Go(func() (err error) {
		snap.done, err = s.storage.ListCompletedQuests(gctx, p.ID)
		return core.Persistence("list completed quests", err)
	})
	g.Go(func() (err error) {
		snap.badges, err = s.storage.ListBadges(gctx)
		return core.Persistence("list badges", err)
	})
	g.Go(func() (err error) {
		snap.owned, err = s.storage.ListUserBadges(gctx, p.ID)
		return core.Persistence("list user badges", err)
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	snap.state = core.NewUserState(p, snap.quests, snap.done, snap.badges, snap.owned)
	return snap, nil
}

// grantBadges evaluates every locked badge against the user's persisted state
// and inserts the qualifying ones in rarity/id order. Badges already inserted
// by a concurrent call are skipped.
func (s *ProgressionService) grantBadges(ctx context.Context, p core.Profile) ([]core.Badge, error) {
	snap, err := s.loadSnapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[core.BadgeID]struct{}, len(snap.owned))
	for _, ub := range snap.owned {
		unlocked[ub.BadgeID] = struct{}{}
	}
	candidates, diags := s.evaluator.Resolve(snap.state, snap.badges, unlocked)
	for _, d := range diags {
		s.log.Warn("skipping badge with invalid unlock rule", "user", p.ID, "error", d)
	}

	granted := make([]core.Badge, 0, len(candidates))
	now := s.now().UTC()
	for _, b := range candidates {
		inserted, err := s.storage.InsertUserBadge(ctx, core.UserBadge{UserID: p.ID, BadgeID: b.ID, UnlockedAt: now})
		if err != nil {
			return granted, core.Persistence("insert user badge", err)
		}
		if !inserted {
			continue
		}
		s.log.Info("badge unlocked", "user", p.ID, "badge", b.ID, "rarity", b.Rarity)
		s.bus.Publish(ctx, core.NewBadgeUnlocked(now, p.ID, b))
		granted = append(granted, b)
	}
	return granted, nil
}

// EvaluateBadges re-runs badge evaluation for user and grants whatever the
// persisted state qualifies for. It is the retry path for best-effort grants.
func (s *ProgressionService) EvaluateBadges(ctx context.Context, user core.UserID) ([]core.Badge, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	p, err := s.storage.GetProfile(ctx, user)
	if err != nil {
		return nil, core.Persistence("get profile", err)
	}
	return s.grantBadges(ctx, p)
}

// BadgeStatus is a catalog badge with the user's unlock state.
type BadgeStatus struct {
	core.Badge
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// GetBadges lists the whole badge catalog with user's unlock state, ordered by rarity then id.
func (s *ProgressionService) GetBadges(ctx context.Context, user core.UserID) ([]BadgeStatus, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.storage.GetProfile(ctx, user); err != nil {
		return nil, core.Persistence("get profile", err)
	}
	var (
		badges []core.Badge
		owned  []core.UserBadge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		badges, err = s.storage.ListBadges(gctx)
		return core.Persistence("list badges", err)
	})
	g.Go(func() (err error) {
		owned, err = s.storage.ListUserBadges(gctx, user)
		return core.Persistence("list user badges", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	at := make(map[core.BadgeID]time.Time, len(owned))
	for _, ub := range owned {
		at[ub.BadgeID] = ub.UnlockedAt
	}
	core.SortBadges(badges)
	out := make([]BadgeStatus, 0, len(badges))
	for _, b := range badges {
		st := BadgeStatus{Badge: b}
		if t, ok := at[b.ID]; ok {
			t := t
			st.Unlocked = true
			st.UnlockedAt = &t
		}
		out = append(out, st)
	}
	return out, nil
}

// ProgressView is a profile with its derived level progress and quest counts.
type ProgressView struct {
	Profile         core.Profile       `json:"profile"`
	Level           core.LevelProgress `json:"level_progress"`
	CompletedQuests int                `json:"completed_quests"`
	TotalQuests     int                `json:"total_quests"`
	BadgeCount      int                `json:"badge_count"`
	CanSpin         bool               `json:"can_spin"`
}

// GetProfile returns the stored profile.
func (s *ProgressionService) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Profile{}, err
	}
	p, err := s.storage.GetProfile(ctx, user)
	return p, core.Persistence("get profile", err)
}

// GetProgress returns the user's profile with level progress and completion counts.
func (s *ProgressionService) GetProgress(ctx context.Context, user core.UserID) (ProgressView, error) {
	p, err := s.GetProfile(ctx, user)
	if err != nil {
		return ProgressView{}, err
	}
	snap, err := s.loadSnapshot(ctx, p)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{
		Profile:         p,
		Level:           core.Progress(p.TotalXP),
		CompletedQuests: int(snap.state.TotalCompleted),
		TotalQuests:     len(snap.quests),
		BadgeCount:      len(snap.owned),
		CanSpin:         p.DailySpinLastUsed.Before(s.today()),
	}, nil
}

// QuestFilter narrows ListQuests. Zero fields match everything.
type QuestFilter struct {
	Category   core.Category
	Difficulty core.Difficulty
}

// ListQuests returns catalog quests ordered by category, then order index, then id.
func (s *ProgressionService) ListQuests(ctx context.Context, f QuestFilter) ([]core.Quest, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, core.InvalidInput("category", "unknown category %q", f.Category)
	}
	switch f.Difficulty {
	case "", core.DifficultyBeginner, core.DifficultyIntermediate, core.DifficultyAdvanced:
	default:
		return nil, core.InvalidInput("difficulty", "unknown difficulty %q", f.Difficulty)
	}
	all, err := s.storage.ListQuests(ctx)
	if err != nil {
		return nil, core.Persistence("list quests", err)
	}
	out := make([]core.Quest, 0, len(all))
	for _, q := range all {
		if f.Category != "" && q.Category != f.Category {
			continue
		}
		if f.Difficulty != "" && q.Difficulty() != f.Difficulty {
			continue
		}
		out = append(out, q)
	}
	order := make(map[core.Category]int, len(core.Categories))
	for i, c := range core.Categories {
		order[c] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if a, b := order[out[i].Category], order[out[j].Category]; a != b {
			return a < b
		}
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetLeaderboard returns up to limit rows ranked by total points descending,
// ties broken by user id ascending. A non-positive limit selects the default.
func (s *ProgressionService) GetLeaderboard(ctx context.Context, limit int) ([]core.LeaderboardRow, error) {
	if limit <= 0 {
		limit = s.lbDefault
	}
	if limit > s.lbMax {
		limit = s.lbMax
	}
	rows, err := s.storage.LeaderboardRows(ctx, limit)
	if err != nil {
		return nil, core.Persistence("leaderboard", err)
	}
	leaderboard.SortRows(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *ProgressionService) today() core.Date { return core.DateOf(s.now(), s.loc) }
