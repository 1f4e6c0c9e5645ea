package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"questline/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// Handler adapts a Hook to the EventBus handler signature.
func Handler(h Hook) func(context.Context, core.Event) {
	return func(_ context.Context, e core.Event) { h.OnEvent(e) }
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := e.Time.UTC().Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// ProgressMetrics aggregates progression KPIs in memory, keyed by UTC day.
type ProgressMetrics struct {
	mu sync.RWMutex

	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	xpAwardedByDay     map[string]int64
	pointsAwardedByDay map[string]int64

	questsByDay      map[string]int64
	questsByCategory map[core.Category]int64

	badgesByDay        map[string]int64
	badgesByRarity     map[core.Rarity]int64
	uniqueBadgeHolders map[core.BadgeID]map[core.UserID]struct{}

	levelsReachedByDay map[string]int64
	levelDistribution  map[int64]int

	spinsByDay    map[string]int64
	spinsByReward map[core.RewardType]int64
}

func NewProgressMetrics() *ProgressMetrics {
	return &ProgressMetrics{
		dailyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		xpAwardedByDay:     make(map[string]int64),
		pointsAwardedByDay: make(map[string]int64),
		questsByDay:        make(map[string]int64),
		questsByCategory:   make(map[core.Category]int64),
		badgesByDay:        make(map[string]int64),
		badgesByRarity:     make(map[core.Rarity]int64),
		uniqueBadgeHolders: make(map[core.BadgeID]map[core.UserID]struct{}),
		levelsReachedByDay: make(map[string]int64),
		levelDistribution:  make(map[int64]int),
		spinsByDay:         make(map[string]int64),
		spinsByReward:      make(map[core.RewardType]int64),
	}
}

func (pm *ProgressMetrics) OnEvent(e core.Event) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	day := e.Time.UTC().Format("2006-01-02")
	addUser(pm.dailyActiveUsers, day, e.UserID)
	addUser(pm.weeklyActiveUsers, weekKey(e.Time), e.UserID)
	addUser(pm.monthlyActiveUsers, monthKey(e.Time), e.UserID)

	switch e.Type {
	case core.EventXPGained:
		pm.xpAwardedByDay[day] += e.Delta
	case core.EventPointsAwarded:
		pm.pointsAwardedByDay[day] += e.Delta
	case core.EventQuestCompleted:
		pm.questsByDay[day]++
		if c, ok := e.Metadata["category"].(string); ok {
			pm.questsByCategory[core.Category(c)]++
		}
	case core.EventLevelUp:
		pm.levelsReachedByDay[day]++
		pm.levelDistribution[e.Level]++
	case core.EventBadgeUnlocked:
		if e.Badge == nil {
			return
		}
		pm.badgesByDay[day]++
		pm.badgesByRarity[e.Badge.Rarity]++
		addUser(pm.uniqueBadgeHolders, e.Badge.ID, e.UserID)
	case core.EventDailySpin:
		pm.spinsByDay[day]++
		if e.Reward != nil {
			pm.spinsByReward[e.Reward.Type]++
		}
	}
}

func addUser[K comparable](m map[K]map[core.UserID]struct{}, key K, user core.UserID) {
	if m[key] == nil {
		m[key] = make(map[core.UserID]struct{})
	}
	m[key][user] = struct{}{}
}

func (pm *ProgressMetrics) DailyActiveUsers(day string) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.dailyActiveUsers[day])
}

func (pm *ProgressMetrics) WeeklyActiveUsers(week string) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.weeklyActiveUsers[week])
}

func (pm *ProgressMetrics) MonthlyActiveUsers(month string) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.monthlyActiveUsers[month])
}

// Summary is a point-in-time copy of the aggregates for one day.
type Summary struct {
	Day                string                    `json:"day"`
	ActiveUsers        int                       `json:"active_users"`
	XPAwarded          int64                     `json:"xp_awarded"`
	PointsAwarded      int64                     `json:"points_awarded"`
	QuestsCompleted    int64                     `json:"quests_completed"`
	BadgesUnlocked     int64                     `json:"badges_unlocked"`
	LevelsReached      int64                     `json:"levels_reached"`
	Spins              int64                     `json:"spins"`
	QuestsByCategory   map[core.Category]int64   `json:"quests_by_category"`
	BadgesByRarity     map[core.Rarity]int64     `json:"badges_by_rarity"`
	SpinsByReward      map[core.RewardType]int64 `json:"spins_by_reward"`
	LevelDistribution  map[int64]int             `json:"level_distribution"`
	TopBadgesByHolders []BadgeHolders            `json:"top_badges_by_holders"`
}

// BadgeHolders counts the distinct users holding a badge.
type BadgeHolders struct {
	Badge   core.BadgeID `json:"badge"`
	Holders int          `json:"holders"`
}

// Summarize reports day's counters plus the all-time breakdowns. Badge
// holder ranking is limited to top entries.
func (pm *ProgressMetrics) Summarize(day string, top int) Summary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	s := Summary{
		Day:               day,
		ActiveUsers:       len(pm.dailyActiveUsers[day]),
		XPAwarded:         pm.xpAwardedByDay[day],
		PointsAwarded:     pm.pointsAwardedByDay[day],
		QuestsCompleted:   pm.questsByDay[day],
		BadgesUnlocked:    pm.badgesByDay[day],
		LevelsReached:     pm.levelsReachedByDay[day],
		Spins:             pm.spinsByDay[day],
		QuestsByCategory:  copyMap(pm.questsByCategory),
		BadgesByRarity:    copyMap(pm.badgesByRarity),
		SpinsByReward:     copyMap(pm.spinsByReward),
		LevelDistribution: copyMap(pm.levelDistribution),
	}
	holders := make([]BadgeHolders, 0, len(pm.uniqueBadgeHolders))
	for id, users := range pm.uniqueBadgeHolders {
		holders = append(holders, BadgeHolders{Badge: id, Holders: len(users)})
	}
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Holders != holders[j].Holders {
			return holders[i].Holders > holders[j].Holders
		}
		return holders[i].Badge < holders[j].Badge
	})
	if top > 0 && len(holders) > top {
		holders = holders[:top]
	}
	s.TopBadgesByHolders = holders
	return s
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
