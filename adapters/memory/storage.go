package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"questline/core"
	"questline/leaderboard"
)

// Store is a concurrent in-memory Storage implementation. Each user's rows
// live behind one mutex, which makes the per-user compound writes atomic.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord

	catMu  sync.RWMutex
	quests map[core.QuestID]core.Quest
	badges map[core.BadgeID]core.Badge

	board *leaderboard.SkipList
	now   func() time.Time
}

type userRecord struct {
	mu       sync.Mutex
	profile  core.Profile
	progress map[core.QuestID]core.QuestProgress
	badges   map[core.BadgeID]core.UserBadge
	spins    map[core.Date]core.DailySpin
}

func newRecord(p core.Profile) *userRecord {
	return &userRecord{
		profile:  p,
		progress: map[core.QuestID]core.QuestProgress{},
		badges:   map[core.BadgeID]core.UserBadge{},
		spins:    map[core.Date]core.DailySpin{},
	}
}

func New() *Store {
	return &Store{
		quests: map[core.QuestID]core.Quest{},
		badges: map[core.BadgeID]core.Badge{},
		board:  leaderboard.NewSkipList(),
		now:    time.Now,
	}
}

func (s *Store) record(user core.UserID) (*userRecord, error) {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord), nil
	}
	return nil, core.NotFound("user", string(user))
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.Profile{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.profile, nil
}

func (s *Store) PutProfile(_ context.Context, p core.Profile) (core.Profile, bool, error) {
	now := s.now().UTC()
	if rec, err := s.record(p.ID); err == nil {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if p.DisplayName != "" && p.DisplayName != rec.profile.DisplayName {
			rec.profile.DisplayName = p.DisplayName
			rec.profile.UpdatedAt = now
			s.board.Upsert(rec.rowLocked())
		}
		return rec.profile, false, nil
	}
	p.Level = core.LevelFromXP(p.TotalXP)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	actual, loaded := s.users.LoadOrStore(p.ID, newRecord(p))
	rec := actual.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !loaded {
		s.board.Upsert(rec.rowLocked())
	}
	return rec.profile, !loaded, nil
}

func (s *Store) PutQuest(_ context.Context, q core.Quest) error {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	s.quests[q.ID] = q
	return nil
}

func (s *Store) PutBadge(_ context.Context, b core.Badge) error {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	b.UnlockRule = append(core.RawRule(nil), b.UnlockRule...)
	s.badges[b.ID] = b
	return nil
}

func (s *Store) GetQuest(_ context.Context, id core.QuestID) (core.Quest, error) {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	q, ok := s.quests[id]
	if !ok {
		return core.Quest{}, core.NotFound("quest", string(id))
	}
	return q, nil
}

func (s *Store) ListQuests(_ context.Context) ([]core.Quest, error) {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	out := make([]core.Quest, 0, len(s.quests))
	for _, q := range s.quests {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListBadges(_ context.Context) ([]core.Badge, error) {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	out := make([]core.Badge, 0, len(s.badges))
	for _, b := range s.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetQuestProgress(_ context.Context, user core.UserID, quest core.QuestID) (core.QuestProgress, bool, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.QuestProgress{}, false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.progress[quest]
	return p, ok, nil
}

func (s *Store) ListCompletedQuests(_ context.Context, user core.UserID) ([]core.QuestID, error) {
	rec, err := s.record(user)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.QuestID, 0, len(rec.progress))
	for id, p := range rec.progress {
		if p.Completed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) CompleteQuest(_ context.Context, progress core.QuestProgress, mutate core.ProfileMutation) (core.Profile, bool, error) {
	rec, err := s.record(progress.UserID)
	if err != nil {
		return core.Profile{}, false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	existing, found := rec.progress[progress.QuestID]
	if found && existing.Completed {
		return rec.profile, false, nil
	}
	next, err := mutate(rec.profile)
	if err != nil {
		return rec.profile, false, err
	}
	if found {
		progress.ID = existing.ID
		progress.CreatedAt = existing.CreatedAt
	}
	next.ID = rec.profile.ID
	rec.progress[progress.QuestID] = progress
	rec.profile = next
	s.board.Upsert(rec.rowLocked())
	return next, true, nil
}

// UpdateQuestNotes rewrites the notes of an existing progress row.
func (s *Store) UpdateQuestNotes(_ context.Context, user core.UserID, quest core.QuestID, notes string) (bool, error) {
	rec, err := s.record(user)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.progress[quest]
	if !ok || p.Notes == notes {
		return false, nil
	}
	p.Notes = notes
	rec.progress[quest] = p
	return true, nil
}

func (s *Store) ListUserBadges(_ context.Context, user core.UserID) ([]core.UserBadge, error) {
	rec, err := s.record(user)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.UserBadge, 0, len(rec.badges))
	for _, ub := range rec.badges {
		out = append(out, ub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

func (s *Store) InsertUserBadge(_ context.Context, ub core.UserBadge) (bool, error) {
	rec, err := s.record(ub.UserID)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.badges[ub.BadgeID]; ok {
		return false, nil
	}
	rec.badges[ub.BadgeID] = ub
	s.board.Upsert(rec.rowLocked())
	return true, nil
}

func (s *Store) GetDailySpin(_ context.Context, user core.UserID, date core.Date) (core.DailySpin, bool, error) {
	rec, err := s.record(user)
	if err != nil {
		return core.DailySpin{}, false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	sp, ok := rec.spins[date]
	return sp, ok, nil
}

func (s *Store) RecordSpin(_ context.Context, spin core.DailySpin, mutate core.ProfileMutation) (core.Profile, error) {
	rec, err := s.record(spin.UserID)
	if err != nil {
		return core.Profile{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.spins[spin.Date]; ok {
		return rec.profile, core.ErrAlreadySpunToday
	}
	next, err := mutate(rec.profile)
	if err != nil {
		return rec.profile, err
	}
	next.ID = rec.profile.ID
	rec.spins[spin.Date] = spin
	rec.profile = next
	s.board.Upsert(rec.rowLocked())
	return next, nil
}

// LeaderboardRows reads the maintained board; rows are upserted under the
// owning user's lock on every write that changes them.
func (s *Store) LeaderboardRows(_ context.Context, limit int) ([]core.LeaderboardRow, error) {
	return s.board.Top(limit), nil
}

// rowLocked projects the record onto a leaderboard row. r.mu must be held.
func (r *userRecord) rowLocked() core.LeaderboardRow {
	var done int64
	for _, p := range r.progress {
		if p.Completed {
			done++
		}
	}
	return core.LeaderboardRow{
		UserID:              r.profile.ID,
		DisplayName:         r.profile.DisplayName,
		TotalPoints:         r.profile.TotalPoints,
		TotalXP:             r.profile.TotalXP,
		Level:               r.profile.Level,
		CompletedQuestCount: done,
		BadgeCount:          int64(len(r.badges)),
	}
}
