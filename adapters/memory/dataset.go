package memory

import (
	"context"
	"sort"

	"questline/core"
)

// Dataset is a full copy of a Store's contents.
type Dataset struct {
	Quests []core.Quest `json:"quests"`
	Badges []core.Badge `json:"badges"`
	Users  []UserData   `json:"users"`
}

// UserData is everything stored for one user.
type UserData struct {
	Profile  core.Profile         `json:"profile"`
	Progress []core.QuestProgress `json:"progress,omitempty"`
	Badges   []core.UserBadge     `json:"badges,omitempty"`
	Spins    []core.DailySpin     `json:"spins,omitempty"`
}

// Export copies the store's contents in a stable order.
func (s *Store) Export() Dataset {
	var d Dataset
	d.Quests, _ = s.ListQuests(context.Background())
	d.Badges, _ = s.ListBadges(context.Background())
	s.users.Range(func(_, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		u := UserData{Profile: rec.profile}
		for _, p := range rec.progress {
			u.Progress = append(u.Progress, p)
		}
		for _, b := range rec.badges {
			u.Badges = append(u.Badges, b)
		}
		for _, sp := range rec.spins {
			u.Spins = append(u.Spins, sp)
		}
		rec.mu.Unlock()
		sort.Slice(u.Progress, func(i, j int) bool { return u.Progress[i].QuestID < u.Progress[j].QuestID })
		sort.Slice(u.Badges, func(i, j int) bool { return u.Badges[i].BadgeID < u.Badges[j].BadgeID })
		sort.Slice(u.Spins, func(i, j int) bool { return u.Spins[i].Date < u.Spins[j].Date })
		d.Users = append(d.Users, u)
		return true
	})
	sort.Slice(d.Users, func(i, j int) bool { return d.Users[i].Profile.ID < d.Users[j].Profile.ID })
	return d
}

// Import replaces the store's contents with d.
func (s *Store) Import(d Dataset) {
	s.catMu.Lock()
	s.quests = make(map[core.QuestID]core.Quest, len(d.Quests))
	for _, q := range d.Quests {
		s.quests[q.ID] = q
	}
	s.badges = make(map[core.BadgeID]core.Badge, len(d.Badges))
	for _, b := range d.Badges {
		s.badges[b.ID] = b
	}
	s.catMu.Unlock()

	s.users.Range(func(k, _ any) bool {
		s.users.Delete(k)
		return true
	})
	s.board.Reset()
	for _, u := range d.Users {
		rec := newRecord(u.Profile)
		for _, p := range u.Progress {
			rec.progress[p.QuestID] = p
		}
		for _, b := range u.Badges {
			rec.badges[b.BadgeID] = b
		}
		for _, sp := range u.Spins {
			rec.spins[sp.Date] = sp
		}
		s.users.Store(u.Profile.ID, rec)
		s.board.Upsert(rec.rowLocked())
	}
}
