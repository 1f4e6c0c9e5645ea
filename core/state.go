package core

// UserState is the read-only snapshot badge rules are evaluated against.
type UserState struct {
	UserID              UserID
	TotalCompleted      int64
	CompletedByCategory map[Category]int64
	QuestsByCategory    map[Category]int64
	Level               int64
	TotalXP             int64
	TotalPoints         int64
	BadgesByRarity      map[Rarity]int64
	TotalBadges         int64
}

// NewUserState assembles a snapshot from a profile, the quest catalog, the ids of
// quests the user completed, the badge catalog and the user's badge rows.
// Completed ids missing from the catalog still count toward TotalCompleted.
func NewUserState(p Profile, catalog []Quest, completed []QuestID, badges []Badge, owned []UserBadge) UserState {
	s := UserState{
		UserID:              p.ID,
		Level:               LevelFromXP(p.TotalXP),
		TotalXP:             p.TotalXP,
		TotalPoints:         p.TotalPoints,
		CompletedByCategory: make(map[Category]int64, len(Categories)),
		QuestsByCategory:    make(map[Category]int64, len(Categories)),
		BadgesByRarity:      make(map[Rarity]int64, len(Rarities)),
	}
	categoryOf := make(map[QuestID]Category, len(catalog))
	for _, q := range catalog {
		categoryOf[q.ID] = q.Category
		s.QuestsByCategory[q.Category]++
	}
	seen := make(map[QuestID]struct{}, len(completed))
	for _, id := range completed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.TotalCompleted++
		if c, ok := categoryOf[id]; ok {
			s.CompletedByCategory[c]++
		}
	}
	rarityOf := make(map[BadgeID]Rarity, len(badges))
	for _, b := range badges {
		rarityOf[b.ID] = b.Rarity
	}
	for _, ub := range owned {
		s.TotalBadges++
		if r, ok := rarityOf[ub.BadgeID]; ok {
			s.BadgesByRarity[r]++
		}
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s UserState) Clone() UserState {
	out := s
	out.CompletedByCategory = cloneCounts(s.CompletedByCategory)
	out.QuestsByCategory = cloneCounts(s.QuestsByCategory)
	out.BadgesByRarity = cloneCounts(s.BadgesByRarity)
	return out
}

// WithBadge returns a copy of s that also owns b.
func (s UserState) WithBadge(b Badge) UserState {
	out := s.Clone()
	out.TotalBadges++
	out.BadgesByRarity[b.Rarity]++
	return out
}

// AllCompletedIn reports whether every catalog quest of c is completed.
// A category without quests is never complete.
func (s UserState) AllCompletedIn(c Category) bool {
	total := s.QuestsByCategory[c]
	return total > 0 && s.CompletedByCategory[c] >= total
}

func (s UserState) numeric(attr Attribute, param string) int64 {
	switch attr {
	case AttrTotalCompletedQuests:
		return s.TotalCompleted
	case AttrCompletedQuestsByCategory:
		return s.CompletedByCategory[Category(param)]
	case AttrLevel:
		return s.Level
	case AttrTotalXP:
		return s.TotalXP
	case AttrTotalPoints:
		return s.TotalPoints
	case AttrTotalBadges:
		return s.TotalBadges
	case AttrBadgeCountByRarity:
		return s.BadgesByRarity[Rarity(param)]
	}
	return 0
}

func cloneCounts[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
