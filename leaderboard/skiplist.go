package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"questline/core"
)

const (
	maxLevel = 16
	pFactor  = 0.25
)

// link points forward at one level. span counts the level-0 hops it covers,
// which makes ranks computable without walking the bottom list.
type link struct {
	to   *node
	span int
}

type node struct {
	row  core.LeaderboardRow
	next []link
}

// SkipList holds one leaderboard row per user in ranking order.
// Row data other than points can change in place; a points change
// repositions the row.
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	length int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	_, _ = cryptorand.Read(seed[:])
	s := &SkipList{rng: rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:])))}
	s.reset()
	return s
}

func (s *SkipList) reset() {
	s.head = &node{next: make([]link, maxLevel)}
	s.lvl = 1
	s.length = 0
	s.byUser = map[core.UserID]*node{}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

// Upsert stores row as the user's current standing.
func (s *SkipList) Upsert(row core.LeaderboardRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.Rank = 0
	if n, ok := s.byUser[row.UserID]; ok {
		if n.row.TotalPoints == row.TotalPoints {
			n.row = row
			return
		}
		s.unlink(n)
	}
	s.insert(row)
}

func (s *SkipList) insert(row core.LeaderboardRow) {
	var (
		update [maxLevel]*node
		rank   [maxLevel]int
	)
	x := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i].to != nil && RowBefore(x.next[i].to.row, row) {
			rank[i] += x.next[i].span
			x = x.next[i].to
		}
		update[i] = x
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
			s.head.next[i].span = s.length
		}
		s.lvl = lvl
	}
	n := &node{row: row, next: make([]link, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i].to = update[i].next[i].to
		update[i].next[i].to = n
		n.next[i].span = update[i].next[i].span - (rank[0] - rank[i])
		update[i].next[i].span = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].next[i].span++
	}
	s.length++
	s.byUser[row.UserID] = n
}

func (s *SkipList) unlink(target *node) {
	var update [maxLevel]*node
	x := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for x.next[i].to != nil && RowBefore(x.next[i].to.row, target.row) {
			x = x.next[i].to
		}
		update[i] = x
	}
	if update[0].next[0].to != target {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i].to == target {
			update[i].next[i].span += target.next[i].span - 1
			update[i].next[i].to = target.next[i].to
		} else {
			update[i].next[i].span--
		}
	}
	for s.lvl > 1 && s.head.next[s.lvl-1].to == nil {
		s.lvl--
	}
	s.length--
	delete(s.byUser, target.row.UserID)
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.unlink(n)
	}
}

// Reset drops every row.
func (s *SkipList) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Top returns up to n rows with Rank numbered from 1.
func (s *SkipList) Top(n int) []core.LeaderboardRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []core.LeaderboardRow{}
	}
	if n > s.length {
		n = s.length
	}
	out := make([]core.LeaderboardRow, 0, n)
	for x := s.head.next[0].to; x != nil && len(out) < n; x = x.next[0].to {
		r := x.row
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out
}

// Row returns the user's row with its current Rank.
func (s *SkipList) Row(user core.UserID) (core.LeaderboardRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return core.LeaderboardRow{}, false
	}
	r := n.row
	r.Rank = s.rankOf(n)
	return r, true
}

// Rank returns the 1-based position of user.
func (s *SkipList) Rank(user core.UserID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return 0, false
	}
	return s.rankOf(n), true
}

func (s *SkipList) rankOf(target *node) int {
	rank := 0
	x := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for x.next[i].to != nil && !RowBefore(target.row, x.next[i].to.row) {
			rank += x.next[i].span
			x = x.next[i].to
		}
		if x == target {
			return rank
		}
	}
	return rank
}

// Len is the number of ranked users.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

var _ Board = (*SkipList)(nil)
