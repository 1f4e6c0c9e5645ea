// Package leaderboard ranks users by total points. Higher points rank first;
// equal points rank by user id ascending so repeated queries are stable.
package leaderboard

import (
	"sort"

	"questline/core"
)

// Board keeps ranked leaderboard rows.
type Board interface {
	Upsert(row core.LeaderboardRow)
	Remove(user core.UserID)
	Reset()
	Top(n int) []core.LeaderboardRow
	Row(user core.UserID) (core.LeaderboardRow, bool)
	Rank(user core.UserID) (int, bool)
	Len() int
}

// RowBefore reports whether a ranks ahead of b.
func RowBefore(a, b core.LeaderboardRow) bool {
	if a.TotalPoints == b.TotalPoints {
		return a.UserID < b.UserID
	}
	return a.TotalPoints > b.TotalPoints
}

// SortRows orders rows by the leaderboard rule and numbers them from 1.
func SortRows(rows []core.LeaderboardRow) {
	sort.SliceStable(rows, func(i, j int) bool { return RowBefore(rows[i], rows[j]) })
	for i := range rows {
		rows[i].Rank = i + 1
	}
}
