package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "questline/adapters/sqlx"
	"questline/core"
)

func newMockStore(t *testing.T, driver storage.Driver) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, string(driver)), driver)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

var profileColumns = []string{"id", "display_name", "total_points", "total_xp", "level", "daily_spin_last_used", "created_at", "updated_at"}

func profileRows(id string, points, xp int64, lastSpin string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(profileColumns).AddRow(id, "Alice", points, xp, core.LevelFromXP(xp), lastSpin, now, now)
}

func bump(xp, points int64) core.ProfileMutation {
	return func(p core.Profile) (core.Profile, error) {
		p.TotalXP += xp
		p.TotalPoints += points
		p.Level = core.LevelFromXP(p.TotalXP)
		return p, nil
	}
}

func TestSQLMock_CompleteQuest_Insert(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	prog := core.QuestProgress{ID: "p1", UserID: "u1", QuestID: "q1", Completed: true, CompletedAt: &now, XPEarned: 15, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \$1 FOR UPDATE`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(profileRows("u1", 10, 90, ""))
	mock.ExpectExec(`INSERT INTO quest_progress .+ ON CONFLICT DO NOTHING`).
		WithArgs("p1", core.UserID("u1"), core.QuestID("q1"), true, sqlmock.AnyArg(), int64(15), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE profiles SET`).
		WithArgs("Alice", int64(30), int64(105), int64(2), "", sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, applied, err := store.CompleteQuest(ctx, prog, bump(15, 20))
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, int64(105), p.TotalXP)
	require.Equal(t, int64(2), p.Level)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CompleteQuest_AlreadyCompleted(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	prog := core.QuestProgress{ID: "p2", UserID: "u1", QuestID: "q1", Completed: true}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(profileRows("u1", 30, 105, ""))
	mock.ExpectExec(`INSERT INTO quest_progress`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE quest_progress SET completed = \$1,.+AND completed = \$7`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	p, applied, err := store.CompleteQuest(context.Background(), prog, bump(15, 20))
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, int64(105), p.TotalXP)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_UpdateQuestNotes(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()
	ctx := context.Background()

	mock.ExpectExec(`UPDATE quest_progress SET notes = \$1 WHERE user_id = \$2 AND quest_id = \$3 AND notes <> \$4`).
		WithArgs("edited", core.UserID("u1"), core.QuestID("q1"), "edited").
		WillReturnResult(sqlmock.NewResult(0, 1))
	updated, err := store.UpdateQuestNotes(ctx, "u1", "q1", "edited")
	require.NoError(t, err)
	require.True(t, updated)

	mock.ExpectExec(`UPDATE quest_progress SET notes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	updated, err = store.UpdateQuestNotes(ctx, "u1", "q1", "edited")
	require.NoError(t, err)
	require.False(t, updated)

	mock.ExpectExec(`UPDATE quest_progress SET notes`).
		WillReturnError(errors.New("conn reset"))
	_, err = store.UpdateQuestNotes(ctx, "u1", "q1", "x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CompleteQuest_UnknownUser(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := store.CompleteQuest(context.Background(), core.QuestProgress{UserID: "ghost", QuestID: "q1"}, bump(1, 1))
	require.True(t, errors.Is(err, core.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CompleteQuest_UpdateFailsRollsBack(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles`).WillReturnRows(profileRows("u1", 0, 0, ""))
	mock.ExpectExec(`INSERT INTO quest_progress`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE profiles SET`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, applied, err := store.CompleteQuest(context.Background(), core.QuestProgress{ID: "p", UserID: "u1", QuestID: "q1"}, bump(10, 10))
	require.Error(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_InsertUserBadge(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	ub := core.UserBadge{UserID: "u1", BadgeID: "b1", UnlockedAt: time.Now()}
	mock.ExpectExec(`INSERT INTO user_badges .+ ON CONFLICT DO NOTHING`).
		WithArgs(core.UserID("u1"), core.BadgeID("b1"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_badges`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.InsertUserBadge(context.Background(), ub)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.InsertUserBadge(context.Background(), ub)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_MySQLDialect(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverMySQL)
	defer cleanup()

	mock.ExpectExec(`INSERT IGNORE INTO user_badges \(user_id, badge_id, unlocked_at\) VALUES \(\?, \?, \?\)$`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.InsertUserBadge(context.Background(), core.UserBadge{UserID: "u1", BadgeID: "b1"})
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`INSERT INTO quests .+ ON DUPLICATE KEY UPDATE title = VALUES\(title\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.PutQuest(context.Background(), core.Quest{ID: "q1", Title: "Quest", Category: core.CategoryLegal}))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \? FOR UPDATE`).WillReturnRows(profileRows("u1", 0, 0, ""))
	mock.ExpectExec(`INSERT IGNORE INTO daily_spins`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE profiles SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	_, err = store.RecordSpin(context.Background(), core.DailySpin{ID: "s", UserID: "u1", Date: "2024-01-01", RewardType: core.RewardQuest},
		func(p core.Profile) (core.Profile, error) {
			p.DailySpinLastUsed = "2024-01-01"
			return p, nil
		})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RecordSpin_Duplicate(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM profiles`).WillReturnRows(profileRows("u1", 0, 10, "2024-01-01"))
	mock.ExpectExec(`INSERT INTO daily_spins`).
		WithArgs("s2", core.UserID("u1"), "2024-01-01", core.RewardXP, int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	spin := core.DailySpin{ID: "s2", UserID: "u1", Date: "2024-01-01", RewardType: core.RewardXP, RewardValue: 5}
	_, err := store.RecordSpin(context.Background(), spin, bump(5, 0))
	require.True(t, errors.Is(err, core.ErrAlreadySpunToday))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetProfile_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \$1$`).
		WithArgs(core.UserID("ghost")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProfile(context.Background(), "ghost")
	require.True(t, errors.Is(err, core.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LeaderboardRows(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	cols := []string{"user_id", "display_name", "total_points", "total_xp", "level", "completed_quest_count", "badge_count"}
	mock.ExpectQuery(`ORDER BY p.total_points DESC, p.id ASC\s+LIMIT \$2`).
		WithArgs(true, 3).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("b", "Bea", 500, 700, 3, 9, 2).
			AddRow("c", "Cai", 400, 100, 2, 4, 1).
			AddRow("a", "Ari", 300, 50, 1, 2, 0))

	rows, err := store.LeaderboardRows(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, core.UserID("b"), rows[0].UserID)
	require.Equal(t, int64(9), rows[0].CompletedQuestCount)
	require.Equal(t, int64(300), rows[2].TotalPoints)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_BeginFailure(t *testing.T) {
	store, mock, cleanup := newMockStore(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	_, err := store.RecordSpin(context.Background(), core.DailySpin{UserID: "u1", Date: "2024-01-01"}, bump(0, 0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "pool exhausted")
	require.NoError(t, mock.ExpectationsWereMet())
}
