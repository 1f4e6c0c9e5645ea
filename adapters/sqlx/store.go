package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	libsqlx "github.com/jmoiron/sqlx"

	"questline/core"
)

type profileRow struct {
	ID                string    `db:"id"`
	DisplayName       string    `db:"display_name"`
	TotalPoints       int64     `db:"total_points"`
	TotalXP           int64     `db:"total_xp"`
	Level             int64     `db:"level"`
	DailySpinLastUsed string    `db:"daily_spin_last_used"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r profileRow) profile() core.Profile {
	return core.Profile{
		ID:                core.UserID(r.ID),
		DisplayName:       r.DisplayName,
		TotalPoints:       r.TotalPoints,
		TotalXP:           r.TotalXP,
		Level:             r.Level,
		DailySpinLastUsed: core.Date(r.DailySpinLastUsed),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type badgeRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Icon        string `db:"icon"`
	Rarity      string `db:"rarity"`
	UnlockRule  string `db:"unlock_rule"`
}

type progressRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	QuestID     string       `db:"quest_id"`
	Completed   bool         `db:"completed"`
	CompletedAt sql.NullTime `db:"completed_at"`
	XPEarned    int64        `db:"xp_earned"`
	Notes       string       `db:"notes"`
	CreatedAt   time.Time    `db:"created_at"`
}

type userBadgeRow struct {
	UserID     string    `db:"user_id"`
	BadgeID    string    `db:"badge_id"`
	UnlockedAt time.Time `db:"unlocked_at"`
}

type spinRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	SpinDate    string    `db:"spin_date"`
	RewardType  string    `db:"reward_type"`
	RewardValue int64     `db:"reward_value"`
	CreatedAt   time.Time `db:"created_at"`
}

const profileCols = `id, display_name, total_points, total_xp, level, daily_spin_last_used, created_at, updated_at`

const questCols = `id, title, description, category, points, xp, tips, region, featured, completion_quote, icon, order_index`

func (s *Store) PutQuest(ctx context.Context, q core.Quest) error {
	query := s.db.Rebind(`INSERT INTO quests (` + questCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.upsert("id", "title", "description", "category", "points", "xp", "tips", "region", "featured", "completion_quote", "icon", "order_index"))
	_, err := s.db.ExecContext(ctx, query,
		q.ID, q.Title, q.Description, q.Category, q.Points, q.XP, q.Tips, q.Region, q.Featured, q.CompletionQuote, q.Icon, q.OrderIndex)
	if err != nil {
		return fmt.Errorf("put quest: %w", err)
	}
	return nil
}

func (s *Store) PutBadge(ctx context.Context, b core.Badge) error {
	query := s.db.Rebind(`INSERT INTO badges (id, name, description, icon, rarity, unlock_rule) VALUES (?, ?, ?, ?, ?, ?)` +
		s.upsert("id", "name", "description", "icon", "rarity", "unlock_rule"))
	_, err := s.db.ExecContext(ctx, query, b.ID, b.Name, b.Description, b.Icon, b.Rarity, string(b.UnlockRule))
	if err != nil {
		return fmt.Errorf("put badge: %w", err)
	}
	return nil
}

func (s *Store) GetQuest(ctx context.Context, id core.QuestID) (core.Quest, error) {
	var q core.Quest
	err := s.db.GetContext(ctx, &q, s.db.Rebind(`SELECT `+questCols+` FROM quests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Quest{}, core.NotFound("quest", string(id))
	}
	if err != nil {
		return core.Quest{}, fmt.Errorf("get quest: %w", err)
	}
	return q, nil
}

func (s *Store) ListQuests(ctx context.Context) ([]core.Quest, error) {
	qs := []core.Quest{}
	if err := s.db.SelectContext(ctx, &qs, `SELECT `+questCols+` FROM quests ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	return qs, nil
}

func (s *Store) ListBadges(ctx context.Context) ([]core.Badge, error) {
	var rows []badgeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, description, icon, rarity, unlock_rule FROM badges ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]core.Badge, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Badge{
			ID:          core.BadgeID(r.ID),
			Name:        r.Name,
			Description: r.Description,
			Icon:        r.Icon,
			Rarity:      core.Rarity(r.Rarity),
			UnlockRule:  core.RawRule(r.UnlockRule),
		})
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	return s.getProfile(ctx, s.db, user, "")
}

func (s *Store) getProfile(ctx context.Context, q libsqlx.QueryerContext, user core.UserID, lock string) (core.Profile, error) {
	var r profileRow
	err := libsqlx.GetContext(ctx, q, &r, s.db.Rebind(`SELECT `+profileCols+` FROM profiles WHERE id = ?`+lock), user)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, core.NotFound("user", string(user))
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return r.profile(), nil
}

func (s *Store) PutProfile(ctx context.Context, p core.Profile) (core.Profile, bool, error) {
	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	prefix, suffix := s.insertIgnore("profiles")
	res, err := s.db.ExecContext(ctx, s.db.Rebind(prefix+` (`+profileCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`+suffix),
		p.ID, p.DisplayName, p.TotalPoints, p.TotalXP, core.LevelFromXP(p.TotalXP), string(p.DailySpinLastUsed), created, now)
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("insert profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("insert profile: %w", err)
	}
	if n == 0 && p.DisplayName != "" {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE profiles SET display_name = ?, updated_at = ? WHERE id = ? AND display_name <> ?`),
			p.DisplayName, now, p.ID, p.DisplayName)
		if err != nil {
			return core.Profile{}, false, fmt.Errorf("rename profile: %w", err)
		}
	}
	stored, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return core.Profile{}, false, err
	}
	return stored, n == 1, nil
}

func (s *Store) updateProfile(ctx context.Context, tx *libsqlx.Tx, p core.Profile) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE profiles SET display_name = ?, total_points = ?, total_xp = ?, level = ?, daily_spin_last_used = ?, updated_at = ? WHERE id = ?`),
		p.DisplayName, p.TotalPoints, p.TotalXP, p.Level, string(p.DailySpinLastUsed), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *Store) GetQuestProgress(ctx context.Context, user core.UserID, quest core.QuestID) (core.QuestProgress, bool, error) {
	var r progressRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, user_id, quest_id, completed, completed_at, xp_earned, notes, created_at FROM quest_progress WHERE user_id = ? AND quest_id = ?`), user, quest)
	if errors.Is(err, sql.ErrNoRows) {
		return core.QuestProgress{}, false, nil
	}
	if err != nil {
		return core.QuestProgress{}, false, fmt.Errorf("get quest progress: %w", err)
	}
	p := core.QuestProgress{
		ID:        r.ID,
		UserID:    core.UserID(r.UserID),
		QuestID:   core.QuestID(r.QuestID),
		Completed: r.Completed,
		XPEarned:  r.XPEarned,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		p.CompletedAt = &t
	}
	return p, true, nil
}

func (s *Store) ListCompletedQuests(ctx context.Context, user core.UserID) ([]core.QuestID, error) {
	ids := []core.QuestID{}
	err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT quest_id FROM quest_progress WHERE user_id = ? AND completed = ? ORDER BY quest_id`), user, true)
	if err != nil {
		return nil, fmt.Errorf("list completed quests: %w", err)
	}
	return ids, nil
}

// CompleteQuest inserts the progress row, or flips an open one to completed,
// and applies mutate to the locked profile row in the same transaction.
// The conditional update makes a concurrent duplicate a no-op.
func (s *Store) CompleteQuest(ctx context.Context, progress core.QuestProgress, mutate core.ProfileMutation) (core.Profile, bool, error) {
	var out core.Profile
	err := s.inTx(ctx, func(tx *libsqlx.Tx) error {
		cur, err := s.getProfile(ctx, tx, progress.UserID, s.forUpdate())
		if err != nil {
			return err
		}
		out = cur

		prefix, suffix := s.insertIgnore("quest_progress")
		res, err := tx.ExecContext(ctx, tx.Rebind(prefix+` (id, user_id, quest_id, completed, completed_at, xp_earned, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`+suffix),
			progress.ID, progress.UserID, progress.QuestID, true, progress.CompletedAt, progress.XPEarned, progress.Notes, progress.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert quest progress: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert quest progress: %w", err)
		}
		if n == 0 {
			res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE quest_progress SET completed = ?, completed_at = ?, xp_earned = ?, notes = ? WHERE user_id = ? AND quest_id = ? AND completed = ?`),
				true, progress.CompletedAt, progress.XPEarned, progress.Notes, progress.UserID, progress.QuestID, false)
			if err != nil {
				return fmt.Errorf("update quest progress: %w", err)
			}
			if n, err = res.RowsAffected(); err != nil {
				return fmt.Errorf("update quest progress: %w", err)
			}
			if n == 0 {
				return errNoChange
			}
		}

		next, err := mutate(cur)
		if err != nil {
			return err
		}
		next.ID = cur.ID
		if err := s.updateProfile(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if errors.Is(err, errNoChange) {
		return out, false, nil
	}
	if err != nil {
		return core.Profile{}, false, err
	}
	return out, true, nil
}

func (s *Store) UpdateQuestNotes(ctx context.Context, user core.UserID, quest core.QuestID, notes string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE quest_progress SET notes = ? WHERE user_id = ? AND quest_id = ? AND notes <> ?`),
		notes, user, quest, notes)
	if err != nil {
		return false, fmt.Errorf("update quest notes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update quest notes: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	var rows []userBadgeRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT user_id, badge_id, unlocked_at FROM user_badges WHERE user_id = ? ORDER BY badge_id`), user)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	out := make([]core.UserBadge, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.UserBadge{UserID: core.UserID(r.UserID), BadgeID: core.BadgeID(r.BadgeID), UnlockedAt: r.UnlockedAt.UTC()})
	}
	return out, nil
}

// InsertUserBadge relies on the (user_id, badge_id) primary key; a duplicate
// affects no rows and reports inserted=false.
func (s *Store) InsertUserBadge(ctx context.Context, ub core.UserBadge) (bool, error) {
	prefix, suffix := s.insertIgnore("user_badges")
	res, err := s.db.ExecContext(ctx, s.db.Rebind(prefix+` (user_id, badge_id, unlocked_at) VALUES (?, ?, ?)`+suffix),
		ub.UserID, ub.BadgeID, ub.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}
	return n == 1, nil
}

func (s *Store) GetDailySpin(ctx context.Context, user core.UserID, date core.Date) (core.DailySpin, bool, error) {
	var r spinRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, user_id, spin_date, reward_type, reward_value, created_at FROM daily_spins WHERE user_id = ? AND spin_date = ?`), user, string(date))
	if errors.Is(err, sql.ErrNoRows) {
		return core.DailySpin{}, false, nil
	}
	if err != nil {
		return core.DailySpin{}, false, fmt.Errorf("get daily spin: %w", err)
	}
	return core.DailySpin{
		ID:          r.ID,
		UserID:      core.UserID(r.UserID),
		Date:        core.Date(r.SpinDate),
		RewardType:  core.RewardType(r.RewardType),
		RewardValue: r.RewardValue,
		CreatedAt:   r.CreatedAt.UTC(),
	}, true, nil
}

// RecordSpin inserts the (user_id, spin_date) row and applies mutate to the
// locked profile in one transaction. A conflicting row means the user already
// spun that day.
func (s *Store) RecordSpin(ctx context.Context, spin core.DailySpin, mutate core.ProfileMutation) (core.Profile, error) {
	var out core.Profile
	err := s.inTx(ctx, func(tx *libsqlx.Tx) error {
		cur, err := s.getProfile(ctx, tx, spin.UserID, s.forUpdate())
		if err != nil {
			return err
		}
		prefix, suffix := s.insertIgnore("daily_spins")
		res, err := tx.ExecContext(ctx, tx.Rebind(prefix+` (id, user_id, spin_date, reward_type, reward_value, created_at) VALUES (?, ?, ?, ?, ?, ?)`+suffix),
			spin.ID, spin.UserID, string(spin.Date), spin.RewardType, spin.RewardValue, spin.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert daily spin: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert daily spin: %w", err)
		}
		if n == 0 {
			return core.ErrAlreadySpunToday
		}
		next, err := mutate(cur)
		if err != nil {
			return err
		}
		next.ID = cur.ID
		if err := s.updateProfile(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return core.Profile{}, err
	}
	return out, nil
}

func (s *Store) LeaderboardRows(ctx context.Context, limit int) ([]core.LeaderboardRow, error) {
	rows := []core.LeaderboardRow{}
	if limit <= 0 {
		return rows, nil
	}
	query := s.db.Rebind(`SELECT p.id AS user_id, p.display_name, p.total_points, p.total_xp, p.level,
	(SELECT COUNT(*) FROM quest_progress qp WHERE qp.user_id = p.id AND qp.completed = ?) AS completed_quest_count,
	(SELECT COUNT(*) FROM user_badges ub WHERE ub.user_id = p.id) AS badge_count
FROM profiles p
ORDER BY p.total_points DESC, p.id ASC
LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, true, limit); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return rows, nil
}
