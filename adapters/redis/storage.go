package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"questline/core"
	"questline/leaderboard"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string
	// MaxTxRetries bounds optimistic transaction retries on contention.
	MaxTxRetries int
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "questline",
		MaxTxRetries: 16,
	}
}

// Store implements the engine storage interfaces using Redis as the backend.
// Data structure:
// - {prefix}:catalog:quests -> hash quest_id -> Quest JSON
// - {prefix}:catalog:badges -> hash badge_id -> Badge JSON
// - {prefix}:user:{user_id}:profile -> Profile JSON
// - {prefix}:user:{user_id}:progress -> hash quest_id -> QuestProgress JSON
// - {prefix}:user:{user_id}:completed -> set of completed quest ids
// - {prefix}:user:{user_id}:badges -> hash badge_id -> UserBadge JSON
// - {prefix}:user:{user_id}:spins -> hash date -> DailySpin JSON
// - {prefix}:leaderboard -> sorted set user_id scored by total points
//
// Compound writes use WATCH/MULTI on the user's keys and retry on conflict.
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.KeyPrefix != "" {
		s.prefix = config.KeyPrefix
	}
	if config.MaxTxRetries > 0 {
		s.maxRetries = config.MaxTxRetries
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	d := DefaultConfig()
	return &Store{client: client, prefix: d.KeyPrefix, maxRetries: d.MaxTxRetries}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) questsKey() string { return s.prefix + ":catalog:quests" }

func (s *Store) badgesKey() string { return s.prefix + ":catalog:badges" }

func (s *Store) leaderboardKey() string { return s.prefix + ":leaderboard" }

func (s *Store) userKey(user core.UserID, part string) string {
	return fmt.Sprintf("%s:user:%s:%s", s.prefix, user, part)
}

// ErrTooMuchContention is returned when a transaction keeps losing its WATCH race.
var ErrTooMuchContention = errors.New("redis: transaction retries exhausted")

// watch runs fn under WATCH keys, retrying when another client modified them.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTooMuchContention
}

func getJSON[T any](ctx context.Context, c redis.Cmdable, key string) (T, bool, error) {
	var v T
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func hgetJSON[T any](ctx context.Context, c redis.Cmdable, key, field string) (T, bool, error) {
	var v T
	b, err := c.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("decode %s[%s]: %w", key, field, err)
	}
	return v, true, nil
}

func hvalsJSON[T any](ctx context.Context, c redis.Cmdable, key string) ([]T, error) {
	vals, err := c.HVals(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vals))
	for _, raw := range vals {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (s *Store) PutQuest(ctx context.Context, q core.Quest) error {
	if err := s.client.HSet(ctx, s.questsKey(), string(q.ID), mustJSON(q)).Err(); err != nil {
		return fmt.Errorf("failed to put quest: %w", err)
	}
	return nil
}

func (s *Store) PutBadge(ctx context.Context, b core.Badge) error {
	if err := s.client.HSet(ctx, s.badgesKey(), string(b.ID), mustJSON(b)).Err(); err != nil {
		return fmt.Errorf("failed to put badge: %w", err)
	}
	return nil
}

func (s *Store) GetQuest(ctx context.Context, id core.QuestID) (core.Quest, error) {
	q, ok, err := hgetJSON[core.Quest](ctx, s.client, s.questsKey(), string(id))
	if err != nil {
		return core.Quest{}, fmt.Errorf("failed to get quest: %w", err)
	}
	if !ok {
		return core.Quest{}, core.NotFound("quest", string(id))
	}
	return q, nil
}

func (s *Store) ListQuests(ctx context.Context) ([]core.Quest, error) {
	qs, err := hvalsJSON[core.Quest](ctx, s.client, s.questsKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list quests: %w", err)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
	return qs, nil
}

func (s *Store) ListBadges(ctx context.Context) ([]core.Badge, error) {
	bs, err := hvalsJSON[core.Badge](ctx, s.client, s.badgesKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
	return bs, nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, error) {
	return s.profile(ctx, s.client, user)
}

func (s *Store) profile(ctx context.Context, c redis.Cmdable, user core.UserID) (core.Profile, error) {
	p, ok, err := getJSON[core.Profile](ctx, c, s.userKey(user, "profile"))
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if !ok {
		return core.Profile{}, core.NotFound("user", string(user))
	}
	return p, nil
}

// PutProfile creates the profile or renames an existing one.
func (s *Store) PutProfile(ctx context.Context, p core.Profile) (core.Profile, bool, error) {
	key := s.userKey(p.ID, "profile")
	var (
		out     core.Profile
		created bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		now := time.Now().UTC()
		cur, ok, err := getJSON[core.Profile](ctx, tx, key)
		if err != nil {
			return err
		}
		if ok {
			created = false
			out = cur
			if p.DisplayName == "" || p.DisplayName == cur.DisplayName {
				return nil
			}
			out.DisplayName = p.DisplayName
			out.UpdatedAt = now
		} else {
			created = true
			out = p
			out.Level = core.LevelFromXP(p.TotalXP)
			if out.CreatedAt.IsZero() {
				out.CreatedAt = now
			}
			out.UpdatedAt = now
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, mustJSON(out), 0)
			pipe.ZAdd(ctx, s.leaderboardKey(), redis.Z{Score: float64(out.TotalPoints), Member: string(out.ID)})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("failed to put profile: %w", err)
	}
	return out, created, nil
}

func (s *Store) GetQuestProgress(ctx context.Context, user core.UserID, quest core.QuestID) (core.QuestProgress, bool, error) {
	p, ok, err := hgetJSON[core.QuestProgress](ctx, s.client, s.userKey(user, "progress"), string(quest))
	if err != nil {
		return core.QuestProgress{}, false, fmt.Errorf("failed to get quest progress: %w", err)
	}
	return p, ok, nil
}

func (s *Store) ListCompletedQuests(ctx context.Context, user core.UserID) ([]core.QuestID, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(user, "completed")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list completed quests: %w", err)
	}
	sort.Strings(ids)
	out := make([]core.QuestID, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.QuestID(id))
	}
	return out, nil
}

// CompleteQuest writes the progress row, completion marker, profile and
// leaderboard score in one MULTI guarded by WATCH on the profile and progress keys.
func (s *Store) CompleteQuest(ctx context.Context, progress core.QuestProgress, mutate core.ProfileMutation) (core.Profile, bool, error) {
	user := progress.UserID
	profileKey := s.userKey(user, "profile")
	progressKey := s.userKey(user, "progress")
	var (
		out     core.Profile
		applied bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		applied = false
		cur, err := s.profile(ctx, tx, user)
		if err != nil {
			return err
		}
		out = cur
		existing, found, err := hgetJSON[core.QuestProgress](ctx, tx, progressKey, string(progress.QuestID))
		if err != nil {
			return err
		}
		if found && existing.Completed {
			return nil
		}
		next, err := mutate(cur)
		if err != nil {
			return err
		}
		next.ID = cur.ID
		row := progress
		if found {
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, progressKey, string(row.QuestID), mustJSON(row))
			pipe.SAdd(ctx, s.userKey(user, "completed"), string(row.QuestID))
			pipe.Set(ctx, profileKey, mustJSON(next), 0)
			pipe.ZAdd(ctx, s.leaderboardKey(), redis.Z{Score: float64(next.TotalPoints), Member: string(user)})
			return nil
		})
		if err != nil {
			return err
		}
		out, applied = next, true
		return nil
	}, profileKey, progressKey)
	if err != nil {
		return core.Profile{}, false, err
	}
	return out, applied, nil
}

// UpdateQuestNotes rewrites the notes field of the stored progress row under WATCH.
func (s *Store) UpdateQuestNotes(ctx context.Context, user core.UserID, quest core.QuestID, notes string) (bool, error) {
	progressKey := s.userKey(user, "progress")
	var updated bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		updated = false
		row, found, err := hgetJSON[core.QuestProgress](ctx, tx, progressKey, string(quest))
		if err != nil {
			return err
		}
		if !found || row.Notes == notes {
			return nil
		}
		row.Notes = notes
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, progressKey, string(quest), mustJSON(row))
			return nil
		})
		if err != nil {
			return err
		}
		updated = true
		return nil
	}, progressKey)
	if err != nil {
		return false, fmt.Errorf("failed to update quest notes: %w", err)
	}
	return updated, nil
}

func (s *Store) ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	ubs, err := hvalsJSON[core.UserBadge](ctx, s.client, s.userKey(user, "badges"))
	if err != nil {
		return nil, fmt.Errorf("failed to list user badges: %w", err)
	}
	sort.Slice(ubs, func(i, j int) bool { return ubs[i].BadgeID < ubs[j].BadgeID })
	return ubs, nil
}

// InsertUserBadge uses HSETNX so a concurrent grant of the same badge is a no-op.
func (s *Store) InsertUserBadge(ctx context.Context, ub core.UserBadge) (bool, error) {
	ok, err := s.client.HSetNX(ctx, s.userKey(ub.UserID, "badges"), string(ub.BadgeID), mustJSON(ub)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert user badge: %w", err)
	}
	return ok, nil
}

func (s *Store) GetDailySpin(ctx context.Context, user core.UserID, date core.Date) (core.DailySpin, bool, error) {
	sp, ok, err := hgetJSON[core.DailySpin](ctx, s.client, s.userKey(user, "spins"), string(date))
	if err != nil {
		return core.DailySpin{}, false, fmt.Errorf("failed to get daily spin: %w", err)
	}
	return sp, ok, nil
}

// RecordSpin writes the spin row and profile in one MULTI guarded by WATCH on
// the profile and spins keys. An existing row for the date rejects the spin.
func (s *Store) RecordSpin(ctx context.Context, spin core.DailySpin, mutate core.ProfileMutation) (core.Profile, error) {
	user := spin.UserID
	profileKey := s.userKey(user, "profile")
	spinsKey := s.userKey(user, "spins")
	var out core.Profile
	err := s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.profile(ctx, tx, user)
		if err != nil {
			return err
		}
		taken, err := tx.HExists(ctx, spinsKey, string(spin.Date)).Result()
		if err != nil {
			return err
		}
		if taken {
			return core.ErrAlreadySpunToday
		}
		next, err := mutate(cur)
		if err != nil {
			return err
		}
		next.ID = cur.ID
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, spinsKey, string(spin.Date), mustJSON(spin))
			pipe.Set(ctx, profileKey, mustJSON(next), 0)
			pipe.ZAdd(ctx, s.leaderboardKey(), redis.Z{Score: float64(next.TotalPoints), Member: string(user)})
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, profileKey, spinsKey)
	if err != nil {
		return core.Profile{}, err
	}
	return out, nil
}

// LeaderboardRows reads the top of the sorted set. Redis orders equal scores
// by member descending, so members tied on the cut-off score are re-fetched
// in ascending order.
func (s *Store) LeaderboardRows(ctx context.Context, limit int) ([]core.LeaderboardRow, error) {
	if limit <= 0 {
		return []core.LeaderboardRow{}, nil
	}
	top, err := s.client.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	users := make([]core.UserID, 0, len(top))
	if len(top) == limit {
		cut := top[len(top)-1].Score
		for _, z := range top {
			if z.Score > cut {
				users = append(users, core.UserID(z.Member.(string)))
			}
		}
		bound := fmt.Sprintf("%.0f", cut)
		tied, err := s.client.ZRangeByScore(ctx, s.leaderboardKey(), &redis.ZRangeBy{Min: bound, Max: bound}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read leaderboard ties: %w", err)
		}
		sort.Strings(tied)
		for _, m := range tied {
			if len(users) == limit {
				break
			}
			users = append(users, core.UserID(m))
		}
	} else {
		for _, z := range top {
			users = append(users, core.UserID(z.Member.(string)))
		}
	}

	rows := make([]core.LeaderboardRow, 0, len(users))
	for _, u := range users {
		row, err := s.leaderboardRow(ctx, u)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	leaderboard.SortRows(rows)
	return rows, nil
}

func (s *Store) leaderboardRow(ctx context.Context, user core.UserID) (core.LeaderboardRow, error) {
	var (
		profile   *redis.StringCmd
		completed *redis.IntCmd
		badges    *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		profile = pipe.Get(ctx, s.userKey(user, "profile"))
		completed = pipe.SCard(ctx, s.userKey(user, "completed"))
		badges = pipe.HLen(ctx, s.userKey(user, "badges"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.LeaderboardRow{}, fmt.Errorf("failed to read leaderboard row: %w", err)
	}
	b, err := profile.Bytes()
	if errors.Is(err, redis.Nil) {
		return core.LeaderboardRow{}, core.NotFound("user", string(user))
	}
	if err != nil {
		return core.LeaderboardRow{}, err
	}
	var p core.Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return core.LeaderboardRow{}, fmt.Errorf("decode profile %s: %w", user, err)
	}
	return core.LeaderboardRow{
		UserID:              p.ID,
		DisplayName:         p.DisplayName,
		TotalPoints:         p.TotalPoints,
		TotalXP:             p.TotalXP,
		Level:               p.Level,
		CompletedQuestCount: completed.Val(),
		BadgeCount:          badges.Val(),
	}, nil
}
