package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"questline/adapters/memory"
	"questline/core"
)

// Store keeps state in memory and rewrites a single JSON file after every
// successful write. A write whose file update fails is rolled back.
// Suitable for demos and small deployments.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var d memory.Dataset
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.Store.Import(d)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.Store.Export(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// write runs op and persists when it changed something, restoring the
// previous contents if the file cannot be written.
func (s *Store) write(op func() (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.Store.Export()
	changed, err := op()
	if err != nil || !changed {
		return err
	}
	if err := s.persist(); err != nil {
		s.Store.Import(before)
		return fmt.Errorf("persist %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) PutQuest(ctx context.Context, q core.Quest) error {
	return s.write(func() (bool, error) { return true, s.Store.PutQuest(ctx, q) })
}

func (s *Store) PutBadge(ctx context.Context, b core.Badge) error {
	return s.write(func() (bool, error) { return true, s.Store.PutBadge(ctx, b) })
}

func (s *Store) PutProfile(ctx context.Context, p core.Profile) (out core.Profile, created bool, err error) {
	err = s.write(func() (bool, error) {
		var err error
		out, created, err = s.Store.PutProfile(ctx, p)
		return true, err
	})
	return out, created, err
}

func (s *Store) CompleteQuest(ctx context.Context, progress core.QuestProgress, mutate core.ProfileMutation) (out core.Profile, applied bool, err error) {
	err = s.write(func() (bool, error) {
		var err error
		out, applied, err = s.Store.CompleteQuest(ctx, progress, mutate)
		return applied, err
	})
	if err != nil {
		return core.Profile{}, false, err
	}
	return out, applied, nil
}

func (s *Store) UpdateQuestNotes(ctx context.Context, user core.UserID, quest core.QuestID, notes string) (updated bool, err error) {
	err = s.write(func() (bool, error) {
		var err error
		updated, err = s.Store.UpdateQuestNotes(ctx, user, quest, notes)
		return updated, err
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (s *Store) InsertUserBadge(ctx context.Context, ub core.UserBadge) (inserted bool, err error) {
	err = s.write(func() (bool, error) {
		var err error
		inserted, err = s.Store.InsertUserBadge(ctx, ub)
		return inserted, err
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) RecordSpin(ctx context.Context, spin core.DailySpin, mutate core.ProfileMutation) (out core.Profile, err error) {
	err = s.write(func() (bool, error) {
		var err error
		out, err = s.Store.RecordSpin(ctx, spin, mutate)
		return true, err
	})
	if err != nil {
		return core.Profile{}, err
	}
	return out, nil
}
