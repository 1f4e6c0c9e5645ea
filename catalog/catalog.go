// Package catalog loads, validates and seeds the quest and badge reference data.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"questline/core"
	"questline/engine"
)

//go:embed default.json
var defaultCatalog []byte

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
		return core.ValidateID("entity", fl.Field().String()) == nil
	})
	return v
}

// Catalog is the reference data a deployment starts from. Profiles are
// optional demo accounts.
type Catalog struct {
	Quests   []core.Quest  `json:"quests"`
	Badges   []core.Badge  `json:"badges"`
	Profiles []ProfileSeed `json:"profiles,omitempty"`
}

// ProfileSeed provisions a user with an optional starting balance.
type ProfileSeed struct {
	ID          core.UserID `json:"id" validate:"required,entity_id"`
	DisplayName string      `json:"display_name"`
	TotalXP     int64       `json:"total_xp" validate:"gte=0"`
	TotalPoints int64       `json:"total_points" validate:"gte=0"`
}

// Parse decodes a catalog document and validates it.
func Parse(r io.Reader) (*Catalog, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path) // #nosec G304 - operator-supplied catalog path
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Default returns the embedded demo catalog.
func Default() *Catalog {
	c, err := Parse(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads path, or returns the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Validate checks field constraints, id uniqueness and that every unlock rule parses.
func (c *Catalog) Validate() error {
	var errs []error
	quests := make(map[core.QuestID]bool, len(c.Quests))
	for i, q := range c.Quests {
		if err := validate.Struct(q); err != nil {
			errs = append(errs, fmt.Errorf("quests[%d] %q: %w", i, q.ID, err))
		}
		if err := core.ValidateID("quest", string(q.ID)); err != nil {
			errs = append(errs, fmt.Errorf("quests[%d]: %w", i, err))
		}
		if quests[q.ID] {
			errs = append(errs, fmt.Errorf("quests[%d]: duplicate id %q", i, q.ID))
		}
		quests[q.ID] = true
	}
	badges := make(map[core.BadgeID]bool, len(c.Badges))
	for i, b := range c.Badges {
		if err := validate.Struct(b); err != nil {
			errs = append(errs, fmt.Errorf("badges[%d] %q: %w", i, b.ID, err))
		}
		if err := core.ValidateID("badge", string(b.ID)); err != nil {
			errs = append(errs, fmt.Errorf("badges[%d]: %w", i, err))
		}
		if badges[b.ID] {
			errs = append(errs, fmt.Errorf("badges[%d]: duplicate id %q", i, b.ID))
		}
		badges[b.ID] = true
		if _, err := core.ParseRule(b.UnlockRule); err != nil {
			errs = append(errs, &core.RuleError{BadgeID: b.ID, Err: err})
		}
	}
	for i, p := range c.Profiles {
		if err := validate.Struct(p); err != nil {
			errs = append(errs, fmt.Errorf("profiles[%d] %q: %w", i, p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Quests          int
	Badges          int
	ProfilesCreated int
}

// Seed upserts the catalog into store. Existing profiles keep their progress.
func (c *Catalog) Seed(ctx context.Context, store engine.Seeder, log *slog.Logger) (SeedStats, error) {
	if log == nil {
		log = slog.Default()
	}
	var st SeedStats
	for _, q := range c.Quests {
		if err := store.PutQuest(ctx, q); err != nil {
			return st, fmt.Errorf("seed quest %s: %w", q.ID, err)
		}
		st.Quests++
	}
	for _, b := range c.Badges {
		if err := store.PutBadge(ctx, b); err != nil {
			return st, fmt.Errorf("seed badge %s: %w", b.ID, err)
		}
		st.Badges++
	}
	for _, p := range c.Profiles {
		id, err := core.NormalizeUserID(p.ID)
		if err != nil {
			return st, fmt.Errorf("seed profile: %w", err)
		}
		_, created, err := store.PutProfile(ctx, core.Profile{
			ID:          id,
			DisplayName: p.DisplayName,
			TotalXP:     p.TotalXP,
			TotalPoints: p.TotalPoints,
			Level:       core.LevelFromXP(p.TotalXP),
		})
		if err != nil {
			return st, fmt.Errorf("seed profile %s: %w", id, err)
		}
		if created {
			st.ProfilesCreated++
		}
	}
	log.Info("catalog seeded", "quests", st.Quests, "badges", st.Badges, "profiles_created", st.ProfilesCreated)
	return st, nil
}
