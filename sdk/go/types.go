package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"questline/core"
)

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// Quest is a catalog quest with its derived difficulty tier.
type Quest struct {
	core.Quest
	Difficulty core.Difficulty `json:"difficulty"`
}

// QuestFilter narrows ListQuests. Empty fields match everything.
type QuestFilter struct {
	Category   core.Category
	Difficulty core.Difficulty
}

// Progress is the GET /users/{id} view.
type Progress struct {
	Profile         core.Profile       `json:"profile"`
	Level           core.LevelProgress `json:"level_progress"`
	CompletedQuests int                `json:"completed_quests"`
	TotalQuests     int                `json:"total_quests"`
	BadgeCount      int                `json:"badge_count"`
	CanSpin         bool               `json:"can_spin"`
}

// Completion is the outcome of completing a quest. Applied is false when the
// quest had already been completed and nothing changed.
type Completion struct {
	Profile       core.Profile `json:"profile"`
	Quest         core.Quest   `json:"quest"`
	Applied       bool         `json:"applied"`
	XPAwarded     int64        `json:"xp_awarded"`
	PointsAwarded int64        `json:"points_awarded"`
	PreviousLevel int64        `json:"previous_level"`
	LeveledUp     bool         `json:"leveled_up"`
	NewBadges     []core.Badge `json:"new_badges"`
}

// BadgeStatus is a catalog badge with the user's unlock state.
type BadgeStatus struct {
	core.Badge
	Unlocked bool `json:"unlocked"`
}

// Spin is the outcome of a daily wheel spin.
type Spin struct {
	Reward    core.SpinReward `json:"reward"`
	Date      core.Date       `json:"date"`
	Profile   core.Profile    `json:"profile"`
	LeveledUp bool            `json:"leveled_up"`
	NewBadges []core.Badge    `json:"new_badges"`
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySpunToday matches the 409 returned for a second spin on the same day.
	ErrAlreadySpunToday = errors.New("already spun today")
	// ErrUnauthorized matches 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadySpunToday:
		return e.Code == "already_spun_today"
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
