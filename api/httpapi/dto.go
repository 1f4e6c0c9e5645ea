package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"questline/core"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
		return core.ValidateID("entity", fl.Field().String()) == nil
	})
	return v
}

type userPath struct {
	ID string `validate:"required,max=128"`
}

type questPath struct {
	ID string `validate:"required,max=64,entity_id"`
}

type questsQuery struct {
	Category   string `validate:"omitempty,oneof=legal social cultural food"`
	Difficulty string `validate:"omitempty,oneof=beginner intermediate advanced"`
}

type leaderboardQuery struct {
	Limit int `validate:"gte=0,lte=1000"`
}

type putUserRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
}

type completeRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type questView struct {
	core.Quest
	Difficulty core.Difficulty `json:"difficulty"`
}

type evaluateResponse struct {
	NewBadges []core.Badge `json:"new_badges"`
}

type canSpinResponse struct {
	CanSpin bool `json:"can_spin"`
}

// fieldError is one failed constraint in an invalid_input response.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func formatValidationErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fe.Field() + " is required"
		case "max":
			msg = fe.Field() + " must be at most " + fe.Param()
		case "gte", "lte":
			msg = fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param())
		case "oneof":
			msg = fe.Field() + " must be one of: " + fe.Param()
		case "entity_id":
			msg = fe.Field() + " may only contain letters, digits, '-' and '_'"
		default:
			msg = fe.Field() + " is invalid"
		}
		out = append(out, fieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

// validInput writes a 400 and returns false when v fails its constraints.
func validInput(w http.ResponseWriter, v any) bool {
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "validation failed", formatValidationErrors(err))
		return false
	}
	return true
}

// decodeBody reads a JSON body into dst and validates it. An empty body is
// accepted unless required.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) || required {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body", err.Error())
			return false
		}
	}
	return validInput(w, dst)
}
