package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/civicmap/internal/access"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/schemas"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		ve  *ErrValidation
		sve *schemas.ValidationError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &sve):
		return http.StatusBadRequest
	case errors.Is(err, contributions.ErrMissingCandidateID),
		errors.Is(err, access.ErrMissingFields),
		errors.Is(err, geocode.ErrCityNotFound):
		return http.StatusBadRequest
	case errors.Is(err, contributions.ErrInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// validationError converts validator errors into an *ErrValidation for the
// first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ErrValidation{Field: verrs[0].Field(), Message: verrs[0].Tag()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// schemaFailure maps a schemas.Validate error to a status and response
// message. Unparseable documents are client errors; a broken schema is not.
func schemaFailure(err error) (int, string) {
	var (
		ve *schemas.ValidationError
		le *schemas.SchemaLoadError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Summary()
	case errors.As(err, &le):
		return http.StatusInternalServerError, "Schema unavailable"
	default:
		return http.StatusBadRequest, "Invalid request body"
	}
}
