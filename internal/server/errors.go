package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/golden-record/internal/export"
	"github.com/jonathan/golden-record/internal/pipeline"
	"github.com/jonathan/golden-record/internal/store"
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
	var validation *ErrValidation
	switch {
	case errors.As(err, &validation), errors.Is(err, store.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, export.ErrNothingToExport):
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}
