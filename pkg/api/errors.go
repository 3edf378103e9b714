package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/streamguard/streamguard/pkg/template"
)

// mapPipelineError maps pipeline errors to HTTP error responses.
func mapPipelineError(err error) *echo.HTTPError {
	var unknownTmpl *template.UnknownError
	if errors.As(err, &unknownTmpl) {
		return echo.NewHTTPError(http.StatusNotFound, unknownTmpl.Error())
	}
	var missingVar *template.VariableMissingError
	if errors.As(err, &missingVar) {
		return echo.NewHTTPError(http.StatusBadRequest, missingVar.Error())
	}

	// Unexpected error
	slog.Error("Unexpected pipeline error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
