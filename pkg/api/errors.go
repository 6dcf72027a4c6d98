package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// toHTTPError translates service-layer failures into HTTP responses.
// Validation problems surface as 400 with the offending field named,
// missing records as 404. Anything unrecognized becomes an opaque 500;
// the detail goes to the log, not the client.
func toHTTPError(err error) *echo.HTTPError {
	var invalid *services.ValidationError
	switch {
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, invalid.Error())
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	default:
		slog.Error("Unexpected service error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
