package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/models"
)

// extractSource reads the X-Source header identifying the upstream channel
// a request arrived through. Absent or unrecognized values fall back to
// "api-client" so direct callers need no header at all.
func extractSource(c *echo.Context) string {
	switch src := c.Request().Header.Get("X-Source"); src {
	case models.SourceSlackBot, models.SourceWebUI, models.SourceAPIClient:
		return src
	default:
		return models.SourceAPIClient
	}
}
