package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/models"
)

// askChatHandler handles POST /api/v1/chat/ask.
//
// The engine reports rate-limit rejections, deadline expiry, and model
// failures through the result's warning tag rather than as Go errors; this
// handler translates those tags to HTTP statuses (429, 504, 502) while
// returning the same response shape for every terminal outcome.
func (s *Server) askChatHandler(c *echo.Context) error {
	var req AskChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.engine.Ask(c.Request().Context(), models.AskRequest{
		UserID:         req.UserID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		SourceTag:      extractSource(c),
		SourceRef:      req.Source,
	})
	if err != nil {
		return toHTTPError(err)
	}

	resp := newAskChatResponse(result)
	switch result.Warning {
	case models.WarningRateLimited:
		if result.RetryAfterSeconds > 0 {
			c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
		}
		return c.JSON(http.StatusTooManyRequests, resp)
	case models.WarningTimeout:
		return c.JSON(http.StatusGatewayTimeout, resp)
	case models.WarningLMError:
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
