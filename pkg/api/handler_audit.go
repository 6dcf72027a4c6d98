package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listAuditRecordsHandler handles GET /api/v1/audit/records.
// Optional query parameters: user_id filters to one user, limit caps the
// page size (the store clamps it to its maximum).
func (s *Server) listAuditRecordsHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a positive integer")
		}
		limit = parsed
	}

	records, err := s.auditor.Recent(c.Request().Context(), userID, limit)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, &AuditRecordsResponse{
		Records: records,
		Count:   len(records),
	})
}

// getAuditRecordHandler handles GET /api/v1/audit/records/:id.
func (s *Server) getAuditRecordHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record id is required")
	}

	record, err := s.auditor.GetByID(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, record)
}
