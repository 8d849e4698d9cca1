package handler

import (
	"github.com/labstack/echo/v4"

	"gowa-blast/internal/ws"
)

// GET /api/ws-ticket?blastId=...
//
// Hands out the short-lived token a client trades in on the websocket route
// to observe one blast.
func IssueTicket(tickets *ws.TicketManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		blastID := c.QueryParam("blastId")
		if blastID == "" {
			return ErrorResponse(c, 400, "Query param 'blastId' is required", "VALIDATION_ERROR", "")
		}

		token, err := tickets.CreateTicket(c.Request().Context(), blastID)
		if err != nil {
			return ErrorResponse(c, 500, "Failed to issue ticket", "TICKET_FAILED", err.Error())
		}
		return SuccessResponse(c, 200, "Ticket issued", map[string]interface{}{
			"ticket":           token,
			"expiresInSeconds": 30,
		})
	}
}
