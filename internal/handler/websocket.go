package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"gowa-blast/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: production: batasi origin
		return true
	},
}

// WebSocketHandler handles observer connections on /ws.
//
// Three bindings exist: ?ticket= redeems a single-use token and scopes the
// client to that blast, ?sessionId= scopes it to one session, and a bare
// connection gets the unscoped session/QR feed.
func WebSocketHandler(hub *ws.Hub, tickets *ws.TicketManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var blastID string
		if token := c.QueryParam("ticket"); token != "" {
			id, err := tickets.RedeemTicket(c.Request().Context(), token)
			if err != nil {
				return ErrorResponse(c, 401, "Ticket invalid or expired", "INVALID_TICKET", "Request a new ticket")
			}
			blastID = id
		}
		sessionID := c.QueryParam("sessionId")

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return err
		}

		client := ws.NewClient(hub, conn, blastID, sessionID)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()

		return nil
	}
}
