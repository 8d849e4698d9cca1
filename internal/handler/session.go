package handler

import (
	"encoding/json"
	"errors"

	"github.com/labstack/echo/v4"

	"gowa-blast/internal/model"
	"gowa-blast/internal/session"
	"gowa-blast/internal/store"
)

type sessionView struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Status session.Status `json:"status"`
}

// GET /api/sessions
//
// Joins the config registry with the statuses the worker publishes into the
// shared store. A configured session the worker has never touched reads as
// disconnected.
func ListSessions(st store.Store, configs *model.SessionConfigRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		list, err := configs.List(ctx)
		if err != nil {
			return ErrorResponse(c, 500, "Failed to list sessions", "DB_ERROR", err.Error())
		}

		views := make([]sessionView, 0, len(list))
		for _, cfg := range list {
			view := sessionView{ID: cfg.ID, Label: cfg.Label, Status: session.StatusDisconnected}
			if status, err := st.Get(ctx, store.SessionStatusKey(cfg.ID)); err == nil {
				view.Status = session.Status(status)
			}
			views = append(views, view)
		}
		return SuccessResponse(c, 200, "Sessions retrieved", views)
	}
}

// POST /api/sessions/:sessionId/connect
func ConnectSession(st store.Store, configs *model.SessionConfigRepo) echo.HandlerFunc {
	return publishCommand(st, configs, "connect", "Connect command sent")
}

// POST /api/sessions/:sessionId/logout
func LogoutSession(st store.Store, configs *model.SessionConfigRepo) echo.HandlerFunc {
	return publishCommand(st, configs, "logout", "Logout command sent")
}

// publishCommand relays a lifecycle command to the worker over the store's
// command topic. The API process never touches a transport handle itself.
func publishCommand(st store.Store, configs *model.SessionConfigRepo, command, okMessage string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		sessionID := c.Param("sessionId")

		cfg, err := configs.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, model.ErrSessionConfigNotFound) {
				return ErrorResponse(c, 404, "Session not found", "SESSION_NOT_FOUND", "Create a session config first")
			}
			return ErrorResponse(c, 500, "Failed to look up session", "DB_ERROR", err.Error())
		}
		if !cfg.Enabled {
			return ErrorResponse(c, 403, "Session is disabled", "SESSION_DISABLED", "Enable the session config first")
		}

		payload, _ := json.Marshal(session.Command{Command: command, SessionID: sessionID})
		if err := st.Publish(ctx, store.TopicSessionCommand, string(payload)); err != nil {
			return ErrorResponse(c, 500, "Failed to publish command", "PUBLISH_FAILED", err.Error())
		}
		return SuccessResponse(c, 202, okMessage, map[string]interface{}{
			"sessionId": sessionID,
			"command":   command,
		})
	}
}
