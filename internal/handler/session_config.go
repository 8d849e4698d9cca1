package handler

import (
	"errors"

	"github.com/labstack/echo/v4"

	"gowa-blast/internal/model"
)

type SessionConfigRequest struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Enabled *bool  `json:"enabled"`
}

// GET /api/session-configs
func ListSessionConfigs(repo *model.SessionConfigRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		configs, err := repo.List(c.Request().Context())
		if err != nil {
			return ErrorResponse(c, 500, "Failed to list session configs", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 200, "Session configs retrieved", configs)
	}
}

// POST /api/session-configs
func CreateSessionConfig(repo *model.SessionConfigRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req SessionConfigRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, 400, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if req.ID == "" {
			return ErrorResponse(c, 400, "Field 'id' is required", "VALIDATION_ERROR", "")
		}
		if req.Label == "" {
			req.Label = req.ID
		}

		cfg, err := repo.Create(c.Request().Context(), req.ID, req.Label)
		if err != nil {
			return ErrorResponse(c, 500, "Failed to create session config", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 201, "Session config created", cfg)
	}
}

// PATCH /api/session-configs/:sessionId
func UpdateSessionConfig(repo *model.SessionConfigRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.Param("sessionId")

		current, err := repo.Get(c.Request().Context(), sessionID)
		if err != nil {
			if errors.Is(err, model.ErrSessionConfigNotFound) {
				return ErrorResponse(c, 404, "Session config not found", "SESSION_NOT_FOUND", "")
			}
			return ErrorResponse(c, 500, "Failed to look up session config", "DB_ERROR", err.Error())
		}

		var req SessionConfigRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, 400, "Invalid request body", "INVALID_REQUEST", err.Error())
		}

		label := current.Label
		if req.Label != "" {
			label = req.Label
		}
		enabled := current.Enabled
		if req.Enabled != nil {
			enabled = *req.Enabled
		}

		cfg, err := repo.Update(c.Request().Context(), sessionID, label, enabled)
		if err != nil {
			return ErrorResponse(c, 500, "Failed to update session config", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 200, "Session config updated", cfg)
	}
}

// DELETE /api/session-configs/:sessionId
func DeleteSessionConfig(repo *model.SessionConfigRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := repo.Delete(c.Request().Context(), c.Param("sessionId"))
		if err != nil {
			if errors.Is(err, model.ErrSessionConfigNotFound) {
				return ErrorResponse(c, 404, "Session config not found", "SESSION_NOT_FOUND", "")
			}
			return ErrorResponse(c, 500, "Failed to delete session config", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 200, "Session config deleted", nil)
	}
}
