package handler

import (
	"errors"

	"github.com/labstack/echo/v4"

	"gowa-blast/internal/model"
)

// GET /api/campaigns
func ListCampaigns(repo *model.CampaignRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		campaigns, err := repo.Campaigns(c.Request().Context())
		if err != nil {
			return ErrorResponse(c, 500, "Failed to list campaigns", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 200, "Campaigns retrieved", campaigns)
	}
}

// GET /api/campaigns/:campaignId/recipients
func ListCampaignRecipients(repo *model.CampaignRepo) echo.HandlerFunc {
	return func(c echo.Context) error {
		recipients, err := repo.Recipients(c.Request().Context(), c.Param("campaignId"))
		if err != nil {
			if errors.Is(err, model.ErrCampaignNotFound) {
				return ErrorResponse(c, 404, "Campaign not found", "CAMPAIGN_NOT_FOUND", "")
			}
			return ErrorResponse(c, 500, "Failed to load recipients", "DB_ERROR", err.Error())
		}
		return SuccessResponse(c, 200, "Recipients retrieved", recipients)
	}
}
