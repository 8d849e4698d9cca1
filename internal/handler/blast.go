package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"gowa-blast/internal/blast"
	"gowa-blast/internal/helper"
	"gowa-blast/internal/model"
)

type StartBlastRequest struct {
	SessionID  string `json:"sessionId" form:"sessionId"`
	Message    string `json:"message" form:"message"`
	CampaignID string `json:"campaignId" form:"campaignId"`
}

// POST /api/blasts
//
// Accepts JSON for campaign-only blasts and multipart/form-data when a
// recipient sheet or media attachment rides along.
func StartBlast(svc *blast.Service, uploadDir string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req StartBlastRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, 400, "Invalid request body", "INVALID_REQUEST", err.Error())
		}

		blastReq := blast.Request{
			SessionID:  req.SessionID,
			Message:    req.Message,
			CampaignID: req.CampaignID,
		}

		if isMultipart(c) {
			if sheet, err := c.FormFile("sheet"); err == nil {
				path, err := storeUpload(sheet, uploadDir, false)
				if err != nil {
					return ErrorResponse(c, 500, "Failed to store recipient sheet", "UPLOAD_FAILED", err.Error())
				}
				blastReq.SheetPath = path
			}
			if media, err := c.FormFile("media"); err == nil {
				mimetype := media.Header.Get("Content-Type")
				path, err := storeUpload(media, uploadDir, strings.HasPrefix(mimetype, "image/"))
				if err != nil {
					return ErrorResponse(c, 500, "Failed to store media attachment", "UPLOAD_FAILED", err.Error())
				}
				blastReq.Media = &blast.MediaRef{
					Path:     path,
					Mimetype: mimetype,
					Filename: media.Filename,
				}
			}
		}

		result, err := svc.InitiateBlast(c.Request().Context(), blastReq)
		if err != nil {
			cleanupUploads(blastReq)
			switch {
			case errors.Is(err, blast.ErrValidation):
				return ErrorResponse(c, 400, "Invalid blast request", "VALIDATION_ERROR", err.Error())
			case errors.Is(err, blast.ErrSessionNotConnected):
				return ErrorResponse(c, 400, "Session is not connected", "NOT_CONNECTED", "Please connect the session first")
			case errors.Is(err, blast.ErrNoRecipients):
				return ErrorResponse(c, 400, "No recipients after deduplication", "NO_RECIPIENTS", "")
			case errors.Is(err, model.ErrCampaignNotFound):
				return ErrorResponse(c, 404, "Campaign not found", "CAMPAIGN_NOT_FOUND", err.Error())
			}
			return ErrorResponse(c, 500, "Failed to start blast", "BLAST_FAILED", err.Error())
		}

		message := "Blast started"
		if result.Deferred {
			message = "Blast accepted, recipient sheet is being processed"
		}
		return SuccessResponse(c, 202, message, map[string]interface{}{
			"blastId":        result.BlastID,
			"recipientCount": result.RecipientCount,
			"deferred":       result.Deferred,
		})
	}
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get("Content-Type"), "multipart/")
}

// storeUpload copies the part into the upload dir under a random name,
// downscaling oversized images on the way in.
func storeUpload(file *multipart.FileHeader, uploadDir string, isImage bool) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}

	if isImage {
		normalized, err := helper.NormalizeImage(data, file.Header.Get("Content-Type"))
		if err == nil {
			data = normalized
		}
	}

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(uploadDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// cleanupUploads removes stored files for a request that never became a blast.
func cleanupUploads(req blast.Request) {
	if req.SheetPath != "" {
		_ = os.Remove(req.SheetPath)
	}
	if req.Media != nil {
		_ = os.Remove(req.Media.Path)
	}
}
