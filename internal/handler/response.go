package handler

import (
	"github.com/labstack/echo/v4"
)

type errorBody struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   *errorBody  `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ErrorResponse(c echo.Context, status int, message, code, details string) error {
	return c.JSON(status, apiResponse{
		Success: false,
		Message: message,
		Error:   &errorBody{Code: code, Details: details},
	})
}

func SuccessResponse(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, apiResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}
