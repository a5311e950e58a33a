package handler

import (
	"net/http"

	apperrors "github.com/accountkit/lifecycle-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// HTTPStatus maps the application error taxonomy onto HTTP status codes.
func HTTPStatus(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalidScheduleTime:
		return http.StatusBadRequest
	case apperrors.ErrInvalidTransition, apperrors.ErrScheduleConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
