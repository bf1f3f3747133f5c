package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/apperr"
)

// ResponseData represents the structure of a standard API response.
type ResponseData struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a standard success response.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, ResponseData{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// Created sends a standard resource created response.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, ResponseData{
		Status:  http.StatusCreated,
		Message: message,
		Data:    data,
	})
}

// Error sends a standard error response.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	ErrorWithData(c, statusCode, errorMessage, nil)
}

// ErrorWithData sends an error response that also carries data, e.g. the
// current state of a row a request failed against.
func ErrorWithData(c *gin.Context, statusCode int, errorMessage string, data interface{}) {
	c.JSON(statusCode, ResponseData{
		Status:  statusCode,
		Message: "An error occurred",
		Data:    data,
		Error:   errorMessage,
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *gin.Context, errorMessage string) {
	Error(c, http.StatusBadRequest, errorMessage)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403 Forbidden error response.
func Forbidden(c *gin.Context, errorMessage string) {
	Error(c, http.StatusForbidden, errorMessage)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *gin.Context, errorMessage string) {
	Error(c, http.StatusNotFound, errorMessage)
}

// InternalServerError sends a 500 Internal Server Error response.
func InternalServerError(c *gin.Context, errorMessage string) {
	Error(c, http.StatusInternalServerError, errorMessage)
}

// InternalError sends a 500 with a fixed message and attaches err to the
// context for the request logger. Error details never reach the client.
func InternalError(c *gin.Context, err error) {
	_ = c.Error(err)
	InternalServerError(c, internalErrorMessage)
}

const internalErrorMessage = "Internal server error"

// StatusFor maps a domain error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrLocationUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrInvalidToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var domainMessages = map[int]string{
	http.StatusConflict:            "The record changed or the requested change is not allowed from its current state. Reload and try again.",
	http.StatusForbidden:           "You are not allowed to perform this action.",
	http.StatusUnprocessableEntity: "Location unavailable. Please enable location services and try again.",
	http.StatusServiceUnavailable:  "The change could not be saved. Please try again.",
	http.StatusBadRequest:          "Invalid room link.",
}

// DomainError sends the response for a domain error. data, when non-nil, is
// included so clients can re-render from the stored state. Unmapped errors
// are logged through the context and answered with a generic 500.
func DomainError(c *gin.Context, err error, data interface{}) {
	status := StatusFor(err)
	msg, ok := domainMessages[status]
	switch {
	case errors.Is(err, apperr.ErrConflict):
		msg = "A record with these details already exists."
	case status == http.StatusNotFound:
		msg = err.Error()
	case !ok:
		_ = c.Error(err)
		msg = internalErrorMessage
	}
	ErrorWithData(c, status, msg, data)
}
