package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in Body.Code so clients can branch without parsing messages.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail sends status with an error message and code and stops the handler chain.
func Fail(c *gin.Context, status int, code, err string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: err, Code: code})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	Fail(c, http.StatusBadRequest, CodeBadRequest, err)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, err)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	Fail(c, http.StatusForbidden, CodeForbidden, err)
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	Fail(c, http.StatusNotFound, CodeNotFound, err)
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	Fail(c, http.StatusServiceUnavailable, CodeUnavailable, err)
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, err)
}
