package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope of every /v1 response. Code is 0 on success and
// the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{Message: "ok", Data: data, Meta: meta})
}

// Accepted acknowledges work that continues after the response is written.
func Accepted(c *gin.Context, meta map[string]any) {
	c.JSON(http.StatusAccepted, apiResponse{Message: "accepted", Meta: meta})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Meta: meta})
}

// ErrorWithData is Error carrying a partial payload, such as the result of an aborted run.
func ErrorWithData(c *gin.Context, status int, message string, data any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Data: data})
}
