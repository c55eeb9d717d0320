package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vcu-server/services/token-api/internal/utils/platformerrors"
)

// ErrorResponse is the JSON error envelope returned by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleError maps platform errors onto HTTP statuses; anything unknown is a 500.
func HandleError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError

	var platformErr *platformerrors.PlatformError
	if errors.As(err, &platformErr) {
		status = platformerrors.ErrorTypeToHTTPStatus(platformErr.Type)
	}

	HandleErrorWithStatus(c, status, err, message)
}

// HandleErrorWithStatus writes the error envelope with an explicit status.
func HandleErrorWithStatus(c *gin.Context, status int, err error, message string) {
	resp := ErrorResponse{Error: http.StatusText(status), Message: message}
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, resp)
}
