package console

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/pkg/response"
)

// Acquire returns the request's Session, writing 503 when the console
// middleware did not run.
func Acquire(c *gin.Context) (*Session, bool) {
	s, ok := FromContext(c)
	if !ok {
		response.ServiceUnavailable(c, "session unavailable")
		c.Abort()
		return nil, false
	}
	return s, true
}

// Fail translates a backend error into the response envelope. Client errors
// keep their status and backend message; a failed refresh is a 401; anything
// else becomes a gateway error carrying fallback.
func Fail(c *gin.Context, err error, fallback string) {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, apiclient.ErrRefreshFailed):
		response.Unauthorized(c, "session expired")
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		response.Error(c, apiErr.Status, msg)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, fallback)
	default:
		response.BadGateway(c, fallback)
	}
	if err != nil {
		_ = c.Error(err)
	}
}

// UserID returns the signed-in user of the request's session.
func UserID(c *gin.Context) (string, bool) {
	s, ok := FromContext(c)
	if !ok || !s.IsAuthenticated() {
		return "", false
	}
	id := s.UserID()
	return id, id != ""
}
