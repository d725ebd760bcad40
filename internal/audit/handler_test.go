package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/pkg/response"
)

type stubLister struct {
	events []Event
	err    error
	limit  int
}

func (s *stubLister) ListByUser(_ context.Context, _ string, limit int) ([]Event, error) {
	s.limit = limit
	return s.events, s.err
}

func serveActivity(h *Handler, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/activity", h.Activity)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func signedIn(*gin.Context) (string, bool) { return "u1", true }

func TestActivity(t *testing.T) {
	l := &stubLister{events: []Event{{ID: "e1", Action: ActionLogin}}}
	w := serveActivity(NewHandler(l, signedIn, nil), "/api/activity?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, l.limit)

	var body struct {
		response.Body
		Data []Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, ActionLogin, body.Data[0].Action)
}

func TestActivityErrors(t *testing.T) {
	anonymous := func(*gin.Context) (string, bool) { return "", false }
	assert.Equal(t, http.StatusUnauthorized, serveActivity(NewHandler(&stubLister{}, anonymous, nil), "/api/activity").Code)
	assert.Equal(t, http.StatusBadRequest, serveActivity(NewHandler(&stubLister{}, signedIn, nil), "/api/activity?limit=0").Code)
	failing := &stubLister{err: errors.New("db down")}
	assert.Equal(t, http.StatusInternalServerError, serveActivity(NewHandler(failing, signedIn, nil), "/api/activity").Code)
}
