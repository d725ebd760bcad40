package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/organizations":                          "/organizations",
		"/organizations/o1/members/me":            "/organizations/:id/members/me",
		"/organizations/o1/members/u2/role":       "/organizations/:id/members/:id/role",
		"/organizations/o1/invitations/i9":        "/organizations/:id/invitations/:id",
		"/invitations/tok123/accept":              "/invitations/:id/accept",
		"/users/me":                               "/users/me",
		"/organizations/o1/members?status=active": "/organizations/:id/members",
		"/auth/refresh":                           "/auth/refresh",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestRefreshCounter(t *testing.T) {
	m := New()
	m.Refresh("success")
	m.Refresh("joined")
	m.Refresh("joined")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshCount("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshCount("joined")))
}

func TestObserveAPIUsesNormalizedPath(t *testing.T) {
	m := New()
	m.ObserveAPI(http.MethodGet, "/organizations/o1/members", 200, time.Millisecond)
	m.ObserveAPI(http.MethodGet, "/organizations/o2/members", 200, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.apiRequestsTotal.WithLabelValues(http.MethodGet, "/organizations/:id/members", "200")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Redirect()
	m.Bootstrap(true)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "console_gate_redirects_total 1")
	assert.Contains(t, w.Body.String(), `console_bootstraps_total{authenticated="true"} 1`)
}
