package common

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthServerLiveness(t *testing.T) {
	ready := &atomic.Bool{}
	hs := NewHealthServer("127.0.0.1:0", ready)
	defer hs.Server().Close()

	rec := httptest.NewRecorder()
	hs.Server().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthServerReadinessFollowsFlag(t *testing.T) {
	ready := &atomic.Bool{}
	hs := NewHealthServer("127.0.0.1:0", ready)
	defer hs.Server().Close()

	rec := httptest.NewRecorder()
	hs.Server().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.Store(true)

	rec = httptest.NewRecorder()
	hs.Server().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
