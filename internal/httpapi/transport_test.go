package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowmesh/controlplane/internal/httpapi"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/stretchr/testify/require"
)

func TestHealthzReturnsOK(t *testing.T) {
	h := httpapi.NewHandler(store.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectionsEndpointReturnsJSONArray(t *testing.T) {
	s := store.New()
	s.AddConnection("peer-a")

	h := httpapi.NewHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "peer-a")

	var conns []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
}

func TestMetricsEndpointIsServed(t *testing.T) {
	h := httpapi.NewHandler(store.New())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
