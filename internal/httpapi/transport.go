// Package httpapi exposes a read-only debug/introspection surface over
// the control plane's store: one JSON endpoint per entity slice, a
// health check, and the prometheus metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flowmesh/controlplane/internal/store"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler builds the chi router serving every debug endpoint over s.
func NewHandler(s *store.Store) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
	}

	mux := chi.NewRouter()

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.Get("/connections", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllConnections() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/workers", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllWorkers() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/pipelines/definitions", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllPipelineDefinitions() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/pipelines/instances", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllPipelineInstances() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/segments/definitions", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllSegmentDefinitions() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/segments/instances", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllSegmentInstances() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/manifolds", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllManifoldInstances() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/subscriptions", kithttp.NewServer(
		makeSnapshotEndpoint(func() any { return s.SelectAllSubscriptionServices() }),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	return mux
}

func decodeEmptyRequest(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func encodeJSONResponse(_ context.Context, w http.ResponseWriter, response any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(response)
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
