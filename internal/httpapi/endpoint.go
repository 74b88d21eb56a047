package httpapi

import (
	"context"

	"github.com/go-kit/kit/endpoint"
)

// makeSnapshotEndpoint wraps a zero-argument store selector as a go-kit
// endpoint, since every debug route here takes no request parameters.
func makeSnapshotEndpoint(selector func() any) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return selector(), nil
	}
}
