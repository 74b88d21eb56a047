package store

import (
	"errors"

	"github.com/flowmesh/controlplane/internal/resource"
)

// Error kinds emitted by the store, per the validation-error taxonomy.
// Handlers in internal/server map these directly onto wire.ErrorPayload
// codes; they are never presented to a client bare.
var (
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrDuplicateID         = errors.New("duplicate id")
	ErrInvalidTransition   = resource.ErrInvalidTransition
	ErrPrematureRemoval    = resource.ErrPrematureRemoval
	ErrUnknownID           = errors.New("unknown id")
	ErrDanglingReference   = errors.New("dangling reference")
)
