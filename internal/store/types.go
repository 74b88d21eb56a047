// Package store implements the control plane's authoritative in-memory
// state: the typed slices for connections, workers, pipeline and segment
// definitions, pipeline and segment instances, and manifold instances,
// along with the reducers and selectors that keep them referentially
// consistent.
package store

import "github.com/flowmesh/controlplane/internal/resource"

// Connection is one live client stream. Removing it cascades through
// every entity it transitively owns.
type Connection struct {
	ID                  uint64
	PeerInfo            string
	WorkerIDs           []uint64
	AssignedPipelineIDs []uint64
}

// Worker is a transport endpoint registered by a Connection.
type Worker struct {
	ID                uint64
	MachineID         uint64 // owning Connection.ID
	UCXAddress        []byte
	State             resource.State
	AssignedSegmentIDs []uint64
}

// PipelineDefinition is an immutable, content-addressed template shared
// across connections.
type PipelineDefinition struct {
	ID          uint64
	SegmentIDs  []uint64
	ManifoldIDs []uint64
	InstanceIDs []uint64
	// ContentHash is the structural hash used to intern definitions; two
	// definitions with the same hash collapse to one id.
	ContentHash uint64
}

// SegmentDefinition is an immutable template for one segment within a
// pipeline definition.
type SegmentDefinition struct {
	ID               uint64
	ParentPipelineID uint64
	Name             string
	IngressPorts     []string
	EgressPorts      []string
	InstanceIDs      []uint64
}

// PipelineInstance is the live materialization of a PipelineDefinition
// for one connection.
type PipelineInstance struct {
	ID           uint64
	DefinitionID uint64
	MachineID    uint64 // owning Connection.ID
	SegmentIDs   []uint64
	State        resource.State
}

// SegmentInstance is the live materialization of a SegmentDefinition on
// one worker.
type SegmentInstance struct {
	ID                 uint64
	DefinitionID       uint64
	PipelineInstanceID uint64
	WorkerID           uint64
	Name               string
	Address            string // encode(segmentId, rank)
	State              resource.State
}

// ManifoldInstance connects segment instances' egress/ingress ports for
// one named port across an entire pipeline instance.
type ManifoldInstance struct {
	ID                 uint64
	PortName           string
	PipelineInstanceID uint64
	ActualInput        []uint64
	ActualOutput       []uint64
	RequestedInput     []uint64
	RequestedOutput    []uint64
	State              resource.State
}

// SubscriptionService records one connection's declared interest in a
// subset of entity kinds for the ServerStateUpdate pushes it receives.
// There is at most one per Connection; ClientUnaryUpdateSubscriptionService
// updates it in place if it already exists.
type SubscriptionService struct {
	ID        uint64
	MachineID uint64 // owning Connection.ID
	Topics    []string
}
