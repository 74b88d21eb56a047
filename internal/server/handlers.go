package server

import (
	"fmt"

	"github.com/flowmesh/controlplane/internal/planner"
	"github.com/flowmesh/controlplane/internal/resource"
	"github.com/flowmesh/controlplane/internal/wire"
)

// RegisterWorkersRequest names the UCX addresses of workers the caller
// wants registered under its own connection.
type RegisterWorkersRequest struct {
	UCXAddresses [][]byte `cbor:"ucxAddresses"`
}

// RegisterWorkersResponse carries the ids assigned, in request order.
type RegisterWorkersResponse struct {
	MachineID uint64   `cbor:"machineId"`
	WorkerIDs []uint64 `cbor:"workerIds"`
}

func (srv *Server) handleRegisterWorkers(machineID uint64, ev wire.Event) (wire.Event, error) {
	var req RegisterWorkersRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode RegisterWorkersRequest: %w", err)
	}

	ids := make([]uint64, 0, len(req.UCXAddresses))

	for _, addr := range req.UCXAddresses {
		w, err := srv.store.AddWorker(machineID, addr)
		if err != nil {
			return wire.Event{}, err
		}

		ids = append(ids, w.ID)
	}

	return wire.NewRequest(wire.EventServerResponse, ev.Tag, RegisterWorkersResponse{MachineID: machineID, WorkerIDs: ids})
}

// ActivateStreamRequest names the workers to move to Activated.
type ActivateStreamRequest struct {
	InstanceIDs []uint64 `cbor:"instanceIds"`
}

func (srv *Server) handleActivateStream(ev wire.Event) (wire.Event, error) {
	var req ActivateStreamRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode ActivateStreamRequest: %w", err)
	}

	for _, id := range req.InstanceIDs {
		if err := srv.store.UpdateWorkerState(id, resource.StatusActivated); err != nil {
			return wire.Event{}, err
		}
	}

	return wire.Event{Type: wire.EventServerResponse, Tag: ev.Tag}, nil
}

// SegmentMappingWire is the wire shape of one segment-to-workers mapping.
type SegmentMappingWire struct {
	SegmentName string   `cbor:"segmentName"`
	WorkerIDs   []uint64 `cbor:"workerIds"`
}

// SegmentSpecWire is the wire shape of one segment definition, prior to
// interning.
type SegmentSpecWire struct {
	Name         string   `cbor:"name"`
	IngressPorts []string `cbor:"ingressPorts"`
	EgressPorts  []string `cbor:"egressPorts"`
}

// PipelineRequestAssignmentRequest is the wire request that drives the
// pipeline-assignment planner.
type PipelineRequestAssignmentRequest struct {
	Segments []SegmentSpecWire    `cbor:"segments"`
	Mappings []SegmentMappingWire `cbor:"mappings"`
}

// PipelineRequestAssignmentResponse carries every id the planner
// materialized.
type PipelineRequestAssignmentResponse struct {
	PipelineDefinitionID uint64   `cbor:"pipelineDefinitionId"`
	SegmentDefinitionIDs []uint64 `cbor:"segmentDefinitionIds"`
	PipelineInstanceID   uint64   `cbor:"pipelineInstanceId"`
	SegmentInstanceIDs   []uint64 `cbor:"segmentInstanceIds"`
	ManifoldInstanceIDs  []uint64 `cbor:"manifoldInstanceIds"`
}

func (srv *Server) handleRequestPipelineAssignment(machineID uint64, ev wire.Event) (wire.Event, error) {
	var req PipelineRequestAssignmentRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode PipelineRequestAssignmentRequest: %w", err)
	}

	segments := make([]planner.SegmentSpec, len(req.Segments))
	for i, seg := range req.Segments {
		segments[i] = planner.SegmentSpec{
			Name:         seg.Name,
			IngressPorts: seg.IngressPorts,
			EgressPorts:  seg.EgressPorts,
		}
	}

	mappings := make([]planner.SegmentMapping, len(req.Mappings))
	for i, m := range req.Mappings {
		mappings[i] = planner.SegmentMapping{SegmentName: m.SegmentName, WorkerIDs: m.WorkerIDs}
	}

	result, err := planner.Plan(srv.store, planner.Request{
		MachineID: machineID,
		Segments:  segments,
		Mappings:  mappings,
	})
	if err != nil {
		return wire.Event{}, err
	}

	return wire.NewRequest(wire.EventServerResponse, ev.Tag, PipelineRequestAssignmentResponse{
		PipelineDefinitionID: result.PipelineDefinitionID,
		SegmentDefinitionIDs: result.SegmentDefinitionIDs,
		PipelineInstanceID:   result.PipelineInstanceID,
		SegmentInstanceIDs:   result.SegmentInstanceIDs,
		ManifoldInstanceIDs:  result.ManifoldInstanceIDs,
	})
}

// DropWorkerRequest names the worker to tear down.
type DropWorkerRequest struct {
	WorkerID uint64 `cbor:"workerId"`
}

func (srv *Server) handleDropWorker(ev wire.Event) (wire.Event, error) {
	var req DropWorkerRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode DropWorkerRequest: %w", err)
	}

	if err := srv.store.UpdateWorkerState(req.WorkerID, resource.StatusDestroyed); err != nil {
		return wire.Event{}, err
	}

	if err := srv.store.RemoveWorker(req.WorkerID); err != nil {
		return wire.Event{}, err
	}

	return wire.Event{Type: wire.EventServerResponse, Tag: ev.Tag}, nil
}

// EntityKind names which per-kind status setter UpdateResourceState
// targets.
type EntityKind string

const (
	EntityWorker           EntityKind = "worker"
	EntityPipelineInstance EntityKind = "pipelineInstance"
	EntitySegmentInstance  EntityKind = "segmentInstance"
	EntityManifoldInstance EntityKind = "manifoldInstance"

	// EntityManifoldActual reports a worker's observed input/output
	// binding for a manifold instance, rather than a status transition;
	// UpdateResourceStateRequest.Status is ignored for this kind.
	EntityManifoldActual EntityKind = "manifoldActual"
)

// UpdateResourceStateRequest is a monotonic status update on one named
// entity, or (for EntityManifoldActual) a worker's report of a manifold
// instance's actual port binding.
type UpdateResourceStateRequest struct {
	Kind         EntityKind      `cbor:"kind"`
	ID           uint64          `cbor:"id"`
	Status       resource.Status `cbor:"status,omitempty"`
	ActualInput  []uint64        `cbor:"actualInput,omitempty"`
	ActualOutput []uint64        `cbor:"actualOutput,omitempty"`
}

func (srv *Server) handleUpdateResourceState(ev wire.Event) (wire.Event, error) {
	var req UpdateResourceStateRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode UpdateResourceStateRequest: %w", err)
	}

	var err error

	switch req.Kind {
	case EntityWorker:
		err = srv.store.UpdateWorkerState(req.ID, req.Status)
	case EntityPipelineInstance:
		err = srv.store.UpdatePipelineInstanceState(req.ID, req.Status)
	case EntitySegmentInstance:
		err = srv.store.UpdateSegmentInstanceState(req.ID, req.Status)
	case EntityManifoldInstance:
		err = srv.store.UpdateManifoldInstanceState(req.ID, req.Status)
	case EntityManifoldActual:
		err = srv.store.ReportManifoldActual(req.ID, req.ActualInput, req.ActualOutput)
	default:
		return wire.Event{}, fmt.Errorf("update resource state: unknown entity kind %q", req.Kind)
	}

	if err != nil {
		return wire.Event{}, err
	}

	return wire.Event{Type: wire.EventServerResponse, Tag: ev.Tag}, nil
}

// UpdateSubscriptionServiceRequest declares the topics (entity kinds) the
// calling connection wants included in the ServerStateUpdate pushes it
// receives. Sending it again replaces the previous topic list. The topics
// are stored only; they do not filter the pushes, and every subscriber
// receives the full snapshot.
type UpdateSubscriptionServiceRequest struct {
	Topics []string `cbor:"topics"`
}

// UpdateSubscriptionServiceResponse echoes the record's id and the
// topic list actually stored.
type UpdateSubscriptionServiceResponse struct {
	ID     uint64   `cbor:"id"`
	Topics []string `cbor:"topics"`
}

func (srv *Server) handleUpdateSubscriptionService(machineID uint64, ev wire.Event) (wire.Event, error) {
	var req UpdateSubscriptionServiceRequest
	if err := ev.Decode(&req); err != nil {
		return wire.Event{}, fmt.Errorf("decode UpdateSubscriptionServiceRequest: %w", err)
	}

	sub, err := srv.store.UpsertSubscriptionService(machineID, req.Topics)
	if err != nil {
		return wire.Event{}, err
	}

	return wire.NewRequest(wire.EventServerResponse, ev.Tag, UpdateSubscriptionServiceResponse{
		ID:     sub.ID,
		Topics: sub.Topics,
	})
}
