package store

import (
	"fmt"

	"github.com/flowmesh/controlplane/internal/resource"
)

// AddPipelineInstance materializes a PipelineDefinition for one
// connection. One instance per (definition, connection) pair is a
// planner-level convention, not enforced here.
func (s *Store) AddPipelineInstance(definitionID, machineID uint64) (*PipelineInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.pipelineDefinitions[definitionID]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline definition %d", ErrMissingPrerequisite, definitionID)
	}

	conn, ok := s.connections[machineID]
	if !ok {
		return nil, fmt.Errorf("%w: connection %d", ErrMissingPrerequisite, machineID)
	}

	id := s.allocID(kindPipelineInstance)
	pi := &PipelineInstance{
		ID:           id,
		DefinitionID: definitionID,
		MachineID:    machineID,
		State:        resource.NewState(),
	}
	s.pipelineInstances[id] = pi
	def.InstanceIDs = append(def.InstanceIDs, id)
	conn.AssignedPipelineIDs = append(conn.AssignedPipelineIDs, id)
	s.bumpVersion()

	return pi, nil
}

// AddSegmentInstance materializes a SegmentDefinition on a worker within
// a pipeline instance. It enforces invariant 2 (the worker's owning
// connection must match the pipeline instance's owning connection) and
// invariant 3 (worker, pipeline instance, and segment definition must all
// already exist) before inserting.
func (s *Store) AddSegmentInstance(definitionID, pipelineInstanceID, workerID uint64, name, address string) (*SegmentInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.segmentDefinitions[definitionID]
	if !ok {
		return nil, fmt.Errorf("%w: segment definition %d", ErrMissingPrerequisite, definitionID)
	}

	pi, ok := s.pipelineInstances[pipelineInstanceID]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline instance %d", ErrMissingPrerequisite, pipelineInstanceID)
	}

	w, ok := s.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("%w: worker %d", ErrMissingPrerequisite, workerID)
	}

	if w.MachineID != pi.MachineID {
		return nil, fmt.Errorf("%w: worker %d belongs to connection %d, pipeline instance %d belongs to connection %d",
			ErrMissingPrerequisite, workerID, w.MachineID, pipelineInstanceID, pi.MachineID)
	}

	id := s.allocID(kindSegmentInstance)
	si := &SegmentInstance{
		ID:                 id,
		DefinitionID:       definitionID,
		PipelineInstanceID: pipelineInstanceID,
		WorkerID:           workerID,
		Name:               name,
		Address:            address,
		State:              resource.NewState(),
	}
	s.segmentInstances[id] = si
	def.InstanceIDs = append(def.InstanceIDs, id)
	pi.SegmentIDs = append(pi.SegmentIDs, id)
	w.AssignedSegmentIDs = append(w.AssignedSegmentIDs, id)
	s.bumpVersion()

	return si, nil
}

// AddManifoldInstance creates the manifold for one named port within a
// pipeline instance, with requested ends populated by the planner and
// actual ends left empty for workers to fill via UpdateResourceState-style
// reports.
func (s *Store) AddManifoldInstance(pipelineInstanceID uint64, portName string, requestedInput, requestedOutput []uint64) (*ManifoldInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelineInstances[pipelineInstanceID]; !ok {
		return nil, fmt.Errorf("%w: pipeline instance %d", ErrMissingPrerequisite, pipelineInstanceID)
	}

	id := s.allocID(kindManifoldInstance)
	m := &ManifoldInstance{
		ID:                 id,
		PortName:           portName,
		PipelineInstanceID: pipelineInstanceID,
		RequestedInput:     requestedInput,
		RequestedOutput:    requestedOutput,
		State:              resource.NewState(),
	}
	s.manifoldInstances[id] = m
	s.bumpVersion()

	return m, nil
}

// UpdateSegmentInstanceState applies a monotonic status transition to a
// segment instance.
func (s *Store) UpdateSegmentInstanceState(id uint64, status resource.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	si, ok := s.segmentInstances[id]
	if !ok {
		return fmt.Errorf("%w: segment instance %d", ErrUnknownID, id)
	}

	if err := si.State.UpdateStatus(status); err != nil {
		return err
	}

	s.bumpVersion()

	return nil
}

// UpdatePipelineInstanceState applies a monotonic status transition to a
// pipeline instance.
func (s *Store) UpdatePipelineInstanceState(id uint64, status resource.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.pipelineInstances[id]
	if !ok {
		return fmt.Errorf("%w: pipeline instance %d", ErrUnknownID, id)
	}

	if err := pi.State.UpdateStatus(status); err != nil {
		return err
	}

	s.bumpVersion()

	return nil
}

// UpdateManifoldInstanceState applies a monotonic status transition to a
// manifold instance.
func (s *Store) UpdateManifoldInstanceState(id uint64, status resource.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifoldInstances[id]
	if !ok {
		return fmt.Errorf("%w: manifold instance %d", ErrUnknownID, id)
	}

	if err := m.State.UpdateStatus(status); err != nil {
		return err
	}

	s.bumpVersion()

	return nil
}

// ReportManifoldActual records a worker's report of its actual
// input/output binding for one manifold instance's port.
func (s *Store) ReportManifoldActual(id uint64, actualInput, actualOutput []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.manifoldInstances[id]
	if !ok {
		return fmt.Errorf("%w: manifold instance %d", ErrUnknownID, id)
	}

	m.ActualInput = actualInput
	m.ActualOutput = actualOutput
	s.bumpVersion()

	return nil
}
