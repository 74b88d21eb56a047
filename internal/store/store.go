package store

import (
	"fmt"
	"sync"

	"github.com/0x6flab/namegenerator"
	"github.com/flowmesh/controlplane/internal/resource"
)

// Store is the sole owner of the authoritative data model. A single
// sync.RWMutex serializes every mutation across every entity kind so
// cross-kind cascades (Connection removal touching workers, pipeline
// instances, and segment instances in one shot) are atomic: readers never
// observe a torn intermediate state.
type Store struct {
	mu sync.RWMutex

	connections         map[uint64]*Connection
	workers             map[uint64]*Worker
	pipelineDefinitions map[uint64]*PipelineDefinition
	segmentDefinitions  map[uint64]*SegmentDefinition
	pipelineInstances   map[uint64]*PipelineInstance
	segmentInstances    map[uint64]*SegmentInstance
	manifoldInstances   map[uint64]*ManifoldInstance

	// subscriptionServices is keyed by owning Connection.ID: a connection
	// has at most one subscription-service record, upserted in place.
	subscriptionServices map[uint64]*SubscriptionService

	// contentHashIndex maps a PipelineDefinition's structural hash to its
	// interned id, so RequestPipelineAssignment can dedupe on insert.
	contentHashIndex map[uint64]uint64

	ids     idAllocator
	version uint64

	names namegenerator.NameGenerator
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		connections:          make(map[uint64]*Connection),
		workers:              make(map[uint64]*Worker),
		pipelineDefinitions:  make(map[uint64]*PipelineDefinition),
		segmentDefinitions:   make(map[uint64]*SegmentDefinition),
		pipelineInstances:    make(map[uint64]*PipelineInstance),
		segmentInstances:     make(map[uint64]*SegmentInstance),
		manifoldInstances:    make(map[uint64]*ManifoldInstance),
		subscriptionServices: make(map[uint64]*SubscriptionService),
		contentHashIndex:     make(map[uint64]uint64),
		names:                namegenerator.NewGenerator(),
	}
}

// Version returns the current mutation version, bumped once per
// successful mutating call.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

func (s *Store) allocID(k kind) uint64 {
	return s.ids.next(k)
}

func (s *Store) bumpVersion() {
	s.version++
}

// AddConnection creates a fresh Connection and returns it. peerInfo is
// opaque, logged transport metadata (e.g. remote address); when it is
// empty, a generated human-readable label is stored in its place, the way
// the teacher labels registered proplets.
func (s *Store) AddConnection(peerInfo string) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocID(kindConnection)
	if peerInfo == "" {
		peerInfo = s.names.Generate()
	}

	c := &Connection{ID: id, PeerInfo: peerInfo}
	s.connections[id] = c
	s.bumpVersion()

	return c
}

// RemoveConnection destroys a Connection and cascades removal through
// every worker, pipeline instance, and segment instance it transitively
// owns, per invariant 1. It does not require the Connection itself to be
// in any particular ResourceState — Connections do not carry one, per
// SPEC_FULL.md §3 (only Workers and instances do).
func (s *Store) RemoveConnection(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("%w: connection %d", ErrUnknownID, id)
	}

	for _, workerID := range append([]uint64(nil), c.WorkerIDs...) {
		s.removeWorkerCascadeLocked(workerID)
	}

	for _, pipelineInstanceID := range append([]uint64(nil), c.AssignedPipelineIDs...) {
		s.removePipelineInstanceCascadeLocked(pipelineInstanceID)
	}

	delete(s.subscriptionServices, id)
	delete(s.connections, id)
	s.bumpVersion()

	return nil
}

// UpsertSubscriptionService creates or updates the calling connection's
// subscription-service record with a fresh topic list. Every connection
// carries at most one such record.
func (s *Store) UpsertSubscriptionService(machineID uint64, topics []string) (*SubscriptionService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[machineID]; !ok {
		return nil, fmt.Errorf("%w: connection %d", ErrMissingPrerequisite, machineID)
	}

	if existing, ok := s.subscriptionServices[machineID]; ok {
		existing.Topics = append([]string(nil), topics...)
		s.bumpVersion()

		return existing, nil
	}

	sub := &SubscriptionService{
		ID:        s.allocID(kindSubscriptionService),
		MachineID: machineID,
		Topics:    append([]string(nil), topics...),
	}
	s.subscriptionServices[machineID] = sub
	s.bumpVersion()

	return sub, nil
}

// CheckInvariants scans the store for referential-consistency violations
// that should never occur if every mutation went through the store's own
// reducers. It is the backstop the fatal-invariant path polls: a non-empty
// result means state was corrupted by something other than the reducers
// above, and the caller should terminate rather than keep serving.
func (s *Store) CheckInvariants() []Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var violations []Violation

	for id, w := range s.workers {
		if _, ok := s.connections[w.MachineID]; !ok {
			violations = append(violations, Violation{Kind: "worker_orphaned", Detail: fmt.Sprintf("worker %d references missing connection %d", id, w.MachineID)})
		}
	}

	for id, pi := range s.pipelineInstances {
		if _, ok := s.pipelineDefinitions[pi.DefinitionID]; !ok {
			violations = append(violations, Violation{Kind: "pipeline_instance_orphaned", Detail: fmt.Sprintf("pipeline instance %d references missing pipeline definition %d", id, pi.DefinitionID)})
		}

		if _, ok := s.connections[pi.MachineID]; !ok {
			violations = append(violations, Violation{Kind: "pipeline_instance_orphaned", Detail: fmt.Sprintf("pipeline instance %d references missing connection %d", id, pi.MachineID)})
		}
	}

	for id, si := range s.segmentInstances {
		if _, ok := s.segmentDefinitions[si.DefinitionID]; !ok {
			violations = append(violations, Violation{Kind: "segment_instance_orphaned", Detail: fmt.Sprintf("segment instance %d references missing segment definition %d", id, si.DefinitionID)})
		}

		if _, ok := s.pipelineInstances[si.PipelineInstanceID]; !ok {
			violations = append(violations, Violation{Kind: "segment_instance_orphaned", Detail: fmt.Sprintf("segment instance %d references missing pipeline instance %d", id, si.PipelineInstanceID)})
		}

		if _, ok := s.workers[si.WorkerID]; !ok {
			violations = append(violations, Violation{Kind: "segment_instance_orphaned", Detail: fmt.Sprintf("segment instance %d references missing worker %d", id, si.WorkerID)})
		}
	}

	for id, m := range s.manifoldInstances {
		if _, ok := s.pipelineInstances[m.PipelineInstanceID]; !ok {
			violations = append(violations, Violation{Kind: "manifold_instance_orphaned", Detail: fmt.Sprintf("manifold instance %d references missing pipeline instance %d", id, m.PipelineInstanceID)})
		}
	}

	return violations
}

// Violation is one referential-consistency check failure returned by
// CheckInvariants.
type Violation struct {
	Kind   string
	Detail string
}

func (s *Store) removeWorkerCascadeLocked(workerID uint64) {
	w, ok := s.workers[workerID]
	if !ok {
		return
	}

	for _, segID := range append([]uint64(nil), w.AssignedSegmentIDs...) {
		s.removeSegmentInstanceLocked(segID)
	}

	delete(s.workers, workerID)
}

func (s *Store) removePipelineInstanceCascadeLocked(pipelineInstanceID uint64) {
	pi, ok := s.pipelineInstances[pipelineInstanceID]
	if !ok {
		return
	}

	for _, segID := range append([]uint64(nil), pi.SegmentIDs...) {
		s.removeSegmentInstanceLocked(segID)
	}

	for id, m := range s.manifoldInstances {
		if m.PipelineInstanceID == pipelineInstanceID {
			delete(s.manifoldInstances, id)
		}
	}

	if def, ok := s.pipelineDefinitions[pi.DefinitionID]; ok {
		def.InstanceIDs = removeValue(def.InstanceIDs, pipelineInstanceID)
	}

	delete(s.pipelineInstances, pipelineInstanceID)
}

func (s *Store) removeSegmentInstanceLocked(segID uint64) {
	si, ok := s.segmentInstances[segID]
	if !ok {
		return
	}

	if def, ok := s.segmentDefinitions[si.DefinitionID]; ok {
		def.InstanceIDs = removeValue(def.InstanceIDs, segID)
	}

	if w, ok := s.workers[si.WorkerID]; ok {
		w.AssignedSegmentIDs = removeValue(w.AssignedSegmentIDs, segID)
	}

	if pi, ok := s.pipelineInstances[si.PipelineInstanceID]; ok {
		pi.SegmentIDs = removeValue(pi.SegmentIDs, segID)
	}

	delete(s.segmentInstances, segID)
}

// AddWorker registers a worker under an existing Connection.
func (s *Store) AddWorker(machineID uint64, ucxAddress []byte) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[machineID]
	if !ok {
		return nil, fmt.Errorf("%w: connection %d", ErrMissingPrerequisite, machineID)
	}

	id := s.allocID(kindWorker)
	w := &Worker{
		ID:         id,
		MachineID:  machineID,
		UCXAddress: ucxAddress,
		State:      resource.NewState(),
	}
	s.workers[id] = w
	conn.WorkerIDs = append(conn.WorkerIDs, id)
	s.bumpVersion()

	return w, nil
}

// UpdateWorkerState applies a monotonic status transition to a worker.
func (s *Store) UpdateWorkerState(id uint64, status resource.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("%w: worker %d", ErrUnknownID, id)
	}

	if err := w.State.UpdateStatus(status); err != nil {
		return err
	}

	s.bumpVersion()

	return nil
}

// RemoveWorker requires the worker to have reached Destroyed and to have
// no remaining segment instances, then deletes it and detaches it from
// its owning connection.
func (s *Store) RemoveWorker(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("%w: worker %d", ErrUnknownID, id)
	}

	if err := w.State.CanRemove(); err != nil {
		return err
	}

	if len(w.AssignedSegmentIDs) > 0 {
		return fmt.Errorf("%w: worker %d still has %d segment instance(s)", ErrDanglingReference, id, len(w.AssignedSegmentIDs))
	}

	if conn, ok := s.connections[w.MachineID]; ok {
		conn.WorkerIDs = removeValue(conn.WorkerIDs, id)
	}

	delete(s.workers, id)
	s.bumpVersion()

	return nil
}

func removeValue(ids []uint64, target uint64) []uint64 {
	out := ids[:0]

	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}
