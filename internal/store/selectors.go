package store

import (
	"fmt"
	"sort"
)

// Selectors are pure reads taken under the write lock's read-mode; the
// snapshot they return does not alias internal state, so a caller
// iterating it while the store mutates elsewhere never observes a torn
// view.

func snapshotValues[T any](m map[uint64]*T, clone func(*T) T) []T {
	out := make([]T, 0, len(m))

	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		out = append(out, clone(m[id]))
	}

	return out
}

func cloneConnection(c *Connection) Connection {
	cp := *c
	cp.WorkerIDs = append([]uint64(nil), c.WorkerIDs...)
	cp.AssignedPipelineIDs = append([]uint64(nil), c.AssignedPipelineIDs...)

	return cp
}

func cloneWorker(w *Worker) Worker {
	cp := *w
	cp.UCXAddress = append([]byte(nil), w.UCXAddress...)
	cp.AssignedSegmentIDs = append([]uint64(nil), w.AssignedSegmentIDs...)

	return cp
}

func clonePipelineDefinition(d *PipelineDefinition) PipelineDefinition {
	cp := *d
	cp.SegmentIDs = append([]uint64(nil), d.SegmentIDs...)
	cp.ManifoldIDs = append([]uint64(nil), d.ManifoldIDs...)
	cp.InstanceIDs = append([]uint64(nil), d.InstanceIDs...)

	return cp
}

func cloneSegmentDefinition(d *SegmentDefinition) SegmentDefinition {
	cp := *d
	cp.IngressPorts = append([]string(nil), d.IngressPorts...)
	cp.EgressPorts = append([]string(nil), d.EgressPorts...)
	cp.InstanceIDs = append([]uint64(nil), d.InstanceIDs...)

	return cp
}

func clonePipelineInstance(pi *PipelineInstance) PipelineInstance {
	cp := *pi
	cp.SegmentIDs = append([]uint64(nil), pi.SegmentIDs...)

	return cp
}

func cloneSegmentInstance(si *SegmentInstance) SegmentInstance { return *si }

func cloneSubscriptionService(sub *SubscriptionService) SubscriptionService {
	cp := *sub
	cp.Topics = append([]string(nil), sub.Topics...)

	return cp
}

func cloneManifoldInstance(m *ManifoldInstance) ManifoldInstance {
	cp := *m
	cp.ActualInput = append([]uint64(nil), m.ActualInput...)
	cp.ActualOutput = append([]uint64(nil), m.ActualOutput...)
	cp.RequestedInput = append([]uint64(nil), m.RequestedInput...)
	cp.RequestedOutput = append([]uint64(nil), m.RequestedOutput...)

	return cp
}

// SelectAllConnections returns every connection, ordered by id.
func (s *Store) SelectAllConnections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.connections, cloneConnection)
}

// SelectConnectionByID returns a single connection.
func (s *Store) SelectConnectionByID(id uint64) (Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[id]
	if !ok {
		return Connection{}, fmt.Errorf("%w: connection %d", ErrUnknownID, id)
	}

	return cloneConnection(c), nil
}

// SelectAllWorkers returns every worker, ordered by id.
func (s *Store) SelectAllWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.workers, cloneWorker)
}

// SelectWorkersByIDs returns the workers named by ids, skipping any that
// no longer exist.
func (s *Store) SelectWorkersByIDs(ids []uint64) []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Worker, 0, len(ids))

	for _, id := range ids {
		if w, ok := s.workers[id]; ok {
			out = append(out, cloneWorker(w))
		}
	}

	return out
}

// SelectWorkerByID returns a single worker.
func (s *Store) SelectWorkerByID(id uint64) (Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("%w: worker %d", ErrUnknownID, id)
	}

	return cloneWorker(w), nil
}

// SelectAllPipelineDefinitions returns every pipeline definition, ordered
// by id.
func (s *Store) SelectAllPipelineDefinitions() []PipelineDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.pipelineDefinitions, clonePipelineDefinition)
}

// SelectAllSegmentDefinitions returns every segment definition, ordered
// by id.
func (s *Store) SelectAllSegmentDefinitions() []SegmentDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.segmentDefinitions, cloneSegmentDefinition)
}

// SelectAllPipelineInstances returns every pipeline instance, ordered by
// id.
func (s *Store) SelectAllPipelineInstances() []PipelineInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.pipelineInstances, clonePipelineInstance)
}

// SelectAllSegmentInstances returns every segment instance, ordered by
// id.
func (s *Store) SelectAllSegmentInstances() []SegmentInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.segmentInstances, cloneSegmentInstance)
}

// SelectAllManifoldInstances returns every manifold instance, ordered by
// id.
func (s *Store) SelectAllManifoldInstances() []ManifoldInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.manifoldInstances, cloneManifoldInstance)
}

// SelectAllSubscriptionServices returns every subscription-service record,
// ordered by owning connection id.
func (s *Store) SelectAllSubscriptionServices() []SubscriptionService {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return snapshotValues(s.subscriptionServices, cloneSubscriptionService)
}

// SelectSubscriptionServiceByMachineID returns the subscription-service
// record owned by the named connection, if any.
func (s *Store) SelectSubscriptionServiceByMachineID(machineID uint64) (SubscriptionService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptionServices[machineID]
	if !ok {
		return SubscriptionService{}, fmt.Errorf("%w: subscription service for connection %d", ErrUnknownID, machineID)
	}

	return cloneSubscriptionService(sub), nil
}

// RemovePipelineDefinition requires the definition to have no live
// instances; it fails with ErrDanglingReference otherwise.
func (s *Store) RemovePipelineDefinition(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.pipelineDefinitions[id]
	if !ok {
		return fmt.Errorf("%w: pipeline definition %d", ErrUnknownID, id)
	}

	if len(def.InstanceIDs) > 0 {
		return fmt.Errorf("%w: pipeline definition %d has %d live instance(s)", ErrDanglingReference, id, len(def.InstanceIDs))
	}

	for _, segID := range def.SegmentIDs {
		delete(s.segmentDefinitions, segID)
	}

	delete(s.contentHashIndex, def.ContentHash)
	delete(s.pipelineDefinitions, id)
	s.bumpVersion()

	return nil
}
