package store

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// InternPipelineDefinition inserts a PipelineDefinition, or, if a
// structurally identical one already exists (same content hash), returns
// the existing id and inserts nothing. Content addressing makes insertion
// idempotent on structural equality (SPEC_FULL.md §4.4 step 2).
func (s *Store) InternPipelineDefinition(hash uint64) (id uint64, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.contentHashIndex[hash]; ok {
		return existing, false
	}

	id = s.allocID(kindPipelineDefinition)
	s.pipelineDefinitions[id] = &PipelineDefinition{ID: id, ContentHash: hash}
	s.contentHashIndex[hash] = id
	s.bumpVersion()

	return id, true
}

// AddSegmentDefinition inserts a segment definition under an already
// interned parent pipeline definition.
func (s *Store) AddSegmentDefinition(parentPipelineID uint64, name string, ingress, egress []string) (*SegmentDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.pipelineDefinitions[parentPipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline definition %d", ErrMissingPrerequisite, parentPipelineID)
	}

	id := s.allocID(kindSegmentDefinition)
	sd := &SegmentDefinition{
		ID:               id,
		ParentPipelineID: parentPipelineID,
		Name:             name,
		IngressPorts:     ingress,
		EgressPorts:      egress,
	}
	s.segmentDefinitions[id] = sd
	parent.SegmentIDs = append(parent.SegmentIDs, id)
	s.bumpVersion()

	return sd, nil
}

// FindSegmentDefinitionByName looks up an already-interned segment
// definition by (parentPipelineID, name), so the planner can resolve
// segment ids when a request reuses an already-interned definition.
func (s *Store) FindSegmentDefinitionByName(parentPipelineID uint64, name string) (*SegmentDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.pipelineDefinitions[parentPipelineID]
	if !ok {
		return nil, false
	}

	for _, segID := range parent.SegmentIDs {
		if sd := s.segmentDefinitions[segID]; sd != nil && sd.Name == name {
			return sd, true
		}
	}

	return nil, false
}

// HashPipelineDefinition computes the canonical structural hash used for
// interning: sorted segment names, each segment's port lists in declared
// order, joined deterministically. Callers pass already name-sorted
// segments; this function does not re-sort, so planner-level determinism
// (SPEC_FULL.md §4.4 tie-breaks) is preserved end to end.
func HashPipelineDefinition(segments []SegmentDefinitionSpec) uint64 {
	h := xxhash.New()

	for _, seg := range segments {
		_, _ = h.WriteString(seg.Name)
		_, _ = h.Write([]byte{0})

		for _, p := range seg.IngressPorts {
			_, _ = h.WriteString("in:" + p)
			_, _ = h.Write([]byte{0})
		}

		for _, p := range seg.EgressPorts {
			_, _ = h.WriteString("eg:" + p)
			_, _ = h.Write([]byte{0})
		}

		_, _ = h.Write([]byte{0xff})
	}

	return h.Sum64()
}

// EncodeAddress encodes a segment instance's address from its definition
// id and its 0-based rank within a mapping's workerIds list, per
// SPEC_FULL.md §4.4 step 4.
func EncodeAddress(segmentDefinitionID uint64, rank int) string {
	return fmt.Sprintf("%d.%d", segmentDefinitionID, rank)
}

// SegmentDefinitionSpec is the planner's pre-interning view of a segment,
// used both to compute the content hash and to drive interning.
type SegmentDefinitionSpec struct {
	Name         string
	IngressPorts []string
	EgressPorts  []string
}
