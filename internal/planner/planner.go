// Package planner implements pipeline-assignment planning: turning a
// definition-plus-mapping request into concrete, store-resident pipeline,
// segment, and manifold instances.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/flowmesh/controlplane/internal/store"
)

// ErrInvalidPort is returned when a named port has no producer, no
// consumer, or more than one of either — the only supported manifold is
// load-balancer, so fan-in/fan-out with heterogeneous producers or
// consumers is rejected rather than silently misassigned.
var ErrInvalidPort = errors.New("invalid port topology")

// SegmentSpec describes one segment of the pipeline being requested,
// before interning.
type SegmentSpec struct {
	Name         string
	IngressPorts []string
	EgressPorts  []string
}

// SegmentMapping assigns one named segment to the workers that will host
// it, in declared order; a segment's rank on the resulting manifold is
// its 0-based position in WorkerIDs.
type SegmentMapping struct {
	SegmentName string
	WorkerIDs   []uint64
}

// Request is the planner's input: a pipeline definition plus its
// worker-level mapping, requested on behalf of MachineID.
type Request struct {
	MachineID uint64
	Segments  []SegmentSpec
	Mappings  []SegmentMapping
}

// Result carries every id the planner materialized, in the order
// SPEC_FULL.md's determinism rule requires.
type Result struct {
	PipelineDefinitionID uint64
	SegmentDefinitionIDs []uint64
	PipelineInstanceID   uint64
	SegmentInstanceIDs   []uint64
	ManifoldInstanceIDs  []uint64
}

// Plan runs the full assignment algorithm against s and returns the
// materialized ids, or an error if the definition's port topology is
// invalid or a mapping names a segment the definition doesn't have.
func Plan(s *store.Store, req Request) (Result, error) {
	if err := validatePorts(req.Segments); err != nil {
		return Result{}, err
	}

	sorted := append([]SegmentSpec(nil), req.Segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	specs := make([]store.SegmentDefinitionSpec, len(sorted))
	for i, seg := range sorted {
		specs[i] = store.SegmentDefinitionSpec{
			Name:         seg.Name,
			IngressPorts: append([]string(nil), seg.IngressPorts...),
			EgressPorts:  append([]string(nil), seg.EgressPorts...),
		}
	}

	hash := store.HashPipelineDefinition(specs)

	pipelineDefinitionID, created := s.InternPipelineDefinition(hash)

	segByName := make(map[string]uint64, len(req.Segments))

	if created {
		for _, seg := range sorted {
			sd, err := s.AddSegmentDefinition(pipelineDefinitionID, seg.Name, seg.IngressPorts, seg.EgressPorts)
			if err != nil {
				return Result{}, fmt.Errorf("planner: intern segment %q: %w", seg.Name, err)
			}
			segByName[seg.Name] = sd.ID
		}
	} else {
		for _, seg := range req.Segments {
			sd, ok := s.FindSegmentDefinitionByName(pipelineDefinitionID, seg.Name)
			if !ok {
				return Result{}, fmt.Errorf("planner: %w: segment %q missing from interned definition %d", ErrInvalidPort, seg.Name, pipelineDefinitionID)
			}
			segByName[seg.Name] = sd.ID
		}
	}

	pi, err := s.AddPipelineInstance(pipelineDefinitionID, req.MachineID)
	if err != nil {
		return Result{}, fmt.Errorf("planner: create pipeline instance: %w", err)
	}

	result := Result{
		PipelineDefinitionID: pipelineDefinitionID,
		PipelineInstanceID:   pi.ID,
	}

	for _, seg := range sorted {
		result.SegmentDefinitionIDs = append(result.SegmentDefinitionIDs, segByName[seg.Name])
	}

	// Segment instances are emitted in (mapping order, workerId order),
	// per the planner's determinism rule.
	sortedMappings := append([]SegmentMapping(nil), req.Mappings...)

	portGraph := newPortGraph(req.Segments)

	for _, mapping := range sortedMappings {
		segID, ok := segByName[mapping.SegmentName]
		if !ok {
			return Result{}, fmt.Errorf("planner: %w: mapping references unknown segment %q", ErrInvalidPort, mapping.SegmentName)
		}

		for rank, workerID := range mapping.WorkerIDs {
			address := store.EncodeAddress(segID, rank)

			si, err := s.AddSegmentInstance(segID, pi.ID, workerID, mapping.SegmentName, address)
			if err != nil {
				return Result{}, fmt.Errorf("planner: create segment instance for %q on worker %d: %w", mapping.SegmentName, workerID, err)
			}

			result.SegmentInstanceIDs = append(result.SegmentInstanceIDs, si.ID)
			portGraph.recordInstance(mapping.SegmentName, si.ID)
		}
	}

	for _, port := range portGraph.sortedPorts() {
		m, err := s.AddManifoldInstance(pi.ID, port, portGraph.requestedInput(port), portGraph.requestedOutput(port))
		if err != nil {
			return Result{}, fmt.Errorf("planner: create manifold instance for port %q: %w", port, err)
		}

		result.ManifoldInstanceIDs = append(result.ManifoldInstanceIDs, m.ID)
	}

	return result, nil
}

// validatePorts enforces step 1 of the assignment algorithm: every named
// port must have exactly one producer segment (egress) and exactly one
// consumer segment (ingress).
func validatePorts(segments []SegmentSpec) error {
	producers := make(map[string][]string)
	consumers := make(map[string][]string)

	for _, seg := range segments {
		for _, p := range seg.EgressPorts {
			producers[p] = append(producers[p], seg.Name)
		}

		for _, p := range seg.IngressPorts {
			consumers[p] = append(consumers[p], seg.Name)
		}
	}

	ports := make(map[string]struct{})
	for p := range producers {
		ports[p] = struct{}{}
	}

	for p := range consumers {
		ports[p] = struct{}{}
	}

	for p := range ports {
		if len(producers[p]) != 1 {
			return fmt.Errorf("%w: port %q has %d producer(s), want exactly 1", ErrInvalidPort, p, len(producers[p]))
		}

		if len(consumers[p]) != 1 {
			return fmt.Errorf("%w: port %q has %d consumer(s), want exactly 1", ErrInvalidPort, p, len(consumers[p]))
		}
	}

	return nil
}
