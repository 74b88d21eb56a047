package planner_test

import (
	"testing"

	"github.com/flowmesh/controlplane/internal/planner"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/stretchr/testify/require"
)

func twoWorkerFixture(t *testing.T) (*store.Store, uint64, uint64, uint64) {
	t.Helper()

	s := store.New()
	c := s.AddConnection("")

	wa, err := s.AddWorker(c.ID, []byte("a"))
	require.NoError(t, err)
	wb, err := s.AddWorker(c.ID, []byte("b"))
	require.NoError(t, err)

	return s, c.ID, wa.ID, wb.ID
}

func twoSegmentRequest(machineID, wa, wb uint64) planner.Request {
	return planner.Request{
		MachineID: machineID,
		Segments: []planner.SegmentSpec{
			{Name: "my_seg", EgressPorts: []string{"p"}},
			{Name: "my_seg2", IngressPorts: []string{"p"}},
		},
		Mappings: []planner.SegmentMapping{
			{SegmentName: "my_seg", WorkerIDs: []uint64{wa, wb}},
			{SegmentName: "my_seg2", WorkerIDs: []uint64{wa, wb}},
		},
	}
}

func TestPlanCreatesExpectedShape(t *testing.T) {
	s, machineID, wa, wb := twoWorkerFixture(t)

	result, err := planner.Plan(s, twoSegmentRequest(machineID, wa, wb))
	require.NoError(t, err)

	require.Len(t, result.SegmentDefinitionIDs, 2)
	require.Len(t, result.SegmentInstanceIDs, 4)
	require.Len(t, result.ManifoldInstanceIDs, 1)

	require.Len(t, s.SelectAllPipelineDefinitions(), 1)
	require.Len(t, s.SelectAllSegmentDefinitions(), 2)
	require.Len(t, s.SelectAllPipelineInstances(), 1)
	require.Len(t, s.SelectAllSegmentInstances(), 4)
	require.Len(t, s.SelectAllManifoldInstances(), 1)

	manifolds := s.SelectAllManifoldInstances()
	require.Len(t, manifolds[0].RequestedOutput, 2)
	require.Len(t, manifolds[0].RequestedInput, 2)
}

func TestPlanRejectsPortWithoutProducer(t *testing.T) {
	s, machineID, wa, _ := twoWorkerFixture(t)

	req := planner.Request{
		MachineID: machineID,
		Segments: []planner.SegmentSpec{
			{Name: "consumer_only", IngressPorts: []string{"p"}},
		},
		Mappings: []planner.SegmentMapping{
			{SegmentName: "consumer_only", WorkerIDs: []uint64{wa}},
		},
	}

	_, err := planner.Plan(s, req)
	require.ErrorIs(t, err, planner.ErrInvalidPort)
}

func TestPlanRejectsPortWithMultipleProducers(t *testing.T) {
	s, machineID, wa, _ := twoWorkerFixture(t)

	req := planner.Request{
		MachineID: machineID,
		Segments: []planner.SegmentSpec{
			{Name: "producer_a", EgressPorts: []string{"p"}},
			{Name: "producer_b", EgressPorts: []string{"p"}},
			{Name: "consumer", IngressPorts: []string{"p"}},
		},
		Mappings: []planner.SegmentMapping{
			{SegmentName: "producer_a", WorkerIDs: []uint64{wa}},
			{SegmentName: "producer_b", WorkerIDs: []uint64{wa}},
			{SegmentName: "consumer", WorkerIDs: []uint64{wa}},
		},
	}

	_, err := planner.Plan(s, req)
	require.ErrorIs(t, err, planner.ErrInvalidPort)
}

func TestPlanIsDeterministicGivenSameRequest(t *testing.T) {
	s, machineID, wa, wb := twoWorkerFixture(t)

	r1, err := planner.Plan(s, twoSegmentRequest(machineID, wa, wb))
	require.NoError(t, err)

	s2, machineID2, wa2, wb2 := twoWorkerFixture(t)
	r2, err := planner.Plan(s2, twoSegmentRequest(machineID2, wa2, wb2))
	require.NoError(t, err)

	require.Equal(t, r1.SegmentDefinitionIDs, r2.SegmentDefinitionIDs)
	require.Equal(t, len(r1.SegmentInstanceIDs), len(r2.SegmentInstanceIDs))
}

func TestPlanInternsSharedDefinitionAcrossConnections(t *testing.T) {
	s := store.New()
	c1 := s.AddConnection("")
	c2 := s.AddConnection("")

	w1, err := s.AddWorker(c1.ID, nil)
	require.NoError(t, err)
	w2, err := s.AddWorker(c2.ID, nil)
	require.NoError(t, err)

	req := planner.Request{
		Segments: []planner.SegmentSpec{{Name: "solo"}},
		Mappings: []planner.SegmentMapping{{SegmentName: "solo", WorkerIDs: nil}},
	}

	req1 := req
	req1.MachineID = c1.ID
	req1.Mappings = []planner.SegmentMapping{{SegmentName: "solo", WorkerIDs: []uint64{w1.ID}}}

	req2 := req
	req2.MachineID = c2.ID
	req2.Mappings = []planner.SegmentMapping{{SegmentName: "solo", WorkerIDs: []uint64{w2.ID}}}

	r1, err := planner.Plan(s, req1)
	require.NoError(t, err)
	r2, err := planner.Plan(s, req2)
	require.NoError(t, err)

	require.Equal(t, r1.PipelineDefinitionID, r2.PipelineDefinitionID)
	require.NotEqual(t, r1.PipelineInstanceID, r2.PipelineInstanceID)
	require.Len(t, s.SelectAllPipelineDefinitions(), 1)

	require.NotEmpty(t, r1.SegmentDefinitionIDs)
	require.Equal(t, r1.SegmentDefinitionIDs, r2.SegmentDefinitionIDs)
}
