package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/flowmesh/controlplane/internal/publisher"
	"github.com/flowmesh/controlplane/internal/resource"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/flowmesh/controlplane/internal/wire"
	"github.com/stretchr/testify/require"
)

// dial starts a Server over an in-memory net.Pipe and returns the client
// end plus the shared store, skipping past the initial
// ClientEventStreamConnected frame every stream opens with.
func dial(t *testing.T) (net.Conn, *store.Store, uint64) {
	t.Helper()

	s := store.New()
	pub := publisher.New()
	srv := New(s, pub, nil)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		srv.handleConnection(ctx, serverConn)
	}()

	connected, err := wire.ReadEvent(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.EventClientEventStreamConnected, connected.Type)

	var payload struct {
		MachineID uint64 `cbor:"machineId"`
	}
	require.NoError(t, connected.Decode(&payload))

	// Drain the seeded snapshot pushed by Subscribe.
	snap, err := wire.ReadEvent(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerStateUpdate, snap.Type)

	return clientConn, s, payload.MachineID
}

func TestPingEchoesTag(t *testing.T) {
	conn, _, _ := dial(t)

	req, err := wire.NewRequest(wire.EventPing, 55, nil)
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, req))

	resp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, uint64(55), resp.Tag)
	require.Equal(t, wire.EventServerResponse, resp.Type)
}

func TestRegisterWorkersReturnsWorkerIDs(t *testing.T) {
	conn, s, machineID := dial(t)

	req, err := wire.NewRequest(wire.EventClientUnaryRegisterWorkers, 9876, RegisterWorkersRequest{
		UCXAddresses: [][]byte{[]byte("a"), []byte("b")},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, req))

	resp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, uint64(9876), resp.Tag)

	var body RegisterWorkersResponse
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, machineID, body.MachineID)

	// machineID is connection id 1 (the only connection dial opened); its
	// two workers land at 1 and 2 on their own per-kind counter, per
	// SPEC_FULL.md §8 scenario 2 — not 2 and 3 off a shared counter.
	require.Equal(t, uint64(1), machineID)
	require.Equal(t, []uint64{1, 2}, body.WorkerIDs)
	require.Len(t, s.SelectAllWorkers(), 2)
}

func TestUnsupportedEventReportsErrorWithSameTag(t *testing.T) {
	conn, _, _ := dial(t)

	bad := wire.Event{Type: wire.EventServerStateUpdate, Tag: 3}
	require.NoError(t, wire.WriteEvent(conn, bad))

	resp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerError, resp.Type)
	require.Equal(t, uint64(3), resp.Tag)
	require.NotNil(t, resp.Error)
	require.Equal(t, "UnsupportedEvent", resp.Error.Code)
}

func TestInvalidTransitionReportsErrorButKeepsStreamOpen(t *testing.T) {
	conn, s, machineID := dial(t)

	regReq, err := wire.NewRequest(wire.EventClientUnaryRegisterWorkers, 1, RegisterWorkersRequest{
		UCXAddresses: [][]byte{[]byte("a")},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, regReq))

	regResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)

	var reg RegisterWorkersResponse
	require.NoError(t, regResp.Decode(&reg))
	workerID := reg.WorkerIDs[0]

	badUpdate, err := wire.NewRequest(wire.EventClientEventUpdateResourceState, 2, UpdateResourceStateRequest{
		Kind:   EntityWorker,
		ID:     workerID,
		Status: resource.StatusRegistered, // same-or-backwards after Registered->Registered is a no-op, so first move forward
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, badUpdate))

	okResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerResponse, okResp.Type)

	forward, err := wire.NewRequest(wire.EventClientEventUpdateResourceState, 3, UpdateResourceStateRequest{
		Kind:   EntityWorker,
		ID:     workerID,
		Status: resource.StatusReady,
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, forward))
	_, err = readUntilResponse(t, conn)
	require.NoError(t, err)

	backward, err := wire.NewRequest(wire.EventClientEventUpdateResourceState, 4, UpdateResourceStateRequest{
		Kind:   EntityWorker,
		ID:     workerID,
		Status: resource.StatusRegistered,
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, backward))

	failResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerError, failResp.Type)
	require.Equal(t, "InvalidTransition", failResp.Error.Code)

	// Stream stays open: a further Ping still gets answered.
	ping, err := wire.NewRequest(wire.EventPing, 5, nil)
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, ping))

	pingResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerResponse, pingResp.Type)

	require.Len(t, s.SelectAllWorkers(), 1)
	_ = machineID
}

func TestUpdateSubscriptionServiceCreatesThenUpdatesRecord(t *testing.T) {
	conn, s, machineID := dial(t)

	req, err := wire.NewRequest(wire.EventClientUnaryUpdateSubscriptionService, 11, UpdateSubscriptionServiceRequest{
		Topics: []string{"workers"},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, req))

	resp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerResponse, resp.Type)

	var body UpdateSubscriptionServiceResponse
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, []string{"workers"}, body.Topics)

	sub, err := s.SelectSubscriptionServiceByMachineID(machineID)
	require.NoError(t, err)
	require.Equal(t, body.ID, sub.ID)

	req2, err := wire.NewRequest(wire.EventClientUnaryUpdateSubscriptionService, 12, UpdateSubscriptionServiceRequest{
		Topics: []string{"workers", "pipelines"},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, req2))

	resp2, err := readUntilResponse(t, conn)
	require.NoError(t, err)

	var body2 UpdateSubscriptionServiceResponse
	require.NoError(t, resp2.Decode(&body2))
	require.Equal(t, body.ID, body2.ID)
	require.Equal(t, []string{"workers", "pipelines"}, body2.Topics)
	require.Len(t, s.SelectAllSubscriptionServices(), 1)
}

func TestUpdateResourceStateManifoldActualReportsBinding(t *testing.T) {
	conn, s, machineID := dial(t)

	regReq, err := wire.NewRequest(wire.EventClientUnaryRegisterWorkers, 1, RegisterWorkersRequest{
		UCXAddresses: [][]byte{[]byte("a"), []byte("b")},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, regReq))
	regResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)

	var reg RegisterWorkersResponse
	require.NoError(t, regResp.Decode(&reg))

	planReq, err := wire.NewRequest(wire.EventClientUnaryRequestPipelineAssignment, 2, PipelineRequestAssignmentRequest{
		Segments: []SegmentSpecWire{
			{Name: "producer", EgressPorts: []string{"p"}},
			{Name: "consumer", IngressPorts: []string{"p"}},
		},
		Mappings: []SegmentMappingWire{
			{SegmentName: "producer", WorkerIDs: []uint64{reg.WorkerIDs[0]}},
			{SegmentName: "consumer", WorkerIDs: []uint64{reg.WorkerIDs[1]}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, planReq))
	planResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)

	var plan PipelineRequestAssignmentResponse
	require.NoError(t, planResp.Decode(&plan))
	require.Len(t, plan.ManifoldInstanceIDs, 1)
	manifoldID := plan.ManifoldInstanceIDs[0]

	actualReq, err := wire.NewRequest(wire.EventClientEventUpdateResourceState, 3, UpdateResourceStateRequest{
		Kind:         EntityManifoldActual,
		ID:           manifoldID,
		ActualInput:  []uint64{plan.SegmentInstanceIDs[1]},
		ActualOutput: []uint64{plan.SegmentInstanceIDs[0]},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteEvent(conn, actualReq))

	actualResp, err := readUntilResponse(t, conn)
	require.NoError(t, err)
	require.Equal(t, wire.EventServerResponse, actualResp.Type)

	manifolds := s.SelectAllManifoldInstances()
	require.Len(t, manifolds, 1)
	require.Equal(t, []uint64{plan.SegmentInstanceIDs[1]}, manifolds[0].ActualInput)
	require.Equal(t, []uint64{plan.SegmentInstanceIDs[0]}, manifolds[0].ActualOutput)

	_ = machineID
}

// readUntilResponse skips any interleaved EventServerStateUpdate pushes
// and returns the first unary response or error frame.
func readUntilResponse(t *testing.T, conn net.Conn) (wire.Event, error) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		ev, err := wire.ReadEvent(conn)
		if err != nil {
			return wire.Event{}, err
		}

		if ev.Type == wire.EventServerStateUpdate {
			continue
		}

		return ev, nil
	}
}
