// Package server implements the control plane's event server: it accepts
// bidirectional streams, allocates a Connection per stream, dispatches
// decoded wire events to store mutations, and answers unary requests on
// the tag that carried them.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/flowmesh/controlplane/internal/metrics"
	"github.com/flowmesh/controlplane/internal/planner"
	"github.com/flowmesh/controlplane/internal/publisher"
	"github.com/flowmesh/controlplane/internal/resource"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/flowmesh/controlplane/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Server accepts connections on a net.Listener and multiplexes their
// event streams against a single Store. Mutations are serialized inside
// the Store itself (one mutex); Server adds a per-server mutex around
// every "mutate, then publish" sequence (and around Subscribe) so a
// publish always reflects the mutation that triggered it and never an
// interleaved one.
type Server struct {
	store     *store.Store
	publisher *publisher.Publisher
	logger    *slog.Logger

	mu sync.Mutex // guards the mutate-then-publish sequence, not the store itself
}

// New returns a Server backed by s and pub.
func New(s *store.Store, pub *publisher.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{store: s, publisher: pub, logger: logger}
}

// Serve accepts connections on l until ctx is cancelled or Accept fails.
// Each connection is handled in its own goroutine, supervised by an
// errgroup so a panic-free handler error is logged without tearing down
// the listener.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}

			return err
		}

		g.Go(func() error {
			srv.handleConnection(ctx, conn)
			return nil
		})
	}

	return g.Wait()
}

// handleConnection owns one accepted net.Conn end to end: it registers a
// Connection, publishes state changes as they happen, forwards snapshots
// to the peer, and on return cascades removal of everything the
// Connection owned.
func (srv *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	srv.mu.Lock()
	c := srv.store.AddConnection(conn.RemoteAddr().String())
	srv.logger.InfoContext(ctx, "connection opened", "machine_id", c.ID, "peer", c.PeerInfo)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	srv.publisher.Publish(srv.store)
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		if err := srv.store.RemoveConnection(c.ID); err != nil {
			srv.logger.ErrorContext(ctx, "failed to remove connection on close", "machine_id", c.ID, "error", err)
		}

		metrics.ConnectionsActive.Dec()
		srv.publisher.Publish(srv.store)
		srv.mu.Unlock()
		srv.logger.InfoContext(ctx, "connection closed", "machine_id", c.ID)
	}()

	if err := wire.WriteEvent(conn, connectedEvent(c.ID)); err != nil {
		srv.logger.WarnContext(ctx, "failed to send ClientEventStreamConnected", "machine_id", c.ID, "error", err)
		return
	}

	srv.mu.Lock()
	sub := srv.publisher.Subscribe(srv.store)
	srv.mu.Unlock()
	defer sub.Close()

	var writeMu sync.Mutex

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go srv.pumpSnapshots(streamCtx, conn, &writeMu, sub)

	for {
		ev, err := wire.ReadEvent(conn)
		if err != nil {
			return
		}

		resp, ok := srv.dispatch(ctx, c.ID, ev)
		if !ok {
			continue
		}

		writeMu.Lock()
		err = wire.WriteEvent(conn, resp)
		writeMu.Unlock()

		if err != nil {
			return
		}
	}
}

// pumpSnapshots forwards published snapshots to conn as
// EventServerStateUpdate frames until ctx is cancelled.
func (srv *Server) pumpSnapshots(ctx context.Context, conn net.Conn, writeMu *sync.Mutex, sub *publisher.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}

			ev, err := wire.NewRequest(wire.EventServerStateUpdate, 0, snap)
			if err != nil {
				srv.logger.ErrorContext(ctx, "failed to encode state update", "error", err)
				continue
			}

			writeMu.Lock()
			err = wire.WriteEvent(conn, ev)
			writeMu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

func connectedEvent(machineID uint64) wire.Event {
	ev, _ := wire.NewRequest(wire.EventClientEventStreamConnected, 0, struct {
		MachineID uint64 `cbor:"machineId"`
	}{MachineID: machineID})

	return ev
}

// dispatch routes one decoded event to its handler and returns the
// response event to write back. Every event gets a reply, so the bool
// return is always true: an unrecognized type, including a
// server-originated message looped back, is answered with an
// UnsupportedEvent error on its tag.
func (srv *Server) dispatch(ctx context.Context, machineID uint64, ev wire.Event) (wire.Event, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var (
		resp     wire.Event
		err      error
		mutating bool
	)

	switch ev.Type {
	case wire.EventPing:
		resp = wire.Event{Type: wire.EventServerResponse, Tag: ev.Tag}
	case wire.EventClientUnaryRegisterWorkers:
		resp, err = srv.handleRegisterWorkers(machineID, ev)
		mutating = true
	case wire.EventClientUnaryActivateStream:
		resp, err = srv.handleActivateStream(ev)
		mutating = true
	case wire.EventClientUnaryRequestPipelineAssignment:
		resp, err = srv.handleRequestPipelineAssignment(machineID, ev)
		mutating = true
	case wire.EventClientUnaryUpdateSubscriptionService:
		resp, err = srv.handleUpdateSubscriptionService(machineID, ev)
		mutating = true
	case wire.EventClientUnaryDropWorker:
		resp, err = srv.handleDropWorker(ev)
		mutating = true
	case wire.EventClientEventUpdateResourceState:
		resp, err = srv.handleUpdateResourceState(ev)
		mutating = true
	default:
		metrics.EventsDispatchedTotal.WithLabelValues(ev.Type.String(), "unsupported").Inc()
		resp = wire.NewErrorResponse(ev.Tag, "UnsupportedEvent", "unrecognized event type")
		return resp, true
	}

	if err != nil {
		metrics.EventsDispatchedTotal.WithLabelValues(ev.Type.String(), "error").Inc()
		srv.logger.WarnContext(ctx, "handler failed", "event_type", ev.Type.String(), "tag", ev.Tag, "error", err)
		return wire.NewErrorResponse(ev.Tag, classifyError(err), err.Error()), true
	}

	metrics.EventsDispatchedTotal.WithLabelValues(ev.Type.String(), "ok").Inc()

	// A new nonce is only minted for a successful store mutation batch
	// (spec §4.5); Ping and other non-mutating handlers echo back without
	// disturbing already-connected subscribers.
	if mutating {
		srv.publisher.Publish(srv.store)
		srv.checkInvariants(ctx)
	}

	return resp, true
}

// checkInvariants polls the store's referential-consistency backstop after
// every successful mutation. A violation here means a reducer let state
// drift out from under its own invariants — not a client-triggerable
// validation error — so the server logs and terminates rather than keep
// answering requests against corrupted state.
func (srv *Server) checkInvariants(ctx context.Context) {
	violations := srv.store.CheckInvariants()
	if len(violations) == 0 {
		return
	}

	for _, v := range violations {
		metrics.InvariantViolationsTotal.WithLabelValues(v.Kind).Inc()
		srv.logger.ErrorContext(ctx, "fatal invariant violation", "kind", v.Kind, "detail", v.Detail)
	}

	os.Exit(1)
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, store.ErrMissingPrerequisite):
		return "MissingPrerequisite"
	case errors.Is(err, store.ErrDuplicateID):
		return "DuplicateId"
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, resource.ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, store.ErrPrematureRemoval):
		return "PrematureRemoval"
	case errors.Is(err, store.ErrUnknownID):
		return "UnknownId"
	case errors.Is(err, store.ErrDanglingReference):
		return "DanglingReference"
	case errors.Is(err, planner.ErrInvalidPort):
		return "MalformedRequest"
	default:
		return "MalformedRequest"
	}
}
