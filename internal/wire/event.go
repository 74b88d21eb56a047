// Package wire implements the control plane's on-stream envelope and its
// length-prefixed CBOR framing, per SPEC_FULL.md §6.1.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// EventType names every recognized message on the bidirectional event
// stream, both client-originated requests and server-originated pushes.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventPing
	EventClientEventStreamConnected
	EventClientUnaryRegisterWorkers
	EventClientUnaryActivateStream
	EventClientUnaryRequestPipelineAssignment
	EventClientUnaryUpdateSubscriptionService
	EventClientUnaryDropWorker
	EventClientEventUpdateResourceState
	EventServerStateUpdate
	EventServerResponse
	EventServerError
)

func (t EventType) String() string {
	switch t {
	case EventPing:
		return "Ping"
	case EventClientEventStreamConnected:
		return "ClientEventStreamConnected"
	case EventClientUnaryRegisterWorkers:
		return "ClientUnaryRegisterWorkers"
	case EventClientUnaryActivateStream:
		return "ClientUnaryActivateStream"
	case EventClientUnaryRequestPipelineAssignment:
		return "ClientUnaryRequestPipelineAssignment"
	case EventClientUnaryUpdateSubscriptionService:
		return "ClientUnaryUpdateSubscriptionService"
	case EventClientUnaryDropWorker:
		return "ClientUnaryDropWorker"
	case EventClientEventUpdateResourceState:
		return "ClientEventUpdateResourceState"
	case EventServerStateUpdate:
		return "ServerStateUpdate"
	case EventServerResponse:
		return "ServerResponse"
	case EventServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// ErrorPayload carries a decoded validation error back to the originating
// tag; the connection stays open (SPEC_FULL.md §7).
type ErrorPayload struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// Event is the single envelope shared by every message on the stream.
// Message is left as a deferred RawMessage so the dispatcher can pick the
// concrete decode target per EventType, rather than reflecting over a
// stringly-typed map.
type Event struct {
	Type    EventType       `cbor:"type"`
	Tag     uint64          `cbor:"tag"`
	Message cbor.RawMessage `cbor:"message,omitempty"`
	Error   *ErrorPayload   `cbor:"error,omitempty"`
}

// NewRequest builds an Event carrying an encoded request payload.
func NewRequest(typ EventType, tag uint64, payload any) (Event, error) {
	msg, err := cbor.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: typ, Tag: tag, Message: msg}, nil
}

// NewErrorResponse builds an Event reporting a validation error back to
// the tag that requested it. The connection is not closed.
func NewErrorResponse(tag uint64, code, message string) Event {
	return Event{
		Type:  EventServerError,
		Tag:   tag,
		Error: &ErrorPayload{Code: code, Message: message},
	}
}

// Decode unmarshals the event's Message into dst.
func (e Event) Decode(dst any) error {
	return cbor.Unmarshal(e.Message, dst)
}
