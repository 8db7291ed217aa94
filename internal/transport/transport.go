// Package transport defines the Transport interface the core consumes to
// issue unary JSON requests and open AG-UI event streams (spec §6.1). The
// core treats connection pooling, TLS, retries, and fan-out as the
// transport's concern; concrete adapters live in the httpsse and native
// subpackages.
package transport

import (
	"context"
	"time"

	"github.com/aguicore/runtime/internal/events"
)

// RunInput is the body of a runAgent call: the wire form of the messages
// composed by startRun plus the merged shared-state document.
type RunInput struct {
	ThreadID string
	RunID    string
	Messages []WireMessage
	State    any
}

// WireMessage is one message in the AG-UI message codec's wire form.
type WireMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"content"`
}

// EventStream yields decoded events in arrival order. Close unsubscribes;
// it is safe to call more than once and safe to call concurrently with a
// blocked Recv (Recv then returns a non-nil error, io.EOF or one specific to
// the transport).
type EventStream interface {
	Recv() (events.Event, error)
	Close()
}

// ErrKind classifies a transport-surfaced error per spec §6.4.
type ErrKind string

const (
	ErrAuthFailure    ErrKind = "auth_failure"
	ErrNotFound       ErrKind = "not_found"
	ErrAPIError       ErrKind = "api_error"
	ErrNetworkFailure ErrKind = "network_failure"
	ErrCancelled      ErrKind = "cancelled"
)

// Error wraps a transport failure with its classification.
type Error struct {
	Kind       ErrKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// Transport is the external collaborator the notifier drives. Timeouts,
// retries, TLS, and observer fan-out are its concern, not the core's
// (spec §1 Out-of-scope, §6.1).
type Transport interface {
	// Post issues a unary JSON request and decodes the response into out
	// (a pointer), honoring timeout if non-zero.
	Post(ctx context.Context, endpoint string, body any, out any, timeout time.Duration) error

	// RunAgent opens a server-sent event stream for the given input and
	// returns an EventStream yielding decoded events. Malformed wire
	// payloads surface as events.TypeUnknown, never as a returned error
	// (spec §6.1).
	RunAgent(ctx context.Context, endpoint string, input RunInput) (EventStream, error)
}

// CreateRunResponse is the decoded body of POST .../agui/{threadId}.
type CreateRunResponse struct {
	RunID string `json:"runId"`
}
