package scheduler

import "github.com/nplex/tracecoord/internal/proto"

// EventKind discriminates the ClientEvent union the scheduler consumes
// from its single inbound queue.
type EventKind uint8

const (
	Connected EventKind = iota
	Disconnected
	IncomingRequest
	StatsRequest
)

// ClientEvent is the scheduler's sole source of work. Requests, connection
// lifecycle notifications, and diagnostics queries share one queue so that
// a stats read never races the state it's reading.
type ClientEvent struct {
	Kind     EventKind
	ClientID uint64

	// Connected
	Outbound chan proto.Response

	// IncomingRequest
	Request proto.Request

	// StatsRequest
	StatsReply chan Stats
}
