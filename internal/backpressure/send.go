// Package backpressure implements the non-blocking-first bounded send used
// on every channel that crosses a thread boundary in the coordinator: try a
// non-blocking send, then log and fall back to a blocking send on a full
// channel. Send reports no result to its caller: a send on a closed channel
// panics, as any Go channel send does.
package backpressure

import (
	"github.com/rs/zerolog"
)

// Send attempts a non-blocking send of item on ch. If the channel is full
// it logs a warning naming the channel and performs a blocking send,
// because the coordinator prefers to stall over dropping rendered tiles.
func Send[T any](ch chan<- T, item T, name string, log zerolog.Logger) {
	select {
	case ch <- item:
		return
	default:
	}

	log.Warn().Str("channel", name).Msg("channel full, blocking send")
	ch <- item
}
