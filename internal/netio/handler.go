// Package netio implements the per-connection handler: version handshake,
// request/response framing, and registration with the scheduler's event
// queue. Every accepted TCP connection runs one Handle call in its own
// goroutine for the lifetime of that connection.
package netio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/backpressure"
	"github.com/nplex/tracecoord/internal/proto"
	"github.com/nplex/tracecoord/internal/scheduler"
)

// ioDeadline bounds every individual read and write so a silent peer can't
// pin a goroutine and an outbound channel slot forever.
const ioDeadline = time.Second

// maxFrameSize guards against a corrupt or hostile length prefix forcing an
// unbounded allocation.
const maxFrameSize = 16 << 20

// Handle drives one client connection end to end: it performs the version
// handshake, registers with the scheduler, then alternates reading a
// request and waiting for exactly one response until the connection ends.
// Once registered, it always emits a Disconnected event before returning,
// however it exits; a failed handshake returns before registering and
// emits no event at all.
func Handle(conn net.Conn, clientID uint64, events chan<- scheduler.ClientEvent, log zerolog.Logger) {
	defer conn.Close()
	log = log.With().Uint64("client_id", clientID).Str("remote", conn.RemoteAddr().String()).Logger()

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	codec, err := handshake(conn)
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed, closing connection")
		return
	}

	outbound := make(chan proto.Response, 1)
	backpressure.Send(events, scheduler.ClientEvent{Kind: scheduler.Connected, ClientID: clientID, Outbound: outbound}, "netio->scheduler", log)
	defer func() {
		backpressure.Send(events, scheduler.ClientEvent{Kind: scheduler.Disconnected, ClientID: clientID}, "netio->scheduler", log)
	}()

	for {
		req, err := readRequest(conn, codec)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("connection read ended")
			}
			return
		}

		backpressure.Send(events, scheduler.ClientEvent{Kind: scheduler.IncomingRequest, ClientID: clientID, Request: req}, "netio->scheduler", log)

		resp, ok := <-outbound
		if !ok {
			log.Warn().Msg("outbound channel closed by scheduler, disconnecting")
			return
		}

		if err := writeResponse(conn, codec, resp); err != nil {
			log.Debug().Err(err).Msg("connection write failed")
			return
		}
	}
}

// handshake reads the 4-byte big-endian protocol version a client opens
// with and resolves it to a codec. An unsupported version is fatal to the
// connection.
func handshake(conn net.Conn) (proto.Codec, error) {
	_ = conn.SetReadDeadline(time.Now().Add(ioDeadline))
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return nil, fmt.Errorf("reading protocol version: %w", err)
	}
	version := binary.BigEndian.Uint32(buf[:])

	codec, ok := proto.ForVersion(version)
	if !ok {
		return nil, fmt.Errorf("unsupported protocol version %d", version)
	}
	return codec, nil
}

// readRequest reads one length-prefixed frame and decodes it as a Request.
func readRequest(conn net.Conn, codec proto.Codec) (proto.Request, error) {
	payload, err := readFrame(conn)
	if err != nil {
		return proto.Request{}, err
	}
	return codec.DecodeRequest(payload)
}

// writeResponse encodes resp and writes it as one length-prefixed frame.
func writeResponse(conn net.Conn, codec proto.Codec, resp proto.Response) error {
	payload, err := codec.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return writeFrame(conn, payload)
}

// readFrame reads a 4-byte big-endian length prefix followed by that many
// bytes of payload.
func readFrame(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(ioDeadline))
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", n, maxFrameSize)
	}

	payload := make([]byte, n)
	_ = conn.SetReadDeadline(time.Now().Add(ioDeadline))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload prefixed with its 4-byte big-endian length.
func writeFrame(conn net.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(ioDeadline))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(ioDeadline))
	_, err := conn.Write(payload)
	return err
}
