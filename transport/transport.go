// Package transport sends one WIP request over an established UDP
// connection and waits for the matching response, filtering out any
// packet whose packet_id does not match the outstanding request. The
// deadline-polling receive loop follows the teacher's UDP listener idiom;
// retry and backoff are intentionally left to the caller (the client
// orchestrator), per spec.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/checksum"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
	"github.com/U22-2025/WIP-sub001/internal/wiplog"
)

// DefaultTimeout is the default time budget for one Send call.
const DefaultTimeout = 10 * time.Second

// maxDatagram is the largest UDP payload this transport will attempt to
// read in one call to ReadFromUDP/Read.
const maxDatagram = 1500

// packet_id sits at bit offset 4, length 12, per the header's authoritative
// bit layout (spec §3) — the same rule the packet package's header codec
// uses, extracted directly here so transport never has to parse a full
// header just to filter by ID.
const (
	packetIDOffset = 4
	packetIDLength = 12
	headerSize     = 16
	checksumOffset = 116
	checksumLength = 12
)

// Conn is the minimal UDP connection surface Transport needs, satisfied by
// *net.UDPConn. It exists so tests can substitute an in-memory fake.
type Conn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// Transport sends a request and waits for its matching response.
type Transport struct{}

// New returns a Transport. It carries no state; its methods close over the
// connection and timeout passed to Send.
func New() *Transport { return &Transport{} }

// Send writes req to conn, then polls for a response whose packet_id equals
// wantID, honoring timeout via ctx and conn's read deadline. Any
// non-matching packet read during the wait is dropped and the loop
// continues until the deadline or ctx is done.
func (t *Transport) Send(ctx context.Context, conn Conn, req []byte, wantID uint16, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if _, err := conn.Write(req); err != nil {
		return nil, wiperr.Wrap(wiperr.IOError, fmt.Errorf("sending request %d: %w", wantID, err))
	}

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return nil, wiperr.Wrap(wiperr.Timeout, ctx.Err())
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, wiperr.New(wiperr.Timeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, wiperr.Wrap(wiperr.IOError, err)
		}

		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, wiperr.New(wiperr.Timeout)
			}
			return nil, wiperr.Wrap(wiperr.IOError, fmt.Errorf("reading response to %d: %w", wantID, err))
		}

		data := buf[:n]
		if n < headerSize {
			wiplog.Logf("transport: dropping short packet (%d bytes) while waiting for id %d", n, wantID)
			continue
		}

		gotID := uint16(bitio.ExtractBits(data, packetIDOffset, packetIDLength))
		if gotID != wantID {
			wiplog.Logf("transport: dropping packet id %d while waiting for id %d", gotID, wantID)
			continue
		}

		if !verifyHeaderChecksum(data) {
			return nil, wiperr.New(wiperr.InvalidPacket)
		}

		out := make([]byte, n)
		copy(out, data)
		return out, nil
	}
}

// verifyHeaderChecksum recomputes the checksum over a copy of data's header
// with the checksum field zeroed and compares it to the wire value, mirroring
// packet.verifyChecksum without creating an import cycle with package packet.
func verifyHeaderChecksum(data []byte) bool {
	header := make([]byte, headerSize)
	copy(header, data[:headerSize])
	want := uint16(bitio.ExtractBits(header, checksumOffset, checksumLength))
	bitio.InsertBits(header, checksumOffset, checksumLength, 0)
	return checksum.Verify(header, want)
}
