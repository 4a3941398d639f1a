// Package packet implements the WIP wire codec: the fixed 16-byte header,
// the fixed response body carried by weather/report responses, extended
// (TLV) fields, and error responses. The header's bit layout is fixed and
// authoritative (spec §3); the optional response body is described by a
// fieldspec.FieldTable so its layout stays data-driven per packet role.
package packet

import (
	"fmt"

	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/checksum"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// PacketType enumerates the protocol's request/response roles.
type PacketType uint8

const (
	CoordReq PacketType = iota
	CoordResp
	WeatherReq
	WeatherResp
	ReportReq
	ReportResp
	QueryReq
	ErrorResp
)

func (t PacketType) String() string {
	switch t {
	case CoordReq:
		return "CoordReq"
	case CoordResp:
		return "CoordResp"
	case WeatherReq:
		return "WeatherReq"
	case WeatherResp:
		return "WeatherResp"
	case ReportReq:
		return "ReportReq"
	case ReportResp:
		return "ReportResp"
	case QueryReq:
		return "QueryReq"
	case ErrorResp:
		return "ErrorResp"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// Flags is the header's 8-bit feature bitmap.
type Flags uint8

const (
	FlagWeather Flags = 1 << iota
	FlagTemp
	FlagPrecip
	FlagAlert
	FlagDisaster
	FlagExtended
	FlagRequestAuth
	FlagResponseAuth
)

// Has reports whether every bit set in want is also set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// ProtocolVersion is the only version this codec understands.
const ProtocolVersion = 1

// HeaderSize is the fixed wire size of the header, in bytes.
const HeaderSize = 16

// FixedBodySize is the wire size of the fixed weather response body
// (weather_code + temperature + precipitation_prob), in bytes.
const FixedBodySize = 4

// Bit offsets and lengths from spec §3's authoritative header table.
const (
	offVersion   = 0
	lenVersion   = 4
	offPacketID  = 4
	lenPacketID  = 12
	offType      = 16
	lenType      = 3
	offFlags     = 19
	lenFlags     = 8
	offDay       = 27
	lenDay       = 3
	offReserved  = 30
	lenReserved  = 2
	offTimestamp = 32
	lenTimestamp = 64
	offAreaCode  = 96
	lenAreaCode  = 20
	offChecksum  = 116
	lenChecksum  = 12
)

// Header is the fixed 128-bit WIP header.
type Header struct {
	Version   uint8
	PacketID  uint16
	Type      PacketType
	Flags     Flags
	Day       uint8
	Reserved  uint8 // must be zero on send; a non-zero value on receive is a warning, not an error
	Timestamp int64
	AreaCode  uint32
	Checksum  uint16
}

// HasWeatherBody reports whether t carries the fixed weather response body.
func HasWeatherBody(t PacketType) bool {
	return t == WeatherResp || t == ReportResp
}

// BodyOffset returns the byte offset where a packet of this header's type
// carries its optional fixed body or, if none, its extended fields.
func (h Header) BodyOffset() int {
	if HasWeatherBody(h.Type) {
		return HeaderSize + FixedBodySize
	}
	return HeaderSize
}

// encodeHeader writes h into the first HeaderSize bytes of buf (which must
// be at least HeaderSize long) without computing the checksum.
func encodeHeader(buf []byte, h Header) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("buffer too short for header: need %d, have %d", HeaderSize, len(buf))
	}
	if h.Version > (1<<lenVersion)-1 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("version %d exceeds %d bits", h.Version, lenVersion))
	}
	if h.PacketID >= 4096 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("packet_id %d exceeds 12 bits", h.PacketID))
	}
	if h.Type > 7 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("type %d exceeds 3 bits", h.Type))
	}
	if h.Day > 7 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("day %d exceeds 3 bits", h.Day))
	}
	if h.AreaCode > 999999 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("area_code %d exceeds the six-digit range", h.AreaCode))
	}

	bitio.InsertBits(buf, offVersion, lenVersion, uint64(h.Version))
	bitio.InsertBits(buf, offPacketID, lenPacketID, uint64(h.PacketID))
	bitio.InsertBits(buf, offType, lenType, uint64(h.Type))
	bitio.InsertBits(buf, offFlags, lenFlags, uint64(h.Flags))
	bitio.InsertBits(buf, offDay, lenDay, uint64(h.Day))
	bitio.InsertBits(buf, offReserved, lenReserved, uint64(h.Reserved))
	bitio.InsertBits(buf, offTimestamp, lenTimestamp, uint64(h.Timestamp))
	bitio.InsertBits(buf, offAreaCode, lenAreaCode, uint64(h.AreaCode))
	bitio.InsertBits(buf, offChecksum, lenChecksum, uint64(h.Checksum))
	return nil
}

// decodeHeader reads a Header from the first HeaderSize bytes of buf and
// reports any reserved-bit warning (never an error).
func decodeHeader(buf []byte) (Header, []string, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, wiperr.New(wiperr.InvalidPacket)
	}

	var warnings []string

	h := Header{
		Version:   uint8(bitio.ExtractBits(buf, offVersion, lenVersion)),
		PacketID:  uint16(bitio.ExtractBits(buf, offPacketID, lenPacketID)),
		Type:      PacketType(bitio.ExtractBits(buf, offType, lenType)),
		Flags:     Flags(bitio.ExtractBits(buf, offFlags, lenFlags)),
		Day:       uint8(bitio.ExtractBits(buf, offDay, lenDay)),
		Reserved:  uint8(bitio.ExtractBits(buf, offReserved, lenReserved)),
		Timestamp: int64(bitio.ExtractBits(buf, offTimestamp, lenTimestamp)),
		AreaCode:  uint32(bitio.ExtractBits(buf, offAreaCode, lenAreaCode)),
		Checksum:  uint16(bitio.ExtractBits(buf, offChecksum, lenChecksum)),
	}

	if h.Reserved != 0 {
		warnings = append(warnings, fmt.Sprintf("reserved bits non-zero: %#x", h.Reserved))
	}

	if h.Version != ProtocolVersion {
		return h, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	if h.Type > ErrorResp {
		return h, warnings, wiperr.New(wiperr.InvalidPacket)
	}

	return h, warnings, nil
}

// finalizeChecksum zeroes buf's checksum field, computes the checksum over
// the first HeaderSize bytes, and writes it back.
func finalizeChecksum(buf []byte) {
	bitio.InsertBits(buf, offChecksum, lenChecksum, 0)
	sum := checksum.Compute(buf[:HeaderSize])
	bitio.InsertBits(buf, offChecksum, lenChecksum, uint64(sum))
}

// verifyChecksum recomputes the checksum over a copy of buf's header with
// the checksum field zeroed and compares it to the wire value.
func verifyChecksum(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	header := make([]byte, HeaderSize)
	copy(header, buf[:HeaderSize])
	want := uint16(bitio.ExtractBits(header, offChecksum, lenChecksum))
	bitio.InsertBits(header, offChecksum, lenChecksum, 0)
	return checksum.Verify(header, want)
}
