package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// ErrorInfo is the payload of an ErrorResp packet.
type ErrorInfo struct {
	Code       uint16
	Severity   uint8 // 0-3
	SubCode    uint16
	HasSubCode bool
	Message    string
}

const maxSeverity = 3

// EncodeError builds the primary, variable-length error encoding: header,
// then error_code(2)+severity(1)[+sub_code(2) when header.Flags carries
// FlagExtended]+message_length(2)+message. header.Type is forced to
// ErrorResp.
func EncodeError(header Header, info ErrorInfo) ([]byte, error) {
	if info.Severity > maxSeverity {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("severity %d exceeds %d", info.Severity, maxSeverity))
	}
	header.Type = ErrorResp
	if info.HasSubCode {
		header.Flags |= FlagExtended
	}

	buf := make([]byte, HeaderSize)
	if err := encodeHeader(buf, header); err != nil {
		return nil, err
	}

	var tail [3]byte
	binary.LittleEndian.PutUint16(tail[0:2], info.Code)
	tail[2] = info.Severity
	buf = append(buf, tail[:]...)

	if header.Flags.Has(FlagExtended) {
		var sub [2]byte
		binary.LittleEndian.PutUint16(sub[:], info.SubCode)
		buf = append(buf, sub[:]...)
	}

	msg := []byte(info.Message)
	if len(msg) > 0xFFFF {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("error message is %d bytes, exceeds 65535", len(msg)))
	}
	var msgLen [2]byte
	binary.LittleEndian.PutUint16(msgLen[:], uint16(len(msg)))
	buf = append(buf, msgLen[:]...)
	buf = append(buf, msg...)

	finalizeChecksum(buf)
	return buf, nil
}

// DecodeError parses the primary, variable-length error encoding produced by
// EncodeError.
func DecodeError(data []byte) (Header, ErrorInfo, []string, error) {
	header, warnings, err := decodeHeader(data)
	if err != nil {
		return header, ErrorInfo{}, warnings, err
	}
	if header.Type != ErrorResp {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	if !verifyChecksum(data) {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
	}

	pos := HeaderSize
	if pos+3 > len(data) {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	info := ErrorInfo{
		Code:     binary.LittleEndian.Uint16(data[pos : pos+2]),
		Severity: data[pos+2],
	}
	pos += 3
	if info.Severity > maxSeverity {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidField)
	}

	if header.Flags.Has(FlagExtended) {
		if pos+2 > len(data) {
			return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
		}
		info.HasSubCode = true
		info.SubCode = binary.LittleEndian.Uint16(data[pos : pos+2])
		pos += 2
	}

	if pos+2 > len(data) {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	msgLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+msgLen > len(data) {
		return header, ErrorInfo{}, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	info.Message = string(data[pos : pos+msgLen])

	return header, info, warnings, nil
}

// Fixed-slot fallback layout, grounded on the original implementation's
// error_response.cpp: header(16) + error_code(2) + severity(1) + sub_code(2)
// + server_timestamp(8) + 3 bytes pad, then an optional message starting at
// byte 32 (message_length(2) + message bytes). Kept only for interop with
// peers that still speak this fixed layout; new code should prefer
// EncodeError/DecodeError.
const (
	fixedSlotErrorCodeOff  = HeaderSize
	fixedSlotSeverityOff   = fixedSlotErrorCodeOff + 2
	fixedSlotSubCodeOff    = fixedSlotSeverityOff + 1
	fixedSlotTimestampOff  = fixedSlotSubCodeOff + 2
	fixedSlotMessageOffset = 32
)

// EncodeErrorFixedSlot builds the fixed-slot compatibility encoding.
func EncodeErrorFixedSlot(header Header, info ErrorInfo, serverTimestamp int64) ([]byte, error) {
	if info.Severity > maxSeverity {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("severity %d exceeds %d", info.Severity, maxSeverity))
	}
	header.Type = ErrorResp

	buf := make([]byte, fixedSlotMessageOffset)
	if err := encodeHeader(buf, header); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint16(buf[fixedSlotErrorCodeOff:], info.Code)
	buf[fixedSlotSeverityOff] = info.Severity
	binary.LittleEndian.PutUint16(buf[fixedSlotSubCodeOff:], info.SubCode)
	binary.LittleEndian.PutUint64(buf[fixedSlotTimestampOff:], uint64(serverTimestamp))

	msg := []byte(info.Message)
	if len(msg) > 0 {
		if len(msg) > 0xFFFF {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("error message is %d bytes, exceeds 65535", len(msg)))
		}
		var msgLen [2]byte
		binary.LittleEndian.PutUint16(msgLen[:], uint16(len(msg)))
		buf = append(buf, msgLen[:]...)
		buf = append(buf, msg...)
	}

	finalizeChecksum(buf)
	return buf, nil
}

// DecodeErrorFixedSlot parses the fixed-slot compatibility encoding.
func DecodeErrorFixedSlot(data []byte) (Header, ErrorInfo, int64, []string, error) {
	header, warnings, err := decodeHeader(data)
	if err != nil {
		return header, ErrorInfo{}, 0, warnings, err
	}
	if header.Type != ErrorResp {
		return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	if len(data) < fixedSlotMessageOffset {
		return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidPacket)
	}
	if !verifyChecksum(data) {
		return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidPacket)
	}

	info := ErrorInfo{
		Code:       binary.LittleEndian.Uint16(data[fixedSlotErrorCodeOff:]),
		Severity:   data[fixedSlotSeverityOff],
		SubCode:    binary.LittleEndian.Uint16(data[fixedSlotSubCodeOff:]),
		HasSubCode: true,
	}
	if info.Severity > maxSeverity {
		return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidField)
	}
	serverTimestamp := int64(binary.LittleEndian.Uint64(data[fixedSlotTimestampOff:]))

	if len(data) > fixedSlotMessageOffset {
		if len(data) < fixedSlotMessageOffset+2 {
			return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidPacket)
		}
		msgLen := int(binary.LittleEndian.Uint16(data[fixedSlotMessageOffset:]))
		start := fixedSlotMessageOffset + 2
		if start+msgLen > len(data) {
			return header, ErrorInfo{}, 0, warnings, wiperr.New(wiperr.InvalidPacket)
		}
		info.Message = string(data[start : start+msgLen])
	}

	return header, info, serverTimestamp, warnings, nil
}
