package packet

import (
	"fmt"

	"github.com/U22-2025/WIP-sub001/fieldspec"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// Packet is a fully decoded non-error WIP packet: header, optional fixed
// body, and zero or more extended fields.
type Packet struct {
	Header   Header
	Body     *Body
	Extended []ExtendedField
	Warnings []string
}

// WeatherCode returns the decoded fixed body's weather_code, if this packet
// carries one.
func (p *Packet) WeatherCode() (uint16, bool) {
	if p.Body == nil {
		return 0, false
	}
	return p.Body.WeatherCode, true
}

// TemperatureCelsius returns the decoded fixed body's bias-corrected
// temperature, if this packet carries one.
func (p *Packet) TemperatureCelsius() (int, bool) {
	if p.Body == nil {
		return 0, false
	}
	return p.Body.TemperatureCelsius, true
}

// PrecipitationProb returns the decoded fixed body's precipitation
// probability percentage, if this packet carries one.
func (p *Packet) PrecipitationProb() (uint8, bool) {
	if p.Body == nil {
		return 0, false
	}
	return p.Body.PrecipitationProb, true
}

// Builder fluently constructs a packet's wire bytes.
type Builder struct {
	header    Header
	body      *Body
	bodyTable *fieldspec.FieldTable
	extTable  *fieldspec.ExtendedFieldTable
	extended  []ExtendedField
	err       error
}

// NewBuilder starts a Builder for header. bodyTable is required only when
// header.Type is WeatherResp or ReportResp; extTable is required only when
// extended fields will be added.
func NewBuilder(header Header, bodyTable *fieldspec.FieldTable, extTable *fieldspec.ExtendedFieldTable) *Builder {
	return &Builder{header: header, bodyTable: bodyTable, extTable: extTable}
}

// WithBody sets the fixed weather response body. Only meaningful for
// WeatherResp/ReportResp headers.
func (b *Builder) WithBody(body Body) *Builder {
	b.body = &body
	return b
}

// AddExtended appends one extended field, in call order (insertion order is
// preserved on the wire).
func (b *Builder) AddExtended(f ExtendedField) *Builder {
	b.extended = append(b.extended, f)
	return b
}

// Build finalizes the packet: encodes the header, the fixed body (if
// present), and any extended fields, then computes the checksum over the
// header.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	hasBody := HasWeatherBody(b.header.Type)
	if hasBody && b.body == nil {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("%s requires a fixed body", b.header.Type))
	}
	if !hasBody && b.body != nil {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("%s does not carry a fixed body", b.header.Type))
	}
	if len(b.extended) > 0 {
		b.header.Flags |= FlagExtended
	}

	size := HeaderSize
	if hasBody {
		size += FixedBodySize
	}
	buf := make([]byte, size)

	if err := encodeHeader(buf, b.header); err != nil {
		return nil, err
	}
	if hasBody {
		if err := encodeBody(buf, b.bodyTable, *b.body); err != nil {
			return nil, err
		}
	}

	buf, err := encodeExtended(buf, b.extTable, b.extended)
	if err != nil {
		return nil, err
	}

	if len(buf) > MaxPacketBytes {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("packet is %d bytes, exceeds %d", len(buf), MaxPacketBytes))
	}

	finalizeChecksum(buf)
	return buf, nil
}

// Parse decodes a non-error packet from data. bodyTable is consulted only
// when the decoded header's type carries a fixed body; pass nil if the
// caller has no body table for that role (fields will simply be omitted).
// extTable is consulted only when the header's FlagExtended bit is set.
func Parse(data []byte, bodyTable *fieldspec.FieldTable, extTable *fieldspec.ExtendedFieldTable) (*Packet, error) {
	header, warnings, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if header.Type == ErrorResp {
		return nil, wiperr.Wrap(wiperr.InvalidPacket, fmt.Errorf("use DecodeError for ErrorResp packets"))
	}
	if !verifyChecksum(data) {
		return nil, wiperr.New(wiperr.InvalidPacket)
	}

	p := &Packet{Header: header, Warnings: warnings}

	offset := HeaderSize
	if HasWeatherBody(header.Type) {
		if bodyTable != nil {
			body, err := decodeBody(data, bodyTable)
			if err != nil {
				return nil, err
			}
			p.Body = &body
		}
		offset += FixedBodySize
	}

	if header.Flags.Has(FlagExtended) {
		fields, err := decodeExtended(data, offset, extTable)
		if err != nil {
			return nil, err
		}
		p.Extended = fields
	}

	return p, nil
}
