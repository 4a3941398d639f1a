package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/fieldspec"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// MaxExtendedFields is the largest number of extended fields one packet may
// carry.
const MaxExtendedFields = 16

// MaxPacketBytes is the largest a fully encoded packet may be.
const MaxPacketBytes = 1500

// extended field TLV header: 16 bits little-endian, low 10 bits length (in
// bytes), high 6 bits key.
const (
	extLengthBits = 10
	extKeyBits    = 6
	extHeaderSize = 2
)

// Coordinate is the extended field value for fieldspec.TypeCoordinate.
type Coordinate struct {
	Latitude  float32
	Longitude float32
}

// SourceInfo is the extended field value for fieldspec.TypeSourceInfo.
type SourceInfo struct {
	SourceID  uint8
	Timestamp uint32
	Quality   uint8
}

// ExtendedField is one decoded or to-be-encoded TLV extended field.
type ExtendedField struct {
	Key  int
	Type fieldspec.ValueType

	StringList []string
	Coordinate Coordinate
	Source     SourceInfo
	Binary     []byte
	Float32    float32
	Int64      int64
	Bool       bool
	JSON       []byte
}

func encodeExtendedValue(f ExtendedField) ([]byte, error) {
	switch f.Type {
	case fieldspec.TypeStringList:
		var out []byte
		var countBuf [2]byte
		binary.LittleEndian.PutUint16(countBuf[:], uint16(len(f.StringList)))
		out = append(out, countBuf[:]...)
		for _, s := range f.StringList {
			var lenBuf [2]byte
			binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
			out = append(out, lenBuf[:]...)
			out = append(out, s...)
		}
		return out, nil

	case fieldspec.TypeCoordinate:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(f.Coordinate.Latitude))
		binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(f.Coordinate.Longitude))
		return out, nil

	case fieldspec.TypeSourceInfo:
		out := make([]byte, 6)
		out[0] = f.Source.SourceID
		binary.LittleEndian.PutUint32(out[1:5], f.Source.Timestamp)
		out[5] = f.Source.Quality
		return out, nil

	case fieldspec.TypeBinary:
		return append([]byte(nil), f.Binary...), nil

	case fieldspec.TypeFloat32:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(f.Float32))
		return out, nil

	case fieldspec.TypeInt64:
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(f.Int64))
		return out, nil

	case fieldspec.TypeBool:
		if f.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case fieldspec.TypeJSON:
		return append([]byte(nil), f.JSON...), nil

	default:
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("unknown extended field type %q", f.Type))
	}
}

func decodeExtendedValue(t fieldspec.ValueType, key int, raw []byte) (ExtendedField, error) {
	f := ExtendedField{Key: key, Type: t}
	switch t {
	case fieldspec.TypeStringList:
		if len(raw) < 2 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		count := int(binary.LittleEndian.Uint16(raw[0:2]))
		pos := 2
		list := make([]string, 0, count)
		for i := 0; i < count; i++ {
			if pos+2 > len(raw) {
				return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
			}
			l := int(binary.LittleEndian.Uint16(raw[pos : pos+2]))
			pos += 2
			if pos+l > len(raw) {
				return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
			}
			list = append(list, string(raw[pos:pos+l]))
			pos += l
		}
		f.StringList = list

	case fieldspec.TypeCoordinate:
		if len(raw) != 8 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		f.Coordinate = Coordinate{
			Latitude:  math.Float32frombits(binary.LittleEndian.Uint32(raw[0:4])),
			Longitude: math.Float32frombits(binary.LittleEndian.Uint32(raw[4:8])),
		}

	case fieldspec.TypeSourceInfo:
		if len(raw) != 6 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		f.Source = SourceInfo{
			SourceID:  raw[0],
			Timestamp: binary.LittleEndian.Uint32(raw[1:5]),
			Quality:   raw[5],
		}

	case fieldspec.TypeBinary:
		f.Binary = append([]byte(nil), raw...)

	case fieldspec.TypeFloat32:
		if len(raw) != 4 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		f.Float32 = math.Float32frombits(binary.LittleEndian.Uint32(raw))

	case fieldspec.TypeInt64:
		if len(raw) != 8 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		f.Int64 = int64(binary.LittleEndian.Uint64(raw))

	case fieldspec.TypeBool:
		if len(raw) != 1 {
			return ExtendedField{}, wiperr.New(wiperr.InvalidPacket)
		}
		f.Bool = raw[0] != 0

	case fieldspec.TypeJSON:
		f.JSON = append([]byte(nil), raw...)

	default:
		return ExtendedField{}, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("unknown extended field type %q", t))
	}
	return f, nil
}

// encodeExtended appends the TLV encoding of fields to buf, validating
// each key against table and enforcing MaxExtendedFields.
func encodeExtended(buf []byte, table *fieldspec.ExtendedFieldTable, fields []ExtendedField) ([]byte, error) {
	if len(fields) == 0 {
		return buf, nil
	}
	if len(fields) > MaxExtendedFields {
		return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("%d extended fields exceeds the limit of %d", len(fields), MaxExtendedFields))
	}
	if table == nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("no extended field table supplied"))
	}

	for _, f := range fields {
		spec, ok := table.ByKey(f.Key)
		if !ok {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("extended key %d is not in the field table", f.Key))
		}
		if spec.Type != f.Type {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("extended key %d: type %q does not match table type %q", f.Key, f.Type, spec.Type))
		}

		value, err := encodeExtendedValue(f)
		if err != nil {
			return nil, err
		}
		if len(value) > (1<<extLengthBits)-1 {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("extended key %d value is %d bytes, exceeds %d-bit length field", f.Key, len(value), extLengthBits))
		}
		if f.Key > (1<<extKeyBits)-1 {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("extended key %d exceeds %d bits", f.Key, extKeyBits))
		}

		tlvHeader := make([]byte, extHeaderSize)
		packed := uint64(len(value))&((1<<extLengthBits)-1) | uint64(f.Key)<<extLengthBits
		bitio.InsertBits(tlvHeader, 0, extLengthBits+extKeyBits, packed)

		buf = append(buf, tlvHeader...)
		buf = append(buf, value...)

		if len(buf) > MaxPacketBytes {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("packet exceeds %d bytes with extended fields", MaxPacketBytes))
		}
	}
	return buf, nil
}

// decodeExtended parses the TLV extended-field run starting at offset in
// buf, returning the decoded fields.
func decodeExtended(buf []byte, offset int, table *fieldspec.ExtendedFieldTable) ([]ExtendedField, error) {
	var fields []ExtendedField
	pos := offset
	for pos < len(buf) {
		if pos+extHeaderSize > len(buf) {
			return nil, wiperr.New(wiperr.InvalidPacket)
		}
		packed := binary.LittleEndian.Uint16(buf[pos : pos+extHeaderSize])
		length := int(packed & ((1 << extLengthBits) - 1))
		key := int(packed >> extLengthBits)
		pos += extHeaderSize

		if pos+length > len(buf) {
			return nil, wiperr.New(wiperr.InvalidPacket)
		}
		raw := buf[pos : pos+length]
		pos += length

		if table == nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("no extended field table supplied"))
		}
		spec, ok := table.ByKey(key)
		if !ok {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("extended key %d is not in the field table", key))
		}

		f, err := decodeExtendedValue(spec.Type, key, raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)

		if len(fields) > MaxExtendedFields {
			return nil, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("packet carries more than %d extended fields", MaxExtendedFields))
		}
	}
	return fields, nil
}
