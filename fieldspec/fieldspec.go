// Package fieldspec loads the JSON field descriptions that drive the packet
// codec, so wire format is data rather than hard-coded struct offsets. A
// FieldTable assigns bit positions left-to-right from the declared key order
// of the source JSON object; an ExtendedFieldTable describes the TLV-keyed
// extended fields shared across packet types.
package fieldspec

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/U22-2025/WIP-sub001/internal/pathsafe"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// MaxFieldBits and MinFieldBits bound a single base field's length, per the
// loader contract.
const (
	MinFieldBits = 1
	MaxFieldBits = 64
)

// MaxExtendedKey is the largest TLV key an extended field may declare (6-bit
// key space).
const MaxExtendedKey = 63

// ValueType names one of the extended field wire encodings the packet codec
// knows how to read and write.
type ValueType string

const (
	TypeStringList ValueType = "string_list"
	TypeCoordinate ValueType = "coordinate"
	TypeSourceInfo ValueType = "source_info"
	TypeBinary     ValueType = "binary"
	TypeFloat32    ValueType = "float32"
	TypeInt64      ValueType = "int64"
	TypeBool       ValueType = "bool"
	TypeJSON       ValueType = "json"
)

// Field describes one base (fixed-position) field: its name, its bit offset
// and length assigned by the loader from declaration order, its type tag,
// and an optional default value.
type Field struct {
	Name       string
	Offset     int
	Length     int
	Type       string
	Default    *uint64
	Additional map[string]json.RawMessage
}

// FieldTable is the ordered, read-only set of base fields for one packet
// role (request, response, or a fixed response body).
type FieldTable struct {
	Fields []Field
	byName map[string]*Field
}

// Field looks up a base field by name. The returned pointer is never nil
// once the table has been validated by Load; callers should check ok.
func (t *FieldTable) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// TotalBits is the sum of every field's length, i.e. the bit offset one past
// the last declared field.
func (t *FieldTable) TotalBits() int {
	total := 0
	for _, f := range t.Fields {
		total += f.Length
	}
	return total
}

// ExtendedField describes one entry of the extended (TLV) field table: its
// TLV key, its value type, an optional wire encoding hint, and an optional
// fixed-width format (e.g. per-component bit widths for a packed coordinate).
type ExtendedField struct {
	Name       string
	Key        int
	Type       ValueType
	Encoding   string
	Format     map[string]int
	Additional map[string]json.RawMessage
}

// ExtendedFieldTable is the shared, read-only set of extended field
// descriptions, indexed by both name and TLV key.
type ExtendedFieldTable struct {
	Fields []ExtendedField
	byName map[string]*ExtendedField
	byKey  map[int]*ExtendedField
}

// ByName looks up an extended field by its declared name.
func (t *ExtendedFieldTable) ByName(name string) (*ExtendedField, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// ByKey looks up an extended field by its TLV key (0-63).
func (t *ExtendedFieldTable) ByKey(key int) (*ExtendedField, bool) {
	f, ok := t.byKey[key]
	return f, ok
}

// baseFieldJSON is the object form of a base field entry; the bare-integer
// shorthand (a field value that is just a JSON number) is handled before
// falling back to this shape.
type baseFieldJSON struct {
	Length  *int    `json:"length"`
	Type    *string `json:"type"`
	Default *uint64 `json:"default"`
}

// Load parses a base field-spec JSON object from r. Key order in the source
// document defines bit layout: the first key starts at bit 0, and each
// subsequent key starts where the previous one ended.
func Load(r io.Reader) (*FieldTable, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}

	table := &FieldTable{byName: map[string]*Field{}}
	seen := map[string]struct{}{}
	offset := 0

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("reading field name: %w", err))
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("field name token is not a string: %v", keyTok))
		}
		if _, dup := seen[name]; dup {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("duplicate field %q", name))
		}
		seen[name] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("reading value for field %q: %w", name, err))
		}

		field, err := parseBaseField(name, raw, offset)
		if err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, err)
		}

		table.Fields = append(table.Fields, *field)
		offset += field.Length
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}

	// byName must point into the slice's backing array, not the loop-local
	// copies, so rebuild it after every Field has its final address.
	for i := range table.Fields {
		table.byName[table.Fields[i].Name] = &table.Fields[i]
	}

	return table, nil
}

func parseBaseField(name string, raw json.RawMessage, offset int) (*Field, error) {
	// Bare-integer shorthand: the value is just a length, type defaults to "uint".
	var bareLength int
	if err := json.Unmarshal(raw, &bareLength); err == nil {
		if bareLength < MinFieldBits || bareLength > MaxFieldBits {
			return nil, fmt.Errorf("field %q: length %d bits out of range [%d,%d]", name, bareLength, MinFieldBits, MaxFieldBits)
		}
		return &Field{Name: name, Offset: offset, Length: bareLength, Type: "uint"}, nil
	}

	var obj baseFieldJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	if obj.Length == nil {
		return nil, fmt.Errorf("field %q: missing length", name)
	}
	if *obj.Length < MinFieldBits || *obj.Length > MaxFieldBits {
		return nil, fmt.Errorf("field %q: length %d bits out of range [%d,%d]", name, *obj.Length, MinFieldBits, MaxFieldBits)
	}

	fieldType := "uint"
	if obj.Type != nil {
		fieldType = *obj.Type
	}

	additional, err := tolerateUnknownKeys(raw, "length", "type", "default")
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}

	return &Field{
		Name:       name,
		Offset:     offset,
		Length:     *obj.Length,
		Type:       fieldType,
		Default:    obj.Default,
		Additional: additional,
	}, nil
}

// extendedFieldJSON is the object form of an extended field entry.
type extendedFieldJSON struct {
	Key      *int           `json:"id"`
	Type     *string        `json:"type"`
	Encoding *string        `json:"encoding"`
	Format   map[string]int `json:"format"`
}

// LoadExtended parses the extended field-spec JSON object from r. Unlike
// base fields, declaration order carries no positional meaning: position is
// determined at parse time by each wire TLV header's own key field.
func LoadExtended(r io.Reader) (*ExtendedFieldTable, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}

	table := &ExtendedFieldTable{
		byName: map[string]*ExtendedField{},
		byKey:  map[int]*ExtendedField{},
	}
	seenName := map[string]struct{}{}
	seenKey := map[int]struct{}{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("reading extended field name: %w", err))
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("extended field name token is not a string: %v", keyTok))
		}
		if _, dup := seenName[name]; dup {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("duplicate extended field %q", name))
		}
		seenName[name] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("reading value for extended field %q: %w", name, err))
		}

		field, err := parseExtendedField(name, raw)
		if err != nil {
			return nil, wiperr.Wrap(wiperr.ConfigError, err)
		}
		if _, dup := seenKey[field.Key]; dup {
			return nil, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("extended field %q: key %d already used", name, field.Key))
		}
		seenKey[field.Key] = struct{}{}

		table.Fields = append(table.Fields, *field)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}

	// Rebuild both indexes to point at final slice addresses.
	table.byName = map[string]*ExtendedField{}
	table.byKey = map[int]*ExtendedField{}
	for i := range table.Fields {
		table.byName[table.Fields[i].Name] = &table.Fields[i]
		table.byKey[table.Fields[i].Key] = &table.Fields[i]
	}

	return table, nil
}

func parseExtendedField(name string, raw json.RawMessage) (*ExtendedField, error) {
	var obj extendedFieldJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("extended field %q: %w", name, err)
	}
	if obj.Key == nil {
		return nil, fmt.Errorf("extended field %q: missing id", name)
	}
	if *obj.Key < 0 || *obj.Key > MaxExtendedKey {
		return nil, fmt.Errorf("extended field %q: key %d out of range [0,%d]", name, *obj.Key, MaxExtendedKey)
	}
	if obj.Type == nil {
		return nil, fmt.Errorf("extended field %q: missing type", name)
	}

	if *obj.Type == "coordinate" {
		if latBits, ok := obj.Format["latitude_bits"]; ok {
			lonBits := obj.Format["longitude_bits"]
			if latBits+lonBits > 64 {
				return nil, fmt.Errorf("extended field %q: fixed-width coordinate latitude_bits+longitude_bits=%d exceeds 64", name, latBits+lonBits)
			}
		}
	}

	encoding := ""
	if obj.Encoding != nil {
		encoding = *obj.Encoding
	}

	additional, err := tolerateUnknownKeys(raw, "id", "type", "encoding", "format")
	if err != nil {
		return nil, fmt.Errorf("extended field %q: %w", name, err)
	}

	return &ExtendedField{
		Name:       name,
		Key:        *obj.Key,
		Type:       ValueType(*obj.Type),
		Encoding:   encoding,
		Format:     obj.Format,
		Additional: additional,
	}, nil
}

// tolerateUnknownKeys decodes raw as a generic object and returns every key
// not in known as an "additional settings" map. Unknown fields never affect
// encoding; they exist only for inspection.
func tolerateUnknownKeys(raw json.RawMessage, known ...string) (map[string]json.RawMessage, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	var additional map[string]json.RawMessage
	for k, v := range generic {
		if _, isKnown := knownSet[k]; isKnown {
			continue
		}
		if additional == nil {
			additional = map[string]json.RawMessage{}
		}
		additional[k] = v
	}
	return additional, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// LoadFile opens path (validated as a .json file under maxFileBytes),
// parses it as a base field table, and closes it.
func LoadFile(path string, maxFileBytes int64) (*FieldTable, error) {
	if err := pathsafe.ValidateConfigFile(path, ".json", maxFileBytes); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}
	defer f.Close()
	return Load(f)
}

// LoadExtendedFile opens path (validated as a .json file under
// maxFileBytes), parses it as an extended field table, and closes it.
func LoadExtendedFile(path string, maxFileBytes int64) (*ExtendedFieldTable, error) {
	if err := pathsafe.ValidateConfigFile(path, ".json", maxFileBytes); err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, wiperr.Wrap(wiperr.ConfigError, err)
	}
	defer f.Close()
	return LoadExtended(f)
}

// DefaultMaxFileBytes is the size cap applied to field-spec JSON files when
// no caller-supplied limit is given.
const DefaultMaxFileBytes = 1 * 1024 * 1024
