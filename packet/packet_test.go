package packet_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/checksum"
	"github.com/U22-2025/WIP-sub001/fieldspec"
	"github.com/U22-2025/WIP-sub001/packet"
)

func weatherBodyTable(t *testing.T) *fieldspec.FieldTable {
	t.Helper()
	table, err := fieldspec.Load(strings.NewReader(`{
		"weather_code": 16,
		"temperature": 8,
		"precipitation_prob": 8
	}`))
	require.NoError(t, err)
	return table
}

func extendedTable(t *testing.T) *fieldspec.ExtendedFieldTable {
	t.Helper()
	table, err := fieldspec.LoadExtended(strings.NewReader(`{
		"alert_messages": {"id": 1, "type": "string_list"},
		"source_location": {"id": 2, "type": "coordinate"},
		"source": {"id": 3, "type": "source_info"},
		"raw": {"id": 4, "type": "binary"},
		"confidence": {"id": 5, "type": "float32"},
		"sequence": {"id": 6, "type": "int64"},
		"is_final": {"id": 7, "type": "bool"},
		"metadata": {"id": 8, "type": "json"}
	}`))
	require.NoError(t, err)
	return table
}

func sampleHeader(pktType packet.PacketType) packet.Header {
	return packet.Header{
		Version:   packet.ProtocolVersion,
		PacketID:  42,
		Type:      pktType,
		Day:       3,
		Timestamp: 1700000000,
		AreaCode:  130010,
	}
}

func TestBuildParseWeatherResponseRoundTrip(t *testing.T) {
	bodyTable := weatherBodyTable(t)

	b := packet.NewBuilder(sampleHeader(packet.WeatherResp), bodyTable, nil).
		WithBody(packet.Body{WeatherCode: 100, TemperatureCelsius: 23, PrecipitationProb: 40})

	wire, err := b.Build()
	require.NoError(t, err)
	require.Len(t, wire, packet.HeaderSize+packet.FixedBodySize)

	got, err := packet.Parse(wire, bodyTable, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(42), got.Header.PacketID)

	code, ok := got.WeatherCode()
	require.True(t, ok)
	require.Equal(t, uint16(100), code)

	temp, ok := got.TemperatureCelsius()
	require.True(t, ok)
	require.Equal(t, 23, temp)

	precip, ok := got.PrecipitationProb()
	require.True(t, ok)
	require.Equal(t, uint8(40), precip)
}

func TestBuildRejectsPrecipitationOver100(t *testing.T) {
	bodyTable := weatherBodyTable(t)
	b := packet.NewBuilder(sampleHeader(packet.WeatherResp), bodyTable, nil).
		WithBody(packet.Body{WeatherCode: 1, TemperatureCelsius: 0, PrecipitationProb: 101})
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRejectsBodyForBodylessType(t *testing.T) {
	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, nil).
		WithBody(packet.Body{WeatherCode: 1})
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRejectsMissingBodyForWeatherResp(t *testing.T) {
	b := packet.NewBuilder(sampleHeader(packet.WeatherResp), weatherBodyTable(t), nil)
	_, err := b.Build()
	require.Error(t, err)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, nil)
	wire, err := b.Build()
	require.NoError(t, err)

	// Byte 10 lies inside the timestamp, so the header still decodes and
	// only the checksum comparison can reject it.
	wire[10] ^= 0xFF
	_, err = packet.Parse(wire, nil, nil)
	require.Error(t, err)
}

func TestReservedBitsProduceWarningNotError(t *testing.T) {
	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, nil)
	wire, err := b.Build()
	require.NoError(t, err)

	// Reserved occupies bits [30,32); set it directly and refresh the
	// checksum the same way the codec does, to isolate this from encoding.
	bitio.InsertBits(wire, 30, 2, 1)
	bitio.InsertBits(wire, 116, 12, 0)
	sum := checksum.Compute(wire[:packet.HeaderSize])
	bitio.InsertBits(wire, 116, 12, uint64(sum))

	got, err := packet.Parse(wire, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, got.Warnings)
}

func TestExtendedFieldsRoundTrip(t *testing.T) {
	extTable := extendedTable(t)

	builder := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, extTable).
		AddExtended(packet.ExtendedField{Key: 1, Type: fieldspec.TypeStringList, StringList: []string{"flood", "heat"}}).
		AddExtended(packet.ExtendedField{Key: 2, Type: fieldspec.TypeCoordinate, Coordinate: packet.Coordinate{Latitude: 35.6, Longitude: 139.7}}).
		AddExtended(packet.ExtendedField{Key: 3, Type: fieldspec.TypeSourceInfo, Source: packet.SourceInfo{SourceID: 2, Timestamp: 1700000000, Quality: 9}}).
		AddExtended(packet.ExtendedField{Key: 4, Type: fieldspec.TypeBinary, Binary: []byte{0x01, 0x02, 0x03}}).
		AddExtended(packet.ExtendedField{Key: 5, Type: fieldspec.TypeFloat32, Float32: 0.875}).
		AddExtended(packet.ExtendedField{Key: 6, Type: fieldspec.TypeInt64, Int64: -12345}).
		AddExtended(packet.ExtendedField{Key: 7, Type: fieldspec.TypeBool, Bool: true}).
		AddExtended(packet.ExtendedField{Key: 8, Type: fieldspec.TypeJSON, JSON: []byte(`{"a":1}`)})

	wire, err := builder.Build()
	require.NoError(t, err)

	got, err := packet.Parse(wire, nil, extTable)
	require.NoError(t, err)
	require.True(t, got.Header.Flags.Has(packet.FlagExtended))
	require.Len(t, got.Extended, 8)

	require.Equal(t, []string{"flood", "heat"}, got.Extended[0].StringList)
	require.InDelta(t, 35.6, got.Extended[1].Coordinate.Latitude, 0.001)
	require.EqualValues(t, 2, got.Extended[2].Source.SourceID)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got.Extended[3].Binary)
	require.InDelta(t, 0.875, got.Extended[4].Float32, 0.0001)
	require.EqualValues(t, -12345, got.Extended[5].Int64)
	require.True(t, got.Extended[6].Bool)
	require.JSONEq(t, `{"a":1}`, string(got.Extended[7].JSON))
}

func TestExtendedFieldsRoundTripMatchesInputExactly(t *testing.T) {
	extTable := extendedTable(t)
	sent := []packet.ExtendedField{
		{Key: 1, Type: fieldspec.TypeStringList, StringList: []string{"flood", "heat"}},
		{Key: 2, Type: fieldspec.TypeCoordinate, Coordinate: packet.Coordinate{Latitude: 35.6, Longitude: 139.7}},
		{Key: 4, Type: fieldspec.TypeBinary, Binary: []byte{0x01, 0x02, 0x03}},
		{Key: 6, Type: fieldspec.TypeInt64, Int64: -12345},
	}

	builder := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, extTable)
	for _, f := range sent {
		builder.AddExtended(f)
	}
	wire, err := builder.Build()
	require.NoError(t, err)

	got, err := packet.Parse(wire, nil, extTable)
	require.NoError(t, err)

	if diff := cmp.Diff(sent, got.Extended, cmpopts.EquateApprox(0, 0.001)); diff != "" {
		t.Errorf("extended fields round-trip mismatch (-sent +got):\n%s", diff)
	}
}

func TestExtendedFieldsRejectUnknownKey(t *testing.T) {
	extTable := extendedTable(t)
	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, extTable).
		AddExtended(packet.ExtendedField{Key: 99, Type: fieldspec.TypeBool, Bool: true})
	_, err := b.Build()
	require.Error(t, err)
}

func TestExtendedFieldsRejectTypeMismatch(t *testing.T) {
	extTable := extendedTable(t)
	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, extTable).
		AddExtended(packet.ExtendedField{Key: 7, Type: fieldspec.TypeInt64, Int64: 1})
	_, err := b.Build()
	require.Error(t, err)
}

func TestExtendedFieldsRejectTooMany(t *testing.T) {
	extTable, err := fieldspec.LoadExtended(strings.NewReader(buildManyExtendedJSON(20)))
	require.NoError(t, err)

	b := packet.NewBuilder(sampleHeader(packet.CoordReq), nil, extTable)
	for i := 0; i < 20; i++ {
		b.AddExtended(packet.ExtendedField{Key: i, Type: fieldspec.TypeBool, Bool: true})
	}
	_, err = b.Build()
	require.Error(t, err)
}

func buildManyExtendedJSON(n int) string {
	var sb strings.Builder
	sb.WriteString("{")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"f` + itoa(i) + `": {"id": ` + itoa(i) + `, "type": "bool"}`)
	}
	sb.WriteString("}")
	return sb.String()
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestEncodeDecodeErrorRoundTrip(t *testing.T) {
	header := sampleHeader(packet.ErrorResp)
	info := packet.ErrorInfo{Code: 404, Severity: 2, HasSubCode: true, SubCode: 7, Message: "area not found"}

	wire, err := packet.EncodeError(header, info)
	require.NoError(t, err)

	gotHeader, gotInfo, _, err := packet.DecodeError(wire)
	require.NoError(t, err)
	require.Equal(t, packet.ErrorResp, gotHeader.Type)
	require.Equal(t, uint16(404), gotInfo.Code)
	require.EqualValues(t, 2, gotInfo.Severity)
	require.True(t, gotInfo.HasSubCode)
	require.EqualValues(t, 7, gotInfo.SubCode)
	require.Equal(t, "area not found", gotInfo.Message)
}

func TestEncodeErrorRejectsBadSeverity(t *testing.T) {
	_, err := packet.EncodeError(sampleHeader(packet.ErrorResp), packet.ErrorInfo{Severity: 9})
	require.Error(t, err)
}

func TestEncodeDecodeErrorFixedSlotRoundTrip(t *testing.T) {
	header := sampleHeader(packet.ErrorResp)
	info := packet.ErrorInfo{Code: 500, Severity: 3, SubCode: 12, Message: "downstream timeout"}

	wire, err := packet.EncodeErrorFixedSlot(header, info, 1700000100)
	require.NoError(t, err)

	gotHeader, gotInfo, ts, _, err := packet.DecodeErrorFixedSlot(wire)
	require.NoError(t, err)
	require.Equal(t, packet.ErrorResp, gotHeader.Type)
	require.Equal(t, uint16(500), gotInfo.Code)
	require.EqualValues(t, 12, gotInfo.SubCode)
	require.Equal(t, "downstream timeout", gotInfo.Message)
	require.Equal(t, int64(1700000100), ts)
}
