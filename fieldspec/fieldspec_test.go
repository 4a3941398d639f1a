package fieldspec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/fieldspec"
)

func TestLoadBareIntegerShorthand(t *testing.T) {
	r := strings.NewReader(`{"version":4,"packet_id":12,"type":3}`)
	table, err := fieldspec.Load(r)
	require.NoError(t, err)

	version, ok := table.Field("version")
	require.True(t, ok)
	require.Equal(t, 0, version.Offset)
	require.Equal(t, 4, version.Length)
	require.Equal(t, "uint", version.Type)

	packetID, ok := table.Field("packet_id")
	require.True(t, ok)
	require.Equal(t, 4, packetID.Offset)
	require.Equal(t, 12, packetID.Length)

	typ, ok := table.Field("type")
	require.True(t, ok)
	require.Equal(t, 16, typ.Offset)
	require.Equal(t, 3, typ.Length)
}

func TestLoadObjectFormWithDefaultAndAdditional(t *testing.T) {
	r := strings.NewReader(`{
		"day": {"length": 3, "type": "uint", "default": 0, "note": "day offset"}
	}`)
	table, err := fieldspec.Load(r)
	require.NoError(t, err)

	day, ok := table.Field("day")
	require.True(t, ok)
	require.Equal(t, 3, day.Length)
	require.NotNil(t, day.Default)
	require.Equal(t, uint64(0), *day.Default)
	require.Contains(t, day.Additional, "note")
}

func TestLoadRejectsOutOfRangeLength(t *testing.T) {
	r := strings.NewReader(`{"bad": 0}`)
	_, err := fieldspec.Load(r)
	require.Error(t, err)

	r2 := strings.NewReader(`{"bad": 65}`)
	_, err = fieldspec.Load(r2)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateField(t *testing.T) {
	// encoding/json rejects duplicate object keys at the token level only
	// via our own check since json.Decoder happily re-emits them; assert
	// our loader still catches it when constructing the table.
	r := strings.NewReader(`{"a": 4, "a": 4}`)
	_, err := fieldspec.Load(r)
	require.Error(t, err)
}

func TestFieldOrderDeterminesBitLayout(t *testing.T) {
	r := strings.NewReader(`{"b": 8, "a": 4, "c": 2}`)
	table, err := fieldspec.Load(r)
	require.NoError(t, err)

	// declared order b,a,c must be preserved even though alphabetically a<b<c
	require.Equal(t, []string{"b", "a", "c"}, fieldNames(table))

	b, _ := table.Field("b")
	a, _ := table.Field("a")
	c, _ := table.Field("c")
	require.Equal(t, 0, b.Offset)
	require.Equal(t, 8, a.Offset)
	require.Equal(t, 12, c.Offset)
}

func fieldNames(t *fieldspec.FieldTable) []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

func TestLoadExtendedValidatesKeyRange(t *testing.T) {
	r := strings.NewReader(`{"alerts": {"id": 64, "type": "string_list"}}`)
	_, err := fieldspec.LoadExtended(r)
	require.Error(t, err)
}

func TestLoadExtendedValidatesCoordinateFormatWidth(t *testing.T) {
	r := strings.NewReader(`{
		"coord": {"id": 5, "type": "coordinate", "format": {"latitude_bits": 40, "longitude_bits": 40}}
	}`)
	_, err := fieldspec.LoadExtended(r)
	require.Error(t, err)
}

func TestLoadExtendedByKeyAndName(t *testing.T) {
	r := strings.NewReader(`{
		"alerts": {"id": 1, "type": "string_list"},
		"coord": {"id": 2, "type": "coordinate"}
	}`)
	table, err := fieldspec.LoadExtended(r)
	require.NoError(t, err)

	byName, ok := table.ByName("alerts")
	require.True(t, ok)
	require.Equal(t, 1, byName.Key)

	byKey, ok := table.ByKey(2)
	require.True(t, ok)
	require.Equal(t, "coord", byKey.Name)
}

func TestLoadExtendedRejectsDuplicateKey(t *testing.T) {
	r := strings.NewReader(`{
		"a": {"id": 1, "type": "bool"},
		"b": {"id": 1, "type": "bool"}
	}`)
	_, err := fieldspec.LoadExtended(r)
	require.Error(t, err)
}

func TestRegistryReloadIsAtomic(t *testing.T) {
	first := &fieldspec.Spec{}
	reg := fieldspec.NewRegistry(first)
	require.Same(t, first, reg.Current())

	second := &fieldspec.Spec{}
	reg.Reload(second)
	require.Same(t, second, reg.Current())
}
