// Package testutil provides fixtures for the client test suite: a sample
// field table for the fixed weather response
// body, a sample extended field table covering every fieldspec.ValueType,
// and a ready-to-use fieldspec.Registry built from both.
package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/fieldspec"
)

// SampleResponseBodyTable returns the fixed weather/report response body
// layout: weather_code(16) + temperature(8) + precipitation_prob(8).
func SampleResponseBodyTable(t *testing.T) *fieldspec.FieldTable {
	t.Helper()
	table, err := fieldspec.Load(strings.NewReader(`{
		"weather_code": 16,
		"temperature": 8,
		"precipitation_prob": 8
	}`))
	require.NoError(t, err)
	return table
}

// SampleExtendedTable returns an extended field table with one entry per
// fieldspec.ValueType, including the "coordinate" and "auth_hash" entries
// the client package requires for coordinate-mode and authenticated
// queries.
func SampleExtendedTable(t *testing.T) *fieldspec.ExtendedFieldTable {
	t.Helper()
	table, err := fieldspec.LoadExtended(strings.NewReader(`{
		"alert_messages": {"id": 1, "type": "string_list"},
		"coordinate": {"id": 2, "type": "coordinate"},
		"source": {"id": 3, "type": "source_info"},
		"raw": {"id": 4, "type": "binary"},
		"confidence": {"id": 5, "type": "float32"},
		"sequence": {"id": 6, "type": "int64"},
		"is_final": {"id": 7, "type": "bool"},
		"metadata": {"id": 8, "type": "json"},
		"auth_hash": {"id": 9, "type": "binary"}
	}`))
	require.NoError(t, err)
	return table
}

// SampleRegistry returns a fieldspec.Registry wired with
// SampleResponseBodyTable and SampleExtendedTable. Request bodies carry no
// fixed fields in the sample protocol, so Request is an empty table.
func SampleRegistry(t *testing.T) *fieldspec.Registry {
	t.Helper()
	emptyRequest, err := fieldspec.Load(strings.NewReader(`{}`))
	require.NoError(t, err)

	return fieldspec.NewRegistry(&fieldspec.Spec{
		Request:  emptyRequest,
		Response: SampleResponseBodyTable(t),
		Extended: SampleExtendedTable(t),
	})
}
