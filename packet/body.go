package packet

import (
	"fmt"

	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/fieldspec"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// Field names carried by the fixed weather response body. Their bit offsets
// and lengths come from a fieldspec.FieldTable rather than being hard-coded
// here, so the body layout stays data-driven per packet role (spec §6).
const (
	FieldWeatherCode         = "weather_code"
	FieldTemperature         = "temperature"
	FieldPrecipitationProb   = "precipitation_prob"
	temperatureBias          = 100
	maxPrecipitationProb     = 100
)

// Body holds the decoded fixed response body fields, keyed by name.
type Body struct {
	WeatherCode        uint16
	TemperatureCelsius int
	PrecipitationProb  uint8
}

// encodeBody writes a Body into buf at buf[HeaderSize:HeaderSize+FixedBodySize]
// using table to locate each named field's bit offset within the body.
func encodeBody(buf []byte, table *fieldspec.FieldTable, b Body) error {
	if table == nil {
		return wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("no body field table supplied for a weather/report response"))
	}
	if b.PrecipitationProb > maxPrecipitationProb {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("precipitation_prob %d exceeds %d", b.PrecipitationProb, maxPrecipitationProb))
	}

	body := buf[HeaderSize : HeaderSize+FixedBodySize]

	wf, ok := table.Field(FieldWeatherCode)
	if !ok {
		return wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldWeatherCode))
	}
	bitio.InsertBits(body, wf.Offset, wf.Length, uint64(b.WeatherCode))

	tf, ok := table.Field(FieldTemperature)
	if !ok {
		return wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldTemperature))
	}
	raw := b.TemperatureCelsius + temperatureBias
	if raw < 0 || raw > (1<<tf.Length)-1 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("temperature %d out of representable range", b.TemperatureCelsius))
	}
	bitio.InsertBits(body, tf.Offset, tf.Length, uint64(raw))

	pf, ok := table.Field(FieldPrecipitationProb)
	if !ok {
		return wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldPrecipitationProb))
	}
	bitio.InsertBits(body, pf.Offset, pf.Length, uint64(b.PrecipitationProb))

	return nil
}

// decodeBody reads a Body from buf[HeaderSize:HeaderSize+FixedBodySize]
// using table to locate each named field.
func decodeBody(buf []byte, table *fieldspec.FieldTable) (Body, error) {
	if table == nil {
		return Body{}, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("no body field table supplied for a weather/report response"))
	}
	if len(buf) < HeaderSize+FixedBodySize {
		return Body{}, wiperr.New(wiperr.InvalidPacket)
	}
	body := buf[HeaderSize : HeaderSize+FixedBodySize]

	wf, ok := table.Field(FieldWeatherCode)
	if !ok {
		return Body{}, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldWeatherCode))
	}
	tf, ok := table.Field(FieldTemperature)
	if !ok {
		return Body{}, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldTemperature))
	}
	pf, ok := table.Field(FieldPrecipitationProb)
	if !ok {
		return Body{}, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("body field table is missing %q", FieldPrecipitationProb))
	}

	precip := uint8(bitio.ExtractBits(body, pf.Offset, pf.Length))
	if precip > maxPrecipitationProb {
		return Body{}, wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("precipitation_prob %d exceeds %d", precip, maxPrecipitationProb))
	}

	return Body{
		WeatherCode:        uint16(bitio.ExtractBits(body, wf.Offset, wf.Length)),
		TemperatureCelsius: int(bitio.ExtractBits(body, tf.Offset, tf.Length)) - temperatureBias,
		PrecipitationProb:  precip,
	}, nil
}
