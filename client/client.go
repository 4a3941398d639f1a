// Package client implements the orchestrator that ties every other
// component together into one user-facing query: consult the cache layers,
// fall back to the network through the connection pool and transport,
// decode and validate the response, write it back to cache, and surface a
// structured result or error — following the glue shape of the teacher's
// network listener component, generalized to the protocol's request/
// response/cache lifecycle (spec §4.K).
package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/U22-2025/WIP-sub001/auth"
	"github.com/U22-2025/WIP-sub001/bitio"
	"github.com/U22-2025/WIP-sub001/cache/disk"
	"github.com/U22-2025/WIP-sub001/cache/memory"
	"github.com/U22-2025/WIP-sub001/fieldspec"
	"github.com/U22-2025/WIP-sub001/idgen"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
	"github.com/U22-2025/WIP-sub001/internal/wiplog"
	"github.com/U22-2025/WIP-sub001/packet"
	"github.com/U22-2025/WIP-sub001/pool"
	"github.com/U22-2025/WIP-sub001/transport"
)

// Role identifies which of the protocol's four endpoint roles a Request
// targets. Each role has its own default UDP port (spec §6).
type Role int

const (
	RoleWeather Role = iota
	RoleLocation
	RoleQuery
	RoleReport
)

func (r Role) String() string {
	switch r {
	case RoleWeather:
		return "weather"
	case RoleLocation:
		return "location"
	case RoleQuery:
		return "query"
	case RoleReport:
		return "report"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Default UDP ports per role, spec §6.
const (
	DefaultWeatherPort  = 4110
	DefaultLocationPort = 4109
	DefaultQueryPort    = 4111
	DefaultReportPort   = 4112
)

func requestTypeFor(role Role) packet.PacketType {
	switch role {
	case RoleLocation:
		return packet.CoordReq
	case RoleReport:
		return packet.ReportReq
	case RoleQuery:
		return packet.QueryReq
	default:
		return packet.WeatherReq
	}
}

// Mode selects how a Request identifies the place it is asking about.
type Mode int

const (
	ByAreaCode Mode = iota
	ByCoordinate
)

// Request is one typed user query, by area code or by coordinate.
type Request struct {
	Role Role
	Mode Mode

	AreaCode  uint32
	Latitude  float32
	Longitude float32

	Day   uint8
	Flags packet.Flags

	RequestAuth  bool
	ResponseAuth bool
	CacheOnly    bool // demand a cached result; miss surfaces not_found rather than querying the network
}

func (r *Request) normalize() error {
	if r.Day > 7 {
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("day %d exceeds the 0-7 range", r.Day))
	}
	switch r.Mode {
	case ByAreaCode:
		if r.AreaCode > 999999 {
			return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("area_code %d exceeds the six-digit range", r.AreaCode))
		}
	case ByCoordinate:
		if r.Latitude < -90 || r.Latitude > 90 {
			return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("latitude %f out of range", r.Latitude))
		}
		if r.Longitude < -180 || r.Longitude > 180 {
			return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("longitude %f out of range", r.Longitude))
		}
	default:
		return wiperr.Wrap(wiperr.InvalidField, fmt.Errorf("unknown request mode %d", r.Mode))
	}
	return nil
}

func (r Request) cacheKey() string {
	switch r.Mode {
	case ByCoordinate:
		return fmt.Sprintf("%s:coord:%.4f,%.4f:day%d:flags%d", r.Role, r.Latitude, r.Longitude, r.Day, r.Flags)
	default:
		return fmt.Sprintf("%s:area:%06d:day%d:flags%d", r.Role, r.AreaCode, r.Day, r.Flags)
	}
}

// Result is one decoded, non-error response, plus the trace ID that
// correlates it with this query's log lines.
type Result struct {
	AreaCode  uint32
	PacketID  uint16
	Timestamp int64
	Type      packet.PacketType

	HasWeather         bool
	WeatherCode        uint16
	TemperatureCelsius int
	PrecipitationProb  uint8

	Extended []packet.ExtendedField
	Warnings []string
	Debug    string
}

// ServerError is a decoded ErrorResp packet surfaced to the caller.
type ServerError struct {
	Code       uint16
	Severity   uint8
	SubCode    uint16
	HasSubCode bool
	Message    string
	Debug      string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d (severity %d): %s", e.Code, e.Severity, e.Message)
	}
	return fmt.Sprintf("server error %d (severity %d)", e.Code, e.Severity)
}

// Endpoint is a (host, port) pair for one protocol role.
type Endpoint struct {
	Host string
	Port int
}

// Config configures a Client. Zero-valued ports and timing fields fall back
// to the spec defaults.
type Config struct {
	Weather  Endpoint
	Location Endpoint
	Query    Endpoint
	Report   Endpoint

	Passphrase string

	RetryCount     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Timeout        time.Duration

	MemCacheTTL  time.Duration
	DiskCacheTTL time.Duration
}

const (
	DefaultRetryCount     = 3
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Weather.Port == 0 {
		c.Weather.Port = DefaultWeatherPort
	}
	if c.Location.Port == 0 {
		c.Location.Port = DefaultLocationPort
	}
	if c.Query.Port == 0 {
		c.Query.Port = DefaultQueryPort
	}
	if c.Report.Port == 0 {
		c.Report.Port = DefaultReportPort
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Timeout <= 0 {
		c.Timeout = transport.DefaultTimeout
	}
	if c.MemCacheTTL <= 0 {
		c.MemCacheTTL = memory.DefaultTTL
	}
	if c.DiskCacheTTL <= 0 {
		c.DiskCacheTTL = disk.DefaultTTL
	}
}

func (c *Config) endpointFor(role Role) Endpoint {
	switch role {
	case RoleLocation:
		return c.Location
	case RoleQuery:
		return c.Query
	case RoleReport:
		return c.Report
	default:
		return c.Weather
	}
}

// Client is the orchestrator glueing the pool, transport, codec, auth and
// cache layers into one Query call.
type Client struct {
	cfg       Config
	pool      *pool.Pool
	transport *transport.Transport
	ids       *idgen.Generator
	registry  *fieldspec.Registry
	mem       *memory.Cache[[]byte]
	disk      *disk.Cache
}

// New constructs a Client. p must already be constructed (shared across
// however many Clients the caller wants); diskCache may be nil to disable
// the persistent layer.
func New(cfg Config, registry *fieldspec.Registry, p *pool.Pool, diskCache *disk.Cache) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		pool:      p,
		transport: transport.New(),
		ids:       idgen.NewGenerator(),
		registry:  registry,
		mem:       memory.NewLRU[[]byte](memory.DefaultMaxSize, cfg.MemCacheTTL),
		disk:      diskCache,
	}
}

// Start begins the in-memory cache's background expiry sweep. The pool's
// and persistent cache's own maintenance loops are started independently by
// whoever constructed them, since a Client does not own their lifecycle.
func (c *Client) Start(ctx context.Context) {
	c.mem.StartCleanup(ctx, memory.DefaultCleanupInterval)
}

// Close stops the in-memory cache's background sweep.
func (c *Client) Close() {
	c.mem.Close()
}

// Query resolves req, preferring a cached result over the network.
func (c *Client) Query(ctx context.Context, req Request) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	traceID := uuid.NewString()
	key := req.cacheKey()

	if raw, ok := c.mem.Get(key); ok {
		return c.decode(raw, traceID)
	}
	if c.disk != nil {
		if raw, ok, err := c.disk.Get(key); err == nil && ok {
			c.mem.PutTTL(key, raw, c.cfg.MemCacheTTL)
			return c.decode(raw, traceID)
		}
	}
	if req.CacheOnly {
		return nil, wiperr.New(wiperr.NotFound).WithDebug(traceID)
	}

	endpoint := c.cfg.endpointFor(req.Role)
	backoff := c.cfg.BackoffInitial
	var lastErr error

	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		result, raw, err := c.attempt(ctx, req, endpoint, traceID)
		if err == nil {
			c.mem.PutTTL(key, raw, c.cfg.MemCacheTTL)
			if c.disk != nil {
				if perr := c.disk.PutTTL(key, raw, c.cfg.DiskCacheTTL); perr != nil {
					wiplog.Logf("client: writing through to disk cache failed: %v", perr)
				}
			}
			return result, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.cfg.RetryCount {
			return nil, err
		}

		wiplog.Logf("client: query %s attempt %d failed (%v), retrying in %v", traceID, attempt+1, err, backoff)
		select {
		case <-ctx.Done():
			return nil, wiperr.Wrap(wiperr.Timeout, ctx.Err()).WithDebug(traceID)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	return wiperr.Is(err, wiperr.Timeout) || wiperr.Is(err, wiperr.IOError)
}

// attempt performs exactly one acquire/send/decode cycle, with no retry of
// its own.
func (c *Client) attempt(ctx context.Context, req Request, endpoint Endpoint, traceID string) (*Result, []byte, error) {
	rec, err := c.pool.Acquire(ctx, endpoint.Host, endpoint.Port)
	if err != nil {
		return nil, nil, err
	}

	reqBytes, id, timestamp, err := c.buildRequest(req)
	if err != nil {
		c.pool.Release(rec)
		return nil, nil, err
	}

	respBytes, err := c.transport.Send(ctx, rec.Conn, reqBytes, id, c.cfg.Timeout)
	if err != nil {
		if wiperr.Is(err, wiperr.InvalidPacket) {
			c.pool.Invalidate(endpoint.Host, endpoint.Port, rec)
		} else {
			c.pool.Release(rec)
		}
		return nil, nil, err
	}

	result, err := c.decode(respBytes, traceID)
	if err != nil {
		c.pool.Invalidate(endpoint.Host, endpoint.Port, rec)
		return nil, nil, err
	}
	if result.Timestamp == 0 {
		result.Timestamp = timestamp
	}

	if req.ResponseAuth {
		if err := c.verifyResponseAuth(result); err != nil {
			c.pool.Invalidate(endpoint.Host, endpoint.Port, rec)
			return nil, nil, err
		}
	}

	c.pool.Release(rec)
	return result, respBytes, nil
}

func (c *Client) buildRequest(req Request) ([]byte, uint16, int64, error) {
	spec := c.registry.Current()
	id := c.ids.Next()
	timestamp := time.Now().Unix()

	header := packet.Header{
		Version:   packet.ProtocolVersion,
		PacketID:  id,
		Type:      requestTypeFor(req.Role),
		Flags:     req.Flags,
		Day:       req.Day,
		Timestamp: timestamp,
		AreaCode:  req.AreaCode,
	}
	if req.RequestAuth {
		header.Flags |= packet.FlagRequestAuth
	}
	if req.ResponseAuth {
		header.Flags |= packet.FlagResponseAuth
	}

	builder := packet.NewBuilder(header, nil, spec.Extended)

	if req.Mode == ByCoordinate {
		coordSpec, ok := spec.Extended.ByName("coordinate")
		if !ok {
			return nil, 0, 0, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("extended field table has no %q entry", "coordinate"))
		}
		builder.AddExtended(packet.ExtendedField{
			Key:  coordSpec.Key,
			Type: fieldspec.TypeCoordinate,
			Coordinate: packet.Coordinate{
				Latitude:  req.Latitude,
				Longitude: req.Longitude,
			},
		})
	}

	if req.RequestAuth {
		authSpec, ok := spec.Extended.ByName("auth_hash")
		if !ok {
			return nil, 0, 0, wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("extended field table has no %q entry", "auth_hash"))
		}
		hashHex := auth.AuthHash(id, timestamp, c.cfg.Passphrase)
		hashBytes, err := hex.DecodeString(hashHex)
		if err != nil {
			return nil, 0, 0, wiperr.Wrap(wiperr.AuthFailed, err)
		}
		builder.AddExtended(packet.ExtendedField{Key: authSpec.Key, Type: fieldspec.TypeBinary, Binary: hashBytes})
	}

	buf, err := builder.Build()
	if err != nil {
		return nil, 0, 0, err
	}
	return buf, id, timestamp, nil
}

// typeOffset/typeLength mirror the header's
// authoritative bit layout (spec §3), extracted directly here (as transport
// does) to classify a response before committing to the full fixed-header
// decode path.
const (
	typeOffset = 16
	typeLength = 3
)

func (c *Client) decode(data []byte, traceID string) (*Result, error) {
	if len(data) < packet.HeaderSize {
		return nil, wiperr.New(wiperr.InvalidPacket).WithDebug(traceID)
	}
	if packet.PacketType(bitio.ExtractBits(data, typeOffset, typeLength)) == packet.ErrorResp {
		header, info, warnings, err := packet.DecodeError(data)
		if err != nil {
			return nil, err
		}
		_ = warnings
		_ = header
		return nil, &ServerError{
			Code:       info.Code,
			Severity:   info.Severity,
			SubCode:    info.SubCode,
			HasSubCode: info.HasSubCode,
			Message:    info.Message,
			Debug:      traceID,
		}
	}

	spec := c.registry.Current()
	p, err := packet.Parse(data, spec.Response, spec.Extended)
	if err != nil {
		return nil, err
	}

	result := &Result{
		AreaCode:  p.Header.AreaCode,
		PacketID:  p.Header.PacketID,
		Timestamp: p.Header.Timestamp,
		Type:      p.Header.Type,
		Extended:  p.Extended,
		Warnings:  p.Warnings,
		Debug:     traceID,
	}
	if wc, ok := p.WeatherCode(); ok {
		result.HasWeather = true
		result.WeatherCode = wc
	}
	if t, ok := p.TemperatureCelsius(); ok {
		result.TemperatureCelsius = t
	}
	if pr, ok := p.PrecipitationProb(); ok {
		result.PrecipitationProb = pr
	}
	return result, nil
}

func (c *Client) verifyResponseAuth(result *Result) error {
	spec := c.registry.Current()
	authSpec, ok := spec.Extended.ByName("auth_hash")
	if !ok {
		return wiperr.Wrap(wiperr.ConfigError, fmt.Errorf("extended field table has no %q entry", "auth_hash"))
	}
	for _, f := range result.Extended {
		if f.Key != authSpec.Key {
			continue
		}
		gotHex := hex.EncodeToString(f.Binary)
		if !auth.VerifyAuthHash(result.PacketID, result.Timestamp, c.cfg.Passphrase, gotHex) {
			return wiperr.New(wiperr.AuthFailed).WithDebug(result.Debug)
		}
		return nil
	}
	return wiperr.New(wiperr.AuthFailed).WithDebug(result.Debug)
}
