// Package pool implements the per-(host,port) UDP connection pool: record
// lifecycle and quality tracking follow the 50ms poll-loop acquire pattern
// of the original C++ connection pool, with Acquire polling in 50ms slices
// until the caller's context ends; connection identity uses short IDs the
// way the rest of
// the example corpus's worker/session identifiers do.
package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/U22-2025/WIP-sub001/internal/metrics"
	"github.com/U22-2025/WIP-sub001/internal/wiperr"
	"github.com/U22-2025/WIP-sub001/internal/wiplog"
)

// State is a connection record's lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
	Timeout
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	case Timeout:
		return "timeout"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults for pool tuning, per spec.
const (
	DefaultCapacity      = 100
	DefaultMaxIdleTime   = 5 * time.Minute
	DefaultMaxErrorCount = 5
	DefaultQualityFloor  = 0.3
	pollInterval         = 50 * time.Millisecond
)

// Record is one tracked connection.
type Record struct {
	ID           string
	Conn         *net.UDPConn
	State        State
	Created      time.Time
	LastUsed     time.Time
	LastActivity time.Time
	UseCount     int
	ErrorCount   int
	InUse        bool
	Quality      float64
}

// key identifies one pool bucket.
type key struct {
	host string
	port int
}

// Pool is a collection of per-(host,port) connection buckets.
type Pool struct {
	mu            sync.Mutex
	cond          *sync.Cond
	buckets       map[key][]*Record
	capacity      int
	maxIdleTime   time.Duration
	maxErrorCount int
	qualityFloor  float64
	registerer    prometheus.Registerer
	metrics       map[key]*metrics.Pool
}

// Options configures a Pool; zero values fall back to the spec defaults.
type Options struct {
	Capacity      int
	MaxIdleTime   time.Duration
	MaxErrorCount int
	QualityFloor  float64
}

// New constructs a Pool. Call StartMaintenance to begin background pruning.
func New(opts Options) *Pool {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxIdleTime <= 0 {
		opts.MaxIdleTime = DefaultMaxIdleTime
	}
	if opts.MaxErrorCount <= 0 {
		opts.MaxErrorCount = DefaultMaxErrorCount
	}
	if opts.QualityFloor <= 0 {
		opts.QualityFloor = DefaultQualityFloor
	}

	p := &Pool{
		buckets:       map[key][]*Record{},
		capacity:      opts.Capacity,
		maxIdleTime:   opts.MaxIdleTime,
		maxErrorCount: opts.MaxErrorCount,
		qualityFloor:  opts.QualityFloor,
		metrics:       map[key]*metrics.Pool{},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// WithRegisterer enables Prometheus metrics: every bucket first touched
// after this call registers its own labeled collector set with reg.
func (p *Pool) WithRegisterer(reg prometheus.Registerer) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerer = reg
	return p
}

// metricsFor lazily creates and registers a bucket's collector set. Callers
// must hold p.mu.
func (p *Pool) metricsFor(k key) *metrics.Pool {
	if p.registerer == nil {
		return nil
	}
	m, ok := p.metrics[k]
	if !ok {
		m = metrics.NewPool(fmt.Sprintf("%s:%d", k.host, k.port))
		m.MustRegister(p.registerer)
		p.metrics[k] = m
	}
	return m
}

// Acquire returns an idle Connected record for (host, port), dialing a new
// UDP socket if capacity allows, or blocking until one frees up or ctx is
// done / deadline elapses.
func (p *Pool) Acquire(ctx context.Context, host string, port int) (*Record, error) {
	k := key{host, port}
	waited := false

	for {
		p.mu.Lock()
		for _, rec := range p.buckets[k] {
			if rec.State == Connected && !rec.InUse {
				rec.InUse = true
				rec.LastUsed = time.Now()
				rec.UseCount++
				p.mu.Unlock()
				return rec, nil
			}
		}

		if len(p.buckets[k]) < p.capacity {
			p.mu.Unlock()
			rec, err := p.dial(host, port)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			rec.InUse = true
			rec.UseCount++
			p.buckets[k] = append(p.buckets[k], rec)
			p.mu.Unlock()
			return rec, nil
		}
		if !waited {
			waited = true
			if m := p.metricsFor(k); m != nil {
				m.AcquireWaits.Inc()
			}
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, wiperr.Wrap(wiperr.Timeout, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (p *Pool) dial(host string, port int) (*Record, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, wiperr.Wrap(wiperr.IOError, fmt.Errorf("dialing %s:%d: %w", host, port, err))
	}
	now := time.Now()
	return &Record{
		ID:           xid.New().String(),
		Conn:         conn,
		State:        Connected,
		Created:      now,
		LastUsed:     now,
		LastActivity: now,
		Quality:      1.0,
	}, nil
}

// Release returns rec to the idle pool.
func (p *Pool) Release(rec *Record) {
	p.mu.Lock()
	rec.InUse = false
	rec.LastUsed = time.Now()
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Invalidate closes rec's socket, marks it Error, and removes it from its
// bucket.
func (p *Pool) Invalidate(host string, port int, rec *Record) {
	p.mu.Lock()
	rec.State = Error
	rec.ErrorCount++
	k := key{host, port}
	records := p.buckets[k]
	for i, r := range records {
		if r == rec {
			p.buckets[k] = append(records[:i], records[i+1:]...)
			break
		}
	}
	if m := p.metricsFor(k); m != nil {
		m.Errors.Inc()
	}
	p.mu.Unlock()

	if rec.Conn != nil {
		_ = rec.Conn.Close()
	}
	p.cond.Broadcast()
}

// UpdateQuality adjusts rec's quality score, clamped to [0,1].
func (p *Pool) UpdateQuality(rec *Record, delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec.Quality += delta
	if rec.Quality < 0 {
		rec.Quality = 0
	}
	if rec.Quality > 1 {
		rec.Quality = 1
	}
	rec.LastActivity = time.Now()
}

// Warmup pre-dials n connections for (host, port), up to capacity.
func (p *Pool) Warmup(host string, port int, n int) error {
	k := key{host, port}
	for i := 0; i < n; i++ {
		p.mu.Lock()
		full := len(p.buckets[k]) >= p.capacity
		p.mu.Unlock()
		if full {
			break
		}
		rec, err := p.dial(host, port)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.buckets[k] = append(p.buckets[k], rec)
		p.mu.Unlock()
	}
	return nil
}

// Stats is a point-in-time snapshot of one bucket's health.
type Stats struct {
	Total          int
	InUse          int
	AverageQuality float64
}

// StatsFor returns a snapshot for (host, port), also refreshing that
// bucket's Prometheus gauges when metrics are enabled.
func (p *Pool) StatsFor(host string, port int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key{host, port}
	records := p.buckets[k]
	var s Stats
	var qualitySum float64
	for _, r := range records {
		s.Total++
		if r.InUse {
			s.InUse++
		}
		qualitySum += r.Quality
	}
	if s.Total > 0 {
		s.AverageQuality = qualitySum / float64(s.Total)
	}

	if m := p.metricsFor(k); m != nil {
		m.ConnectionsTotal.Set(float64(s.Total))
		m.ConnectionsInUse.Set(float64(s.InUse))
		m.AverageQuality.Set(s.AverageQuality)
	}
	return s
}

// Maintain runs one pass of idle/error pruning across every bucket. It is
// meant to be called periodically by StartMaintenance, but is exported
// directly so callers (and tests) can drive it deterministically.
func (p *Pool) Maintain() {
	now := time.Now()
	p.mu.Lock()
	for k, records := range p.buckets {
		var kept []*Record
		for _, rec := range records {
			idleTooLong := !rec.InUse && now.Sub(rec.LastUsed) > p.maxIdleTime
			tooManyErrors := rec.ErrorCount > p.maxErrorCount
			lowQuality := rec.Quality < p.qualityFloor && !rec.InUse
			if idleTooLong || tooManyErrors || lowQuality {
				if rec.Conn != nil {
					_ = rec.Conn.Close()
				}
				rec.State = Closed
				wiplog.Logf("pool: pruning connection %s for %s (idle=%v errors=%v lowQuality=%v)", rec.ID, k.host, idleTooLong, tooManyErrors, lowQuality)
				continue
			}
			kept = append(kept, rec)
		}
		p.buckets[k] = kept
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// StartMaintenance runs Maintain every interval until ctx is done.
func (p *Pool) StartMaintenance(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Maintain()
			}
		}
	}()
}

// Close closes every tracked connection across every bucket.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, records := range p.buckets {
		for _, rec := range records {
			if rec.Conn != nil {
				_ = rec.Conn.Close()
			}
			rec.State = Closed
		}
		p.buckets[k] = nil
	}
	p.cond.Broadcast()
}
