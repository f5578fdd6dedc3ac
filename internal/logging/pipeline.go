package logging

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

// Transport delivers one formatted record. Write must preserve publication
// order for entries accepted by the pipeline.
type Transport interface {
	Name() string
	Write(line []byte, rec *Record) error
	Close() error
}

// Result reports the outcome of a Publish.
type Result struct {
	Accepted bool
	// Reason is set when the record was dropped: "level", "sampling", or
	// "rate_limit".
	Reason string
}

// Stats are the pipeline drop counters.
type Stats struct {
	Published          int64
	DroppedByLevel     int64
	DroppedBySampling  int64
	DroppedByRateLimit int64
}

// Pipeline is the structured log pipeline. Safe for concurrent use; entries
// for the same transport preserve publication order because Publish holds
// the pipeline lock across transport writes.
type Pipeline struct {
	minLevel   Level
	namespace  string
	sampling   config.SamplingConfig
	transports []Transport

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rules    map[string]config.RateLimitRule
	wildcard *rate.Limiter

	randFloat func() float64

	published          atomic.Int64
	droppedByLevel     atomic.Int64
	droppedBySampling  atomic.Int64
	droppedByRateLimit atomic.Int64
}

// NewPipeline builds a pipeline from config and transports.
func NewPipeline(cfg config.LoggingConfig, transports ...Transport) (*Pipeline, error) {
	minLevel, err := ParseLevel(cfg.MinimumLevel)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		minLevel:   minLevel,
		namespace:  cfg.Namespace,
		sampling:   cfg.Sampling,
		transports: transports,
		limiters:   make(map[string]*rate.Limiter),
		rules:      make(map[string]config.RateLimitRule),
		randFloat:  rand.Float64,
	}
	for _, rule := range cfg.RateLimit.Rules {
		lim := newBucket(rule)
		if rule.Target == "*" {
			p.wildcard = lim
			continue
		}
		p.limiters[rule.Target] = lim
		p.rules[rule.Target] = rule
	}
	return p, nil
}

func newBucket(rule config.RateLimitRule) *rate.Limiter {
	interval := time.Duration(rule.IntervalMs) * time.Millisecond
	perSecond := float64(rule.Limit) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rule.Limit)
}

// Publish runs rec through every pipeline stage. A denied Result means the
// record was filtered; an error means it was malformed or a transport
// failed.
func (p *Pipeline) Publish(rec Record) (Result, error) {
	if !KnownEvent(rec.Event) {
		return Result{}, gwerrors.Newf(gwerrors.KindValidation, "unknown_event",
			"log event %q is not in the catalog", rec.Event)
	}
	if err := rec.ValidateContext(); err != nil {
		return Result{}, err
	}
	if levelRank[rec.Level] < levelRank[p.minLevel] {
		p.droppedByLevel.Add(1)
		return Result{Reason: "level"}, nil
	}
	if !p.sample(rec.Event) {
		p.droppedBySampling.Add(1)
		return Result{Reason: "sampling"}, nil
	}
	if !p.allow(rec.Event) {
		p.droppedByRateLimit.Add(1)
		return Result{Reason: "rate_limit"}, nil
	}

	line, err := rec.Format()
	if err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		if werr := t.Write(line, &rec); werr != nil {
			// Transport failures never propagate to clients; the caller
			// may log them best-effort.
			err = werr
		}
	}
	p.published.Add(1)
	return Result{Accepted: true}, err
}

// sample draws against the effective rate for event: exact rule beats the
// wildcard rule, which beats the default.
func (p *Pipeline) sample(event string) bool {
	sampleRate := p.sampling.DefaultSampleRate
	matched := false
	for _, rule := range p.sampling.Rules {
		if rule.Target == "*" && !matched {
			sampleRate = rule.SampleRate
		}
		if rule.Target == event {
			sampleRate = rule.SampleRate
			matched = true
		}
	}
	if sampleRate >= 1 {
		return true
	}
	if sampleRate <= 0 {
		return false
	}
	return p.randFloat() < sampleRate
}

func (p *Pipeline) allow(event string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[event]
	if !ok {
		lim = p.wildcard
	}
	p.mu.Unlock()
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// Stats returns a snapshot of the drop counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Published:          p.published.Load(),
		DroppedByLevel:     p.droppedByLevel.Load(),
		DroppedBySampling:  p.droppedBySampling.Load(),
		DroppedByRateLimit: p.droppedByRateLimit.Load(),
	}
}

// Close flushes and closes every transport.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, t := range p.transports {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Global pipeline wiring, mirroring the session store pattern: injected at
// startup, accessor for top-level code and tests.

var (
	globalMu sync.RWMutex
	global   *Pipeline
)

// SetGlobal installs the process-wide pipeline.
func SetGlobal(p *Pipeline) {
	globalMu.Lock()
	global = p
	globalMu.Unlock()
}

// GetGlobal returns the installed pipeline, or a no-transport pipeline when
// none was injected.
func GetGlobal() *Pipeline {
	globalMu.RLock()
	p := global
	globalMu.RUnlock()
	if p != nil {
		return p
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global, _ = NewPipeline(config.LoggingConfig{
			MinimumLevel: "info",
			Sampling:     config.SamplingConfig{DefaultSampleRate: 1},
		})
	}
	return global
}

// ResetGlobal clears the global pipeline (tests only).
func ResetGlobal() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}
