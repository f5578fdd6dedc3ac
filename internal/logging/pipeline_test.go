package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/gwerrors"
)

// memTransport collects written lines without a queue, for assertions.
type memTransport struct {
	mu    sync.Mutex
	lines []string
}

func (m *memTransport) Name() string { return "mem" }

func (m *memTransport) Write(line []byte, _ *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, string(line))
	return nil
}

func (m *memTransport) Close() error { return nil }

func (m *memTransport) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func testLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		MinimumLevel: "info",
		Sampling:     config.SamplingConfig{DefaultSampleRate: 1},
	}
}

func TestPipeline_RejectsUnknownEvent(t *testing.T) {
	p, err := NewPipeline(testLoggingConfig())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	_, err = p.Publish(Record{Level: LevelInfo, Event: "made_up_event"})
	if gwerrors.CodeOf(err) != "unknown_event" {
		t.Errorf("error = %v, want unknown_event", err)
	}
}

func TestPipeline_RejectsInvalidContext(t *testing.T) {
	p, _ := NewPipeline(testLoggingConfig())
	_, err := p.Publish(Record{Level: LevelInfo, Event: EventSessionStart, ClientIP: "not-an-ip"})
	if gwerrors.CodeOf(err) != "invalid_log_context" {
		t.Errorf("error = %v, want invalid_log_context", err)
	}
}

func TestPipeline_LevelFilter(t *testing.T) {
	mem := &memTransport{}
	p, _ := NewPipeline(testLoggingConfig(), mem)

	res, err := p.Publish(Record{Level: LevelDebug, Event: EventSessionStart, SessionID: "s1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Accepted || res.Reason != "level" {
		t.Errorf("result = %+v, want level drop", res)
	}
	if len(mem.all()) != 0 {
		t.Error("dropped record reached the transport")
	}
	if p.Stats().DroppedByLevel != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestPipeline_SamplingRules(t *testing.T) {
	cfg := testLoggingConfig()
	cfg.Sampling.Rules = []config.SamplingRule{
		{Target: "*", SampleRate: 0},
		{Target: EventAuthFailure, SampleRate: 1},
	}
	mem := &memTransport{}
	p, _ := NewPipeline(cfg, mem)

	// Exact rule beats wildcard: auth_failure always passes.
	res, _ := p.Publish(Record{Level: LevelWarn, Event: EventAuthFailure})
	if !res.Accepted {
		t.Errorf("exact-rule event dropped: %+v", res)
	}
	// Everything else hits the 0-rate wildcard.
	res, _ = p.Publish(Record{Level: LevelInfo, Event: EventSessionStart})
	if res.Accepted || res.Reason != "sampling" {
		t.Errorf("wildcard sampling missed: %+v", res)
	}
	if p.Stats().DroppedBySampling != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestPipeline_SamplingDraw(t *testing.T) {
	cfg := testLoggingConfig()
	cfg.Sampling.DefaultSampleRate = 0.5
	p, _ := NewPipeline(cfg, &memTransport{})

	p.randFloat = func() float64 { return 0.4 }
	if res, _ := p.Publish(Record{Level: LevelInfo, Event: EventSessionStart}); !res.Accepted {
		t.Errorf("draw below rate dropped: %+v", res)
	}
	p.randFloat = func() float64 { return 0.6 }
	if res, _ := p.Publish(Record{Level: LevelInfo, Event: EventSessionStart}); res.Accepted {
		t.Errorf("draw above rate accepted: %+v", res)
	}
}

func TestPipeline_RateLimit(t *testing.T) {
	cfg := testLoggingConfig()
	cfg.RateLimit.Rules = []config.RateLimitRule{
		{Target: EventResize, Limit: 2, IntervalMs: 60000},
	}
	mem := &memTransport{}
	p, _ := NewPipeline(cfg, mem)

	rec := Record{Level: LevelInfo, Event: EventResize, SessionID: "s1"}
	for i := 0; i < 2; i++ {
		if res, _ := p.Publish(rec); !res.Accepted {
			t.Fatalf("publish %d dropped: %+v", i, res)
		}
	}
	res, _ := p.Publish(rec)
	if res.Accepted || res.Reason != "rate_limit" {
		t.Errorf("third publish = %+v, want rate_limit drop", res)
	}
	if p.Stats().DroppedByRateLimit != 1 || p.Stats().Published != 2 {
		t.Errorf("stats = %+v", p.Stats())
	}

	// Unruled events are unaffected.
	if res, _ := p.Publish(Record{Level: LevelInfo, Event: EventSessionStart}); !res.Accepted {
		t.Errorf("unruled event dropped: %+v", res)
	}
}

func TestPipeline_WildcardRateLimitSharesBucket(t *testing.T) {
	cfg := testLoggingConfig()
	cfg.RateLimit.Rules = []config.RateLimitRule{
		{Target: "*", Limit: 1, IntervalMs: 60000},
	}
	p, _ := NewPipeline(cfg, &memTransport{})

	if res, _ := p.Publish(Record{Level: LevelInfo, Event: EventSessionStart}); !res.Accepted {
		t.Fatalf("first publish dropped: %+v", res)
	}
	// A different event draws from the same bucket.
	if res, _ := p.Publish(Record{Level: LevelInfo, Event: EventSessionEnd}); res.Accepted {
		t.Errorf("wildcard bucket not shared: %+v", res)
	}
}

func TestPipeline_TransportReceivesJSONLine(t *testing.T) {
	mem := &memTransport{}
	p, _ := NewPipeline(testLoggingConfig(), mem)

	_, err := p.Publish(Record{
		Level: LevelInfo, Event: EventSSHConnect,
		SessionID: "s1", TargetHost: "db.internal", TargetPort: 22,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	lines := mem.all()
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	for _, want := range []string{`"event":"ssh_connect"`, `"session_id":"s1"`, `"target_host":"db.internal"`, `"target_port":22`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line missing %s: %s", want, lines[0])
		}
	}
}

// ---- stdout transport ----------------------------------------------------

func TestWriterTransport_DrainsAndCloses(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&syncBuffer{buf: &buf}, 8)

	if err := tr.Write([]byte(`{"event":"session_start"}`), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := buf.String(); got != "{\"event\":\"session_start\"}\n" {
		t.Errorf("drained output = %q", got)
	}
	if err := tr.Write([]byte("late"), nil); gwerrors.CodeOf(err) != "transport_closed" {
		t.Errorf("write after close = %v", err)
	}
}

func TestWriterTransport_Backpressure(t *testing.T) {
	// A writer that never returns keeps the queue from draining.
	block := make(chan struct{})
	defer close(block)
	tr := NewWriterTransport(blockingWriter{block}, 1)

	// First write may be picked up by the drain goroutine; keep writing
	// until the queue is full.
	deadline := time.After(2 * time.Second)
	for {
		err := tr.Write([]byte("x"), nil)
		if err == ErrBackpressure {
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		default:
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

type blockingWriter struct{ block chan struct{} }

func (w blockingWriter) Write(p []byte) (int, error) {
	<-w.block
	return len(p), nil
}
