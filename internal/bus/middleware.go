package bus

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// LoggingMiddleware traces every event at debug level.
func LoggingMiddleware() Middleware {
	return func(ev *Event, next func(*Event) error) error {
		log.Debug().
			Str("event_id", ev.ID).
			Str("category", string(ev.Category)).
			Str("type", ev.Type).
			Str("session_id", ev.SessionID).
			Msg("bus event")
		return next(ev)
	}
}

// MetricsMiddleware counts events per category/type on a Prometheus
// registry.
func MetricsMiddleware(reg prometheus.Registerer) Middleware {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webssh2_bus_events_total",
		Help: "Events published to the internal bus.",
	}, []string{"category", "type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webssh2_bus_events_rejected_total",
		Help: "Events rejected by bus middleware.",
	}, []string{"category", "reason"})
	if reg != nil {
		reg.MustRegister(events, rejected)
	}
	return func(ev *Event, next func(*Event) error) error {
		err := next(ev)
		if err != nil {
			rejected.WithLabelValues(string(ev.Category), gwerrors.CodeOf(err)).Inc()
			return err
		}
		events.WithLabelValues(string(ev.Category), ev.Type).Inc()
		return nil
	}
}

// ErrorHandlingMiddleware converts panics further down the chain into
// errors so one bad middleware cannot take the publisher down.
func ErrorHandlingMiddleware() Middleware {
	return func(ev *Event, next func(*Event) error) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = gwerrors.Newf(gwerrors.KindUnknown, "bus_panic",
					"bus middleware panic: %v", r)
			}
		}()
		return next(ev)
	}
}

// RateLimitMiddleware caps the event throughput with a shared token bucket.
func RateLimitMiddleware(limit int, interval time.Duration) Middleware {
	perSecond := float64(limit) / interval.Seconds()
	lim := rate.NewLimiter(rate.Limit(perSecond), limit)
	return func(ev *Event, next func(*Event) error) error {
		if !lim.Allow() {
			return gwerrors.New(gwerrors.KindValidation, "rate_limit", "bus rate limit exceeded")
		}
		return next(ev)
	}
}

// DedupMiddleware drops events whose (category, type, session, payload)
// hash was seen within the window.
func DedupMiddleware(window time.Duration) Middleware {
	var mu sync.Mutex
	seen := make(map[uint64]time.Time)
	return func(ev *Event, next func(*Event) error) error {
		h := fnv.New64a()
		fmt.Fprintf(h, "%s|%s|%s|%v", ev.Category, ev.Type, ev.SessionID, ev.Payload)
		sum := h.Sum64()

		now := time.Now()
		mu.Lock()
		if at, ok := seen[sum]; ok && now.Sub(at) < window {
			mu.Unlock()
			return gwerrors.New(gwerrors.KindValidation, "duplicate", "duplicate event in window")
		}
		seen[sum] = now
		// Opportunistic cleanup keeps the map bounded.
		if len(seen) > 4096 {
			for k, at := range seen {
				if now.Sub(at) >= window {
					delete(seen, k)
				}
			}
		}
		mu.Unlock()
		return next(ev)
	}
}

// FilterMiddleware drops events rejected by the predicate.
func FilterMiddleware(keep func(Event) bool) Middleware {
	return func(ev *Event, next func(*Event) error) error {
		if !keep(*ev) {
			return gwerrors.New(gwerrors.KindValidation, "filtered", "event filtered")
		}
		return next(ev)
	}
}

// ValidationMiddleware rejects structurally invalid events.
func ValidationMiddleware() Middleware {
	valid := map[Category]bool{
		AuthEvent: true, ConnectionEvent: true, TerminalEvent: true,
		SessionEvent: true, SystemEvent: true, RecordingEvent: true,
	}
	return func(ev *Event, next func(*Event) error) error {
		if !valid[ev.Category] {
			return gwerrors.Newf(gwerrors.KindValidation, "invalid_category",
				"unknown event category %q", ev.Category)
		}
		if ev.Type == "" {
			return gwerrors.New(gwerrors.KindValidation, "invalid_type", "event type must not be empty")
		}
		return next(ev)
	}
}
