// Package report fans impression and conversion events out to registered
// analytics collectors. Collectors are independent: one failing or panicking
// never blocks delivery to the others, and running with zero collectors is
// a valid mode.
package report

import (
	"context"

	"go.uber.org/zap"
)

// Event names emitted by the engine.
const (
	EventImpression = "ab_impression"
	EventConversion = "ab_conversion"
	EventFunnel     = "funnel_step"
)

// Collector receives an event name plus a flat property bag. Each call may
// fail independently of other collectors.
type Collector interface {
	Name() string
	Track(ctx context.Context, event string, props map[string]string) error
}

// Dispatcher delivers each event to every collector. The enabled switch
// suppresses all emission while leaving assignment and application intact.
type Dispatcher struct {
	collectors []Collector
	enabled    bool
	log        *zap.Logger
}

func NewDispatcher(enabled bool, log *zap.Logger, collectors ...Collector) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{collectors: collectors, enabled: enabled, log: log}
}

func (d *Dispatcher) Enabled() bool {
	return d.enabled
}

// Track delivers the event to each collector in registration order,
// isolating failures per collector.
func (d *Dispatcher) Track(ctx context.Context, event string, props map[string]string) {
	if !d.enabled {
		return
	}
	for _, c := range d.collectors {
		d.trackOne(ctx, c, event, props)
	}
}

func (d *Dispatcher) trackOne(ctx context.Context, c Collector, event string, props map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("collector panicked",
				zap.String("collector", c.Name()),
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()

	if err := c.Track(ctx, event, props); err != nil {
		d.log.Warn("collector failed",
			zap.String("collector", c.Name()),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
