package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/investment-research/research/harness/ports"
)

type spanKey struct{}

// span is the active span carried in a context.
type span struct {
	log   zerolog.Logger
	start time.Time
}

// ZerologTracer writes spans and events as debug log lines. A span that ends
// with an error is logged at warn level since pipeline errors degrade rather
// than abort a run.
type ZerologTracer struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewZerologTracer returns a tracer writing to logger.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger, now: time.Now}
}

func (t *ZerologTracer) current(ctx context.Context) (span, bool) {
	s, ok := ctx.Value(spanKey{}).(span)
	return s, ok
}

// StartSpan opens a span named name. Spans opened under another span carry
// the parent's fields.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	base := t.logger
	if parent, ok := t.current(ctx); ok {
		base = parent.log
	}

	s := span{
		log:   base.With().Str("span", name).Fields(attrs).Logger(),
		start: t.now(),
	}
	s.log.Debug().Str("event", "span_start").Send()

	return context.WithValue(ctx, spanKey{}, s), func(err error) {
		ev := s.log.Debug()
		if err != nil {
			ev = s.log.Warn().Err(err)
		}
		ev.Str("event", "span_end").Dur("elapsed", t.now().Sub(s.start)).Send()
	}
}

// Event logs name with attrs under the active span, if any.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	log := t.logger
	if s, ok := t.current(ctx); ok {
		log = s.log
	}
	log.Debug().Fields(attrs).Str("event", name).Send()
}

var _ ports.Tracer = (*ZerologTracer)(nil)
