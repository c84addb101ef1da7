package logging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id
// from ctx, if a span is active. Used wherever a log line needs to be
// correlated back to the OTel trace that produced it.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}

// PhaseLogger returns LoggerWithTrace(ctx) tagged with the OODA phase that
// is currently executing (observe/orient/decide/act/gatekeep/bookkeep), so a
// single tick's log lines can be grepped or correlated by phase alongside
// its trace_id/span_id.
func PhaseLogger(ctx context.Context, phase string) *zerolog.Logger {
	l := LoggerWithTrace(ctx).With().Str("ooda_phase", phase).Logger()
	return &l
}

