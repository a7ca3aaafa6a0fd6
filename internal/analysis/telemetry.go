package analysis

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprite-ai/mutacheck/internal/model"
)

var (
	tracer = otel.Tracer("mutacheck.analysis")
	meter  = otel.Meter("mutacheck.analysis")
)

var (
	analysisDuration metric.Float64Histogram
	analysesTotal    metric.Int64Counter
	checkerFaults    metric.Int64Counter
	cyclesTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisDuration, err = meter.Float64Histogram(
			"mutability_analysis_duration_seconds",
			metric.WithDescription("Duration of single-class analyses, including recursion into field types"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysesTotal, err = meter.Int64Counter(
			"mutability_analyses_total",
			metric.WithDescription("Classes analyzed, by verdict"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkerFaults, err = meter.Int64Counter(
			"mutability_checker_faults_total",
			metric.WithDescription("Checkers that failed and were isolated"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cyclesTotal, err = meter.Int64Counter(
			"mutability_analysis_cycles_total",
			metric.WithDescription("Reference cycles broken with a provisional verdict"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAnalysis(ctx context.Context, r Result, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("verdict", r.Verdict.String()),
		attribute.Bool("failed", r.HasCode(model.CodeAnalysisFailed)),
	)
	analysisDuration.Record(ctx, duration.Seconds(), attrs)
	analysesTotal.Add(ctx, 1, attrs)
}

func recordCheckerFault(ctx context.Context, checker string) {
	if err := initMetrics(); err != nil {
		return
	}
	checkerFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("checker", checker)))
}

func recordCycle(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cyclesTotal.Add(ctx, 1)
}

// startAnalysisSpan creates a span for one class analysis. The caller must
// end it.
func startAnalysisSpan(ctx context.Context, sessionID, class string, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session.analyze",
		trace.WithAttributes(
			attribute.String("mutability.session_id", sessionID),
			attribute.String("mutability.class", class),
			attribute.Int("mutability.depth", depth),
		),
	)
}

func setAnalysisSpanResult(span trace.Span, r Result) {
	span.SetAttributes(
		attribute.String("mutability.verdict", r.Verdict.String()),
		attribute.Int("mutability.reason_count", len(r.Reasons)),
	)
	if r.HasCode(model.CodeAnalysisFailed) {
		span.SetStatus(codes.Error, "class model unavailable")
	}
}
