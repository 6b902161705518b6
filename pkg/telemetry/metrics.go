// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks flow throughput and offload effectiveness.
type EngineMetrics struct {
	flowCalls     metric.Int64Counter
	flowErrors    metric.Int64Counter
	flowDuration  metric.Float64Histogram
	tokensDropped metric.Int64Counter
}

// NewEngineMetrics creates the engine instruments on the global meter.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("loom/engine")

	flowCalls, err := meter.Int64Counter(
		"loom.flow.calls",
		metric.WithDescription("Flow invocations by name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	flowErrors, err := meter.Int64Counter(
		"loom.flow.errors",
		metric.WithDescription("Failed flow invocations by name and error code"),
	)
	if err != nil {
		return nil, err
	}

	flowDuration, err := meter.Float64Histogram(
		"loom.flow.duration_ms",
		metric.WithDescription("Flow call duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	tokensDropped, err := meter.Int64Counter(
		"loom.offload.tokens_dropped",
		metric.WithDescription("Tokens removed from working memory by offload runs"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		flowCalls:     flowCalls,
		flowErrors:    flowErrors,
		flowDuration:  flowDuration,
		tokensDropped: tokensDropped,
	}, nil
}

// RecordFlowCall records one flow invocation and its duration.
func (m *EngineMetrics) RecordFlowCall(ctx context.Context, flow string, durationMs float64, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrFlowName, flow),
		attribute.Bool("success", success),
	)
	m.flowCalls.Add(ctx, 1, attrs)
	m.flowDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String(AttrFlowName, flow)))
}

// RecordFlowError records a failed invocation with its error code.
func (m *EngineMetrics) RecordFlowError(ctx context.Context, flow, code string) {
	if m == nil {
		return
	}
	m.flowErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrFlowName, flow),
		attribute.String("error.code", code),
	))
}

// RecordOffload records how many tokens an offload run removed.
func (m *EngineMetrics) RecordOffload(ctx context.Context, mode string, preTokens, postTokens int) {
	if m == nil {
		return
	}
	dropped := preTokens - postTokens
	if dropped < 0 {
		dropped = 0
	}
	m.tokensDropped.Add(ctx, int64(dropped), metric.WithAttributes(
		attribute.String(AttrOffloadMode, mode),
	))
}
