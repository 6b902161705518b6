// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Loom spans and metrics. LLM attributes follow the
// standard gen_ai conventions where one exists.
const (
	AttrFlowName      = "loom.flow.name"
	AttrFlowStreaming = "loom.flow.streaming"
	AttrFlowCached    = "loom.flow.cached"

	AttrOpName    = "loom.op.name"
	AttrOpMode    = "loom.op.mode"
	AttrOpAttempt = "loom.op.attempt"

	AttrOffloadMode       = "loom.offload.mode"
	AttrOffloadPreTokens  = "loom.offload.pre_tokens"
	AttrOffloadPostTokens = "loom.offload.post_tokens"
	AttrOffloadCompressed = "loom.offload.compressed"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// FlowAttributes returns the common attributes of a flow call span.
func FlowAttributes(name string, streaming, cached bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFlowName, name),
		attribute.Bool(AttrFlowStreaming, streaming),
		attribute.Bool(AttrFlowCached, cached),
	}
}

// OffloadAttributes returns attributes describing one offload run.
func OffloadAttributes(mode string, preTokens, postTokens int, compressed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOffloadMode, mode),
		attribute.Int(AttrOffloadPreTokens, preTokens),
		attribute.Int(AttrOffloadPostTokens, postTokens),
		attribute.Bool(AttrOffloadCompressed, compressed),
	}
}

// LLMUsageAttributes returns token usage attributes when they are known.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
