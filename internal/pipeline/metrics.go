package pipeline

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type pipelineMetrics struct {
	dispatched metric.Int64Counter
	duplicates metric.Int64Counter
	fallbacks  metric.Int64Counter
	drained    metric.Int64Counter
	skipped    metric.Int64Counter
}

func newPipelineMetrics() *pipelineMetrics {
	meter := otel.Meter("github.com/kotoba-labs/kotoba-core/internal/pipeline")
	m := &pipelineMetrics{}
	m.dispatched = counter(meter, "kotoba.pipeline.sentences.dispatched",
		"Sentences handed to the refiner")
	m.duplicates = counter(meter, "kotoba.pipeline.sentences.duplicates",
		"Sentences dropped by the recency guard")
	m.fallbacks = counter(meter, "kotoba.pipeline.refinements.fallbacks",
		"Refinements that fell back to the original text")
	m.drained = counter(meter, "kotoba.pipeline.sentences.drained",
		"Sentences drained into the display in order")
	m.skipped = counter(meter, "kotoba.pipeline.sentences.skipped",
		"Stuck sequences skipped by the reassembler")
	return m
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		fallback, _ := noop.Meter{}.Int64Counter(name)
		return fallback
	}
	return c
}
