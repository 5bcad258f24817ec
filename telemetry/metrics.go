package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentRegistry lazily creates and caches metric instruments by name,
// so RecordMetric stays a cheap fire-and-forget call for the coordinator.
type instrumentRegistry struct {
	meter metric.Meter

	mu         sync.RWMutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

func newInstrumentRegistry(meter metric.Meter) *instrumentRegistry {
	return &instrumentRegistry{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (r *instrumentRegistry) record(ctx context.Context, name string, value float64, attrs []attribute.KeyValue) {
	if strings.HasSuffix(name, "_ms") {
		h := r.histogram(name)
		if h != nil {
			h.Record(ctx, value, metric.WithAttributes(attrs...))
		}
		return
	}
	c := r.counter(name)
	if c != nil {
		c.Add(ctx, value, metric.WithAttributes(attrs...))
	}
}

func (r *instrumentRegistry) counter(name string) metric.Float64Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	r.counters[name] = c
	return c
}

func (r *instrumentRegistry) histogram(name string) metric.Float64Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h, err := r.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil
	}
	r.histograms[name] = h
	return h
}
