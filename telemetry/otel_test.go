package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStdoutProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(Config{ServiceName: "synaxis-test", UseStdout: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestProviderSpans(t *testing.T) {
	p := newStdoutProvider(t)

	ctx, span := p.StartSpan(context.Background(), "coordinator.run")
	require.NotNil(t, span)
	assert.NotNil(t, ctx)

	span.SetAttribute("run_id", "abc-123")
	span.SetAttribute("task_count", 3)
	span.SetAttribute("elapsed_ms", 41.5)
	span.SetAttribute("degraded", false)
	span.SetAttribute("anything", struct{ X int }{X: 1})
	span.RecordError(errors.New("task failed"))
	span.End()
}

func TestProviderNestedSpans(t *testing.T) {
	p := newStdoutProvider(t)

	ctx, parent := p.StartSpan(context.Background(), "coordinator.run")
	_, child := p.StartSpan(ctx, "task.sentiment")
	child.End()
	parent.End()
}

func TestProviderMetrics(t *testing.T) {
	p := newStdoutProvider(t)

	// Counter and histogram paths; neither may panic or block
	p.RecordMetric("synaxis.task.completed", 1, map[string]string{"task": "sentiment", "status": "success"})
	p.RecordMetric("synaxis.task.completed", 1, map[string]string{"task": "entities", "status": "failed"})
	p.RecordMetric("synaxis.task.duration_ms", 41.5, map[string]string{"task": "sentiment"})
	p.RecordMetric("synaxis.run.duration_ms", 103.2, nil)

	// Instruments are cached per name across calls
	p.RecordMetric("synaxis.task.duration_ms", 12.0, map[string]string{"task": "topics"})
}

func TestProviderDefaultServiceName(t *testing.T) {
	p, err := NewProvider(Config{UseStdout: true})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Shutdown(context.Background()))
}
