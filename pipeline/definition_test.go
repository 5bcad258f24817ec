package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkaramanos/synaxis/core"
)

const newsAnalysisYAML = `
name: news-analysis
stages:
  - name: extract
    order: 1
    required: true
    timeout: 30s
    max_retries: 2
    backoff_base: 200ms
  - name: search
    order: 2
    subscribes: [keywords]
  - name: analyze
    order: 2
    required: true
  - name: summarize
    order: 3
    required: true
    timeout: 45s
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(newsAnalysisYAML))
	require.NoError(t, err)

	assert.Equal(t, "news-analysis", def.Name)
	require.Len(t, def.Stages, 4)

	extract := def.Stages[0]
	assert.Equal(t, "extract", extract.Name)
	assert.Equal(t, 1, extract.Order)
	assert.True(t, extract.Required)
	assert.Equal(t, 30*time.Second, time.Duration(extract.Timeout))
	assert.Equal(t, 2, extract.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, time.Duration(extract.BackoffBase))

	search := def.Stages[1]
	assert.False(t, search.Required)
	assert.Equal(t, []string{"keywords"}, search.Subscribes)
}

func TestParseDefinitionInvalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "missing name",
			yaml:    "stages:\n  - name: a\n",
			wantErr: core.ErrInvalidConfiguration,
		},
		{
			name:    "no stages",
			yaml:    "name: p\n",
			wantErr: core.ErrEmptyTaskSet,
		},
		{
			name:    "duplicate stage",
			yaml:    "name: p\nstages:\n  - name: a\n  - name: a\n",
			wantErr: core.ErrDuplicateTaskName,
		},
		{
			name:    "partial orders",
			yaml:    "name: p\nstages:\n  - name: a\n    order: 1\n  - name: b\n",
			wantErr: core.ErrInvalidConfiguration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tc.yaml))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestParseDefinitionBadDuration(t *testing.T) {
	_, err := ParseDefinition([]byte("name: p\nstages:\n  - name: a\n    timeout: thirty\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thirty")
}

func TestBindProducesRunnablePipeline(t *testing.T) {
	def, err := ParseDefinition([]byte(newsAnalysisYAML))
	require.NoError(t, err)

	noop := func(ctx context.Context, sc *StageContext) (interface{}, error) { return "done", nil }
	p, err := def.Bind(map[string]StageFunc{
		"extract":   noop,
		"search":    noop,
		"analyze":   noop,
		"summarize": noop,
	})
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	executor, err := NewExecutor(p, fastOptions())
	require.NoError(t, err)

	payload, err := executor(context.Background(), "article")
	require.NoError(t, err)
	result := payload.(*Result)
	assert.Len(t, result.Outcomes, 4)
	assert.False(t, result.Degraded)
}

func TestBindMissingFunction(t *testing.T) {
	def, err := ParseDefinition([]byte(newsAnalysisYAML))
	require.NoError(t, err)

	_, err = def.Bind(map[string]StageFunc{
		"extract": func(ctx context.Context, sc *StageContext) (interface{}, error) { return nil, nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "search")
}

func TestBindDefaultsOrdersToDeclaration(t *testing.T) {
	def, err := ParseDefinition([]byte("name: seq\nstages:\n  - name: a\n  - name: b\n  - name: c\n"))
	require.NoError(t, err)

	noop := func(ctx context.Context, sc *StageContext) (interface{}, error) { return nil, nil }
	p, err := def.Bind(map[string]StageFunc{"a": noop, "b": noop, "c": noop})
	require.NoError(t, err)

	// Without explicit orders the pipeline runs fully sequentially
	assert.Equal(t, 1, p.Stages[0].Order)
	assert.Equal(t, 2, p.Stages[1].Order)
	assert.Equal(t, 3, p.Stages[2].Order)
}
