// Package pipeline implements composite analysis tasks: a task whose body
// is itself a short fixed pipeline of ordered or parallel sub-tasks (for
// news analysis: extract → search → analyze → summarize), each dispatched
// through the same coordination primitives as any other task.
//
// Stages in the same order group run in parallel; groups run in ascending
// order. Stages exchange early results over the composite's message bus so
// a downstream stage can react to an upstream output before that output is
// part of any aggregate (e.g. the extract stage broadcasting keywords for
// the search stage to consume).
//
// Failure semantics are static, fixed at pipeline-definition time: an
// optional stage failure degrades the composite result, a required stage
// failure fails the composite — but the partial outcomes and elapsed times
// of the stages that did complete are always reported.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dkaramanos/synaxis/core"
	"github.com/dkaramanos/synaxis/orchestration"
)

// Canonical stage names and message kinds for the news analysis pipeline
const (
	StageExtract   = "extract"
	StageSearch    = "search"
	StageAnalyze   = "analyze"
	StageSummarize = "summarize"

	// KindKeywords is broadcast by the extract stage and consumed by
	// the search stage
	KindKeywords = "keywords"
)

// StageFunc is the body of one pipeline stage
type StageFunc func(ctx context.Context, sc *StageContext) (interface{}, error)

// StageContext gives a stage access to the pipeline input, the message
// bus, and the outcomes of earlier order groups.
type StageContext struct {
	// Input is the composite task's input, opaque to the pipeline
	Input interface{}

	// Bus is the composite's message bus; the stage is already
	// subscribed to the kinds declared on its Stage
	Bus *orchestration.MessageBus

	// Results holds the outcomes of stages from earlier order groups
	Results map[string]core.TaskOutcome
}

// PayloadOf returns the payload of an earlier stage, if it succeeded
func (sc *StageContext) PayloadOf(stage string) (interface{}, bool) {
	outcome, ok := sc.Results[stage]
	if !ok || !outcome.Status.Succeeded() {
		return nil, false
	}
	return outcome.Payload, true
}

// Stage is one step of a composite pipeline
type Stage struct {
	// Name uniquely identifies the stage within the pipeline
	Name string

	// Order groups stages into phases: equal orders run in parallel,
	// lower orders run first
	Order int

	// Required marks a stage whose failure fails the whole composite.
	// Optional stages merely degrade the result.
	Required bool

	// Timeout, MaxRetries and BackoffBase carry the same semantics as
	// core.TaskSpec; zero values use the coordinator's defaults
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration

	// Subscribes lists the message kinds this stage receives; the
	// subscription is registered before any stage starts
	Subscribes []string

	// Run is the stage body
	Run StageFunc
}

// Pipeline is a named, fixed set of stages
type Pipeline struct {
	Name   string
	Stages []Stage
}

// Validate checks structural soundness: a non-empty name, at least one
// stage, unique stage names, bodies present, and positive order values.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return core.NewCoordinationError("pipeline.Validate", "config", core.ErrInvalidConfiguration)
	}
	if len(p.Stages) == 0 {
		return core.NewCoordinationError("pipeline.Validate", "config", core.ErrEmptyTaskSet)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for _, stage := range p.Stages {
		if stage.Name == "" || stage.Run == nil || stage.Order <= 0 {
			return &core.CoordinationError{
				Op:   "pipeline.Validate",
				Kind: "config",
				ID:   stage.Name,
				Err:  core.ErrInvalidConfiguration,
			}
		}
		if _, dup := seen[stage.Name]; dup {
			return &core.CoordinationError{
				Op:   "pipeline.Validate",
				Kind: "config",
				ID:   stage.Name,
				Err:  core.ErrDuplicateTaskName,
			}
		}
		seen[stage.Name] = struct{}{}
	}
	return nil
}

// NewsAnalysis builds the canonical four-stage news pipeline: extract runs
// first and is required; search (optional) and analyze (required) run in
// parallel after it; summarize runs last and is required. The extract
// implementation is expected to broadcast KindKeywords on the bus so
// search can start from them.
func NewsAnalysis(extract, search, analyze, summarize StageFunc) *Pipeline {
	return &Pipeline{
		Name: "news-analysis",
		Stages: []Stage{
			{Name: StageExtract, Order: 1, Required: true, Run: extract},
			{Name: StageSearch, Order: 2, Required: false, Subscribes: []string{KindKeywords}, Run: search},
			{Name: StageAnalyze, Order: 2, Required: true, Run: analyze},
			{Name: StageSummarize, Order: 3, Required: true, Run: summarize},
		},
	}
}

// Options configures a composite executor
type Options struct {
	// Coordinator runs the sub-tasks; when nil a private one is built
	// from CoordinatorConfig
	Coordinator       *orchestration.Coordinator
	CoordinatorConfig *orchestration.CoordinatorConfig

	// Bus is an optional caller-supplied message bus shared across the
	// composite's lifetime. When nil, each execution constructs a
	// short-lived bus and shuts it down on return.
	Bus       *orchestration.MessageBus
	BusConfig *orchestration.BusConfig

	// Cache optionally memoizes string stage payloads so repeated
	// analyses of the same input skip redundant provider calls
	Cache    core.Memory
	CacheTTL time.Duration

	// Logger is optional
	Logger core.Logger
}

// Result is the composite task's synthesized payload: the sub-pipeline's
// aggregate plus the degradation manifest.
type Result struct {
	PipelineName string                      `json:"pipeline_name"`
	ExecutionID  string                      `json:"execution_id"`
	Outcomes     map[string]core.TaskOutcome `json:"outcomes"`
	Elapsed      time.Duration               `json:"elapsed"`

	// Degraded is true when at least one optional stage failed
	Degraded bool `json:"degraded"`

	// FailedStages maps failed stage names to their reasons
	FailedStages map[string]string `json:"failed_stages,omitempty"`
}

// Payload returns the payload of a stage, if it succeeded
func (r *Result) Payload(stage string) (interface{}, bool) {
	outcome, ok := r.Outcomes[stage]
	if !ok || !outcome.Status.Succeeded() {
		return nil, false
	}
	return outcome.Payload, true
}

// FailureError reports a required-stage failure. It still carries the
// partial Result so callers see the elapsed time and outcomes of the
// stages that did complete.
type FailureError struct {
	Result      *Result
	FailedStage string
	Err         error
}

// Error returns the string representation of the error
func (e *FailureError) Error() string {
	return fmt.Sprintf("pipeline %s: required stage %q failed: %v",
		e.Result.PipelineName, e.FailedStage, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *FailureError) Unwrap() error {
	return e.Err
}

// NewExecutor turns a pipeline into an ordinary core.TaskExecutor, so a
// composite task can be scheduled through a coordinator like any other
// task. The pipeline is validated once, up front.
func NewExecutor(p *Pipeline, opts *Options) (core.TaskExecutor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = orchestration.NewCoordinator(opts.CoordinatorConfig)
	}

	// Copy and sort the phase layout once
	phases := groupByOrder(p.Stages)

	return func(ctx context.Context, input interface{}) (interface{}, error) {
		return runPipeline(ctx, p, phases, coordinator, opts, logger, input)
	}, nil
}

func runPipeline(
	ctx context.Context,
	p *Pipeline,
	phases [][]Stage,
	coordinator *orchestration.Coordinator,
	opts *Options,
	logger core.Logger,
	input interface{},
) (interface{}, error) {
	start := time.Now()

	bus := opts.Bus
	ownBus := false
	if bus == nil {
		bus = orchestration.NewMessageBus(opts.BusConfig)
		ownBus = true
		defer bus.Shutdown()
	}

	// Every subscription is registered before any stage starts, so no
	// stage can miss a message published by an earlier-starting sibling.
	for _, stage := range p.Stages {
		if len(stage.Subscribes) == 0 {
			continue
		}
		if err := bus.Subscribe(stage.Name, stage.Subscribes...); err != nil {
			return nil, err
		}
	}

	result := &Result{
		PipelineName: p.Name,
		ExecutionID:  uuid.New().String(),
		Outcomes:     make(map[string]core.TaskOutcome, len(p.Stages)),
		FailedStages: make(map[string]string),
	}

	logger.Info("Starting composite pipeline", map[string]interface{}{
		"pipeline":     p.Name,
		"execution_id": result.ExecutionID,
		"stage_count":  len(p.Stages),
		"own_bus":      ownBus,
	})

	for _, phase := range phases {
		tasks := make([]orchestration.Task, 0, len(phase))
		for _, stage := range phase {
			tasks = append(tasks, orchestration.Task{
				Spec: core.TaskSpec{
					Name:        stage.Name,
					Timeout:     stage.Timeout,
					MaxRetries:  stage.MaxRetries,
					BackoffBase: stage.BackoffBase,
				},
				Execute: stageExecutor(p.Name, stage, bus, opts, snapshotOutcomes(result.Outcomes)),
			})
		}

		agg, err := coordinator.Run(ctx, tasks, input)
		if err != nil {
			// Structural: indicates a bug in pipeline assembly
			return nil, err
		}

		var requiredFailure *core.TaskOutcome
		for _, stage := range phase {
			outcome := agg.Outcomes[stage.Name]
			result.Outcomes[stage.Name] = outcome
			if outcome.Status.Succeeded() {
				continue
			}
			reason := string(outcome.Status)
			if outcome.Error != nil {
				reason = outcome.Error.Error()
			}
			result.FailedStages[stage.Name] = reason
			if stage.Required {
				o := outcome
				requiredFailure = &o
			} else {
				result.Degraded = true
			}
		}

		if requiredFailure != nil {
			result.Elapsed = time.Since(start)
			logger.Error("Composite pipeline failed", map[string]interface{}{
				"pipeline":     p.Name,
				"execution_id": result.ExecutionID,
				"failed_stage": requiredFailure.TaskName,
				"elapsed":      result.Elapsed.String(),
			})
			// Re-running the whole pipeline will not fix an exhausted
			// or rejected stage, so the composite failure is permanent
			return nil, &FailureError{
				Result:      result,
				FailedStage: requiredFailure.TaskName,
				Err:         core.Permanent(requiredFailure.Error),
			}
		}
	}

	result.Elapsed = time.Since(start)
	logger.Info("Composite pipeline completed", map[string]interface{}{
		"pipeline":     p.Name,
		"execution_id": result.ExecutionID,
		"degraded":     result.Degraded,
		"elapsed":      result.Elapsed.String(),
	})
	return result, nil
}

// stageExecutor wraps a stage body as a core.TaskExecutor, adding
// memoization when a cache is configured. Only string payloads are
// memoized; anything else passes through untouched.
func stageExecutor(
	pipelineName string,
	stage Stage,
	bus *orchestration.MessageBus,
	opts *Options,
	results map[string]core.TaskOutcome,
) core.TaskExecutor {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		sc := &StageContext{
			Input:   input,
			Bus:     bus,
			Results: results,
		}

		var cacheKey string
		if opts.Cache != nil {
			cacheKey = memoKey(pipelineName, stage.Name, input)
			if cached, err := opts.Cache.Get(ctx, cacheKey); err == nil && cached != "" {
				return cached, nil
			}
		}

		payload, err := stage.Run(ctx, sc)
		if err != nil {
			return nil, err
		}

		if opts.Cache != nil {
			if s, ok := payload.(string); ok && s != "" {
				_ = opts.Cache.Set(ctx, cacheKey, s, opts.CacheTTL)
			}
		}
		return payload, nil
	}
}

func memoKey(pipelineName, stageName string, input interface{}) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%v", input)
	return fmt.Sprintf("%s:%s:%x", pipelineName, stageName, h.Sum64())
}

func snapshotOutcomes(outcomes map[string]core.TaskOutcome) map[string]core.TaskOutcome {
	snapshot := make(map[string]core.TaskOutcome, len(outcomes))
	for name, outcome := range outcomes {
		snapshot[name] = outcome
	}
	return snapshot
}

func groupByOrder(stages []Stage) [][]Stage {
	groups := make(map[int][]Stage)
	orders := make([]int, 0)
	for _, stage := range stages {
		if _, ok := groups[stage.Order]; !ok {
			orders = append(orders, stage.Order)
		}
		groups[stage.Order] = append(groups[stage.Order], stage)
	}
	sort.Ints(orders)

	phases := make([][]Stage, 0, len(orders))
	for _, order := range orders {
		phases = append(phases, groups[order])
	}
	return phases
}
