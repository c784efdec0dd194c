// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"bookstore/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	// Outcomes are sampled during observation and read by Validation.
	Outcomes   []Probe
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	// Duration is how long probes are sampled after the method ran. Zero
	// samples once.
	Duration time.Duration
}

// Probe defines a measurable system property
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action is a fault injection or recovery step
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates experiment outcome against the last observation of a probe
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer         trace.Tracer
	logger         *zap.Logger
	violations     metric.Int64Counter
	sampleInterval time.Duration
	experiments    []Experiment
	results        []Result
	mu             sync.Mutex
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		tracer:         otel.Tracer("bookstore/chaos"),
		logger:         logger,
		violations:     telemetry.Counter(otel.Meter("bookstore/chaos"), "chaos.violations", "probe threshold violations"),
		sampleInterval: time.Second,
	}
}

// Register adds an experiment to the suite
func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment: steady state, inject, observe, roll back,
// validate. Any threshold violation after the baseline fails the hypothesis.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkProbes(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	after := e.checkProbes(ctx, exp.SteadyState)
	result.Violations = append(result.Violations, after...)
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.Violations) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	probes := append(append([]Probe(nil), exp.SteadyState...), exp.Outcomes...)
	e.sample(ctx, probes, result)
	if exp.Duration <= 0 {
		return
	}

	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, probes, result)
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result) {
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: p.Name,
			})
			continue
		}
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: time.Now(), Value: value})
		if p.Threshold.Operator != "" && !evaluateThreshold(value, p.Threshold) {
			e.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("probe", p.Name)))
			result.Violations = append(result.Violations, Violation{
				Probe:     p.Name,
				Expected:  p.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
}

func (e *Engine) checkProbes(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !evaluateThreshold(value, p.Threshold) {
			e.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("probe", p.Name)))
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func validateAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Probe]
		if len(observations) == 0 || !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause is the wait between experiments.
	Pause time.Duration
}

// RunGameDay runs every scenario and reports whether all hypotheses held.
func (e *Engine) RunGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.logger.Info("starting game day", zap.String("name", day.Name), zap.Time("date", day.Date))
	allHeld := true
	for i, scenario := range day.Scenarios {
		e.logger.Info("running experiment",
			zap.Int("index", i+1),
			zap.Int("of", len(day.Scenarios)),
			zap.String("name", scenario.Name),
			zap.String("hypothesis", scenario.Hypothesis),
		)

		result, err := e.Run(ctx, scenario)
		if err != nil {
			allHeld = false
			e.logger.Error("experiment failed", zap.String("name", scenario.Name), zap.Error(err))
			continue
		}
		e.logResult(result)
		allHeld = allHeld && result.HypothesisHeld

		if day.Pause > 0 && i < len(day.Scenarios)-1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(day.Pause):
			}
		}
	}
	return allHeld, nil
}

func (e *Engine) logResult(result *Result) {
	fields := []zap.Field{
		zap.String("name", result.ExperimentName),
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Int("violations", len(result.Violations)),
		zap.Int("errors", len(result.ErrorEvents)),
		zap.Duration("duration", result.Duration),
	}
	if !result.HypothesisHeld {
		for _, v := range result.Violations {
			e.logger.Warn("probe violated",
				zap.String("probe", v.Probe),
				zap.Float64("expected", v.Expected),
				zap.Float64("actual", v.Actual),
			)
		}
		e.logger.Warn("hypothesis violated", append(fields, zap.Strings("failed_assertions", result.FailedAssertions))...)
		return
	}
	e.logger.Info("hypothesis held", fields...)
}
