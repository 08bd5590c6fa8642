package rollback

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// Typed rollback errors, matching original_source's RollbackError variants.
var (
	ErrDeploymentNotFound  = errors.New("rollback: deployment not found")
	ErrNoPreviousDeployment = errors.New("rollback: no previous deployment available")
	ErrInvalidPlan         = errors.New("rollback: invalid plan")
	ErrSameDeployment      = errors.New("rollback: cannot rollback to the same deployment")
)

// ExecutionOptions controls how Executor.Execute runs a plan.
type ExecutionOptions struct {
	Validate          bool
	DryRun            bool
	Timeout           time.Duration
	WaitForCompletion bool
}

// DefaultExecutionOptions matches original_source's defaults.
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		Validate:          true,
		DryRun:            false,
		Timeout:           5 * time.Minute,
		WaitForCompletion: true,
	}
}

// Executor plans, validates, and executes rollbacks against a History.
type Executor struct {
	history *History
	options ExecutionOptions
	logger  zerolog.Logger
}

// NewExecutor builds an Executor with default execution options.
func NewExecutor(history *History) *Executor {
	return &Executor{history: history, options: DefaultExecutionOptions(), logger: log.WithComponent("rollback")}
}

// NewExecutorWithOptions builds an Executor with custom execution options.
func NewExecutorWithOptions(history *History, options ExecutionOptions) *Executor {
	return &Executor{history: history, options: options, logger: log.WithComponent("rollback")}
}

// History returns the executor's deployment history.
func (e *Executor) History() *History { return e.history }

// SetOptions replaces the executor's execution options.
func (e *Executor) SetOptions(options ExecutionOptions) { e.options = options }

// PlanRollback builds a RollbackPlan from current to target (or, if target
// is nil, to the immediately preceding deployment) with Manual trigger and
// the default Rolling{batch_size=1} strategy.
func (e *Executor) PlanRollback(current types.DeploymentID, target *types.DeploymentID) (types.RollbackPlan, error) {
	return e.PlanRollbackWithOptions(current, target, types.RollbackTrigger{Kind: types.TriggerManual}, defaultStrategy())
}

// PlanRollbackWithOptions builds a RollbackPlan with an explicit trigger
// and strategy.
func (e *Executor) PlanRollbackWithOptions(current types.DeploymentID, target *types.DeploymentID, trigger types.RollbackTrigger, strategy types.RollbackStrategy) (types.RollbackPlan, error) {
	fromSnap, ok := e.history.Find(current)
	if !ok {
		return types.RollbackPlan{}, fmt.Errorf("%w: %s", ErrDeploymentNotFound, current)
	}

	var toSnap types.DeploymentSnapshot
	if target != nil {
		if *target == current {
			return types.RollbackPlan{}, ErrSameDeployment
		}
		toSnap, ok = e.history.Find(*target)
		if !ok {
			return types.RollbackPlan{}, fmt.Errorf("%w: %s", ErrDeploymentNotFound, *target)
		}
	} else {
		toSnap, ok = e.history.Previous(current)
		if !ok {
			return types.RollbackPlan{}, ErrNoPreviousDeployment
		}
	}

	plan := types.RollbackPlan{
		ID:       types.NewRollbackID(),
		From:     fromSnap.ID,
		To:       toSnap.ID,
		Trigger:  trigger,
		Strategy: strategy,
	}

	e.logger.Info().
		Str("rollback_id", string(plan.ID)).
		Str("from", string(plan.From)).
		Str("to", string(plan.To)).
		Msg("created rollback plan")

	return plan, nil
}

func defaultStrategy() types.RollbackStrategy {
	return types.RollbackStrategy{Kind: types.StrategyRolling, BatchSize: 1}
}

// Validate runs the pre-flight checks a plan must pass before execution.
func (e *Executor) Validate(plan types.RollbackPlan) error {
	if plan.From == plan.To {
		return ErrSameDeployment
	}
	if _, ok := e.history.Find(plan.From); !ok {
		return fmt.Errorf("%w: source deployment %q not found in history", ErrInvalidPlan, plan.From)
	}
	if _, ok := e.history.Find(plan.To); !ok {
		return fmt.Errorf("%w: target deployment %q not found in history", ErrInvalidPlan, plan.To)
	}

	switch plan.Strategy.Kind {
	case types.StrategyRolling:
		if plan.Strategy.BatchSize <= 0 {
			return fmt.Errorf("%w: rolling strategy batch_size must be > 0", ErrInvalidPlan)
		}
	case types.StrategyCanary:
		if plan.Strategy.InitialPercent < 1 || plan.Strategy.InitialPercent > 100 {
			return fmt.Errorf("%w: canary initial_percentage must be between 1 and 100", ErrInvalidPlan)
		}
		if plan.Strategy.Increment < 1 || plan.Strategy.Increment > 100 {
			return fmt.Errorf("%w: canary increment must be between 1 and 100", ErrInvalidPlan)
		}
	case types.StrategyImmediate, types.StrategyBlueGreen:
		// no additional validation
	}

	e.logger.Info().Str("rollback_id", string(plan.ID)).Msg("rollback plan validated successfully")
	return nil
}

// Execute runs plan according to its strategy, optionally validating
// first and short-circuiting on dry run. On any error, history is left
// unmutated.
func (e *Executor) Execute(plan types.RollbackPlan) (types.RollbackResult, error) {
	start := time.Now()

	e.logger.Info().Str("rollback_id", string(plan.ID)).Str("from", string(plan.From)).Str("to", string(plan.To)).Msg("starting rollback execution")

	if e.options.Validate {
		if err := e.Validate(plan); err != nil {
			return types.RollbackResult{}, err
		}
	}

	if e.options.DryRun {
		e.logger.Info().Str("rollback_id", string(plan.ID)).Msg("dry run completed")
		return types.RollbackResult{
			Success:     true,
			Duration:    time.Since(start),
			CompletedAt: time.Now(),
			Details:     "Dry run - no changes made",
		}, nil
	}

	result, err := e.executeStrategy(plan, start)
	if err != nil {
		e.logger.Warn().Str("rollback_id", string(plan.ID)).Err(err).Msg("rollback execution error")
		return types.RollbackResult{}, err
	}

	if result.Success {
		e.logger.Info().Str("rollback_id", string(plan.ID)).Int64("duration_ms", result.Duration.Milliseconds()).Msg("rollback completed successfully")
	} else {
		e.logger.Warn().Str("rollback_id", string(plan.ID)).Str("details", result.Details).Msg("rollback completed with failure")
	}

	return result, nil
}

func (e *Executor) executeStrategy(plan types.RollbackPlan, start time.Time) (types.RollbackResult, error) {
	switch plan.Strategy.Kind {
	case types.StrategyImmediate:
		return e.executeImmediate(plan, start)
	case types.StrategyRolling:
		return e.executeRolling(plan, start)
	case types.StrategyBlueGreen:
		return e.executeBlueGreen(plan, start)
	case types.StrategyCanary:
		return e.executeCanary(plan, start)
	default:
		return types.RollbackResult{}, fmt.Errorf("%w: unknown strategy kind %q", ErrInvalidPlan, plan.Strategy.Kind)
	}
}

func (e *Executor) executeImmediate(plan types.RollbackPlan, start time.Time) (types.RollbackResult, error) {
	toSnap, _ := e.history.Find(plan.To)
	e.history.Record(toSnap)
	return types.RollbackResult{
		Success:     true,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
		Details:     fmt.Sprintf("Immediate rollback from %s to %s", plan.From, plan.To),
	}, nil
}

func (e *Executor) executeRolling(plan types.RollbackPlan, start time.Time) (types.RollbackResult, error) {
	if plan.Strategy.BatchSize <= 0 {
		return types.RollbackResult{}, fmt.Errorf("%w: rolling strategy batch_size must be > 0", ErrInvalidPlan)
	}

	fromSnap, _ := e.history.Find(plan.From)
	toSnap, _ := e.history.Find(plan.To)
	batches := ceilDiv(fromSnap.Spec.Replicas, plan.Strategy.BatchSize)

	e.history.Record(toSnap)
	return types.RollbackResult{
		Success:     true,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
		Details:     fmt.Sprintf("Rolling rollback from %s to %s completed in %d batches", plan.From, plan.To, batches),
	}, nil
}

func (e *Executor) executeBlueGreen(plan types.RollbackPlan, start time.Time) (types.RollbackResult, error) {
	toSnap, _ := e.history.Find(plan.To)
	e.history.Record(toSnap)
	return types.RollbackResult{
		Success:     true,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
		Details:     fmt.Sprintf("Blue-green rollback from %s to %s (traffic switched)", plan.From, plan.To),
	}, nil
}

func (e *Executor) executeCanary(plan types.RollbackPlan, start time.Time) (types.RollbackResult, error) {
	toSnap, _ := e.history.Find(plan.To)
	steps := (100-plan.Strategy.InitialPercent)/plan.Strategy.Increment + 1

	e.history.Record(toSnap)
	return types.RollbackResult{
		Success:     true,
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
		Details:     fmt.Sprintf("Canary rollback from %s to %s completed in %d steps (%d%% -> 100%%)", plan.From, plan.To, steps, plan.Strategy.InitialPercent),
	}, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
