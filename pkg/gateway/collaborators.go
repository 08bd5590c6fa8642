package gateway

import (
	"context"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/alerts"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/autoscaler"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/observability"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/rollback"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// This file wires the optional collaborating packages the Dispatcher fans
// out to beyond node/workload/tenancy bookkeeping: alerting, autoscaling,
// rollback history, and observability analysis. Each is attached through a
// fluent With* setter so a Dispatcher built without one simply skips that
// concern rather than requiring every caller to wire all four.

// WithAlerts attaches an alert rule engine; PutAlertRule/EvaluateAlertSample
// become no-ops returning nil/empty until this is called.
func (d *Dispatcher) WithAlerts(engine *alerts.Engine) *Dispatcher {
	d.alerts = engine
	return d
}

// WithAutoscaler attaches a pool-scaling evaluator.
func (d *Dispatcher) WithAutoscaler(eval *autoscaler.Evaluator) *Dispatcher {
	d.autoscaler = eval
	return d
}

// WithRollback attaches a deployment history + rollback executor.
func (d *Dispatcher) WithRollback(exec *rollback.Executor) *Dispatcher {
	d.rollback = exec
	return d
}

// WithObservability attaches a node/workload/cluster health analyzer.
func (d *Dispatcher) WithObservability(analyzer *observability.Analyzer) *Dispatcher {
	d.observability = analyzer
	return d
}

// PutAlertRule registers or replaces an alert rule. No-op if no alert
// engine is attached.
func (d *Dispatcher) PutAlertRule(rule *types.AlertRule) error {
	if d.alerts == nil {
		return nil
	}
	return d.alerts.PutRule(rule)
}

// EvaluateAlertSample feeds one metric sample through the alert engine's
// pending/firing/resolved state machine. No-op if no alert engine is
// attached.
func (d *Dispatcher) EvaluateAlertSample(sample alerts.Sample, now time.Time) {
	if d.alerts == nil {
		return
	}
	d.alerts.Evaluate(sample, now)
}

// ListAlerts returns every alert currently tracked by the alert engine, or
// nil if none is attached.
func (d *Dispatcher) ListAlerts() []*types.Alert {
	if d.alerts == nil {
		return nil
	}
	return d.alerts.Alerts()
}

// EvaluateScaling runs the autoscaler's evaluation pipeline for one pool.
// Returns an error if no autoscaler is attached.
func (d *Dispatcher) EvaluateScaling(ctx context.Context, poolID types.PoolID, currentNodes int, policy types.ScalingPolicy, bounds types.ScalingBounds, now time.Time) (types.ScaleRecommendation, error) {
	if d.autoscaler == nil {
		return types.ScaleRecommendation{}, ErrCollaboratorNotAttached
	}
	return d.autoscaler.Evaluate(ctx, poolID, currentNodes, policy, bounds, now)
}

// PlanRollback delegates to the attached rollback executor's default
// planning path (target nil = roll back to the immediately preceding
// deployment).
func (d *Dispatcher) PlanRollback(current types.DeploymentID, target *types.DeploymentID) (types.RollbackPlan, error) {
	if d.rollback == nil {
		return types.RollbackPlan{}, ErrCollaboratorNotAttached
	}
	return d.rollback.PlanRollback(current, target)
}

// ExecuteRollback validates (per the executor's configured options) and
// executes a rollback plan.
func (d *Dispatcher) ExecuteRollback(plan types.RollbackPlan) (types.RollbackResult, error) {
	if d.rollback == nil {
		return types.RollbackResult{}, ErrCollaboratorNotAttached
	}
	return d.rollback.Execute(plan)
}

// AnalyzeNode runs the observability analyzer against one node's recent
// metrics and logs.
func (d *Dispatcher) AnalyzeNode(nodeID string, metrics []observability.MetricPoint, logs []observability.LogEntry, now time.Time) (observability.AnalysisResult, error) {
	if d.observability == nil {
		return observability.AnalysisResult{}, ErrCollaboratorNotAttached
	}
	return d.observability.AnalyzeNode(nodeID, metrics, logs, now), nil
}
