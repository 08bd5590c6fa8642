package rollback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func snapshot(id, image string, replicas int) types.DeploymentSnapshot {
	return types.DeploymentSnapshot{
		ID: types.DeploymentID(id),
		Spec: types.DeploymentSpec{
			Name:     "app",
			Image:    image,
			Replicas: replicas,
			Env:      map[string]string{},
			ResourceLimit: types.ResourceRequirements{
				CPULimit:  1.0,
				MemoryMiB: 512,
			},
		},
	}
}

func historyWithThree(t *testing.T) *History {
	t.Helper()
	h, err := NewHistory(10)
	require.NoError(t, err)
	h.Record(snapshot("v1", "app:v1", 3))
	h.Record(snapshot("v2", "app:v2", 3))
	h.Record(snapshot("v3", "app:v3", 3))
	return h
}

func TestNewHistoryRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewHistory(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	h, err := NewHistory(2)
	require.NoError(t, err)
	h.Record(snapshot("v1", "app:v1", 1))
	h.Record(snapshot("v2", "app:v2", 1))
	h.Record(snapshot("v3", "app:v3", 1))

	assert.Equal(t, 2, h.Len())
	_, ok := h.Find("v1")
	assert.False(t, ok)
	_, ok = h.Find("v2")
	assert.True(t, ok)
}

func TestHistoryCurrentAndPrevious(t *testing.T) {
	h := historyWithThree(t)

	current, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, types.DeploymentID("v3"), current.ID)

	prev, ok := h.Previous("v3")
	require.True(t, ok)
	assert.Equal(t, types.DeploymentID("v2"), prev.ID)

	_, ok = h.Previous("v1")
	assert.False(t, ok)
}

func TestPlanRollbackDefaultsToPrevious(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)

	plan, err := e.PlanRollback("v3", nil)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentID("v3"), plan.From)
	assert.Equal(t, types.DeploymentID("v2"), plan.To)
	assert.Equal(t, types.TriggerManual, plan.Trigger.Kind)
	assert.Equal(t, types.StrategyRolling, plan.Strategy.Kind)
	assert.Equal(t, 1, plan.Strategy.BatchSize)
}

func TestPlanRollbackNoPreviousDeployment(t *testing.T) {
	h, err := NewHistory(10)
	require.NoError(t, err)
	h.Record(snapshot("v1", "app:v1", 1))
	e := NewExecutor(h)

	_, err = e.PlanRollback("v1", nil)
	assert.ErrorIs(t, err, ErrNoPreviousDeployment)
}

func TestPlanRollbackSameDeployment(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	target := types.DeploymentID("v3")

	_, err := e.PlanRollback("v3", &target)
	assert.ErrorIs(t, err, ErrSameDeployment)
}

func TestPlanRollbackDeploymentNotFound(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)

	_, err := e.PlanRollback("missing", nil)
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestValidateRejectsZeroBatchSize(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan := types.RollbackPlan{
		From:     "v3",
		To:       "v2",
		Strategy: types.RollbackStrategy{Kind: types.StrategyRolling, BatchSize: 0},
	}
	assert.ErrorIs(t, e.Validate(plan), ErrInvalidPlan)
}

func TestValidateRejectsOutOfRangeCanary(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan := types.RollbackPlan{
		From:     "v3",
		To:       "v2",
		Strategy: types.RollbackStrategy{Kind: types.StrategyCanary, InitialPercent: 0, Increment: 10},
	}
	assert.ErrorIs(t, e.Validate(plan), ErrInvalidPlan)
}

func TestExecuteImmediateRecordsNewCurrent(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan, err := e.PlanRollback("v3", nil)
	require.NoError(t, err)
	plan.Strategy = types.RollbackStrategy{Kind: types.StrategyImmediate}

	result, err := e.Execute(plan)
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, types.DeploymentID("v2"), current.ID)
}

func TestExecuteDryRunDoesNotMutateHistory(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	e.SetOptions(ExecutionOptions{Validate: true, DryRun: true})

	plan, err := e.PlanRollback("v3", nil)
	require.NoError(t, err)

	result, err := e.Execute(plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Details, "Dry run")

	current, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, types.DeploymentID("v3"), current.ID)
}

func TestExecuteRollingComputesBatchCount(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan, err := e.PlanRollback("v3", nil)
	require.NoError(t, err)
	plan.Strategy = types.RollbackStrategy{Kind: types.StrategyRolling, BatchSize: 2}

	result, err := e.Execute(plan)
	require.NoError(t, err)
	assert.Contains(t, result.Details, "2 batches")
}

func TestExecuteCanaryComputesSteps(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan, err := e.PlanRollback("v3", nil)
	require.NoError(t, err)
	plan.Strategy = types.RollbackStrategy{Kind: types.StrategyCanary, InitialPercent: 10, Increment: 10}

	result, err := e.Execute(plan)
	require.NoError(t, err)
	assert.Contains(t, result.Details, "10 steps")
}

func TestExecuteInvalidPlanDoesNotMutateHistory(t *testing.T) {
	h := historyWithThree(t)
	e := NewExecutor(h)
	plan := types.RollbackPlan{From: "v3", To: "v3"}

	_, err := e.Execute(plan)
	assert.ErrorIs(t, err, ErrSameDeployment)

	current, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, types.DeploymentID("v3"), current.ID)
}

func TestFailureAnalyzerResourceExhaustion(t *testing.T) {
	snap := snapshot("v1", "app:v1", 1)
	metrics := types.DeploymentMetrics{MemoryUtilizationPercent: 95, CPUUtilizationPercent: 98}

	analysis := NewFailureAnalyzer().AnalyzeFailure(snap, metrics, nil)
	assert.Equal(t, types.CategoryResourceExhaustion, analysis.Category)
	assert.NotEmpty(t, analysis.Evidence)
}

func TestFailureAnalyzerConfigErrorFromEnv(t *testing.T) {
	snap := snapshot("v1", "app:v1", 1)
	snap.Spec.Env["API_KEY"] = ""
	snap.Spec.Env["DB_HOST"] = "${DB_HOST}"

	analysis := NewFailureAnalyzer().AnalyzeFailure(snap, types.DeploymentMetrics{}, nil)
	assert.Equal(t, types.CategoryConfigError, analysis.Category)
}

func TestFailureAnalyzerUnknownWhenNoSignal(t *testing.T) {
	snap := snapshot("v1", "app:v1", 1)
	analysis := NewFailureAnalyzer().AnalyzeFailure(snap, types.DeploymentMetrics{}, nil)
	assert.Equal(t, types.CategoryUnknown, analysis.Category)
}

func TestFailureAnalyzerEvidenceCappedAndTruncated(t *testing.T) {
	snap := snapshot("v1", "app:v1", 1)
	longMessage := ""
	for i := 0; i < 30; i++ {
		longMessage += "0123456789"
	}
	var logs []RollbackLogEntry
	for i := 0; i < 10; i++ {
		logs = append(logs, RollbackLogEntry{Level: types.LogLevelError, Message: longMessage})
	}

	analysis := NewFailureAnalyzer().AnalyzeFailure(snap, types.DeploymentMetrics{}, logs)
	assert.LessOrEqual(t, len(analysis.Evidence), 5)
	for _, e := range analysis.Evidence {
		assert.LessOrEqual(t, len(e), 120)
	}
}

func TestFailureAnalyzerDependencyFromLatencyRatio(t *testing.T) {
	snap := snapshot("v1", "app:v1", 1)
	metrics := types.DeploymentMetrics{P50LatencyMs: 10, P99LatencyMs: 500}

	analysis := NewFailureAnalyzer().AnalyzeFailure(snap, metrics, nil)
	assert.Equal(t, types.CategoryDependencyFailure, analysis.Category)
}
