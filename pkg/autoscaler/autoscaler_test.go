package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

type fakeMetrics struct {
	snapshot types.MetricsSnapshot
	err      error
}

func (f *fakeMetrics) GetMetrics(ctx context.Context, poolID types.PoolID) (types.MetricsSnapshot, error) {
	return f.snapshot, f.err
}

type fakeCooldowns struct {
	lastUp, lastDown time.Time
}

func (f *fakeCooldowns) LastScaleUp(poolID types.PoolID) time.Time   { return f.lastUp }
func (f *fakeCooldowns) LastScaleDown(poolID types.PoolID) time.Time { return f.lastDown }
func (f *fakeCooldowns) RecordScaleUp(poolID types.PoolID, at time.Time) { f.lastUp = at }
func (f *fakeCooldowns) RecordScaleDown(poolID types.PoolID, at time.Time) { f.lastDown = at }

func TestTargetUtilizationScalesUp(t *testing.T) {
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 95}}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, TargetPercent: 70, TolerancePercent: 5, Enabled: true}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 10}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ScaleUp, rec.Direction)
	assert.Greater(t, rec.TargetNodes, 2)
}

func TestTargetUtilizationWithinTolerance(t *testing.T) {
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 71}}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, TargetPercent: 70, TolerancePercent: 5, Enabled: true}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 10}

	rec, err := e.Evaluate(context.Background(), "pool-1", 4, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ScaleNone, rec.Direction)
}

func TestDisabledPolicyShortCircuits(t *testing.T) {
	metrics := &fakeMetrics{}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, Enabled: false}
	bounds := types.ScalingBounds{IgnoreDisabledPolicies: true}

	rec, err := e.Evaluate(context.Background(), "pool-1", 3, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ScaleNone, rec.Direction)
	assert.Equal(t, "policy is disabled", rec.Reason)
}

func TestCooldownSuppressesScaleUp(t *testing.T) {
	now := time.Now()
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 95}}
	cooldowns := &fakeCooldowns{lastUp: now.Add(-10 * time.Second)}
	e := NewEvaluator(metrics, cooldowns)
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, TargetPercent: 70, TolerancePercent: 5, Enabled: true}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 10, ScaleUpCooldown: time.Minute}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, now)
	require.NoError(t, err)
	assert.Equal(t, types.ScaleNone, rec.Direction)
	assert.Contains(t, rec.Reason, "cooldown")
}

func TestDeltaCapClampsTarget(t *testing.T) {
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 99}}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, TargetPercent: 10, TolerancePercent: 1, Enabled: true}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 100, MaxScaleDelta: 1}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TargetNodes)
	assert.Equal(t, types.ScaleUp, rec.Direction)
}

func TestBoundsClampRecomputesDirection(t *testing.T) {
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 99}}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, TargetPercent: 10, TolerancePercent: 1, Enabled: true}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 2}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TargetNodes)
	assert.Equal(t, types.ScaleNone, rec.Direction)
}

func TestScheduleFirstMatchingRuleWins(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC) // Thursday
	policy := types.ScalingPolicy{
		Kind: types.PolicySchedule,
		ScheduleRules: []types.ScheduleRule{
			{Name: "night", DaysOfWeek: []time.Weekday{time.Thursday}, HourStart: 0, HourEnd: 6, DesiredNodes: 1},
			{Name: "business-hours", DaysOfWeek: []time.Weekday{time.Thursday}, HourStart: 8, HourEnd: 18, DesiredNodes: 8},
		},
	}
	e := NewEvaluator(&fakeMetrics{}, &fakeCooldowns{})
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 10}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, now)
	require.NoError(t, err)
	assert.Equal(t, 8, rec.TargetNodes)
	assert.Equal(t, types.ScaleUp, rec.Direction)
}

func TestCombinedAllDisagreeReturnsNone(t *testing.T) {
	metrics := &fakeMetrics{snapshot: types.MetricsSnapshot{AvgGPUUtilizationPercent: 95, QueueDepth: 1}}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{
		Kind:        types.PolicyCombined,
		Combination: types.CombineAll,
		SubPolicies: []types.ScalingPolicy{
			{Kind: types.PolicyTargetUtilization, TargetPercent: 70, TolerancePercent: 5, Enabled: true},
			{Kind: types.PolicyQueueDepth, TargetJobsPerNode: 1, ScaleUpThreshold: 1000, ScaleDownThreshold: 0.01, Enabled: true},
		},
	}
	bounds := types.ScalingBounds{MinNodes: 1, MaxNodes: 10}

	rec, err := e.Evaluate(context.Background(), "pool-1", 2, policy, bounds, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ScaleNone, rec.Direction)
	assert.Contains(t, rec.Reason, "disagree")
}

func TestMetricsErrorReturnedVerbatim(t *testing.T) {
	metrics := &fakeMetrics{err: assert.AnError}
	e := NewEvaluator(metrics, &fakeCooldowns{})
	policy := types.ScalingPolicy{Kind: types.PolicyTargetUtilization, Enabled: true}
	bounds := types.ScalingBounds{}

	_, err := e.Evaluate(context.Background(), "pool-1", 1, policy, bounds, time.Now())
	assert.ErrorIs(t, err, assert.AnError)
}
