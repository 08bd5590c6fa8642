// Package autoscaler is the autoscaler (C8): converts (pool, current
// metrics, clock) into a ScaleRecommendation. Built as an evaluation
// pipeline (fixed ordered stages over a candidate, each stage able to
// short-circuit the rest) generalized from
// node placement to scale-direction evaluation, and on original_source's
// claw-autoscaler/policy.rs for the exact per-policy-kind formulas and the
// cooldown-then-clamp ordering.
package autoscaler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// MetricsProvider supplies the current metrics snapshot for a pool.
type MetricsProvider interface {
	GetMetrics(ctx context.Context, poolID types.PoolID) (types.MetricsSnapshot, error)
}

// CooldownTracker reports and records the last scale-up/scale-down times
// for a pool.
type CooldownTracker interface {
	LastScaleUp(poolID types.PoolID) time.Time
	LastScaleDown(poolID types.PoolID) time.Time
	RecordScaleUp(poolID types.PoolID, at time.Time)
	RecordScaleDown(poolID types.PoolID, at time.Time)
}

// Evaluator evaluates scaling policies against live metrics.
type Evaluator struct {
	metrics   MetricsProvider
	cooldowns CooldownTracker
}

// NewEvaluator builds an Evaluator backed by the given metrics provider and
// cooldown tracker.
func NewEvaluator(metrics MetricsProvider, cooldowns CooldownTracker) *Evaluator {
	return &Evaluator{metrics: metrics, cooldowns: cooldowns}
}

// Evaluate runs the fixed evaluation order from: disabled-policy short
// circuit, metrics fetch, per-kind dispatch, cooldown gate, delta cap,
// bounds clamp.
func (e *Evaluator) Evaluate(ctx context.Context, poolID types.PoolID, currentNodes int, policy types.ScalingPolicy, bounds types.ScalingBounds, now time.Time) (types.ScaleRecommendation, error) {
	if !policy.Enabled && bounds.IgnoreDisabledPolicies {
		return types.ScaleRecommendation{
			Direction:    types.ScaleNone,
			CurrentNodes: currentNodes,
			TargetNodes:  currentNodes,
			Reason:       "policy is disabled",
		}, nil
	}

	snapshot, err := e.metrics.GetMetrics(ctx, poolID)
	if err != nil {
		return types.ScaleRecommendation{}, err
	}

	rec := evaluatePolicy(policy, snapshot, currentNodes, now)
	rec.MetricSamples = snapshot

	rec = e.applyCooldown(poolID, rec, bounds, now)
	rec = applyDeltaCap(rec, bounds.MaxScaleDelta)
	rec = applyBoundsClamp(rec, bounds)

	return rec, nil
}

func evaluatePolicy(policy types.ScalingPolicy, snapshot types.MetricsSnapshot, current int, now time.Time) types.ScaleRecommendation {
	switch policy.Kind {
	case types.PolicyTargetUtilization:
		return evaluateTargetUtilization(policy, snapshot, current)
	case types.PolicyQueueDepth:
		return evaluateQueueDepth(policy, snapshot, current)
	case types.PolicySchedule:
		return evaluateSchedule(policy, current, now)
	case types.PolicyCombined:
		return evaluateCombined(policy, snapshot, current, now)
	default:
		return noneRecommendation(current, "unknown policy kind")
	}
}

func noneRecommendation(current int, reason string) types.ScaleRecommendation {
	return types.ScaleRecommendation{
		Direction:    types.ScaleNone,
		CurrentNodes: current,
		TargetNodes:  current,
		Reason:       reason,
	}
}

func evaluateTargetUtilization(policy types.ScalingPolicy, snapshot types.MetricsSnapshot, current int) types.ScaleRecommendation {
	u := snapshot.AvgGPUUtilizationPercent
	target := policy.TargetPercent
	tolerance := policy.TolerancePercent
	confidence := clamp(math.Abs(u-target)/20, 0.5, 1.0)

	switch {
	case u > target+tolerance:
		t := int(math.Ceil(float64(current) * u / target))
		return types.ScaleRecommendation{
			Direction: types.ScaleUp, CurrentNodes: current, TargetNodes: t,
			Reason: fmt.Sprintf("gpu utilization %.1f%% exceeds target %.1f%%+tolerance", u, target),
			Confidence: confidence,
		}
	case u < target-tolerance && current > 1:
		t := int(math.Ceil(float64(current) * u / target))
		if t < 1 {
			t = 1
		}
		return types.ScaleRecommendation{
			Direction: types.ScaleDown, CurrentNodes: current, TargetNodes: t,
			Reason: fmt.Sprintf("gpu utilization %.1f%% below target %.1f%%-tolerance", u, target),
			Confidence: confidence,
		}
	default:
		return noneRecommendation(current, "gpu utilization within tolerance")
	}
}

func evaluateQueueDepth(policy types.ScalingPolicy, snapshot types.MetricsSnapshot, current int) types.ScaleRecommendation {
	if current == 0 {
		return noneRecommendation(current, "no nodes to evaluate queue depth against")
	}
	jobsPerNode := float64(snapshot.QueueDepth) / float64(current)

	switch {
	case jobsPerNode > policy.ScaleUpThreshold:
		t := int(float64(snapshot.QueueDepth) / policy.TargetJobsPerNode)
		if t < current+1 {
			t = current + 1
		}
		return types.ScaleRecommendation{
			Direction: types.ScaleUp, CurrentNodes: current, TargetNodes: t,
			Reason: fmt.Sprintf("queue depth %d (%.1f jobs/node) exceeds scale-up threshold", snapshot.QueueDepth, jobsPerNode),
		}
	case jobsPerNode < policy.ScaleDownThreshold && current > 1:
		t := int(float64(snapshot.QueueDepth) / policy.TargetJobsPerNode)
		if t < 1 {
			t = 1
		}
		return types.ScaleRecommendation{
			Direction: types.ScaleDown, CurrentNodes: current, TargetNodes: t,
			Reason: fmt.Sprintf("queue depth %d (%.1f jobs/node) below scale-down threshold", snapshot.QueueDepth, jobsPerNode),
		}
	default:
		return noneRecommendation(current, "queue depth within thresholds")
	}
}

func evaluateSchedule(policy types.ScalingPolicy, current int, now time.Time) types.ScaleRecommendation {
	hour := now.Hour()
	weekday := now.Weekday()
	for _, rule := range policy.ScheduleRules {
		if !containsWeekday(rule.DaysOfWeek, weekday) {
			continue
		}
		if hour >= rule.HourStart && hour < rule.HourEnd {
			direction := types.ScaleNone
			switch {
			case rule.DesiredNodes > current:
				direction = types.ScaleUp
			case rule.DesiredNodes < current:
				direction = types.ScaleDown
			}
			return types.ScaleRecommendation{
				Direction: direction, CurrentNodes: current, TargetNodes: rule.DesiredNodes,
				Reason: fmt.Sprintf("schedule rule %q active", rule.Name), Confidence: 1.0,
			}
		}
	}
	return noneRecommendation(current, "no schedule rule matches")
}

func containsWeekday(days []time.Weekday, want time.Weekday) bool {
	for _, d := range days {
		if d == want {
			return true
		}
	}
	return false
}

func evaluateCombined(policy types.ScalingPolicy, snapshot types.MetricsSnapshot, current int, now time.Time) types.ScaleRecommendation {
	recs := make([]types.ScaleRecommendation, len(policy.SubPolicies))
	for i, sub := range policy.SubPolicies {
		recs[i] = evaluatePolicy(sub, snapshot, current, now)
	}

	switch policy.Combination {
	case types.CombineAny:
		for _, r := range recs {
			if r.Direction != types.ScaleNone {
				return r
			}
		}
		return noneRecommendation(current, "no sub-policy recommends scaling")

	case types.CombineAll:
		if len(recs) == 0 {
			return noneRecommendation(current, "no sub-policies configured")
		}
		first := recs[0]
		for _, r := range recs[1:] {
			if r.Direction != first.Direction {
				return noneRecommendation(current, "policies disagree on direction")
			}
		}
		return first

	case types.CombineMostAggressive:
		return pickByDelta(recs, current, func(a, b int) bool { return a > b })

	case types.CombineMostConservative:
		return pickByDelta(recs, current, func(a, b int) bool { return a < b })

	default:
		return noneRecommendation(current, "unknown combination strategy")
	}
}

func pickByDelta(recs []types.ScaleRecommendation, current int, better func(a, b int) bool) types.ScaleRecommendation {
	if len(recs) == 0 {
		return noneRecommendation(current, "no sub-policies configured")
	}
	best := recs[0]
	bestDelta := absInt(best.TargetNodes - best.CurrentNodes)
	for _, r := range recs[1:] {
		delta := absInt(r.TargetNodes - r.CurrentNodes)
		if better(delta, bestDelta) {
			best = r
			bestDelta = delta
		}
	}
	return best
}

func (e *Evaluator) applyCooldown(poolID types.PoolID, rec types.ScaleRecommendation, bounds types.ScalingBounds, now time.Time) types.ScaleRecommendation {
	if e.cooldowns == nil {
		return rec
	}
	switch rec.Direction {
	case types.ScaleUp:
		if last := e.cooldowns.LastScaleUp(poolID); !last.IsZero() && now.Sub(last) < bounds.ScaleUpCooldown {
			none := noneRecommendation(rec.CurrentNodes, "scale up cooldown active")
			none.MetricSamples = rec.MetricSamples
			return none
		}
	case types.ScaleDown:
		if last := e.cooldowns.LastScaleDown(poolID); !last.IsZero() && now.Sub(last) < bounds.ScaleDownCooldown {
			none := noneRecommendation(rec.CurrentNodes, "scale down cooldown active")
			none.MetricSamples = rec.MetricSamples
			return none
		}
	}
	return rec
}

func applyDeltaCap(rec types.ScaleRecommendation, maxDelta int) types.ScaleRecommendation {
	if maxDelta <= 0 {
		return rec
	}
	delta := rec.TargetNodes - rec.CurrentNodes
	if absInt(delta) > maxDelta {
		if delta > 0 {
			rec.TargetNodes = rec.CurrentNodes + maxDelta
		} else {
			rec.TargetNodes = rec.CurrentNodes - maxDelta
		}
		rec.Reason = fmt.Sprintf("%s; capped to max scale delta of %d", rec.Reason, maxDelta)
	}
	return rec
}

func applyBoundsClamp(rec types.ScaleRecommendation, bounds types.ScalingBounds) types.ScaleRecommendation {
	clamped := rec.TargetNodes
	if bounds.MaxNodes > 0 && clamped > bounds.MaxNodes {
		clamped = bounds.MaxNodes
	}
	if bounds.MinNodes > 0 && clamped < bounds.MinNodes {
		clamped = bounds.MinNodes
	}
	if clamped != rec.TargetNodes {
		rec.Reason = fmt.Sprintf("%s; clamped to bounds [%d,%d]", rec.Reason, bounds.MinNodes, bounds.MaxNodes)
		rec.TargetNodes = clamped
	}

	switch {
	case rec.TargetNodes > rec.CurrentNodes:
		rec.Direction = types.ScaleUp
	case rec.TargetNodes < rec.CurrentNodes:
		rec.Direction = types.ScaleDown
	default:
		rec.Direction = types.ScaleNone
	}
	return rec
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
