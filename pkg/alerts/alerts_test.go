package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func TestFingerprintStability(t *testing.T) {
	fp1 := Fingerprint("HighCPU", map[string]string{"node": "node-1"})
	fp2 := Fingerprint("HighCPU", map[string]string{"node": "node-1"})
	fp3 := Fingerprint("HighCPU", map[string]string{"node": "node-2"})
	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
}

func TestEvaluatePendingThenFiring(t *testing.T) {
	e := NewEngine()
	rule := &types.AlertRule{
		ID:   "HighCPU",
		Name: "HighCPU",
		Condition: types.Condition{
			MetricName: "cpu_percent",
			Comparator: types.CmpGreaterThan,
			Threshold:  80,
		},
		ForDuration: 30 * time.Second,
		Severity:    types.SeverityWarning,
		Enabled:     true,
	}
	require.NoError(t, e.PutRule(rule))

	now := time.Now()
	sample := Sample{MetricName: "cpu_percent", Value: 90, Labels: map[string]string{"node": "node-1"}}
	e.Evaluate(sample, now)

	alerts := e.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertPending, alerts[0].State)

	// not yet for_duration
	e.Evaluate(sample, now.Add(10*time.Second))
	assert.Equal(t, types.AlertPending, e.Alerts()[0].State)

	// for_duration elapsed
	e.Evaluate(sample, now.Add(31*time.Second))
	assert.Equal(t, types.AlertFiring, e.Alerts()[0].State)

	// condition no longer true -> resolved
	e.Evaluate(Sample{MetricName: "cpu_percent", Value: 10, Labels: map[string]string{"node": "node-1"}}, now.Add(40*time.Second))
	assert.Equal(t, types.AlertResolved, e.Alerts()[0].State)
}

func TestFireResolveIdempotent(t *testing.T) {
	now := time.Now()
	alert := &types.Alert{State: types.AlertPending}
	Fire(alert, now)
	firstFired := alert.FiredAt
	Fire(alert, now.Add(time.Second))
	assert.Equal(t, firstFired, alert.FiredAt)

	Resolve(alert, now.Add(2*time.Second))
	firstResolved := alert.ResolvedAt
	Resolve(alert, now.Add(3*time.Second))
	assert.Equal(t, firstResolved, alert.ResolvedAt)
}

func TestSilenceSuppressesAtNotifyTime(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	e.PutSilence(&types.Silence{
		Matchers: map[string]string{"node": "node-1"},
		StartsAt: now.Add(-time.Minute),
		EndsAt:   now.Add(time.Minute),
	})
	alert := &types.Alert{Labels: map[string]string{"node": "node-1"}}
	assert.True(t, e.Silenced(alert, now))
	assert.False(t, e.Silenced(alert, now.Add(time.Hour)))
}
