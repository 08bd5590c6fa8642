// Package alerts is the alert core (C4): rule evaluation against metric
// samples, the pending/firing/resolved state machine, fingerprinting for
// downstream deduplication, and silences. Built in a lock-per-registry
// style (RWMutex-guarded maps) and on original_source's
// claw-alerts/types.rs for the exact state-transition and
// fingerprint rules.
package alerts

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// epsilon is the tolerance used for equality/inequality comparators.
const epsilon = 1e-9

// Sample is one observed metric point fed into rule evaluation.
type Sample struct {
	MetricName string
	Value      float64
	Labels     map[string]string
}

// Engine evaluates rules against samples and owns the pending/firing/resolved
// state machine. All mutation is serialized through mu, one RWMutex per
// shared registry.
type Engine struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	rules    map[types.AlertRuleID]*types.AlertRule
	alerts   map[uint64]*types.Alert // keyed by fingerprint
	silences map[string]*types.Silence
}

// NewEngine creates an empty alert engine.
func NewEngine() *Engine {
	return &Engine{
		logger:   log.WithComponent("alerts"),
		rules:    make(map[types.AlertRuleID]*types.AlertRule),
		alerts:   make(map[uint64]*types.Alert),
		silences: make(map[string]*types.Silence),
	}
}

// ErrRuleNameTooLong is returned by PutRule when Name exceeds 256 chars.
var ErrRuleNameTooLong = fmt.Errorf("alerts: rule name exceeds 256 characters")

// PutRule adds or replaces a rule.
func (e *Engine) PutRule(rule *types.AlertRule) error {
	if len(rule.Name) > 256 {
		return ErrRuleNameTooLong
	}
	if rule.ID == "" {
		rule.ID = types.AlertRuleID(uuid.New().String())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// DeleteRule removes a rule; alerts already raised from it are left alone.
func (e *Engine) DeleteRule(id types.AlertRuleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
}

// Fingerprint computes the stable dedup key for a (rule, labels) pair:
// identical rule+labels always hash identically regardless of value or time.
func Fingerprint(ruleID types.AlertRuleID, labels map[string]string) uint64 {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	_, _ = h.Write([]byte(ruleID))
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(labels[k]))
	}
	return h.Sum64()
}

func compare(cmp types.Comparator, value, threshold float64) bool {
	switch cmp {
	case types.CmpGreaterThan:
		return value > threshold
	case types.CmpGreaterOrEqual:
		return value >= threshold
	case types.CmpLessThan:
		return value < threshold
	case types.CmpLessOrEqual:
		return value <= threshold
	case types.CmpEqual:
		return math.Abs(value-threshold) < epsilon
	case types.CmpNotEqual:
		return math.Abs(value-threshold) >= epsilon
	default:
		return false
	}
}

func labelsSuperset(sampleLabels, filters map[string]string) bool {
	for k, v := range filters {
		if sampleLabels[k] != v {
			return false
		}
	}
	return true
}

// mergedLabels is rule labels ∪ metric labels ∪ {alertname, severity}, with
// metric labels winning on key collision (they are the more specific source).
func mergedLabels(rule *types.AlertRule, sample Sample) map[string]string {
	out := make(map[string]string, len(rule.Labels)+len(sample.Labels)+2)
	for k, v := range rule.Labels {
		out[k] = v
	}
	for k, v := range sample.Labels {
		out[k] = v
	}
	out["alertname"] = rule.Name
	out["severity"] = string(rule.Severity)
	return out
}

// Evaluate feeds one sample through every enabled rule whose metric name and
// label filters match, advancing each matched alert's state machine. now is
// supplied by the caller so tests can control time deterministically.
func (e *Engine) Evaluate(sample Sample, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if !rule.Enabled || rule.Condition.MetricName != sample.MetricName {
			continue
		}
		if !labelsSuperset(sample.Labels, rule.Condition.LabelFilters) {
			continue
		}

		labels := mergedLabels(rule, sample)
		fp := Fingerprint(rule.ID, labels)
		ok := compare(rule.Condition.Comparator, sample.Value, rule.Condition.Threshold)

		alert, exists := e.alerts[fp]
		switch {
		case ok && !exists:
			alert = &types.Alert{
				ID:          types.AlertID(uuid.New().String()),
				RuleID:      rule.ID,
				State:       types.AlertPending,
				Value:       sample.Value,
				Labels:      labels,
				StartedAt:   now,
				Fingerprint: fp,
			}
			e.alerts[fp] = alert
			e.logger.Info().Str("rule", string(rule.ID)).Msg("alert pending")
		case ok && exists:
			alert.Value = sample.Value
			if alert.State == types.AlertPending && now.Sub(alert.StartedAt) >= rule.ForDuration {
				alert.State = types.AlertFiring
				fired := now
				alert.FiredAt = &fired
				e.logger.Warn().Str("rule", string(rule.ID)).Msg("alert firing")
			}
		case !ok && exists:
			switch alert.State {
			case types.AlertPending:
				delete(e.alerts, fp)
			case types.AlertFiring:
				alert.State = types.AlertResolved
				resolved := now
				alert.ResolvedAt = &resolved
				e.logger.Info().Str("rule", string(rule.ID)).Msg("alert resolved")
			}
		}
	}
}

// Fire transitions an alert to firing; a no-op if it is already firing.
func Fire(alert *types.Alert, now time.Time) {
	if alert.State == types.AlertFiring {
		return
	}
	alert.State = types.AlertFiring
	alert.FiredAt = &now
}

// Resolve transitions an alert to resolved; a no-op if already resolved.
func Resolve(alert *types.Alert, now time.Time) {
	if alert.State == types.AlertResolved {
		return
	}
	alert.State = types.AlertResolved
	alert.ResolvedAt = &now
}

// Alerts returns a snapshot of every alert currently tracked, regardless of
// state.
func (e *Engine) Alerts() []*types.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	return out
}

// PutSilence adds or replaces a silence.
func (e *Engine) PutSilence(s *types.Silence) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silences[s.ID] = s
}

// DeleteSilence removes a silence.
func (e *Engine) DeleteSilence(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.silences, id)
}

// Silenced reports whether the alert is currently suppressed by any active
// silence. This is checked at notification time, not during evaluation.
func (e *Engine) Silenced(alert *types.Alert, now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.silences {
		if s.Active(now) && s.Matches(alert.Labels) {
			return true
		}
	}
	return false
}
