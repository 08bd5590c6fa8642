package observability

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CorrelationType discriminates a Correlation.
type CorrelationType string

const (
	CorrelationMetricSpikeWithErrors CorrelationType = "metric_spike_with_errors"
	CorrelationResourceExhaustion    CorrelationType = "resource_exhaustion"
)

// Correlation is a cross-signal pattern found between metrics and logs.
type Correlation struct {
	Description     string
	MetricNames     []string
	LogSources      []string
	Strength        float64
	TimeWindow      TimeRange
	CorrelationType CorrelationType
}

func (c Correlation) isStrong() bool { return c.Strength >= 0.7 }

// CorrelatorConfig tunes spike detection and correlation strength.
type CorrelatorConfig struct {
	TimeToleranceSeconds    int64
	MinCorrelationStrength  float64
	SpikeThresholdPercent   float64
}

// DefaultCorrelatorConfig matches original_source's defaults.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		TimeToleranceSeconds:   60,
		MinCorrelationStrength: 0.5,
		SpikeThresholdPercent:  50.0,
	}
}

// CorrelateMetricsLogs finds metric spikes that coincide with error logs
// within the tolerance window, plus a resource-exhaustion correlation when
// a high-memory sample coincides with OOM-vocabulary errors.
func CorrelateMetricsLogs(metrics []MetricPoint, logs []LogEntry, window TimeRange, cfg CorrelatorConfig) []Correlation {
	var relevantMetrics []MetricPoint
	for _, m := range metrics {
		if window.contains(m.Timestamp) {
			relevantMetrics = append(relevantMetrics, m)
		}
	}
	var errorLogs []LogEntry
	for _, l := range logs {
		if window.contains(l.Timestamp) && l.isError() {
			errorLogs = append(errorLogs, l)
		}
	}
	if len(relevantMetrics) == 0 || len(errorLogs) == 0 {
		return nil
	}

	var correlations []Correlation
	tolerance := time.Duration(cfg.TimeToleranceSeconds) * time.Second

	for _, spike := range detectMetricSpikes(relevantMetrics, cfg) {
		spikeStart := spike.timestamp.Add(-tolerance)
		spikeEnd := spike.timestamp.Add(tolerance)

		var concurrent []LogEntry
		for _, l := range errorLogs {
			if !l.Timestamp.Before(spikeStart) && !l.Timestamp.After(spikeEnd) {
				concurrent = append(concurrent, l)
			}
		}
		if len(concurrent) == 0 {
			continue
		}

		strength := correlationStrength(len(concurrent), len(errorLogs))
		if strength < cfg.MinCorrelationStrength {
			continue
		}

		corr := Correlation{
			Description: fmt.Sprintf("Spike in %s (%.1f%% increase) coincides with %d error(s)", spike.name, spike.changePercent, len(concurrent)),
			MetricNames: []string{spike.name},
			Strength:    strength,
			TimeWindow:  window,
			CorrelationType: CorrelationMetricSpikeWithErrors,
		}
		seen := map[string]bool{}
		for _, l := range concurrent {
			if l.Source == "" || seen[l.Source] {
				continue
			}
			seen[l.Source] = true
			corr.LogSources = append(corr.LogSources, l.Source)
		}
		correlations = append(correlations, corr)
	}

	if exhaustion := detectResourceExhaustion(relevantMetrics, errorLogs, window); exhaustion != nil {
		correlations = append(correlations, *exhaustion)
	}

	return correlations
}

type metricSpike struct {
	name          string
	timestamp     time.Time
	changePercent float64
}

func detectMetricSpikes(metrics []MetricPoint, cfg CorrelatorConfig) []metricSpike {
	grouped := make(map[string][]MetricPoint)
	for _, m := range metrics {
		grouped[m.Name] = append(grouped[m.Name], m)
	}

	var spikes []metricSpike
	for name, points := range grouped {
		if len(points) < 2 {
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
		for i := 0; i < len(points)-1; i++ {
			prev, curr := points[i], points[i+1]
			if prev.Value <= 0 {
				continue
			}
			changePercent := ((curr.Value - prev.Value) / prev.Value) * 100
			if changePercent >= cfg.SpikeThresholdPercent {
				spikes = append(spikes, metricSpike{name: name, timestamp: curr.Timestamp, changePercent: changePercent})
			}
		}
	}
	return spikes
}

func correlationStrength(concurrentCount, totalCount int) float64 {
	if totalCount == 0 {
		return 0
	}
	proportion := float64(concurrentCount) / float64(totalCount)
	strength := proportion*0.8 + 0.2
	if strength > 1.0 {
		return 1.0
	}
	return strength
}

var oomVocabulary = []string{"oom", "out of memory", "memory exhausted", "cannot allocate"}

func detectResourceExhaustion(metrics []MetricPoint, errorLogs []LogEntry, window TimeRange) *Correlation {
	highMemory := false
	for _, m := range metrics {
		name := strings.ToLower(m.Name)
		if (strings.Contains(name, "memory") || strings.Contains(name, "mem")) && m.Value >= 90.0 {
			highMemory = true
			break
		}
	}
	if !highMemory {
		return nil
	}

	oom := false
	for _, l := range errorLogs {
		msg := strings.ToLower(l.Message)
		for _, vocab := range oomVocabulary {
			if strings.Contains(msg, vocab) {
				oom = true
				break
			}
		}
		if oom {
			break
		}
	}
	if !oom {
		return nil
	}

	return &Correlation{
		Description:     "High memory usage correlated with OOM errors",
		MetricNames:     []string{"memory_usage"},
		Strength:        0.9,
		TimeWindow:      window,
		CorrelationType: CorrelationResourceExhaustion,
	}
}

// FindRootCause attributes the most likely cause from a set of symptom
// insights, in priority order: offline > memory-exhaustion > thermal >
// most-severe fallback.
func FindRootCause(symptoms []Insight) *Insight {
	if len(symptoms) == 0 {
		return nil
	}

	for _, s := range symptoms {
		if s.hasTag("offline") || strings.Contains(strings.ToLower(s.Title), "offline") {
			root := newInsight(SeverityCritical, "Root Cause: Node Failure",
				fmt.Sprintf("The primary issue appears to be a node failure. Original insight: %s", s.Title)).
				withEvidence("Node offline or unreachable").
				withEvidenceList(s.Evidence).
				withRecommendation("Investigate node connectivity and health. Check network, power, and hardware status.").
				withTag("root_cause")
			return &root
		}
	}

	for _, s := range symptoms {
		if s.hasTag("memory") && s.Severity == SeverityCritical {
			root := newInsight(SeverityCritical, "Root Cause: Memory Exhaustion",
				fmt.Sprintf("The primary issue appears to be memory exhaustion. Other symptoms may be cascading effects. Original insight: %s", s.Title)).
				withEvidenceList(s.Evidence).
				withRecommendation("Address memory exhaustion first. Scale up memory or identify and terminate memory-intensive processes.").
				withTag("root_cause")
			return &root
		}
	}

	for _, s := range symptoms {
		if s.hasTag("thermal") {
			root := newInsight(SeverityCritical, "Root Cause: Thermal Throttling",
				fmt.Sprintf("GPU thermal throttling detected. Performance degradation may be caused by overheating. Original insight: %s", s.Title)).
				withEvidenceList(s.Evidence).
				withRecommendation("Address cooling issues first. Check GPU fans, airflow, and ambient temperature.").
				withTag("root_cause")
			return &root
		}
	}

	mostSevere := symptoms[0]
	for _, s := range symptoms[1:] {
		if s.Severity > mostSevere.Severity {
			mostSevere = s
		}
	}
	recommendation := mostSevere.Recommendation
	if recommendation == "" {
		recommendation = "Review and address this issue first."
	}
	root := newInsight(mostSevere.Severity, fmt.Sprintf("Likely Root Cause: %s", mostSevere.Title),
		fmt.Sprintf("Based on severity analysis, this appears to be the primary issue: %s", mostSevere.Description)).
		withEvidenceList(mostSevere.Evidence).
		withRecommendation(recommendation).
		withTag("root_cause")
	return &root
}

// TimelineEvent is one chronological entry built by BuildTimeline.
type TimelineEvent struct {
	Timestamp   time.Time
	EventType   string // "metric_threshold_exceeded", "metric_normalized", "error_logged", "warning_logged"
	Description string
	Severity    string // "low", "medium", "high", "critical"
	Source      string
	Value       *float64
}

// BuildTimeline merges significant metric events, error/warning logs, and
// synthetic normalization events into one chronologically-sorted timeline.
func BuildTimeline(metrics []MetricPoint, logs []LogEntry) []TimelineEvent {
	var events []TimelineEvent

	for _, m := range metrics {
		if !isSignificantMetric(m) {
			continue
		}
		v := m.Value
		events = append(events, TimelineEvent{
			Timestamp:   m.Timestamp,
			EventType:   "metric_threshold_exceeded",
			Description: fmt.Sprintf("%s: %.2f", m.Name, m.Value),
			Severity:    metricToSeverity(m),
			Source:      m.Name,
			Value:       &v,
		})
	}

	for _, l := range logs {
		var eventType, severity string
		switch l.Level {
		case LogError:
			eventType, severity = "error_logged", "high"
		case LogWarn:
			eventType, severity = "warning_logged", "medium"
		default:
			continue
		}
		source := l.Source
		if source == "" {
			source = "unknown"
		}
		events = append(events, TimelineEvent{
			Timestamp:   l.Timestamp,
			EventType:   eventType,
			Description: l.Message,
			Severity:    severity,
			Source:      source,
		})
	}

	events = append(events, stateChangeEvents(metrics)...)

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events
}

func isSignificantMetric(m MetricPoint) bool {
	name := strings.ToLower(m.Name)
	switch {
	case strings.Contains(name, "temperature") || strings.Contains(name, "temp"):
		return m.Value >= 80.0
	case strings.Contains(name, "memory") || strings.Contains(name, "mem"):
		return m.Value >= 85.0
	case strings.Contains(name, "cpu"):
		return m.Value >= 90.0
	case strings.Contains(name, "disk") || strings.Contains(name, "storage"):
		return m.Value >= 90.0
	default:
		return m.Value >= 90.0
	}
}

func metricToSeverity(m MetricPoint) string {
	switch {
	case m.Value >= 95.0:
		return "critical"
	case m.Value >= 90.0:
		return "high"
	case m.Value >= 80.0:
		return "medium"
	default:
		return "low"
	}
}

func stateChangeEvents(metrics []MetricPoint) []TimelineEvent {
	grouped := make(map[string][]MetricPoint)
	for _, m := range metrics {
		grouped[m.Name] = append(grouped[m.Name], m)
	}

	var events []TimelineEvent
	for name, points := range grouped {
		if len(points) < 2 {
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
		for i := 0; i < len(points)-1; i++ {
			prev, curr := points[i], points[i+1]
			if isSignificantMetric(prev) && !isSignificantMetric(curr) {
				events = append(events, TimelineEvent{
					Timestamp:   curr.Timestamp,
					EventType:   "metric_normalized",
					Description: fmt.Sprintf("%s returned to normal: %.2f -> %.2f", name, prev.Value, curr.Value),
					Severity:    "low",
					Source:      name,
				})
			}
		}
	}
	return events
}
