package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mp(name string, value float64, t time.Time, labels map[string]string) MetricPoint {
	return MetricPoint{Name: name, Value: value, Timestamp: t, Labels: labels}
}

func TestDetectGPUThermalThrottle(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	metrics := []MetricPoint{
		mp("gpu_temperature", 70, now, map[string]string{"gpu_id": "0"}),
		mp("gpu_temperature", 92, now.Add(time.Second), map[string]string{"gpu_id": "1"}),
	}
	insight := DetectGPUThermalThrottle(metrics, cfg)
	require.NotNil(t, insight)
	assert.Equal(t, SeverityCritical, insight.Severity)
	assert.Contains(t, insight.Evidence[0], "GPU 1")

	cool := []MetricPoint{mp("gpu_temperature", 60, now, nil)}
	assert.Nil(t, DetectGPUThermalThrottle(cool, cfg))
}

func TestDetectMemoryPressureSeverity(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	warn := []MetricPoint{mp("memory_usage_percent", 91, now, nil)}
	insight := DetectMemoryPressure(warn, cfg)
	require.NotNil(t, insight)
	assert.Equal(t, SeverityWarning, insight.Severity)

	crit := []MetricPoint{
		mp("memory_usage_percent", 91, now, nil),
		mp("memory_usage_percent", 96, now.Add(time.Second), nil),
	}
	insight = DetectMemoryPressure(crit, cfg)
	require.NotNil(t, insight)
	assert.Equal(t, SeverityCritical, insight.Severity)

	assert.Nil(t, DetectMemoryPressure([]MetricPoint{mp("memory_usage_percent", 10, now, nil)}, cfg))
}

func TestDetectErrorSpikeCriticalAtDoubleThreshold(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	var logs []LogEntry
	for i := 0; i < 25; i++ {
		logs = append(logs, LogEntry{Level: LogError, Message: "boom", Timestamp: now.Add(time.Duration(i) * time.Second), Source: "svc"})
	}
	insight := DetectErrorSpike(logs, cfg)
	require.NotNil(t, insight)
	assert.Equal(t, SeverityCritical, insight.Severity)

	assert.Nil(t, DetectErrorSpike(nil, cfg))
}

func TestDetectPerformanceDegradationThroughputDrop(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	metrics := []MetricPoint{
		mp("requests_per_second", 1000, now, nil),
		mp("requests_per_second", 1000, now.Add(time.Minute), nil),
		mp("requests_per_second", 400, now.Add(2*time.Minute), nil),
		mp("requests_per_second", 400, now.Add(3*time.Minute), nil),
	}
	insight := DetectPerformanceDegradation(metrics, cfg)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Title, "Throughput")
}

func TestDetectPerformanceDegradationLatencyIncrease(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	metrics := []MetricPoint{
		mp("response_time_ms", 100, now, nil),
		mp("response_time_ms", 100, now.Add(time.Minute), nil),
		mp("response_time_ms", 400, now.Add(2*time.Minute), nil),
		mp("response_time_ms", 400, now.Add(3*time.Minute), nil),
	}
	insight := DetectPerformanceDegradation(metrics, cfg)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Title, "Latency")
}

func TestDetectNodeOfflineNoMetricsVsStale(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()

	assert.NotNil(t, DetectNodeOffline(nil, "node-1", cfg, now))

	fresh := []MetricPoint{mp("cpu", 10, now, map[string]string{"node_id": "node-1"})}
	assert.Nil(t, DetectNodeOffline(fresh, "node-1", cfg, now))

	stale := []MetricPoint{mp("cpu", 10, now.Add(-5*time.Minute), map[string]string{"node_id": "node-1"})}
	insight := DetectNodeOffline(stale, "node-1", cfg, now)
	require.NotNil(t, insight)
	assert.Contains(t, insight.Title, "Stale")
}

func TestCorrelateMetricsLogsSpikeWithErrors(t *testing.T) {
	now := time.Now()
	window := TimeRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	cfg := DefaultCorrelatorConfig()

	metrics := []MetricPoint{
		mp("queue_depth", 10, now, nil),
		mp("queue_depth", 50, now.Add(time.Second), nil),
	}
	logs := []LogEntry{
		{Level: LogError, Message: "timeout", Timestamp: now.Add(2 * time.Second), Source: "svc-a"},
		{Level: LogError, Message: "timeout", Timestamp: now.Add(3 * time.Second), Source: "svc-a"},
	}

	correlations := CorrelateMetricsLogs(metrics, logs, window, cfg)
	require.Len(t, correlations, 1)
	assert.Equal(t, CorrelationMetricSpikeWithErrors, correlations[0].CorrelationType)
	assert.Contains(t, correlations[0].LogSources, "svc-a")
}

func TestCorrelateMetricsLogsResourceExhaustion(t *testing.T) {
	now := time.Now()
	window := TimeRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	cfg := DefaultCorrelatorConfig()

	metrics := []MetricPoint{mp("memory_usage_percent", 95, now, nil)}
	logs := []LogEntry{{Level: LogError, Message: "cannot allocate memory", Timestamp: now, Source: "svc-b"}}

	correlations := CorrelateMetricsLogs(metrics, logs, window, cfg)
	found := false
	for _, c := range correlations {
		if c.CorrelationType == CorrelationResourceExhaustion {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCorrelateMetricsLogsNoSignal(t *testing.T) {
	now := time.Now()
	window := TimeRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	assert.Empty(t, CorrelateMetricsLogs(nil, nil, window, DefaultCorrelatorConfig()))
}

func TestFindRootCausePrioritizesOffline(t *testing.T) {
	symptoms := []Insight{
		newInsight(SeverityCritical, "Memory Pressure Detected", "high memory").withTag("memory"),
		newInsight(SeverityCritical, "Node Offline - Stale Metrics", "node gone").withTag("offline"),
	}
	root := FindRootCause(symptoms)
	require.NotNil(t, root)
	assert.Contains(t, root.Title, "Node Failure")
	assert.True(t, root.hasTag("root_cause"))
}

func TestFindRootCauseFallsBackToMostSevere(t *testing.T) {
	symptoms := []Insight{
		newInsight(SeverityWarning, "Latency Increase Detected", "slow"),
		newInsight(SeverityError, "Error Spike Detected", "errors"),
	}
	root := FindRootCause(symptoms)
	require.NotNil(t, root)
	assert.Contains(t, root.Title, "Error Spike Detected")
}

func TestFindRootCauseEmpty(t *testing.T) {
	assert.Nil(t, FindRootCause(nil))
}

func TestBuildTimelineOrdersChronologicallyAndMarksNormalization(t *testing.T) {
	now := time.Now()
	metrics := []MetricPoint{
		mp("cpu_usage_percent", 95, now, nil),
		mp("cpu_usage_percent", 10, now.Add(time.Minute), nil),
	}
	logs := []LogEntry{
		{Level: LogError, Message: "failure", Timestamp: now.Add(30 * time.Second), Source: "svc"},
	}

	timeline := BuildTimeline(metrics, logs)
	require.Len(t, timeline, 3)
	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i].Timestamp.Before(timeline[i-1].Timestamp))
	}

	hasNormalized := false
	for _, e := range timeline {
		if e.EventType == "metric_normalized" {
			hasNormalized = true
		}
	}
	assert.True(t, hasNormalized)
}

func TestAnalyzerAnalyzeNodeRollsUpToCritical(t *testing.T) {
	now := time.Now()
	analyzer := NewAnalyzer(DefaultAnalyzerConfig())

	metrics := []MetricPoint{
		mp("gpu_temperature", 95, now, map[string]string{"gpu_id": "0", "node_id": "node-1"}),
	}
	result := analyzer.AnalyzeNode("node-1", metrics, nil, now)
	assert.Equal(t, HealthCritical, result.Diagnosis.Status)
	assert.NotEmpty(t, result.Diagnosis.Insights)
	require.NotNil(t, result.RootCause)
}

func TestAnalyzerAnalyzeNodeHealthyWithNoSignal(t *testing.T) {
	now := time.Now()
	analyzer := NewAnalyzer(DefaultAnalyzerConfig())

	metrics := []MetricPoint{mp("gpu_temperature", 50, now, map[string]string{"node_id": "node-1"})}
	result := analyzer.AnalyzeNode("node-1", metrics, nil, now)
	assert.Equal(t, HealthHealthy, result.Diagnosis.Status)
	assert.Nil(t, result.RootCause)
}

func TestAnalyzerAnalyzeClusterDetectsClusterWideOffline(t *testing.T) {
	now := time.Now()
	analyzer := NewAnalyzer(DefaultAnalyzerConfig())

	nodeMetrics := map[string][]MetricPoint{
		"node-1": nil,
		"node-2": nil,
		"node-3": {mp("cpu", 10, now, map[string]string{"node_id": "node-3"})},
	}
	result := analyzer.AnalyzeCluster(nodeMetrics, nil, now)
	assert.Equal(t, HealthCritical, result.Diagnosis.Status)

	hasClusterWide := false
	for _, i := range result.Diagnosis.Insights {
		if i.hasTag("cluster") {
			hasClusterWide = true
		}
	}
	assert.True(t, hasClusterWide)
}

func TestAnalyzerQuickCheck(t *testing.T) {
	now := time.Now()
	analyzer := NewAnalyzer(DefaultAnalyzerConfig())

	status := analyzer.QuickCheck([]MetricPoint{mp("memory_usage_percent", 10, now, nil)}, nil)
	assert.Equal(t, HealthHealthy, status)

	status = analyzer.QuickCheck([]MetricPoint{mp("memory_usage_percent", 96, now, nil)}, nil)
	assert.Equal(t, HealthCritical, status)
}
