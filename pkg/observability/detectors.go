package observability

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DetectorConfig holds the thresholds the pure detector functions evaluate
// against.
type DetectorConfig struct {
	GPUThermalThreshold             float64
	MemoryPressureThreshold         float64
	ErrorSpikeThreshold             float64
	PerformanceDegradationThreshold float64
	OfflineTimeoutSeconds           int64
}

// DefaultDetectorConfig matches the thresholds original_source ships by
// default.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		GPUThermalThreshold:             85.0,
		MemoryPressureThreshold:         90.0,
		ErrorSpikeThreshold:             10.0,
		PerformanceDegradationThreshold: 30.0,
		OfflineTimeoutSeconds:           60,
	}
}

// DetectGPUThermalThrottle reports Critical if the max gpu_temperature
// sample meets or exceeds the threshold.
func DetectGPUThermalThrottle(metrics []MetricPoint, cfg DetectorConfig) *Insight {
	var maxTemp = math.Inf(-1)
	var gpuID string
	found := false
	for _, m := range metrics {
		if m.Name != "gpu_temperature" && m.Name != "gpu.temperature" {
			continue
		}
		found = true
		if m.Value > maxTemp {
			maxTemp = m.Value
			gpuID = m.Labels["gpu_id"]
		}
	}
	if !found || maxTemp < cfg.GPUThermalThreshold {
		return nil
	}
	if gpuID == "" {
		gpuID = "unknown"
	}
	insight := newInsight(SeverityCritical, "GPU Thermal Throttling Detected",
		fmt.Sprintf("GPU temperature (%.1f°C) has exceeded the thermal threshold (%.1f°C). Performance may be degraded due to thermal throttling.", maxTemp, cfg.GPUThermalThreshold)).
		withEvidence(fmt.Sprintf("GPU %s temperature: %.1f°C", gpuID, maxTemp)).
		withEvidence(fmt.Sprintf("Threshold: %.1f°C", cfg.GPUThermalThreshold)).
		withRecommendation("Check GPU cooling, clean dust from heatsinks, ensure adequate airflow, or reduce workload intensity.").
		withTag("gpu").withTag("thermal")
	return &insight
}

var memoryMetricNames = map[string]bool{
	"memory_usage_percent":   true,
	"memory.usage_percent":   true,
	"mem_used_percent":       true,
}

// DetectMemoryPressure reports Warning (or Critical at >=95%) if the latest
// memory usage sample meets or exceeds the threshold.
func DetectMemoryPressure(metrics []MetricPoint, cfg DetectorConfig) *Insight {
	var latest *MetricPoint
	for i := range metrics {
		m := &metrics[i]
		if !memoryMetricNames[m.Name] {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil || latest.Value < cfg.MemoryPressureThreshold {
		return nil
	}
	sev := SeverityWarning
	if latest.Value >= 95.0 {
		sev = SeverityCritical
	}
	insight := newInsight(sev, "Memory Pressure Detected",
		fmt.Sprintf("Memory utilization (%.1f%%) has exceeded the threshold (%.1f%%). System may experience slowdowns or OOM conditions.", latest.Value, cfg.MemoryPressureThreshold)).
		withEvidence(fmt.Sprintf("Current memory usage: %.1f%%", latest.Value)).
		withEvidence(fmt.Sprintf("Threshold: %.1f%%", cfg.MemoryPressureThreshold)).
		withRecommendation("Consider scaling up memory, terminating unused processes, or optimizing memory-intensive workloads.").
		withTag("memory").withTag("resource")
	return &insight
}

// DetectErrorSpike reports Error (or Critical at 2x threshold) if the
// error-log rate over the log window meets or exceeds the threshold.
func DetectErrorSpike(logs []LogEntry, cfg DetectorConfig) *Insight {
	if len(logs) == 0 {
		return nil
	}
	var errorLogs []LogEntry
	minT, maxT := logs[0].Timestamp, logs[0].Timestamp
	for _, l := range logs {
		if l.Timestamp.Before(minT) {
			minT = l.Timestamp
		}
		if l.Timestamp.After(maxT) {
			maxT = l.Timestamp
		}
		if l.isError() {
			errorLogs = append(errorLogs, l)
		}
	}
	if len(errorLogs) == 0 {
		return nil
	}

	minutes := maxT.Sub(minT).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	errorsPerMinute := float64(len(errorLogs)) / minutes
	if errorsPerMinute < cfg.ErrorSpikeThreshold {
		return nil
	}
	sev := SeverityError
	if errorsPerMinute >= cfg.ErrorSpikeThreshold*2 {
		sev = SeverityCritical
	}

	insight := newInsight(sev, "Error Spike Detected",
		fmt.Sprintf("Detected %.1f errors/minute, which exceeds the threshold of %.1f/minute. %d total errors in the analysis window.", errorsPerMinute, cfg.ErrorSpikeThreshold, len(errorLogs))).
		withEvidence(fmt.Sprintf("Error rate: %.1f/minute", errorsPerMinute)).
		withEvidence(fmt.Sprintf("Total errors: %d", len(errorLogs)))

	sampleCount := 3
	if sampleCount > len(errorLogs) {
		sampleCount = len(errorLogs)
	}
	for _, l := range errorLogs[:sampleCount] {
		insight = insight.withEvidence("Sample: " + l.Message)
	}
	insight = insight.withRecommendation("Review error logs to identify the root cause. Check for failing dependencies, misconfigurations, or resource exhaustion.").
		withTag("errors").withTag("logs")
	return &insight
}

// DetectPerformanceDegradation checks throughput-like metrics for a drop
// and latency-like metrics for an increase, first-half vs second-half
// average, returning whichever fires first.
func DetectPerformanceDegradation(metrics []MetricPoint, cfg DetectorConfig) *Insight {
	var throughput, latency []MetricPoint
	for _, m := range metrics {
		name := strings.ToLower(m.Name)
		switch {
		case strings.Contains(name, "throughput") || strings.Contains(name, "requests_per_second") || strings.Contains(name, "ops_per_second"):
			throughput = append(throughput, m)
		case strings.Contains(name, "latency") || strings.Contains(name, "response_time") || strings.Contains(name, "duration"):
			latency = append(latency, m)
		}
	}
	if insight := detectHalfAverageChange(throughput, cfg, true); insight != nil {
		return insight
	}
	return detectHalfAverageChange(latency, cfg, false)
}

func detectHalfAverageChange(metrics []MetricPoint, cfg DetectorConfig, isThroughput bool) *Insight {
	if len(metrics) < 2 {
		return nil
	}
	sorted := append([]MetricPoint(nil), metrics...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	mid := len(sorted) / 2
	firstAvg := average(sorted[:mid])
	secondAvg := average(sorted[mid:])
	if firstAvg <= 0 {
		return nil
	}

	if isThroughput {
		dropPercent := ((firstAvg - secondAvg) / firstAvg) * 100
		if dropPercent < cfg.PerformanceDegradationThreshold {
			return nil
		}
		insight := newInsight(SeverityWarning, "Throughput Degradation Detected",
			fmt.Sprintf("Throughput has decreased by %.1f%% over the analysis window. This may indicate resource contention or system issues.", dropPercent)).
			withEvidence(fmt.Sprintf("Initial throughput: %.2f", firstAvg)).
			withEvidence(fmt.Sprintf("Current throughput: %.2f", secondAvg)).
			withEvidence(fmt.Sprintf("Degradation: %.1f%%", dropPercent)).
			withRecommendation("Check for resource bottlenecks, failing nodes, or increased load. Review recent deployments or configuration changes.").
			withTag("performance").withTag("throughput")
		return &insight
	}

	increasePercent := ((secondAvg - firstAvg) / firstAvg) * 100
	if increasePercent < cfg.PerformanceDegradationThreshold {
		return nil
	}
	insight := newInsight(SeverityWarning, "Latency Increase Detected",
		fmt.Sprintf("Response latency has increased by %.1f%% over the analysis window. This may indicate resource contention or system issues.", increasePercent)).
		withEvidence(fmt.Sprintf("Initial latency: %.2fms", firstAvg)).
		withEvidence(fmt.Sprintf("Current latency: %.2fms", secondAvg)).
		withEvidence(fmt.Sprintf("Increase: %.1f%%", increasePercent)).
		withRecommendation("Check for resource bottlenecks, failing nodes, or increased load. Review recent deployments or configuration changes.").
		withTag("performance").withTag("latency")
	return &insight
}

func average(points []MetricPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// DetectNodeOffline reports Critical if no metrics are present for the
// node, or the newest one is older than the offline timeout.
func DetectNodeOffline(metrics []MetricPoint, nodeID string, cfg DetectorConfig, now time.Time) *Insight {
	var latest *MetricPoint
	for i := range metrics {
		m := &metrics[i]
		if m.Labels["node_id"] != nodeID {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil {
		insight := newInsight(SeverityCritical, "Node Offline - No Metrics",
			fmt.Sprintf("No metrics found for node '%s'. The node may be offline or experiencing connectivity issues.", nodeID)).
			withEvidence("Node ID: " + nodeID).
			withEvidence("No metrics received in analysis window").
			withRecommendation("Check node connectivity, verify the node agent is running, and review network configuration.").
			withTag("node").withTag("offline")
		return &insight
	}

	age := now.Sub(latest.Timestamp)
	threshold := time.Duration(cfg.OfflineTimeoutSeconds) * time.Second
	if age <= threshold {
		return nil
	}
	insight := newInsight(SeverityCritical, "Node Offline - Stale Metrics",
		fmt.Sprintf("Last metric from node '%s' was %d seconds ago, exceeding the offline threshold of %d seconds.", nodeID, int64(age.Seconds()), cfg.OfflineTimeoutSeconds)).
		withEvidence("Node ID: " + nodeID).
		withEvidence(fmt.Sprintf("Last metric: %d seconds ago", int64(age.Seconds()))).
		withEvidence(fmt.Sprintf("Threshold: %d seconds", cfg.OfflineTimeoutSeconds)).
		withRecommendation("Check node connectivity, verify the node agent is running, and review network configuration.").
		withTag("node").withTag("offline")
	return &insight
}

// RunAllDetectors runs the node-agnostic detectors and collects every
// fired insight.
func RunAllDetectors(metrics []MetricPoint, logs []LogEntry, cfg DetectorConfig) []Insight {
	var insights []Insight
	if i := DetectGPUThermalThrottle(metrics, cfg); i != nil {
		insights = append(insights, *i)
	}
	if i := DetectMemoryPressure(metrics, cfg); i != nil {
		insights = append(insights, *i)
	}
	if i := DetectErrorSpike(logs, cfg); i != nil {
		insights = append(insights, *i)
	}
	if i := DetectPerformanceDegradation(metrics, cfg); i != nil {
		insights = append(insights, *i)
	}
	return insights
}
