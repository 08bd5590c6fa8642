package observability

import (
	"time"
)

// AnalyzerConfig bundles the detector and correlator tuning an Analyzer
// evaluates with.
type AnalyzerConfig struct {
	Detectors   DetectorConfig
	Correlator  CorrelatorConfig
	WindowWidth time.Duration
}

// DefaultAnalyzerConfig matches the detector/correlator defaults with a
// 15-minute analysis window.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Detectors:   DefaultDetectorConfig(),
		Correlator:  DefaultCorrelatorConfig(),
		WindowWidth: 15 * time.Minute,
	}
}

// AnalysisResult is the full output of one analyzer pass: the rolled-up
// diagnosis, the correlations found, and the reconstructed timeline.
type AnalysisResult struct {
	Diagnosis     Diagnosis
	Correlations  []Correlation
	Timeline      []TimelineEvent
	RootCause     *Insight
}

// Analyzer composes the pure detectors and correlator into diagnoses for
// nodes, workloads, and whole clusters. It holds only configuration.
type Analyzer struct {
	cfg AnalyzerConfig
}

// NewAnalyzer builds an Analyzer from the given configuration.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) window(now time.Time) TimeRange {
	return TimeRange{Start: now.Add(-a.cfg.WindowWidth), End: now}
}

// AnalyzeNode runs every detector against one node's metrics/logs,
// correlates, finds a root cause, and rolls the result up into a
// Diagnosis.
func (a *Analyzer) AnalyzeNode(nodeID string, metrics []MetricPoint, logs []LogEntry, now time.Time) AnalysisResult {
	start := now
	window := a.window(now)

	insights := RunAllDetectors(metrics, logs, a.cfg.Detectors)
	if offline := DetectNodeOffline(metrics, nodeID, a.cfg.Detectors, now); offline != nil {
		insights = append(insights, *offline)
	}

	correlations := CorrelateMetricsLogs(metrics, logs, window, a.cfg.Correlator)
	timeline := BuildTimeline(metrics, logs)
	rootCause := FindRootCause(insights)

	diagnosis := Diagnosis{
		Status:     computeStatus(insights),
		Subject:    nodeID,
		Insights:   insights,
		DurationMs: now.Sub(start).Milliseconds(),
	}

	return AnalysisResult{Diagnosis: diagnosis, Correlations: correlations, Timeline: timeline, RootCause: rootCause}
}

// AnalyzeWorkload runs the detectors relevant to a single workload
// (everything except node-offline, which has no meaning at workload
// scope) and rolls the result up into a Diagnosis.
func (a *Analyzer) AnalyzeWorkload(workloadID string, metrics []MetricPoint, logs []LogEntry, now time.Time) AnalysisResult {
	window := a.window(now)

	insights := RunAllDetectors(metrics, logs, a.cfg.Detectors)
	correlations := CorrelateMetricsLogs(metrics, logs, window, a.cfg.Correlator)
	timeline := BuildTimeline(metrics, logs)
	rootCause := FindRootCause(insights)

	diagnosis := Diagnosis{
		Status:   computeStatus(insights),
		Subject:  workloadID,
		Insights: insights,
	}

	return AnalysisResult{Diagnosis: diagnosis, Correlations: correlations, Timeline: timeline, RootCause: rootCause}
}

// AnalyzeCluster runs per-node analysis across every node in the
// cluster plus cluster-wide insights (detected from the merged metric
// and log stream), and rolls everything into one Diagnosis.
func (a *Analyzer) AnalyzeCluster(nodeMetrics map[string][]MetricPoint, logs []LogEntry, now time.Time) AnalysisResult {
	window := a.window(now)

	var allMetrics []MetricPoint
	var insights []Insight
	for nodeID, metrics := range nodeMetrics {
		allMetrics = append(allMetrics, metrics...)
		nodeInsights := RunAllDetectors(metrics, logs, a.cfg.Detectors)
		if offline := DetectNodeOffline(metrics, nodeID, a.cfg.Detectors, now); offline != nil {
			nodeInsights = append(nodeInsights, *offline)
		}
		insights = append(insights, nodeInsights...)
	}
	insights = append(insights, detectClusterWideIssues(nodeMetrics, now)...)

	correlations := CorrelateMetricsLogs(allMetrics, logs, window, a.cfg.Correlator)
	timeline := BuildTimeline(allMetrics, logs)
	rootCause := FindRootCause(insights)

	diagnosis := Diagnosis{
		Status:   computeStatus(insights),
		Subject:  "cluster",
		Insights: insights,
	}

	return AnalysisResult{Diagnosis: diagnosis, Correlations: correlations, Timeline: timeline, RootCause: rootCause}
}

// QuickCheck runs only the cheap detectors (no correlation or timeline
// construction) for a fast health signal.
func (a *Analyzer) QuickCheck(metrics []MetricPoint, logs []LogEntry) HealthStatus {
	insights := RunAllDetectors(metrics, logs, a.cfg.Detectors)
	return computeStatus(insights)
}

// detectClusterWideIssues flags a problem that's present on more than half
// of the cluster's nodes as a single cluster-wide insight, rather than
// letting it show up only as N separate per-node insights.
func detectClusterWideIssues(nodeMetrics map[string][]MetricPoint, now time.Time) []Insight {
	total := len(nodeMetrics)
	if total == 0 {
		return nil
	}

	offlineCount := 0
	for nodeID, metrics := range nodeMetrics {
		if DetectNodeOffline(metrics, nodeID, DefaultDetectorConfig(), now) != nil {
			offlineCount++
		}
	}
	if offlineCount*2 <= total {
		return nil
	}

	insight := newInsight(SeverityCritical, "Cluster-wide: Multiple Nodes Offline",
		"More than half of the cluster's nodes are offline or unreachable. This may indicate a network partition or control-plane issue rather than isolated node failures.").
		withRecommendation("Check network connectivity between the gateway and nodes, and control-plane health, before investigating individual nodes.").
		withTag("cluster").withTag("offline")
	return []Insight{insight}
}

// computeStatus rolls a set of insights up to the coarse HealthStatus the
// maximum severity implies: no insights (or Info-only) is Healthy,
// Warning is Degraded, Error/Critical is Critical.
func computeStatus(insights []Insight) HealthStatus {
	if len(insights) == 0 {
		return HealthHealthy
	}
	max := SeverityInfo
	for _, i := range insights {
		if i.Severity > max {
			max = i.Severity
		}
	}
	switch {
	case max >= SeverityError:
		return HealthCritical
	case max == SeverityWarning:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
