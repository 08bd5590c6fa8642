package rollback

import (
	"fmt"
	"strings"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// AnalysisConfig tunes the thresholds and keyword vocabularies the
// FailureAnalyzer scores deployment failures against.
type AnalysisConfig struct {
	HighErrorRateThreshold float64
	HighMemoryThreshold    float64
	HighCPUThreshold       float64
	ConfigErrorKeywords    []string
	DependencyKeywords     []string
	CodeBugKeywords        []string
}

// DefaultAnalysisConfig matches original_source's defaults.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		HighErrorRateThreshold: 10.0,
		HighMemoryThreshold:    90.0,
		HighCPUThreshold:       95.0,
		ConfigErrorKeywords: []string{
			"config", "configuration", "environment", "env", "secret",
			"key", "missing", "invalid", "undefined",
		},
		DependencyKeywords: []string{
			"connection", "timeout", "refused", "unreachable", "database",
			"redis", "kafka", "api", "service", "upstream", "downstream",
		},
		CodeBugKeywords: []string{
			"null", "undefined", "panic", "exception", "error", "stack",
			"trace", "assertion", "failed",
		},
	}
}

// RollbackLogEntry is one log line consulted by the failure analyzer.
type RollbackLogEntry struct {
	Level   types.RollbackLogLevel
	Message string
}

type categoryScores struct {
	configError         float64
	resourceExhaustion  float64
	dependencyFailure   float64
	codeBug             float64
}

func (s categoryScores) highest() types.FailureCategory {
	max := s.configError
	if s.resourceExhaustion > max {
		max = s.resourceExhaustion
	}
	if s.dependencyFailure > max {
		max = s.dependencyFailure
	}
	if s.codeBug > max {
		max = s.codeBug
	}
	if max == 0 {
		return types.CategoryUnknown
	}

	const epsilon = 0.001
	switch {
	case abs(s.configError-max) < epsilon:
		return types.CategoryConfigError
	case abs(s.resourceExhaustion-max) < epsilon:
		return types.CategoryResourceExhaustion
	case abs(s.dependencyFailure-max) < epsilon:
		return types.CategoryDependencyFailure
	case abs(s.codeBug-max) < epsilon:
		return types.CategoryCodeBug
	default:
		return types.CategoryUnknown
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// FailureAnalyzer scores a deployment failure across four categories and
// attributes it to the highest-scoring one.
type FailureAnalyzer struct {
	config AnalysisConfig
}

// NewFailureAnalyzer builds a FailureAnalyzer with the default configuration.
func NewFailureAnalyzer() *FailureAnalyzer {
	return &FailureAnalyzer{config: DefaultAnalysisConfig()}
}

// NewFailureAnalyzerWithConfig builds a FailureAnalyzer with custom configuration.
func NewFailureAnalyzerWithConfig(cfg AnalysisConfig) *FailureAnalyzer {
	return &FailureAnalyzer{config: cfg}
}

// AnalyzeFailure scores snapshot/metrics/logs across the four failure
// categories and returns the highest-scoring one with supporting evidence
// (capped at 5 entries, each truncated to 100 characters).
func (a *FailureAnalyzer) AnalyzeFailure(snapshot types.DeploymentSnapshot, metrics types.DeploymentMetrics, logs []RollbackLogEntry) types.FailureAnalysis {
	var evidence []string
	var scores categoryScores

	a.analyzeMetrics(metrics, &evidence, &scores)
	a.analyzeLogs(logs, &evidence, &scores)
	a.analyzeConfig(snapshot, &evidence, &scores)

	category := scores.highest()
	description, recommendation := a.generateAnalysis(category, evidence, snapshot)

	if len(evidence) > 5 {
		evidence = evidence[:5]
	}

	return types.FailureAnalysis{
		Category:       category,
		Description:    description,
		Recommendation: recommendation,
		Evidence:       evidence,
		Scores: map[types.FailureCategory]int{
			types.CategoryConfigError:        int(scores.configError),
			types.CategoryResourceExhaustion: int(scores.resourceExhaustion),
			types.CategoryDependencyFailure:  int(scores.dependencyFailure),
			types.CategoryCodeBug:            int(scores.codeBug),
		},
	}
}

func (a *FailureAnalyzer) analyzeMetrics(m types.DeploymentMetrics, evidence *[]string, scores *categoryScores) {
	if m.MemoryUtilizationPercent > a.config.HighMemoryThreshold {
		*evidence = append(*evidence, fmt.Sprintf("High memory utilization: %.1f%%", m.MemoryUtilizationPercent))
		scores.resourceExhaustion += 2.0
	}
	if m.CPUUtilizationPercent > a.config.HighCPUThreshold {
		*evidence = append(*evidence, fmt.Sprintf("High CPU utilization: %.1f%%", m.CPUUtilizationPercent))
		scores.resourceExhaustion += 2.0
	}
	if m.ErrorRatePercent > a.config.HighErrorRateThreshold {
		*evidence = append(*evidence, fmt.Sprintf("High error rate: %.1f%%", m.ErrorRatePercent))
		scores.codeBug += 1.0
	}
	if m.HealthCheckFailures > 0 {
		*evidence = append(*evidence, fmt.Sprintf("Health check failures: %d", m.HealthCheckFailures))
		if m.HealthCheckFailures >= 3 {
			scores.dependencyFailure += 1.0
		}
	}
	if m.P99LatencyMs > 0 && m.P50LatencyMs > 0 {
		ratio := m.P99LatencyMs / m.P50LatencyMs
		if ratio > 10.0 {
			*evidence = append(*evidence, fmt.Sprintf("Latency spike: P99 (%.0fms) is %.1fx P50 (%.0fms)", m.P99LatencyMs, ratio, m.P50LatencyMs))
			scores.dependencyFailure += 1.0
		}
	}
}

func (a *FailureAnalyzer) analyzeLogs(logs []RollbackLogEntry, evidence *[]string, scores *categoryScores) {
	errorCount := 0
	for _, l := range logs {
		if l.Level == types.LogLevelError {
			errorCount++
		}
	}
	if errorCount > 0 {
		*evidence = append(*evidence, fmt.Sprintf("Found %d error log entries", errorCount))
	}

	for _, l := range logs {
		messageLower := strings.ToLower(l.Message)

		if containsAny(messageLower, a.config.ConfigErrorKeywords) {
			scores.configError += 1.0
			if l.Level == types.LogLevelError {
				scores.configError += 0.5
			}
		}
		if containsAny(messageLower, a.config.DependencyKeywords) {
			scores.dependencyFailure += 1.0
			if l.Level == types.LogLevelError {
				scores.dependencyFailure += 0.5
			}
		}
		if containsAny(messageLower, a.config.CodeBugKeywords) && l.Level == types.LogLevelError {
			scores.codeBug += 1.0
		}

		if l.Level == types.LogLevelError && len(*evidence) < 5 {
			*evidence = append(*evidence, "Error log: "+truncate(l.Message, 100))
		}
	}
}

func (a *FailureAnalyzer) analyzeConfig(snapshot types.DeploymentSnapshot, evidence *[]string, scores *categoryScores) {
	suspicious := 0
	for key, value := range snapshot.Spec.Env {
		if value == "" || strings.HasPrefix(value, "${") || value == "null" || value == "undefined" || value == "TODO" {
			*evidence = append(*evidence, fmt.Sprintf("Suspicious env var: %s=%s", key, value))
			suspicious++
		}
	}
	if suspicious > 0 {
		scores.configError += float64(suspicious)
	}

	if snapshot.Spec.ResourceLimit.MemoryMiB < 128 {
		*evidence = append(*evidence, "Low memory limit: <128MB")
		scores.resourceExhaustion += 0.5
	}
	if snapshot.Spec.ResourceLimit.CPULimit < 0.1 {
		*evidence = append(*evidence, "Low CPU limit: <100m")
		scores.resourceExhaustion += 0.5
	}
}

func (a *FailureAnalyzer) generateAnalysis(category types.FailureCategory, evidence []string, snapshot types.DeploymentSnapshot) (string, string) {
	switch category {
	case types.CategoryConfigError:
		return fmt.Sprintf("Configuration issue detected in deployment '%s'", snapshot.Spec.Name),
			"Review environment variables and configuration. Check for missing secrets or invalid values."
	case types.CategoryResourceExhaustion:
		return fmt.Sprintf("Resource exhaustion detected in deployment '%s'", snapshot.Spec.Name),
			fmt.Sprintf("Consider increasing resource limits. Current: %.2f CPU, %dMiB memory", snapshot.Spec.ResourceLimit.CPULimit, snapshot.Spec.ResourceLimit.MemoryMiB)
	case types.CategoryDependencyFailure:
		return fmt.Sprintf("Dependency failure detected affecting deployment '%s'", snapshot.Spec.Name),
			"Check connectivity to dependent services (databases, APIs, message queues). Verify network policies and service endpoints."
	case types.CategoryCodeBug:
		return fmt.Sprintf("Potential code bug detected in deployment '%s'", snapshot.Spec.Name),
			"Review recent code changes. Check error logs for stack traces and exceptions. Consider rolling back to a known-good version."
	default:
		if len(evidence) == 0 {
			return fmt.Sprintf("Unable to determine root cause for deployment '%s'", snapshot.Spec.Name),
				"Insufficient data for analysis. Enable detailed logging and monitoring."
		}
		return fmt.Sprintf("Inconclusive analysis for deployment '%s'", snapshot.Spec.Name),
			"Multiple potential causes identified. Manual investigation recommended."
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
