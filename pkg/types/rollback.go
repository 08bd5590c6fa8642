package types

import "time"

// DeploymentSpec is the immutable application configuration of a snapshot.
type DeploymentSpec struct {
	Name          string
	Image         string
	Replicas      int
	Env           map[string]string
	ResourceLimit ResourceRequirements
}

// ResourceRequirements bounds a deployment's per-replica resource use.
type ResourceRequirements struct {
	CPULimit    float64
	MemoryMiB   int64
}

// DeploymentSnapshot is one recorded version of a deployment.
type DeploymentSnapshot struct {
	ID              DeploymentID
	Spec            DeploymentSpec
	Timestamp       time.Time
	MetricsAtDeploy DeploymentMetrics
}

// DeploymentMetrics is the broader metric set the failure analyzer
// reasons over, captured at or around deployment time.
type DeploymentMetrics struct {
	ErrorRatePercent         float64
	P50LatencyMs             float64
	P99LatencyMs             float64
	RequestsPerSecond        float64
	CPUUtilizationPercent    float64
	MemoryUtilizationPercent float64
	HealthCheckFailures      int
	Custom                   map[string]float64
}

// RollbackLogLevel is a log entry's severity, as consulted by the
// failure analyzer.
type RollbackLogLevel string

const (
	LogLevelTrace RollbackLogLevel = "trace"
	LogLevelDebug RollbackLogLevel = "debug"
	LogLevelInfo  RollbackLogLevel = "info"
	LogLevelWarn  RollbackLogLevel = "warn"
	LogLevelError RollbackLogLevel = "error"
)

// TriggerKind discriminates RollbackTrigger.
type TriggerKind string

const (
	TriggerManual      TriggerKind = "manual"
	TriggerErrorRate   TriggerKind = "error_rate"
	TriggerLatency     TriggerKind = "latency"
	TriggerHealthCheck TriggerKind = "health_check"
	TriggerCustom      TriggerKind = "custom"
)

// RollbackTrigger is what caused a rollback plan to be created.
type RollbackTrigger struct {
	Kind             TriggerKind
	ErrorRateThreshold float64
	LatencyMs        int
	FailedChecks     int
	Reason           string
}

// StrategyKind discriminates RollbackStrategy.
type StrategyKind string

const (
	StrategyImmediate StrategyKind = "immediate"
	StrategyRolling   StrategyKind = "rolling"
	StrategyBlueGreen StrategyKind = "blue_green"
	StrategyCanary    StrategyKind = "canary"
)

// RollbackStrategy is how a RollbackPlan is executed.
type RollbackStrategy struct {
	Kind StrategyKind

	// Rolling
	BatchSize int

	// Canary
	InitialPercent int
	Increment      int
}

// RollbackPlan describes moving a deployment from one snapshot to another.
type RollbackPlan struct {
	ID       RollbackID
	From     DeploymentID
	To       DeploymentID
	Trigger  RollbackTrigger
	Strategy RollbackStrategy
	DryRun   bool
	Validate bool
}

// RollbackResult is the outcome of executing a RollbackPlan.
type RollbackResult struct {
	Success     bool
	Duration    time.Duration
	RootCause   *FailureAnalysis
	CompletedAt time.Time
	Details     string
}

// FailureCategory is the failure analyzer's verdict bucket.
type FailureCategory string

const (
	CategoryConfigError         FailureCategory = "config_error"
	CategoryResourceExhaustion  FailureCategory = "resource_exhaustion"
	CategoryDependencyFailure   FailureCategory = "dependency_failure"
	CategoryCodeBug             FailureCategory = "code_bug"
	CategoryUnknown             FailureCategory = "unknown"
)

// FailureAnalysis is the failure analyzer's output.
type FailureAnalysis struct {
	Category       FailureCategory
	Description    string
	Recommendation string
	Evidence       []string
	Scores         map[FailureCategory]int
}
