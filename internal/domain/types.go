package domain

// AgentState represents the lifecycle state of an agent
type AgentState string

const (
	StatePlanning   AgentState = "planning"
	StateExecuting  AgentState = "executing"
	StateEvaluating AgentState = "evaluating"
	StateStopped    AgentState = "stopped"
)

// StopReason explains why an agent stopped iterating
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopStalled   StopReason = "stalled"
	StopEscalated StopReason = "escalated"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSuperseded TaskStatus = "superseded"
)

// RiskLevel classifies the risk of a task or of a whole plan
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns an ordering value for risk comparisons (low < critical)
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// Severity grades a conflict or a security finding
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConflictType identifies what two agents are contending over
type ConflictType string

const (
	ConflictFileOverlap        ConflictType = "file_overlap"
	ConflictDependency         ConflictType = "dependency_conflict"
	ConflictResourceContention ConflictType = "resource_contention"
)

// RollbackComplexity estimates how hard undoing the planned work would be
type RollbackComplexity string

const (
	RollbackSimple   RollbackComplexity = "simple"
	RollbackModerate RollbackComplexity = "moderate"
	RollbackComplex  RollbackComplexity = "complex"
)
