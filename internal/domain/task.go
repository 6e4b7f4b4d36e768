package domain

import "time"

// Task is one unit of planned work inside an agent's plan version
type Task struct {
	ID          string
	Title       string
	Description string
	Type        string
	Status      TaskStatus
	Files       []string
	DependsOn   []string
	Labels      []string

	// Scores computed by the prioritizer, each in [0,100] except
	// TechnicalDebt which goes negative for debt reduction.
	Impact         float64
	Urgency        float64
	Complexity     float64
	BusinessValue  float64
	TechnicalDebt  float64
	Priority       float64
	RiskLevel      RiskLevel
	EstimatedHours float64

	// DependencyLevel in [0,100] reflects how entangled the task is
	// with the rest of the plan (dependency count and depth).
	DependencyLevel float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsReady returns true if the task is pending and all dependencies are
// in the completed set
func (t *Task) IsReady(completed map[string]bool) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// HasLabel reports whether the task carries the given label
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}
