package domain

import "time"

// ProjectContext carries the team and repository signals the prioritizer
// scores against. Missing fields degrade to neutral defaults rather than
// erroring; a degraded ranking beats a blocked loop.
type ProjectContext struct {
	// Deadlines maps task id (or "" for a project-wide deadline) to the
	// nearest known due date.
	Deadlines map[string]time.Time

	// TeamSkills maps a skill keyword (e.g. "database", "auth") to team
	// proficiency in [0,1]. Unknown skills read as 0.5.
	TeamSkills map[string]float64

	// WorkloadPercent is current team utilization, 0-100.
	WorkloadPercent float64

	// TechnicalDebtRatio is the ambient project debt ratio, 0-100.
	TechnicalDebtRatio float64

	// MarketPressure is an external urgency signal in [0,1].
	MarketPressure float64

	// Repository activity volume over the recent window.
	RecentCommits int
	RecentPRs     int
	RecentIssues  int
}

// SkillFor returns team proficiency for a skill, defaulting to 0.5
func (c *ProjectContext) SkillFor(skill string) float64 {
	if c == nil || c.TeamSkills == nil {
		return 0.5
	}
	if v, ok := c.TeamSkills[skill]; ok {
		return Clamp01(v)
	}
	return 0.5
}

// NearestDeadline returns the closest deadline relevant to the task,
// considering both the task-specific and the project-wide entry
func (c *ProjectContext) NearestDeadline(taskID string) (time.Time, bool) {
	if c == nil || len(c.Deadlines) == 0 {
		return time.Time{}, false
	}
	var nearest time.Time
	found := false
	for _, key := range []string{taskID, ""} {
		if d, ok := c.Deadlines[key]; ok {
			if !found || d.Before(nearest) {
				nearest = d
				found = true
			}
		}
	}
	return nearest, found
}
