package prioritize

import (
	"regexp"
	"strings"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// Fixed weights of the priority combination. Risk enters separately as
// a level-keyed penalty, so these do not have to sum to 1.
const (
	weightImpact        = 0.25
	weightUrgency       = 0.25
	weightBusinessValue = 0.20
	weightComplexity    = 0.15
	weightTechnicalDebt = 0.10
)

var riskPenalty = map[domain.RiskLevel]float64{
	domain.RiskLow:      0,
	domain.RiskMedium:   5,
	domain.RiskHigh:     15,
	domain.RiskCritical: 30,
}

var entrypointRegex = regexp.MustCompile(`(^|/)(main|index|app|server)\.[a-z]+$`)

// isCriticalFile matches entrypoints, configuration and the
// core/auth/security areas of a repository
func isCriticalFile(path string) bool {
	lower := strings.ToLower(path)
	if entrypointRegex.MatchString(lower) {
		return true
	}
	if strings.Contains(lower, "config") {
		return true
	}
	for _, area := range []string{"/core/", "/auth/", "/security/"} {
		if strings.Contains(lower, area) || strings.HasPrefix(lower, strings.TrimPrefix(area, "/")) {
			return true
		}
	}
	return false
}

func hasAnyLabel(t *domain.Task, labels ...string) bool {
	for _, l := range labels {
		if t.HasLabel(l) {
			return true
		}
	}
	return false
}

func containsAnyKeyword(text string, keywords ...string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func keywordCount(text string, keywords ...string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func taskText(t *domain.Task) string {
	return t.Title + " " + t.Description
}

// scoreImpact rates how widely the task's change will be felt
func scoreImpact(t *domain.Task) float64 {
	score := 50.0

	for _, f := range t.Files {
		if isCriticalFile(f) {
			score += 15
		}
	}
	if hasAnyLabel(t, "user-facing", "ui", "ux", "api") {
		score += 20
	}
	if hasAnyLabel(t, "security", "vulnerability") {
		score += 25
	}
	if containsAnyKeyword(taskText(t), "schema", "migration") {
		score += 30
	}

	return domain.ClampScore(score)
}

// scoreUrgency rates how soon the task must land
func scoreUrgency(t *domain.Task, ctx *domain.ProjectContext, blockedCount int, now time.Time) float64 {
	score := 50.0

	if deadline, ok := ctx.NearestDeadline(t.ID); ok {
		until := deadline.Sub(now)
		switch {
		case until < 7*24*time.Hour:
			score += 30
		case until < 30*24*time.Hour:
			score += 15
		}
	}

	switch {
	case hasAnyLabel(t, "critical", "severity:critical"):
		score += 40
	case hasAnyLabel(t, "high", "severity:high", "priority:high"):
		score += 25
	}

	score += 10 * float64(blockedCount)

	if hasAnyLabel(t, "escalated", "escalation", "urgent") {
		score += 35
	}

	if ctx != nil {
		score += 20 * domain.Clamp01(ctx.MarketPressure)
	}

	return domain.ClampScore(score)
}

// scoreComplexity rates how hard the task is to implement safely
func scoreComplexity(t *domain.Task, skillGap float64) float64 {
	score := 50.0

	// File-count and file-type weighting: breadth costs more than depth.
	score += 3 * float64(len(t.Files))
	for _, f := range t.Files {
		if strings.Contains(strings.ToLower(f), "/core/") ||
			strings.Contains(strings.ToLower(f), "/auth/") ||
			strings.Contains(strings.ToLower(f), "/api/") {
			score += 5
		}
	}

	score += 8 * float64(keywordCount(taskText(t),
		"refactor", "architecture", "migration", "integration", "algorithm"))

	score += 5 * float64(len(t.DependsOn))

	score += 20 * domain.Clamp01(skillGap)

	return domain.ClampScore(score)
}

// scoreBusinessValue rates what the task is worth to the organization
func scoreBusinessValue(t *domain.Task, debt float64) float64 {
	score := 50.0

	if hasAnyLabel(t, "revenue", "billing", "monetization") {
		score += 25
	}
	if hasAnyLabel(t, "customer", "customer-request") {
		score += 20
	}
	if hasAnyLabel(t, "compliance", "legal", "gdpr") {
		score += 25
	}
	if hasAnyLabel(t, "strategic", "roadmap") {
		score += 15
	}
	if debt < 0 {
		// Debt reduction carries value of its own.
		score += 10
	}

	return domain.ClampScore(score)
}

// scoreTechnicalDebt returns negative values for debt reduction and
// positive for debt added, roughly in [-50, 100]
func scoreTechnicalDebt(t *domain.Task, ctx *domain.ProjectContext) float64 {
	score := 0.0
	text := taskText(t)

	if containsAnyKeyword(text, "refactor", "cleanup", "simplify") {
		score -= 25
	}
	if containsAnyKeyword(text, "test", "coverage") {
		score -= 15
	}
	if containsAnyKeyword(text, "documentation", "docs") {
		score -= 10
	}
	if containsAnyKeyword(text, "quick fix", "quickfix", "workaround", "hack") {
		score += 30
	}

	// Drift: work inside an indebted codebase accretes debt by default.
	if ctx != nil {
		score += 20 * domain.Clamp01(ctx.TechnicalDebtRatio/100)
	}

	if score < -50 {
		score = -50
	}
	if score > 100 {
		score = 100
	}
	return score
}

// classifyRisk derives the task risk level from its scores and files
func classifyRisk(t *domain.Task) domain.RiskLevel {
	touchesCritical := false
	for _, f := range t.Files {
		if isCriticalFile(f) {
			touchesCritical = true
			break
		}
	}

	securityLabeled := hasAnyLabel(t, "security", "vulnerability")

	switch {
	case t.Impact > 80 && t.Complexity > 80:
		return domain.RiskCritical
	case t.Impact > 70 && t.Complexity > 70,
		securityLabeled && t.Complexity > 50,
		touchesCritical && t.Complexity > 60:
		return domain.RiskHigh
	case t.Impact > 60 || t.Complexity > 60,
		containsAnyKeyword(taskText(t), "database", "migration"):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// combinePriority applies the fixed weighting and the risk penalty
func combinePriority(t *domain.Task) float64 {
	p := t.Impact*weightImpact +
		t.Urgency*weightUrgency +
		t.BusinessValue*weightBusinessValue -
		t.Complexity*weightComplexity -
		t.TechnicalDebt*weightTechnicalDebt -
		riskPenalty[t.RiskLevel]
	return domain.ClampScore(p)
}

// estimateEffort returns estimated hours for the task
func estimateEffort(t *domain.Task, skillGap float64) float64 {
	return (t.Complexity/100)*40*(1+domain.Clamp01(skillGap)) +
		2*float64(len(t.DependsOn)) +
		0.5*float64(len(t.Files))
}

// skillGapFor estimates how far the team's skills fall short of the
// task's demands. Unknown skills read as a neutral 0.5 proficiency.
func skillGapFor(t *domain.Task, ctx *domain.ProjectContext) float64 {
	skills := requiredSkills(t)
	if len(skills) == 0 {
		return 0.5
	}
	var gap float64
	for _, s := range skills {
		gap += 1 - ctx.SkillFor(s)
	}
	return domain.Clamp01(gap / float64(len(skills)))
}

func requiredSkills(t *domain.Task) []string {
	var skills []string
	text := strings.ToLower(taskText(t) + " " + strings.Join(t.Files, " "))
	for _, s := range []string{"database", "auth", "api", "frontend", "infrastructure", "security"} {
		if strings.Contains(text, s) {
			skills = append(skills, s)
		}
	}
	return skills
}
