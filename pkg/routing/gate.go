package routing

import (
	"strings"

	"intelligrade/pkg/analyzer"
	"intelligrade/pkg/grading"
)

// explanatoryMarkers are the phrases that indicate feedback actually explains
// rather than just asserts a verdict.
var explanatoryMarkers = []string{
	"for example", "because", "think of", "imagine", "notice",
	"step", "let's", "this means", "in other words",
}

// gate checks a fast-tier result and returns a non-empty reason when it
// should be re-executed at the accurate tier. Accurate-tier output is never
// gated: there is no stronger tier to escalate to.
func (e *Engine) gate(res *grading.Result, an analyzer.Analysis, req grading.Request) string {
	words := strings.Fields(res.Feedback)
	if len(words) < e.cfg.MinFeedbackWords {
		return "feedback too short"
	}

	if req.GradeLevel > 0 && req.GradeLevel <= 8 {
		if technicalDensity(words) > e.cfg.MaxTechnicalDensity {
			return "overly technical for audience"
		}
	}

	if an.Score >= e.cfg.EngagementScore && !hasExplanatoryLanguage(res.Feedback) {
		return "no explanatory language for a complex question"
	}

	return ""
}

// technicalDensity is the fraction of long tokens, a rough proxy for jargon.
func technicalDensity(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	long := 0
	for _, w := range words {
		if len(strings.Trim(w, ".,;:!?()")) >= 11 {
			long++
		}
	}
	return float64(long) / float64(len(words))
}

func hasExplanatoryLanguage(feedback string) bool {
	lower := strings.ToLower(feedback)
	for _, marker := range explanatoryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
