package analyzer

import (
	"strings"

	"intelligrade/pkg/grading"
)

// FastResult is a pre-classifier verdict for inputs that are obviously simple.
type FastResult struct {
	Tier       grading.Tier
	Confidence float64
	Reason     string
}

const maxFastPathOptions = 8

// Classify short-circuits obviously simple inputs: a single-token student
// answer that matches one of a small multiple-choice option set. Returns
// false when the request needs the full analyzer; the fast path is an
// optimization only and never overrides a low-confidence match.
func (a *Analyzer) Classify(req grading.Request) (FastResult, bool) {
	if len(req.Options) < 2 || len(req.Options) > maxFastPathOptions {
		return FastResult{}, false
	}

	answer := strings.TrimSpace(req.StudentAnswer)
	if answer == "" || strings.ContainsAny(answer, " \t\n") {
		return FastResult{}, false
	}

	for _, opt := range req.Options {
		if strings.EqualFold(answer, strings.TrimSpace(opt)) {
			return FastResult{
				Tier:       grading.TierFast,
				Confidence: 0.95,
				Reason:     "single-token multiple choice",
			}, true
		}
	}
	return FastResult{}, false
}
