package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"intelligrade/pkg/grading"
)

// Config holds the tunable thresholds of the scorer. Values are configuration
// so routing behavior can be adjusted without touching the scoring code.
type Config struct {
	// Threshold is the score at or above which the accurate tier is recommended.
	Threshold float64
	// AmbiguousBand is the half-width of the band around Threshold inside
	// which confidence is penalized.
	AmbiguousBand float64
}

func DefaultConfig() Config {
	return Config{
		Threshold:     55,
		AmbiguousBand: 10,
	}
}

// Analysis is the scored outcome for a single request.
type Analysis struct {
	Score      float64
	Factors    []string
	Tier       grading.Tier
	Confidence float64
}

type Analyzer struct {
	cfg Config
}

func New(cfg Config) *Analyzer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.AmbiguousBand <= 0 {
		cfg.AmbiguousBand = DefaultConfig().AmbiguousBand
	}
	return &Analyzer{cfg: cfg}
}

var hardSubjects = map[string]bool{
	"math": true, "mathematics": true, "algebra": true, "geometry": true,
	"calculus": true, "physics": true, "chemistry": true,
}

var mediumSubjects = map[string]bool{
	"biology": true, "science": true, "economics": true, "grammar": true,
	"statistics": true,
}

var hardSkillCategories = map[string]bool{
	"analysis": true, "synthesis": true, "evaluation": true,
}

var mediumSkillCategories = map[string]bool{
	"application": true, "comprehension": true,
}

var reasoningKeywords = []string{
	"compare", "contrast", "justify", "evaluate", "explain why",
	"derive", "prove", "analyze", "interpret", "predict",
}

// notationRe matches equation-like content: operators between digits, simple
// fractions, variable assignments and common math symbols.
var notationRe = regexp.MustCompile(`\d\s*[-+*/^=]\s*\d|\b\d+/\d+\b|\b[a-z]\s*=|[√∑∫π^]`)

// Analyze scores a request along independent weighted factors and maps the
// total to a recommended tier with a confidence value. Pure and deterministic:
// identical input always yields an identical Analysis.
func (a *Analyzer) Analyze(req grading.Request) Analysis {
	var score float64
	var factors []string

	subject := strings.ToLower(strings.TrimSpace(req.Subject))
	switch {
	case hardSubjects[subject]:
		score += 20
		factors = append(factors, "subject difficulty: high")
	case mediumSubjects[subject]:
		score += 10
		factors = append(factors, "subject difficulty: medium")
	}

	switch {
	case req.GradeLevel >= 11:
		score += 15
		factors = append(factors, fmt.Sprintf("grade level %d", req.GradeLevel))
	case req.GradeLevel >= 9:
		score += 10
		factors = append(factors, fmt.Sprintf("grade level %d", req.GradeLevel))
	case req.GradeLevel >= 6:
		score += 5
		factors = append(factors, fmt.Sprintf("grade level %d", req.GradeLevel))
	}

	length := len(req.QuestionText) + len(req.StudentAnswer) + len(req.CorrectAnswer)
	switch {
	case length > 400:
		score += 15
		factors = append(factors, "long input")
	case length > 200:
		score += 10
		factors = append(factors, "medium input")
	case length > 80:
		score += 5
		factors = append(factors, "short input")
	}

	combined := strings.ToLower(req.QuestionText + " " + req.CorrectAnswer)
	if notationRe.MatchString(combined) {
		score += 12
		factors = append(factors, "structured notation")
	}

	var matched []string
	for _, kw := range reasoningKeywords {
		if strings.Contains(combined, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 {
		score += 12
		if len(matched) > 1 {
			score += 6
		}
		factors = append(factors, "multi-step reasoning: "+strings.Join(matched, ", "))
	}

	category := strings.ToLower(strings.TrimSpace(req.SkillCategory))
	switch {
	case hardSkillCategories[category]:
		score += 10
		factors = append(factors, "skill category: "+category)
	case mediumSkillCategories[category]:
		score += 5
		factors = append(factors, "skill category: "+category)
	}

	if score > 100 {
		score = 100
	}

	tier := grading.TierFast
	if score >= a.cfg.Threshold {
		tier = grading.TierAccurate
	}

	return Analysis{
		Score:      score,
		Factors:    factors,
		Tier:       tier,
		Confidence: a.confidence(score, len(factors)),
	}
}

// confidence grows with the number of contributing factors, drops inside the
// ambiguous band around the tier threshold, and rises near the extremes where
// the decision is unambiguous.
func (a *Analyzer) confidence(score float64, factorCount int) float64 {
	c := 0.5 + 0.06*float64(factorCount)

	diff := score - a.cfg.Threshold
	if diff < 0 {
		diff = -diff
	}
	if diff < a.cfg.AmbiguousBand {
		c -= 0.2
	}
	if score <= 10 || score >= 90 {
		c += 0.15
	}

	if c < 0.1 {
		c = 0.1
	}
	if c > 0.99 {
		c = 0.99
	}
	return c
}
