package analyzer

import (
	"reflect"
	"testing"

	"intelligrade/pkg/grading"
)

func TestAnalyzeDeterministic(t *testing.T) {
	a := New(DefaultConfig())
	req := grading.Request{
		QuestionText:  "Compare the two functions and justify which grows faster.",
		StudentAnswer: "f(x) grows faster because of the exponent",
		CorrectAnswer: "g(x) = 2^x grows faster",
		Subject:       "math",
		GradeLevel:    11,
		SkillCategory: "analysis",
	}

	first := a.Analyze(req)
	for i := 0; i < 5; i++ {
		got := a.Analyze(req)
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("analysis not deterministic:\nfirst: %+v\ngot:   %+v", first, got)
		}
	}
}

func TestTierThresholdBoundary(t *testing.T) {
	a := New(Config{Threshold: 30, AmbiguousBand: 5})

	// math(20) + grade 6(5) + short input(5) = exactly 30
	atBoundary := grading.Request{
		QuestionText:  "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		StudentAnswer: "x",
		Subject:       "math",
		GradeLevel:    6,
	}
	an := a.Analyze(atBoundary)
	if an.Score != 30 {
		t.Fatalf("expected score 30, got %v (factors %v)", an.Score, an.Factors)
	}
	if an.Tier != grading.TierAccurate {
		t.Fatalf("score exactly at threshold must select accurate tier, got %s", an.Tier)
	}

	// math(20) + grade 6(5) = 25, strictly below
	below := grading.Request{
		QuestionText:  "short",
		StudentAnswer: "x",
		Subject:       "math",
		GradeLevel:    6,
	}
	an = a.Analyze(below)
	if an.Score != 25 {
		t.Fatalf("expected score 25, got %v (factors %v)", an.Score, an.Factors)
	}
	if an.Tier != grading.TierFast {
		t.Fatalf("score below threshold must select fast tier, got %s", an.Tier)
	}
}

func TestScoreClampedTo100(t *testing.T) {
	a := New(DefaultConfig())
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'q'
	}
	req := grading.Request{
		QuestionText:  "compare and contrast, justify, evaluate, derive, prove: x = 1 + 2 " + string(long),
		StudentAnswer: "a long answer with many words in it",
		CorrectAnswer: "another long answer",
		Subject:       "physics",
		GradeLevel:    12,
		SkillCategory: "evaluation",
	}
	an := a.Analyze(req)
	if an.Score > 100 {
		t.Fatalf("score exceeds 100: %v", an.Score)
	}
}

func TestConfidencePenalizedNearThreshold(t *testing.T) {
	a := New(Config{Threshold: 55, AmbiguousBand: 10})

	// Equal factor counts, one score near the threshold and one far from it.
	near := a.confidence(50, 3)
	far := a.confidence(5, 3)
	if near >= far {
		t.Fatalf("ambiguous mid-band score should have lower confidence: near=%v far=%v", near, far)
	}

	high := a.confidence(95, 3)
	mid := a.confidence(75, 3)
	if high <= mid {
		t.Fatalf("extreme score should boost confidence: high=%v mid=%v", high, mid)
	}
}

func TestConfidenceBounded(t *testing.T) {
	a := New(DefaultConfig())
	for _, score := range []float64{0, 10, 50, 55, 60, 90, 100} {
		for _, n := range []int{0, 3, 10} {
			c := a.confidence(score, n)
			if c < 0 || c > 1 {
				t.Fatalf("confidence out of range for score=%v factors=%d: %v", score, n, c)
			}
		}
	}
}

func TestFastPathMultipleChoice(t *testing.T) {
	a := New(DefaultConfig())

	req := grading.Request{
		QuestionText:  "Which planet is closest to the sun?",
		StudentAnswer: "Mercury",
		Options:       []string{"Mercury", "Venus", "Earth", "Mars"},
	}
	fr, ok := a.Classify(req)
	if !ok {
		t.Fatal("expected fast-path classification")
	}
	if fr.Tier != grading.TierFast {
		t.Fatalf("expected fast tier, got %s", fr.Tier)
	}
	if fr.Confidence < 0.9 {
		t.Fatalf("expected high confidence, got %v", fr.Confidence)
	}
}

func TestFastPathRejectsFreeText(t *testing.T) {
	a := New(DefaultConfig())

	cases := []grading.Request{
		{StudentAnswer: "Mercury", Options: nil},
		{StudentAnswer: "the closest is Mercury", Options: []string{"Mercury", "Venus"}},
		{StudentAnswer: "Pluto", Options: []string{"Mercury", "Venus"}},
		{StudentAnswer: "", Options: []string{"Mercury", "Venus"}},
	}
	for i, req := range cases {
		if _, ok := a.Classify(req); ok {
			t.Fatalf("case %d: expected full analysis, got fast-path hit", i)
		}
	}
}
