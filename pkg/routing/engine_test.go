package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"intelligrade/pkg/analyzer"
	"intelligrade/pkg/cache"
	"intelligrade/pkg/grading"
	"intelligrade/pkg/provider"
)

type fakeProvider struct {
	fastText string
	fastErr  error
	accText  string
	accErr   error
	calls    []grading.Tier
}

func (f *fakeProvider) Complete(_ context.Context, tier grading.Tier, _ string) (string, error) {
	f.calls = append(f.calls, tier)
	if tier == grading.TierFast {
		return f.fastText, f.fastErr
	}
	return f.accText, f.accErr
}

func (f *fakeProvider) Model(tier grading.Tier) string {
	return "model-" + string(tier)
}

func newTestEngine(p provider.Client) *Engine {
	return NewEngine(analyzer.New(analyzer.DefaultConfig()), nil, p, nil, DefaultConfig(), nil)
}

// simpleRequest scores low enough to route to the fast tier and stay below
// the engagement threshold.
func simpleRequest() grading.Request {
	return grading.Request{
		QuestionText:  "What is 2 plus 2",
		StudentAnswer: "4",
		CorrectAnswer: "4",
	}
}

// engagingRequest routes fast but scores above the engagement threshold, so
// its feedback must contain explanatory language.
func engagingRequest() grading.Request {
	return grading.Request{
		QuestionText:  "Solve for x where x = 3 + 4 and show how you got there in full detail please",
		StudentAnswer: "x is seven",
		CorrectAnswer: "7",
		Subject:       "math",
		GradeLevel:    9,
	}
}

const goodFeedback = "Correct, nice work, because four is indeed the sum of two and two here."

func TestFastResultAccepted(t *testing.T) {
	p := &fakeProvider{fastText: goodFeedback}
	e := newTestEngine(p)

	res, err := e.Grade(context.Background(), simpleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != grading.TierFast {
		t.Fatalf("expected fast tier, got %s", res.Tier)
	}
	if res.Escalated {
		t.Fatal("accepted fast result must not be marked escalated")
	}
	if len(p.calls) != 1 {
		t.Fatalf("expected a single provider call, got %v", p.calls)
	}
}

func TestQualityGateEscalatesShortFeedback(t *testing.T) {
	p := &fakeProvider{fastText: "ok", accText: goodFeedback}
	e := newTestEngine(p)

	res, err := e.Grade(context.Background(), simpleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated {
		t.Fatal("gated result must be marked escalated")
	}
	if res.Tier != grading.TierAccurate {
		t.Fatalf("expected accurate tier after escalation, got %s", res.Tier)
	}
	want := []grading.Tier{grading.TierFast, grading.TierAccurate}
	if fmt.Sprint(p.calls) != fmt.Sprint(want) {
		t.Fatalf("unexpected call sequence: %v", p.calls)
	}
}

func TestQualityGateRequiresExplanationForComplexQuestions(t *testing.T) {
	flat := "The answer is right and the student got it and that is all there is."
	p := &fakeProvider{fastText: flat, accText: goodFeedback}
	e := newTestEngine(p)

	res, err := e.Grade(context.Background(), engagingRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated {
		t.Fatal("flat feedback on a complex question must escalate")
	}
}

func TestProviderErrorTriggersSingleFallback(t *testing.T) {
	p := &fakeProvider{fastErr: provider.ErrUnavailable, accText: goodFeedback}
	e := newTestEngine(p)

	res, err := e.Grade(context.Background(), simpleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated {
		t.Fatal("error-triggered fallback must mark the result escalated")
	}
	if len(p.calls) != 2 {
		t.Fatalf("expected exactly one fallback call, got %v", p.calls)
	}
}

func TestAccurateTierFailurePropagates(t *testing.T) {
	p := &fakeProvider{fastErr: provider.ErrUnavailable, accErr: errors.New("boom")}
	e := newTestEngine(p)

	_, err := e.Grade(context.Background(), simpleRequest())
	if err == nil {
		t.Fatal("expected accurate-tier failure to propagate")
	}
	if len(p.calls) != 2 {
		t.Fatalf("no further fallback exists past the accurate tier, got %v", p.calls)
	}
}

func TestHighComplexityRoutesDirectlyToAccurate(t *testing.T) {
	p := &fakeProvider{accText: goodFeedback}
	e := newTestEngine(p)

	req := grading.Request{
		QuestionText:  "Compare the two models and justify your conclusion with a derivation where y = m*x + b holds for both data sets.",
		StudentAnswer: "a long structured answer about slopes and intercepts across both models",
		CorrectAnswer: "model two fits better because its residuals are smaller",
		Subject:       "physics",
		GradeLevel:    12,
		SkillCategory: "evaluation",
	}
	res, err := e.Grade(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != grading.TierAccurate {
		t.Fatalf("expected direct accurate routing, got %s", res.Tier)
	}
	if res.Escalated {
		t.Fatal("direct accurate routing is not an escalation")
	}
	if len(p.calls) != 1 || p.calls[0] != grading.TierAccurate {
		t.Fatalf("unexpected call sequence: %v", p.calls)
	}
}

func TestCacheHitSkipsProvider(t *testing.T) {
	p := &fakeProvider{fastText: goodFeedback}
	c := cache.NewManager(cache.DefaultConfig(), nil, nil)
	e := NewEngine(analyzer.New(analyzer.DefaultConfig()), c, p, nil, DefaultConfig(), nil)

	req := simpleRequest()
	if _, err := e.Grade(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	res, err := e.Grade(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromCache {
		t.Fatal("second grade of the same request must be a cache replay")
	}
	if len(p.calls) != 1 {
		t.Fatalf("cache hit still called the provider: %v", p.calls)
	}
}

func TestParseCompletion(t *testing.T) {
	res := parseCompletion(`{"correct": true, "feedback": "Nice work on this one."}`)
	if res.Correct == nil || !*res.Correct {
		t.Fatalf("expected correct=true, got %+v", res.Correct)
	}
	if res.Feedback != "Nice work on this one." {
		t.Fatalf("unexpected feedback: %q", res.Feedback)
	}

	res = parseCompletion("plain text feedback")
	if res.Correct != nil {
		t.Fatal("plain text has no verdict")
	}
	if res.Feedback != "plain text feedback" {
		t.Fatalf("unexpected feedback: %q", res.Feedback)
	}
}

func TestGateTechnicalDensity(t *testing.T) {
	e := newTestEngine(&fakeProvider{})
	an := analyzer.Analysis{Score: 10}
	req := grading.Request{GradeLevel: 4}

	jargon := "The isomorphism demonstrates commutativity distributivity associativity considerations throughout multiplicative structures repeatedly"
	if reason := e.gate(&grading.Result{Feedback: jargon + " more and more and more"}, an, req); reason == "" {
		t.Fatal("expected technical-density failure for a young audience")
	}

	plain := "You got it right since four really is what two and two add up to make"
	if reason := e.gate(&grading.Result{Feedback: plain}, an, req); reason != "" {
		t.Fatalf("plain feedback should pass the gate, got %q", reason)
	}
}
