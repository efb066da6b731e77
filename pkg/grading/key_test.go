package grading

import "testing"

func TestCacheKeyDeterministic(t *testing.T) {
	req := Request{
		QuestionText:  "What is 2 + 2?",
		StudentAnswer: "4",
		CorrectAnswer: "4",
		Subject:       "Math",
		GradeLevel:    5,
	}

	k1 := CacheKey(req)
	k2 := CacheKey(req)
	if k1 == "" {
		t.Fatal("expected non-empty key")
	}
	if k1 != k2 {
		t.Fatalf("key not deterministic: %q vs %q", k1, k2)
	}
}

func TestCacheKeyIgnoresFormattingNoise(t *testing.T) {
	a := Request{QuestionText: "What is  2+2?", StudentAnswer: "Four!", CorrectAnswer: "four", Subject: "math"}
	b := Request{QuestionText: "what is 2+2", StudentAnswer: "  four ", CorrectAnswer: "FOUR.", Subject: "MATH"}

	if CacheKey(a) != CacheKey(b) {
		t.Fatalf("formatting noise changed the key: %q vs %q", CacheKey(a), CacheKey(b))
	}
}

func TestCacheKeyDistinguishesContent(t *testing.T) {
	a := Request{QuestionText: "What is 2+2?", StudentAnswer: "4", CorrectAnswer: "4"}
	b := Request{QuestionText: "What is 2+2?", StudentAnswer: "5", CorrectAnswer: "4"}

	if CacheKey(a) == CacheKey(b) {
		t.Fatal("different answers produced the same key")
	}
}

func TestCacheKeyEmptyInputSkipsCaching(t *testing.T) {
	if k := CacheKey(Request{StudentAnswer: "4"}); k != "" {
		t.Fatalf("empty question should yield empty key, got %q", k)
	}
	if k := CacheKey(Request{QuestionText: "What is 2+2?"}); k != "" {
		t.Fatalf("empty answer should yield empty key, got %q", k)
	}
	if k := CacheKey(Request{QuestionText: "?!.,", StudentAnswer: "4"}); k != "" {
		t.Fatalf("punctuation-only question should yield empty key, got %q", k)
	}
}
