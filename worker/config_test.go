package main

import "testing"

func TestGetenvDefaults(t *testing.T) {
	t.Setenv("BATCH_SIZE", "")
	if got := getenvInt("BATCH_SIZE", 5); got != 5 {
		t.Fatalf("expected default 5, got %d", got)
	}

	t.Setenv("BATCH_SIZE", "12")
	if got := getenvInt("BATCH_SIZE", 5); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}

	t.Setenv("BATCH_SIZE", "not-a-number")
	if got := getenvInt("BATCH_SIZE", 5); got != 5 {
		t.Fatalf("invalid value should fall back to default, got %d", got)
	}

	t.Setenv("BATCH_SIZE", "-3")
	if got := getenvInt("BATCH_SIZE", 5); got != 5 {
		t.Fatalf("non-positive value should fall back to default, got %d", got)
	}
}

func TestGetenvFloat(t *testing.T) {
	t.Setenv("COMPLEXITY_THRESHOLD", "62.5")
	if got := getenvFloat("COMPLEXITY_THRESHOLD", 55); got != 62.5 {
		t.Fatalf("expected 62.5, got %v", got)
	}

	t.Setenv("COMPLEXITY_THRESHOLD", "")
	if got := getenvFloat("COMPLEXITY_THRESHOLD", 55); got != 55 {
		t.Fatalf("expected default 55, got %v", got)
	}
}

func TestGetenvString(t *testing.T) {
	t.Setenv("MODEL_FAST", "")
	if got := getenv("MODEL_FAST", "gpt-4o-mini"); got != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", got)
	}
	t.Setenv("MODEL_FAST", "custom-model")
	if got := getenv("MODEL_FAST", "gpt-4o-mini"); got != "custom-model" {
		t.Fatalf("expected override, got %q", got)
	}
}
