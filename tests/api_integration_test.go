package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"
	"time"
)

// waitUntil retries fn until it returns nil or timeout occurs.
func waitUntil(timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := fn(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fn() // return last error
		}
		time.Sleep(2 * time.Second)
	}
}

// healthCheck verifies the API is ready to accept requests
func healthCheck(apiURL string) error {
	resp, err := http.Get(apiURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func apiBase() string {
	if base := os.Getenv("API_URL"); base != "" {
		return base
	}
	if os.Getenv("DOCKER_ENV") == "true" {
		return "http://api:8080"
	}
	return "http://localhost:8080"
}

func TestSubmitAndQueryJob(t *testing.T) {
	base := apiBase()
	log.Printf("Testing API at: %s", base)

	if err := waitUntil(60*time.Second, func() error { return healthCheck(base) }); err != nil {
		t.Fatalf("API health check failed: %v", err)
	}

	var jobID string
	err := waitUntil(30*time.Second, func() error {
		reqBody := map[string]any{
			"owner_id": "integration-test",
			"priority": "high",
			"payload": map[string]any{
				"questions": []map[string]any{{
					"question_text":  "What is 2 + 2?",
					"student_answer": "4",
					"correct_answer": "4",
					"subject":        "math",
					"grade_level":    3,
				}},
			},
		}
		b, _ := json.Marshal(reqBody)

		resp, err := http.Post(base+"/jobs", "application/json", bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("HTTP request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("expected status 202, got %d", resp.StatusCode)
		}

		var out struct {
			JobID string `json:"job_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response: %v", err)
		}
		if out.JobID == "" {
			return fmt.Errorf("job_id is empty in response")
		}
		jobID = out.JobID
		return nil
	})
	if err != nil {
		t.Fatalf("job submission failed: %v", err)
	}
	log.Printf("Job submitted with ID: %s", jobID)

	// the status query must return the job record immediately
	resp, err := http.Get(base + "/jobs/" + jobID)
	if err != nil {
		t.Fatalf("status query failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status query returned %d", resp.StatusCode)
	}

	var job struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.ID != jobID {
		t.Fatalf("status query returned wrong job: %s", job.ID)
	}
	if job.Priority != 9 {
		t.Fatalf("named priority 'high' should map to 9, got %d", job.Priority)
	}
}

func TestRejectsInvalidSubmission(t *testing.T) {
	base := apiBase()
	if err := waitUntil(60*time.Second, func() error { return healthCheck(base) }); err != nil {
		t.Fatalf("API health check failed: %v", err)
	}

	b, _ := json.Marshal(map[string]any{
		"payload": map[string]any{},
	})
	resp, err := http.Post(base+"/jobs", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty payload must be rejected synchronously, got %d", resp.StatusCode)
	}
}

func TestStatusQueryUnknownJob(t *testing.T) {
	base := apiBase()
	if err := waitUntil(60*time.Second, func() error { return healthCheck(base) }); err != nil {
		t.Fatalf("API health check failed: %v", err)
	}

	resp, err := http.Get(base + "/jobs/00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job must return 404, got %d", resp.StatusCode)
	}
}
