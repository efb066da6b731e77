package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var subjects = []string{"math", "physics", "biology", "history", "grammar"}

var questions = []string{
	"What is 12 * 8?",
	"Explain why the sky is blue.",
	"Compare photosynthesis and respiration and justify which releases energy.",
	"Solve for x where 2x + 6 = 14.",
	"Name the capital of France.",
}

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://api:8080/jobs"
	}

	ratePerSec := 1
	if v := os.Getenv("RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerSec = n
		}
	}

	concurrency := 1
	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	for i := 0; i < concurrency; i++ {
		go submitLoop(apiURL, ratePerSec/concurrency)
	}

	select {} // block forever
}

func submitLoop(apiURL string, rps int) {
	interval := time.Second
	if rps > 0 {
		interval = time.Second / time.Duration(rps)
	}
	if interval < time.Millisecond {
		interval = time.Millisecond // prevent very tight loop that overwhelms API inside container
	}

	for {
		if err := submitOne(apiURL); err != nil {
			log.Printf("submit failed: %v", err)
		}
		time.Sleep(interval)
	}
}

func submitOne(apiURL string) error {
	body := map[string]any{
		"owner_id": "sim-" + uuid.NewString()[:8],
		"priority": []string{"low", "normal", "normal", "high"}[rand.Intn(4)],
		"payload":  randomPayload(),
	}
	b, _ := json.Marshal(body)

	resp, err := http.Post(apiURL, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func randomPayload() map[string]any {
	// one in five jobs is a file batch
	if rand.Intn(5) == 0 {
		return map[string]any{
			"files": []map[string]string{
				{"id": uuid.NewString(), "name": "scan-page-1.png"},
				{"id": uuid.NewString(), "name": "scan-page-2.png"},
			},
		}
	}

	n := 1 + rand.Intn(3)
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		q := questions[rand.Intn(len(questions))]
		items = append(items, map[string]any{
			"question_text":  q,
			"student_answer": "the student wrote something here",
			"correct_answer": "the expected answer",
			"subject":        subjects[rand.Intn(len(subjects))],
			"grade_level":    3 + rand.Intn(9),
		})
	}
	return map[string]any{"questions": items}
}
