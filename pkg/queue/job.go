package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"intelligrade/pkg/grading"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Priority orders jobs in the queue; higher runs first. Arbitrary integers
// are accepted, the named levels are the conventional ones.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 9
)

// ParsePriority maps the API's named levels onto integers. An integer string
// is accepted as-is by the submission handler before it gets here.
func ParsePriority(s string) (int, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

type Kind string

const (
	KindGrading Kind = "grading"
	KindFile    Kind = "file"
)

type Job struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Priority    int             `json:"priority"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Payload is the structured body of a job. Exactly one of Questions or Files
// must be non-empty; that shape determines the job kind.
type Payload struct {
	Questions []grading.Request `json:"questions,omitempty"`
	Files     []FileItem        `json:"files,omitempty"`
}

type FileItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Kind derives the job kind from the payload shape. A payload carrying both
// batches is treated as a grading batch.
func (p Payload) Kind() (Kind, error) {
	switch {
	case len(p.Questions) > 0:
		return KindGrading, nil
	case len(p.Files) > 0:
		return KindFile, nil
	default:
		return "", errors.New("payload has neither questions nor files")
	}
}

type SubmissionRequest struct {
	OwnerID    string          `json:"owner_id,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// Validate rejects malformed submissions synchronously so they never enter
// the queue. It also normalizes defaults (priority, max retries).
func (r *SubmissionRequest) Validate() error {
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}

	var p Payload
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	kind, err := p.Kind()
	if err != nil {
		return err
	}

	if kind == KindGrading {
		for i, q := range p.Questions {
			if q.QuestionText == "" {
				return fmt.Errorf("question %d: question_text is required", i)
			}
			if q.StudentAnswer == "" {
				return fmt.Errorf("question %d: student_answer is required", i)
			}
		}
	} else {
		for i, f := range p.Files {
			if f.Name == "" {
				return fmt.Errorf("file %d: name is required", i)
			}
		}
	}

	if r.Priority == 0 {
		r.Priority = PriorityNormal
	}
	if r.Priority < 0 {
		return errors.New("priority must be positive")
	}
	if r.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = 2
	}
	return nil
}

// JobKind is the label used in logs and metrics for a job's payload shape.
func JobKind(payload json.RawMessage) string {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "unknown"
	}
	kind, err := p.Kind()
	if err != nil {
		return "unknown"
	}
	return string(kind)
}
