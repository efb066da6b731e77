package grading

import "time"

// Tier identifies a cost/quality level of the model endpoint.
type Tier string

const (
	// TierFast is the cheap, low-latency model.
	TierFast Tier = "fast"
	// TierAccurate is the expensive, high-quality model.
	TierAccurate Tier = "accurate"
)

// Request is a single question to grade or explain.
type Request struct {
	QuestionText  string   `json:"question_text"`
	StudentAnswer string   `json:"student_answer"`
	CorrectAnswer string   `json:"correct_answer"`
	Options       []string `json:"options,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	GradeLevel    int      `json:"grade_level,omitempty"`
	SkillName     string   `json:"skill_name,omitempty"`
	SkillCategory string   `json:"skill_category,omitempty"`
}

// Result is the graded outcome for one request.
type Result struct {
	Correct   *bool         `json:"correct,omitempty"`
	Feedback  string        `json:"feedback"`
	Tier      Tier          `json:"tier"`
	Model     string        `json:"model,omitempty"`
	Escalated bool          `json:"escalated,omitempty"`
	FromCache bool          `json:"from_cache,omitempty"`
	Took      time.Duration `json:"-"`
	TookMs    int64         `json:"took_ms"`
}
