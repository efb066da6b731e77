package routing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"intelligrade/pkg/analyzer"
	"intelligrade/pkg/cache"
	"intelligrade/pkg/grading"
	"intelligrade/pkg/observability"
	"intelligrade/pkg/provider"
)

// State tracks a request through the execution state machine.
type State int

const (
	StateNotStarted State = iota
	StateFastAttempted
	StateEscalated
	StateAccurateAttempted
	StateAccepted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateFastAttempted:
		return "fast_attempted"
	case StateEscalated:
		return "escalated"
	case StateAccurateAttempted:
		return "accurate_attempted"
	case StateAccepted:
		return "accepted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Admitter gates provider calls. Satisfied by ratelimit.Limiter.
type Admitter interface {
	Admit(ctx context.Context, tier grading.Tier) error
}

type Config struct {
	// MinFeedbackWords fails the gate on implausibly short fast-tier output.
	MinFeedbackWords int
	// EngagementScore is the complexity score at or above which fast-tier
	// feedback must contain explanatory language.
	EngagementScore float64
	// MaxTechnicalDensity bounds the fraction of long technical tokens
	// acceptable for younger audiences (grade 8 and below).
	MaxTechnicalDensity float64
}

func DefaultConfig() Config {
	return Config{
		MinFeedbackWords:    10,
		EngagementScore:     40,
		MaxTechnicalDensity: 0.25,
	}
}

// Engine picks a tier for each request, executes it, and escalates fast-tier
// results that fail the quality gate or the call itself.
type Engine struct {
	analyzer *analyzer.Analyzer
	cache    *cache.Manager
	provider provider.Client
	limiter  Admitter
	cfg      Config
	logger   *slog.Logger
}

func NewEngine(a *analyzer.Analyzer, c *cache.Manager, p provider.Client, limiter Admitter, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MinFeedbackWords <= 0 {
		cfg.MinFeedbackWords = DefaultConfig().MinFeedbackWords
	}
	if cfg.EngagementScore <= 0 {
		cfg.EngagementScore = DefaultConfig().EngagementScore
	}
	if cfg.MaxTechnicalDensity <= 0 {
		cfg.MaxTechnicalDensity = DefaultConfig().MaxTechnicalDensity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		analyzer: a,
		cache:    c,
		provider: p,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Route scores the request and returns the recommended starting tier. The
// fast-path pre-classifier is consulted first and trusted only when it
// reports high confidence.
func (e *Engine) Route(req grading.Request) (grading.Tier, analyzer.Analysis) {
	if fr, ok := e.analyzer.Classify(req); ok {
		return fr.Tier, analyzer.Analysis{
			Tier:       fr.Tier,
			Confidence: fr.Confidence,
			Factors:    []string{fr.Reason},
		}
	}
	an := e.analyzer.Analyze(req)
	return an.Tier, an
}

// Grade runs the full pipeline for one request: cache, routing, execution,
// quality gate, escalation, cache write-back.
func (e *Engine) Grade(ctx context.Context, req grading.Request) (*grading.Result, error) {
	if e.cache != nil {
		if res, ok := e.cache.Get(ctx, req); ok {
			return res, nil
		}
	}

	tier, an := e.Route(req)
	state := StateNotStarted

	if tier == grading.TierFast {
		res, err := e.execute(ctx, grading.TierFast, req)
		state = StateFastAttempted
		if err == nil {
			if reason := e.gate(res, an, req); reason == "" {
				e.store(ctx, req, res)
				return res, nil
			} else {
				e.logger.Info("quality gate failed, escalating",
					"reason", reason, "score", an.Score, "state", state.String())
				observability.Escalations.WithLabelValues("quality_gate").Inc()
			}
		} else {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// single-shot fallback, not a retry loop
			e.logger.Warn("fast tier failed, escalating once",
				"error", err, "state", state.String())
			observability.Escalations.WithLabelValues("provider_error").Inc()
		}
	}

	res, err := e.execute(ctx, grading.TierAccurate, req)
	state = StateAccurateAttempted
	if err != nil {
		state = StateFailed
		e.logger.Error("accurate tier failed", "error", err, "state", state.String())
		return nil, err
	}

	// reaching the accurate tier from a fast recommendation means we escalated
	res.Escalated = tier == grading.TierFast
	e.store(ctx, req, res)
	return res, nil
}

func (e *Engine) store(ctx context.Context, req grading.Request, res *grading.Result) {
	if e.cache != nil {
		e.cache.Set(ctx, req, *res)
	}
}

func (e *Engine) execute(ctx context.Context, tier grading.Tier, req grading.Request) (*grading.Result, error) {
	if e.limiter != nil {
		if err := e.limiter.Admit(ctx, tier); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	text, err := e.provider.Complete(ctx, tier, buildPrompt(req))
	if err != nil {
		return nil, err
	}

	res := parseCompletion(text)
	res.Tier = tier
	res.Model = e.provider.Model(tier)
	res.Took = time.Since(start)
	res.TookMs = res.Took.Milliseconds()
	return res, nil
}

func buildPrompt(req grading.Request) string {
	var b strings.Builder
	b.WriteString("Grade the student answer and reply as JSON {\"correct\": bool, \"feedback\": string}.\n")
	if req.Subject != "" {
		b.WriteString("Subject: " + req.Subject + "\n")
	}
	if req.GradeLevel > 0 {
		b.WriteString("Audience: grade " + strconv.Itoa(req.GradeLevel) + " student. Match the explanation to that level.\n")
	}
	if req.SkillName != "" {
		b.WriteString("Skill: " + req.SkillName + "\n")
	}
	b.WriteString("Question: " + req.QuestionText + "\n")
	if len(req.Options) > 0 {
		b.WriteString("Options: " + strings.Join(req.Options, " | ") + "\n")
	}
	b.WriteString("Correct answer: " + req.CorrectAnswer + "\n")
	b.WriteString("Student answer: " + req.StudentAnswer + "\n")
	return b.String()
}

// parseCompletion accepts the expected JSON shape but tolerates plain text:
// an unparseable body becomes the feedback as-is. Malformed transport-level
// responses are already rejected by the provider client.
func parseCompletion(text string) *grading.Result {
	var out struct {
		Correct  *bool  `json:"correct"`
		Feedback string `json:"feedback"`
	}
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil && out.Feedback != "" {
		return &grading.Result{Correct: out.Correct, Feedback: out.Feedback}
	}
	return &grading.Result{Feedback: trimmed}
}
