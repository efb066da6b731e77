package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"intelligrade/pkg/mq"
	"intelligrade/pkg/observability"
	"intelligrade/pkg/queue"
)

var (
	store    *queue.Store
	notifier *mq.Notifier
	logger   *slog.Logger
)

func main() {
	_ = godotenv.Load()

	logger = observability.NewLogger()
	slog.SetDefault(logger)

	var err error
	store, err = queue.NewStore(context.Background())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer store.Close()

	// In a real deployment a migration tool would own this; for the demo we
	// ensure the schema exists.
	if err := store.InitSchema(context.Background()); err != nil {
		slog.Error("failed to initialize schema", "error", err)
	}

	// The broker is optional: submissions work without it, the worker just
	// waits for its next poll tick instead of a wakeup.
	notifier, err = mq.New()
	if err != nil {
		slog.Warn("rabbitmq unavailable, running without notifications", "error", err)
		notifier = nil
	} else {
		defer notifier.Close()
		if err := notifier.SetupTopology(); err != nil {
			slog.Warn("failed to setup rabbitmq topology", "error", err)
			notifier = nil
		}
	}

	observability.StartMetricsServer(":8081")

	http.HandleFunc("/jobs", handleJobs)
	http.HandleFunc("/jobs/", handleJobByID)
	http.HandleFunc("/stats", handleStats)
	http.HandleFunc("/health", handleHealth)

	slog.Info("API server starting on :8080")
	if err := http.ListenAndServe(":8080", nil); err != nil {
		slog.Error("api server failed", "error", err)
	}
}

// submitBody accepts priority either as an integer or as a named level.
type submitBody struct {
	OwnerID    string          `json:"owner_id"`
	Priority   json.RawMessage `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries"`
}

func parsePriority(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return queue.PriorityNormal, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, err
	}
	return queue.ParsePriority(name)
}

func handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	priority, err := parsePriority(body.Priority)
	if err != nil {
		http.Error(w, "Invalid priority: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := queue.SubmissionRequest{
		OwnerID:    body.OwnerID,
		Priority:   priority,
		Payload:    body.Payload,
		MaxRetries: body.MaxRetries,
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID, err := store.CreateJob(r.Context(), &req)
	if err != nil {
		slog.Error("failed to create job", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	kind := queue.JobKind(req.Payload)
	observability.JobsSubmitted.WithLabelValues(kind, strconv.Itoa(req.Priority)).Inc()
	slog.Info("job submitted", "job_id", jobID, "kind", kind, "priority", req.Priority)

	if notifier != nil {
		if err := notifier.PublishSubmitted(r.Context(), jobID); err != nil {
			slog.Warn("failed to publish submission wakeup", "job_id", jobID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}

func handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if jobID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		handleCancel(w, r, jobID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := store.GetJob(r.Context(), rest)
	if err != nil {
		slog.Error("failed to load job", "job_id", rest, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func handleCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cancelled, err := store.Cancel(r.Context(), jobID)
	if err != nil {
		slog.Error("failed to cancel job", "job_id", jobID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !cancelled {
		// already running, finished, or unknown: only pending jobs cancel
		http.Error(w, "Job is not pending", http.StatusConflict)
		return
	}

	slog.Info("job cancelled", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := store.Stats(r.Context())
	if err != nil {
		slog.Error("failed to load queue stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
