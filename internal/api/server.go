package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mangaflow/internal/activities"
	"mangaflow/internal/config"
	"mangaflow/internal/corpus"
	"mangaflow/internal/schema"
	"mangaflow/internal/storage"
	"mangaflow/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Server struct {
	cfg         config.Config
	db          *storage.DB
	chapterRepo *storage.ChapterRepo
	branchRepo  *storage.BranchRepo
	temporal    tclient.Client
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}
	return &Server{
		cfg:         cfg,
		db:          db,
		chapterRepo: storage.NewChapterRepo(db),
		branchRepo:  storage.NewBranchRepo(db),
		temporal:    tc,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/steps/", s.handleSteps)
	mux.HandleFunc("/continue", s.handleContinue)
	mux.HandleFunc("/branches/", s.handleBranchScoped)
	mux.HandleFunc("/runs/", s.handleRun)
	mux.HandleFunc("/chapters", s.handleChapters)
	mux.HandleFunc("/schemas", s.handleSchemas)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	step := strings.Trim(strings.TrimPrefix(r.URL.Path, "/steps/"), "/")

	var req struct {
		Chapters []string `json:"chapters,omitempty"`
		Force    bool     `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}

	var (
		wf    any
		input any
	)
	switch step {
	case "chapters":
		wf, input = workflows.ChaptersIndexWorkflow, workflows.ChaptersIndexInput{RebuildIndex: true}
	case "vlm":
		wf, input = workflows.VLMExtractWorkflow, workflows.VLMExtractInput{
			Chapters:       req.Chapters,
			PageBatchSize:  s.cfg.VLMPageBatchSize,
			MaxConcurrency: s.cfg.StageMaxConcurrency,
			Force:          req.Force,
		}
	case "index":
		wf, input = workflows.StoryIndexWorkflow, workflows.StoryIndexInput{}
	case "refine":
		wf, input = workflows.RefineWorkflow, workflows.StageInput{
			Chapters:       req.Chapters,
			Force:          req.Force,
			MaxConcurrency: s.cfg.StageMaxConcurrency,
		}
	case "novel":
		wf, input = workflows.NovelizeWorkflow, workflows.NovelizeInput{}
	case "anchors":
		wf, input = workflows.AnchorsWorkflow, workflows.AnchorsInput{
			Chapters:       req.Chapters,
			AllowEmpty:     s.cfg.AllowEmptyAnchors,
			MaxConcurrency: s.cfg.StageMaxConcurrency,
		}
	case "branches":
		wf, input = workflows.BranchesWorkflow, workflows.BranchesInput{
			Chapters:  req.Chapters,
			Threshold: s.cfg.BranchThreshold,
		}
	case "characters":
		wf, input = workflows.CharactersWorkflow, nil
	case "scales":
		wf, input = workflows.ScalesWorkflow, workflows.StageInput{
			Chapters:       req.Chapters,
			MaxConcurrency: s.cfg.StageMaxConcurrency,
		}
	case "all":
		wf, input = workflows.RunAllWorkflow, workflows.RunAllInput{
			PageBatchSize:  s.cfg.VLMPageBatchSize,
			MaxConcurrency: s.cfg.StageMaxConcurrency,
		}
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown step %q", step))
		return
	}

	s.startWorkflow(w, r, "step-"+step+"-"+uuid.NewString(), wf, input)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Mode         string `json:"mode"`
		BranchID     string `json:"branch_id,omitempty"`
		TimelinePath string `json:"timeline_path,omitempty"`
		TargetPages  int    `json:"target_pages,omitempty"`
		BatchSize    int    `json:"batch_size,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Mode == "" {
		req.Mode = activities.ModeContinueMainline
	}
	if req.Mode != activities.ModeContinueMainline && req.BranchID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("branch_id is required for mode %s", req.Mode))
		return
	}
	target := req.BranchID
	if target == "" {
		target = "mainline"
	}
	if req.TargetPages <= 0 {
		req.TargetPages = s.cfg.TargetPages
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.cfg.PageBatchSize
	}
	s.startWorkflow(w, r, "continue-"+req.Mode+"-"+target, workflows.ContinuationWorkflow, workflows.ContinuationInput{
		Mode:        req.Mode,
		BranchID:    req.BranchID,
		TimelineDir: req.TimelinePath,
		TargetPages: req.TargetPages,
		BatchSize:   req.BatchSize,
	})
}

func (s *Server) handleBranchScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/branches/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	branchID := parts[0]
	if _, err := corpus.ParseBranchID(branchID); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid branch id: %w", err))
		return
	}

	switch parts[1] {
	case "plan":
		s.startWorkflow(w, r, "plan-"+branchID, workflows.BranchPlanWorkflow, workflows.BranchPlanInput{BranchID: branchID})
	case "generate":
		s.startContinuation(w, r, activities.ModeBranchGenerate, branchID, 0, 0)
	case "continue":
		s.startContinuation(w, r, activities.ModeBranchContinue, branchID, 0, 0)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// startContinuation enforces one continuation per target: the workflow id is
// derived from mode and target, so a second start while one is running
// conflicts instead of racing it.
func (s *Server) startContinuation(w http.ResponseWriter, r *http.Request, mode, branchID string, targetPages, batchSize int) {
	if mode != activities.ModeContinueMainline && branchID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("branch_id is required for mode %s", mode))
		return
	}
	target := branchID
	if target == "" {
		target = "mainline"
	}
	if targetPages <= 0 {
		targetPages = s.cfg.TargetPages
	}
	if batchSize <= 0 {
		batchSize = s.cfg.PageBatchSize
	}
	s.startWorkflow(w, r, "continue-"+mode+"-"+target, workflows.ContinuationWorkflow, workflows.ContinuationInput{
		Mode:        mode,
		BranchID:    branchID,
		TargetPages: targetPages,
		BatchSize:   batchSize,
	})
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request, wfID string, wf any, input any) {
	opts := tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	var (
		we  tclient.WorkflowRun
		err error
	)
	if input == nil {
		we, err = s.temporal.ExecuteWorkflow(r.Context(), opts, wf)
	} else {
		we, err = s.temporal.ExecuteWorkflow(r.Context(), opts, wf, input)
	}
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	wfID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/")
	if wfID == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	desc, err := s.temporal.DescribeWorkflowExecution(r.Context(), wfID, "")
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	info := desc.GetWorkflowExecutionInfo()
	out := map[string]any{
		"workflow_id": wfID,
		"run_id":      info.GetExecution().GetRunId(),
		"status":      info.GetStatus().String(),
	}

	// Continuation runs expose a live status query; stage runs expose
	// progress. The query is best effort for anything else.
	queryName := workflows.QueryGetProgress
	if strings.HasPrefix(wfID, "continue-") {
		queryName = workflows.QueryGetContinuationStatus
	}
	if info.GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		if resp, qErr := s.temporal.QueryWorkflow(r.Context(), wfID, "", queryName); qErr == nil {
			var detail json.RawMessage
			if resp.Get(&detail) == nil {
				out["detail"] = detail
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	timeline := r.URL.Query().Get("timeline")
	if timeline == "" {
		timeline = "mainline"
	}
	chapters, err := s.chapterRepo.ListChaptersByTimeline(r.Context(), timeline)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": timeline, "chapters": chapters})
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	out := map[string]json.RawMessage{}
	for _, kind := range schema.Kinds() {
		doc, err := schema.Export(kind)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		out[string(kind)] = doc
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "MF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "MF-DB-5001",
				Message: "Database schema is not initialized. Restart the worker to bootstrap it.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "MF-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "MF-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "MF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "MF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "MF-API-4009"
		msg = "A run for this target is already in progress. Check its status before retrying."
	case status == http.StatusMethodNotAllowed:
		code = "MF-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(low, "branch_id is required"):
			msg = "A branch id is required for branch continuation modes."
		case strings.Contains(low, "invalid branch id"):
			msg = "Branch id must look like ch_NNN_<anchor>_b_<kind>."
		case strings.Contains(low, "unknown step"):
			msg = "Unknown pipeline step."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
