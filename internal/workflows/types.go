package workflows

type StageInput struct {
	Chapters       []string `json:"chapters,omitempty"`
	Force          bool     `json:"force"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
}

// StageResult is the uniform multi-chapter outcome: one chapter's terminal
// failure never aborts the rest of the batch.
type StageResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	Artifacts []string          `json:"artifacts,omitempty"`
}

func newStageResult() StageResult {
	return StageResult{Succeeded: []string{}, Failed: map[string]string{}}
}

type ChaptersIndexInput struct {
	RebuildIndex bool `json:"rebuild_index"`
}

type ChaptersIndexResult struct {
	ChapterIDs []string `json:"chapter_ids"`
	MissingIDs []string `json:"missing_ids"`
	IndexPath  string   `json:"index_path"`
}

type VLMExtractInput struct {
	Chapters       []string `json:"chapters,omitempty"`
	PageBatchSize  int      `json:"page_batch_size,omitempty"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	Force          bool     `json:"force"`
}

type ChapterExtractInput struct {
	ChapterID     string `json:"chapter_id"`
	PageBatchSize int    `json:"page_batch_size,omitempty"`
	Force         bool   `json:"force"`
}

type StoryIndexInput struct{}

type StoryIndexResult struct {
	Path            string   `json:"path"`
	Version         string   `json:"version"`
	Covered         []string `json:"covered"`
	InvalidChapters []string `json:"invalid_chapters,omitempty"`
	Incomplete      bool     `json:"incomplete"`
}

// NovelizeInput is empty today; the fold always regenerates because each
// chapter's prose depends on the rolling synopsis of everything before it.
type NovelizeInput struct{}

type NovelizeResult struct {
	StageResult
	FullNovelPath string `json:"full_novel_path"`
}

type AnchorsInput struct {
	Chapters       []string `json:"chapters,omitempty"`
	AllowEmpty     bool     `json:"allow_empty"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
}

type BranchesInput struct {
	Chapters  []string `json:"chapters,omitempty"`
	Threshold int      `json:"threshold,omitempty"`
}

type CharactersResult struct {
	Path           string `json:"path"`
	CharacterCount int    `json:"character_count"`
}

type ContinuationInput struct {
	Mode        string `json:"mode"`
	BranchID    string `json:"branch_id,omitempty"`
	TimelineDir string `json:"timeline_dir,omitempty"`
	TargetPages int    `json:"target_pages,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

type ContinuationResult struct {
	ChapterID    string `json:"chapter_id"`
	Timeline     string `json:"timeline"`
	ArtifactPath string `json:"artifact_path"`
	Pages        int    `json:"pages"`
	Batches      int    `json:"batches"`
	EarlyClosure bool   `json:"early_closure"`
}

// Continuation engine states, reported through the status query.
const (
	StateIdle              = "Idle"
	StateContextAssembled  = "ContextAssembled"
	StateGenerating        = "Generating"
	StatePageBatchComplete = "PageBatchComplete"
	StateValidated         = "Validated"
	StateCommitted         = "Committed"
	StateFailed            = "Failed"
)

type ContinuationStatus struct {
	Mode            string `json:"mode"`
	Target          string `json:"target"`
	State           string `json:"state"`
	NewChapterID    string `json:"new_chapter_id,omitempty"`
	ParentChapterID string `json:"parent_chapter_id,omitempty"`
	Timeline        string `json:"timeline,omitempty"`
	PagesDone       int    `json:"pages_done"`
	TargetPages     int    `json:"target_pages"`
	BatchesDone     int    `json:"batches_done"`
	FailReason      string `json:"fail_reason,omitempty"`
}

type BranchPlanInput struct {
	BranchID string `json:"branch_id"`
}

type BranchPlanResult struct {
	BranchID      string `json:"branch_id"`
	ChapterID     string `json:"chapter_id"`
	RouteKind     string `json:"route_kind"`
	WhatIf        string `json:"what_if"`
	AnchorSummary string `json:"anchor_summary,omitempty"`
	Plan          string `json:"plan"`
}

type RunAllInput struct {
	PageBatchSize  int `json:"page_batch_size,omitempty"`
	MaxConcurrency int `json:"max_concurrency,omitempty"`
}

type RunAllResult struct {
	Stages map[string]StageResult `json:"stages"`
	Failed []string               `json:"failed_stages,omitempty"`
}

type VLMProgress struct {
	Total      int               `json:"total"`
	Done       int               `json:"done"`
	Failed     int               `json:"failed"`
	PerChapter map[string]string `json:"per_chapter"`
}

type ChapterExtractProgress struct {
	ChapterID  string `json:"chapter_id"`
	TotalPages int    `json:"total_pages"`
	PagesDone  int    `json:"pages_done"`
	Status     string `json:"status"`
}
