package activities

import (
	"mangaflow/internal/schema"
)

type ScanChaptersInput struct {
	RebuildIndex bool `json:"rebuild_index"`
}

type ScanChaptersOutput struct {
	ChapterIDs []string `json:"chapter_ids"`
	MissingIDs []string `json:"missing_ids"`
	IndexPath  string   `json:"index_path"`
}

type CheckSummaryInput struct {
	ChapterID string `json:"chapter_id"`
	Refined   bool   `json:"refined"`
}

type CheckSummaryOutput struct {
	Exists bool `json:"exists"`
}

type ListChapterPagesInput struct {
	ChapterID string `json:"chapter_id"`
}

type ListChapterPagesOutput struct {
	Pages []string `json:"pages"`
}

type ExtractPageBatchInput struct {
	ChapterID  string   `json:"chapter_id"`
	PagePaths  []string `json:"page_paths"`
	StartPage  int      `json:"start_page"`
	TotalPages int      `json:"total_pages"`
	StorySoFar string   `json:"story_so_far"`
}

type ExtractPageBatchOutput struct {
	Events        []string               `json:"events"`
	Dialogues     []string               `json:"dialogues"`
	PageSummaries schema.PageSummaryList `json:"page_summaries"`
	Setting       string                 `json:"setting"`
	Atmosphere    string                 `json:"atmosphere"`
	ProviderName  string                 `json:"provider_name"`
	Model         string                 `json:"model"`
}

type WriteChapterSummaryInput struct {
	Summary schema.ChapterSummary `json:"summary"`
}

type WriteChapterSummaryOutput struct {
	Path string `json:"path"`
}

type LoadSummariesInput struct {
	TimelineDir string `json:"timeline_dir"`
}

type LoadSummariesOutput struct {
	Summaries       []schema.ChapterSummary `json:"summaries"`
	InvalidChapters []string                `json:"invalid_chapters"`
}

type BuildStoryIndexInput struct {
	Summaries []schema.ChapterSummary `json:"summaries"`
}

type BuildStoryIndexOutput struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

type RefineChapterInput struct {
	ChapterID string `json:"chapter_id"`
	Force     bool   `json:"force"`
}

type RefineChapterOutput struct {
	Skipped bool   `json:"skipped"`
	Path    string `json:"path"`
}

type NovelizeChapterInput struct {
	ChapterID  string `json:"chapter_id"`
	StorySoFar string `json:"story_so_far"`
}

type NovelizeChapterOutput struct {
	Prose    string `json:"prose"`
	Synopsis string `json:"synopsis"`
	Path     string `json:"path"`
}

type ConcatNovelInput struct {
	ChapterIDs []string `json:"chapter_ids"`
}

type ConcatNovelOutput struct {
	Path string `json:"path"`
}

type ExtractAnchorsInput struct {
	ChapterID  string `json:"chapter_id"`
	AllowEmpty bool   `json:"allow_empty"`
}

type ExtractAnchorsOutput struct {
	AnchorCount int    `json:"anchor_count"`
	Path        string `json:"path"`
}

type AggregateAnchorsInput struct {
	ChapterIDs []string `json:"chapter_ids"`
}

type AggregateAnchorsOutput struct {
	Path  string `json:"path"`
	Total int    `json:"total"`
}

type GenerateChapterBranchesInput struct {
	ChapterID string `json:"chapter_id"`
	Threshold int    `json:"threshold"`
}

type GenerateChapterBranchesOutput struct {
	BranchIDs []string `json:"branch_ids"`
	Skipped   int      `json:"skipped"`
	Path      string   `json:"path"`
}

type AggregateBranchesInput struct {
	ChapterIDs []string `json:"chapter_ids"`
}

type AggregateBranchesOutput struct {
	Path  string `json:"path"`
	Total int    `json:"total"`
}

type BuildCharacterBibleInput struct{}

type BuildCharacterBibleOutput struct {
	Path           string `json:"path"`
	CharacterCount int    `json:"character_count"`
}

type ScoreChapterInput struct {
	ChapterID string `json:"chapter_id"`
}

type ScoreChapterOutput struct {
	Path   string               `json:"path"`
	Scales schema.ChapterScales `json:"scales"`
}

type AggregateScalesInput struct {
	ChapterIDs []string `json:"chapter_ids"`
}

type AggregateScalesOutput struct {
	Path string `json:"path"`
}

type ResolveTargetInput struct {
	Mode        string `json:"mode"`
	BranchID    string `json:"branch_id,omitempty"`
	TimelineDir string `json:"timeline_dir,omitempty"`
}

type ResolveTargetOutput struct {
	NewChapterID    string               `json:"new_chapter_id"`
	ParentChapterID string               `json:"parent_chapter_id"`
	Timeline        string               `json:"timeline"`
	TimelineDir     string               `json:"timeline_dir"`
	Route           *schema.BranchOption `json:"route,omitempty"`
	Anchor          *schema.Anchor       `json:"anchor,omitempty"`
	Config          *schema.BranchConfig `json:"config,omitempty"`
}

type AssembleContextInput struct {
	Mode            string               `json:"mode"`
	Timeline        string               `json:"timeline"`
	TimelineDir     string               `json:"timeline_dir"`
	NewChapterID    string               `json:"new_chapter_id"`
	ParentChapterID string               `json:"parent_chapter_id"`
	Route           *schema.BranchOption `json:"route,omitempty"`
	Anchor          *schema.Anchor       `json:"anchor,omitempty"`
	Config          *schema.BranchConfig `json:"config,omitempty"`
}

type AssembleContextOutput struct {
	Context    string `json:"context"`
	UsedRunes  int    `json:"used_runes"`
	Truncated  bool   `json:"truncated"`
	ChapterIDs []string `json:"chapter_ids"`
}

type PlanChapterInput struct {
	ChapterID   string `json:"chapter_id"`
	Context     string `json:"context"`
	TargetPages int    `json:"target_pages"`
}

type PlanChapterOutput struct {
	Plan schema.ChapterPlan `json:"plan"`
}

type GeneratePageBatchInput struct {
	ChapterID     string                 `json:"chapter_id"`
	Context       string                 `json:"context"`
	Plan          schema.ChapterPlan     `json:"plan"`
	PriorEvents   []string               `json:"prior_events"`
	PriorPages    schema.PageSummaryList `json:"prior_pages"`
	StartPage     int                    `json:"start_page"`
	BatchSize     int                    `json:"batch_size"`
	TargetPages   int                    `json:"target_pages"`
	RouteKind     string                 `json:"route_kind,omitempty"`
	AnchorSummary string                 `json:"anchor_summary,omitempty"`
	// AnchorOutcome is the canonical outcome alone, the needle for the
	// divergence check. AnchorSummary carries the fuller prompt text.
	AnchorOutcome string `json:"anchor_outcome,omitempty"`
}

type GeneratePageBatchOutput struct {
	Batch        schema.PageBatch `json:"batch"`
	ProviderName string           `json:"provider_name"`
	Model        string           `json:"model"`
	Attempts     int              `json:"attempts"`
}

type SynthesizeVisualsInput struct {
	ChapterID     string                 `json:"chapter_id"`
	Events        []string               `json:"events"`
	PageSummaries schema.PageSummaryList `json:"page_summaries"`
}

type SynthesizeVisualsOutput struct {
	Visuals schema.VisualDetails `json:"visuals"`
}

type CommitChapterInput struct {
	Chapter     schema.GeneratedChapter `json:"chapter"`
	TimelineDir string                  `json:"timeline_dir"`
	Provenance  string                  `json:"provenance"`
}

type CommitChapterOutput struct {
	Path string `json:"path"`
}

type UpdateChapterStatusInput struct {
	ChapterID  string `json:"chapter_id"`
	Timeline   string `json:"timeline"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type UpdateBranchStatusInput struct {
	BranchID string `json:"branch_id"`
	Status   string `json:"status"`
}

type LogGenerationCallInput struct {
	Operation    string `json:"operation"`
	ChapterID    string `json:"chapter_id,omitempty"`
	Timeline     string `json:"timeline,omitempty"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	Attempts     int    `json:"attempts"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type,omitempty"`
}

type ExportSchemasInput struct {
	OutDir string `json:"out_dir,omitempty"`
}

type ExportSchemasOutput struct {
	Dir   string   `json:"dir"`
	Kinds []string `json:"kinds"`
}
