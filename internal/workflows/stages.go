package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"mangaflow/internal/activities"
	"mangaflow/internal/corpus"
	"mangaflow/internal/models"
	"mangaflow/internal/schema"
	"mangaflow/internal/util"
)

const (
	QueryGetProgress           = "GetProgress"
	QueryGetChapterExtract     = "GetChapterExtract"
	QueryGetContinuationStatus = "GetContinuationStatus"
)

// Rolling accumulators are kept under these budgets; older content is
// truncated away, newest kept.
const (
	vlmRollingBudget   = 15000
	novelRollingBudget = 15000
)

const storyStartMarker = "Story Start (Truncated)..."

func withDefaultOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})
}

// withGenerateOptions covers model-backed activities: the correction loop
// runs inside the activity, so Temporal only retries transport-level crashes.
func withGenerateOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 45 * time.Minute,
		HeartbeatTimeout:    0,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
			NonRetryableErrorTypes: []string{
				activities.ErrTypeUnresolvableTarget,
				activities.ErrTypeContextBudgetExceeded,
				"InvalidChapter",
			},
		},
	})
}

func ChaptersIndexWorkflow(ctx workflow.Context, input ChaptersIndexInput) (ChaptersIndexResult, error) {
	ctx = withDefaultOptions(ctx)
	var out activities.ScanChaptersOutput
	if err := workflow.ExecuteActivity(ctx, "ScanChaptersActivity", activities.ScanChaptersInput{RebuildIndex: input.RebuildIndex}).Get(ctx, &out); err != nil {
		return ChaptersIndexResult{}, err
	}
	return ChaptersIndexResult{ChapterIDs: out.ChapterIDs, MissingIDs: out.MissingIDs, IndexPath: out.IndexPath}, nil
}

func VLMExtractWorkflow(ctx workflow.Context, input VLMExtractInput) (StageResult, error) {
	progress := VLMProgress{PerChapter: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (VLMProgress, error) {
		return progress, nil
	}); err != nil {
		return StageResult{}, err
	}

	ctx = withDefaultOptions(ctx)
	chapters := input.Chapters
	if len(chapters) == 0 {
		var scan activities.ScanChaptersOutput
		if err := workflow.ExecuteActivity(ctx, "ScanChaptersActivity", activities.ScanChaptersInput{}).Get(ctx, &scan); err != nil {
			return StageResult{}, err
		}
		chapters = scan.ChapterIDs
	}
	progress.Total = len(chapters)

	result := newStageResult()
	maxChildren := input.MaxConcurrency
	if maxChildren <= 0 {
		maxChildren = 3
	}
	for i := 0; i < len(chapters); i += maxChildren {
		end := i + maxChildren
		if end > len(chapters) {
			end = len(chapters)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		batch := chapters[i:end]
		for _, id := range batch {
			progress.PerChapter[id] = "processing"
			cwo := workflow.ChildWorkflowOptions{WorkflowID: "extract-" + id + "-" + workflow.GetInfo(ctx).WorkflowExecution.RunID}
			childCtx := workflow.WithChildOptions(ctx, cwo)
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, ChapterExtractWorkflow, ChapterExtractInput{
				ChapterID:     id,
				PageBatchSize: input.PageBatchSize,
				Force:         input.Force,
			}))
		}
		for idx, f := range futures {
			id := batch[idx]
			var status string
			if err := f.Get(ctx, &status); err != nil {
				progress.Failed++
				progress.PerChapter[id] = "failed"
				result.Failed[id] = err.Error()
				continue
			}
			progress.Done++
			progress.PerChapter[id] = status
			result.Succeeded = append(result.Succeeded, id)
		}
	}
	return result, nil
}

func ChapterExtractWorkflow(ctx workflow.Context, input ChapterExtractInput) (string, error) {
	status := ChapterExtractProgress{ChapterID: input.ChapterID, Status: "processing"}
	if err := workflow.SetQueryHandler(ctx, QueryGetChapterExtract, func() (ChapterExtractProgress, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ctx = withDefaultOptions(ctx)
	if !input.Force {
		var check activities.CheckSummaryOutput
		if err := workflow.ExecuteActivity(ctx, "CheckSummaryActivity", activities.CheckSummaryInput{ChapterID: input.ChapterID}).Get(ctx, &check); err != nil {
			return "", err
		}
		if check.Exists {
			status.Status = "skipped"
			return "skipped", nil
		}
	}

	var pagesOut activities.ListChapterPagesOutput
	if err := workflow.ExecuteActivity(ctx, "ListChapterPagesActivity", activities.ListChapterPagesInput{ChapterID: input.ChapterID}).Get(ctx, &pagesOut); err != nil {
		return "", err
	}
	if len(pagesOut.Pages) == 0 {
		return "", fmt.Errorf("chapter %s has no page images", input.ChapterID)
	}
	status.TotalPages = len(pagesOut.Pages)

	batchSize := input.PageBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	summary := schema.ChapterSummary{ChapterID: input.ChapterID}
	storySoFar := ""
	genCtx := withGenerateOptions(ctx)
	for start := 0; start < len(pagesOut.Pages); start += batchSize {
		end := start + batchSize
		if end > len(pagesOut.Pages) {
			end = len(pagesOut.Pages)
		}
		var batch activities.ExtractPageBatchOutput
		err := workflow.ExecuteActivity(genCtx, "ExtractPageBatchActivity", activities.ExtractPageBatchInput{
			ChapterID:  input.ChapterID,
			PagePaths:  pagesOut.Pages[start:end],
			StartPage:  start + 1,
			TotalPages: len(pagesOut.Pages),
			StorySoFar: storySoFar,
		}).Get(ctx, &batch)
		if err != nil {
			_ = workflow.ExecuteActivity(ctx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
				ChapterID: input.ChapterID, Timeline: models.MainlineTimeline, Status: models.StatusFailed, FailReason: err.Error(),
			}).Get(ctx, nil)
			return "", err
		}
		summary.Events = append(summary.Events, batch.Events...)
		summary.Dialogues = append(summary.Dialogues, batch.Dialogues...)
		summary.PageSummaries = append(summary.PageSummaries, batch.PageSummaries...)
		if batch.Setting != "" {
			summary.VisualDetails.Setting = batch.Setting
		}
		if batch.Atmosphere != "" {
			summary.VisualDetails.Atmosphere = batch.Atmosphere
		}
		var roll strings.Builder
		for _, p := range summary.PageSummaries {
			roll.WriteString(p.Text)
			roll.WriteString(" ")
		}
		storySoFar = util.TruncateTail(roll.String(), vlmRollingBudget)
		status.PagesDone = end
	}

	if len(summary.PageSummaries) != len(pagesOut.Pages) {
		summary.CoverageNotes = fmt.Sprintf("page summaries cover %d of %d pages", len(summary.PageSummaries), len(pagesOut.Pages))
	}
	if err := workflow.ExecuteActivity(ctx, "WriteChapterSummaryActivity", activities.WriteChapterSummaryInput{Summary: summary}).Get(ctx, nil); err != nil {
		return "", err
	}
	_ = workflow.ExecuteActivity(ctx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
		ChapterID: input.ChapterID, Timeline: models.MainlineTimeline, Status: models.StatusCommitted,
	}).Get(ctx, nil)
	status.Status = "done"
	return "done", nil
}

// StoryIndexWorkflow rebuilds the index wholesale. An invalid summary does
// not fail the run: the index covers the longest valid prefix and the result
// names the chapters left out.
func StoryIndexWorkflow(ctx workflow.Context, _ StoryIndexInput) (StoryIndexResult, error) {
	ctx = withDefaultOptions(ctx)
	var loaded activities.LoadSummariesOutput
	if err := workflow.ExecuteActivity(ctx, "LoadSummariesActivity", activities.LoadSummariesInput{}).Get(ctx, &loaded); err != nil {
		return StoryIndexResult{}, err
	}
	if len(loaded.Summaries) == 0 {
		return StoryIndexResult{}, fmt.Errorf("no valid chapter summaries to index")
	}

	prefix := validPrefix(loaded.Summaries, loaded.InvalidChapters)
	covered := make([]string, 0, len(prefix))
	for _, s := range prefix {
		covered = append(covered, s.ChapterID)
	}

	var built activities.BuildStoryIndexOutput
	if err := workflow.ExecuteActivity(withGenerateOptions(ctx), "BuildStoryIndexActivity", activities.BuildStoryIndexInput{Summaries: prefix}).Get(ctx, &built); err != nil {
		return StoryIndexResult{}, err
	}
	return StoryIndexResult{
		Path:            built.Path,
		Version:         built.Version,
		Covered:         covered,
		InvalidChapters: loaded.InvalidChapters,
		Incomplete:      len(loaded.InvalidChapters) > 0 || len(prefix) < len(loaded.Summaries),
	}, nil
}

// validPrefix keeps the summaries strictly before the first invalid chapter,
// so the index never indexes across a hole. Chapter ids compare by number,
// not lexically, so ch_1000 sorts after ch_999.
func validPrefix(summaries []schema.ChapterSummary, invalid []string) []schema.ChapterSummary {
	if len(invalid) == 0 {
		return summaries
	}
	firstBad := -1
	for _, id := range invalid {
		n, err := corpus.ParseChapterID(id)
		if err != nil {
			continue
		}
		if firstBad < 0 || n < firstBad {
			firstBad = n
		}
	}
	if firstBad < 0 {
		return summaries
	}
	out := make([]schema.ChapterSummary, 0, len(summaries))
	for _, s := range summaries {
		n, err := corpus.ParseChapterID(s.ChapterID)
		if err != nil || n >= firstBad {
			break
		}
		out = append(out, s)
	}
	return out
}

func RefineWorkflow(ctx workflow.Context, input StageInput) (StageResult, error) {
	ctx = withDefaultOptions(ctx)
	chapters, err := stageChapters(ctx, input.Chapters)
	if err != nil {
		return StageResult{}, err
	}
	result := newStageResult()
	genCtx := withGenerateOptions(ctx)
	maxConc := input.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 3
	}
	for i := 0; i < len(chapters); i += maxConc {
		end := i + maxConc
		if end > len(chapters) {
			end = len(chapters)
		}
		batch := chapters[i:end]
		futures := make([]workflow.Future, 0, len(batch))
		for _, id := range batch {
			futures = append(futures, workflow.ExecuteActivity(genCtx, "RefineChapterActivity", activities.RefineChapterInput{
				ChapterID: id,
				Force:     input.Force,
			}))
		}
		for idx, f := range futures {
			id := batch[idx]
			var out activities.RefineChapterOutput
			if err := f.Get(ctx, &out); err != nil {
				result.Failed[id] = err.Error()
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
			result.Artifacts = append(result.Artifacts, out.Path)
		}
	}
	return result, nil
}

// NovelizeWorkflow is a strict serial fold: each chapter's prose is generated
// with the rolling story summary of everything before it.
func NovelizeWorkflow(ctx workflow.Context, _ NovelizeInput) (NovelizeResult, error) {
	ctx = withDefaultOptions(ctx)
	chapters, err := stageChapters(ctx, nil)
	if err != nil {
		return NovelizeResult{}, err
	}
	result := NovelizeResult{StageResult: newStageResult()}
	genCtx := withGenerateOptions(ctx)
	rolling := ""
	for _, id := range chapters {
		var out activities.NovelizeChapterOutput
		if err := workflow.ExecuteActivity(genCtx, "NovelizeChapterActivity", activities.NovelizeChapterInput{
			ChapterID:  id,
			StorySoFar: rolling,
		}).Get(ctx, &out); err != nil {
			// The fold cannot continue past a hole: later chapters would be
			// written against a wrong story state.
			result.Failed[id] = err.Error()
			break
		}
		result.Succeeded = append(result.Succeeded, id)
		result.Artifacts = append(result.Artifacts, out.Path)
		rolling = appendRolling(rolling, id, out.Synopsis)
	}
	if len(result.Succeeded) > 0 {
		var concat activities.ConcatNovelOutput
		if err := workflow.ExecuteActivity(ctx, "ConcatNovelActivity", activities.ConcatNovelInput{ChapterIDs: result.Succeeded}).Get(ctx, &concat); err != nil {
			return NovelizeResult{}, err
		}
		result.FullNovelPath = concat.Path
	}
	return result, nil
}

func appendRolling(rolling, chapterID, synopsis string) string {
	next := rolling + "\n\n[" + chapterID + "] " + synopsis
	if len([]rune(next)) <= novelRollingBudget {
		return next
	}
	return storyStartMarker + "\n" + util.TruncateTail(next, novelRollingBudget)
}

func AnchorsWorkflow(ctx workflow.Context, input AnchorsInput) (StageResult, error) {
	ctx = withDefaultOptions(ctx)
	chapters, err := stageChapters(ctx, input.Chapters)
	if err != nil {
		return StageResult{}, err
	}
	result := newStageResult()
	genCtx := withGenerateOptions(ctx)
	maxConc := input.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 3
	}
	for i := 0; i < len(chapters); i += maxConc {
		end := i + maxConc
		if end > len(chapters) {
			end = len(chapters)
		}
		batch := chapters[i:end]
		futures := make([]workflow.Future, 0, len(batch))
		for _, id := range batch {
			futures = append(futures, workflow.ExecuteActivity(genCtx, "ExtractAnchorsActivity", activities.ExtractAnchorsInput{
				ChapterID:  id,
				AllowEmpty: input.AllowEmpty,
			}))
		}
		for idx, f := range futures {
			id := batch[idx]
			var out activities.ExtractAnchorsOutput
			if err := f.Get(ctx, &out); err != nil {
				result.Failed[id] = err.Error()
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
			result.Artifacts = append(result.Artifacts, out.Path)
		}
	}
	if len(result.Succeeded) > 0 {
		if err := workflow.ExecuteActivity(ctx, "AggregateAnchorsActivity", activities.AggregateAnchorsInput{ChapterIDs: result.Succeeded}).Get(ctx, nil); err != nil {
			return result, err
		}
	}
	return result, nil
}

func BranchesWorkflow(ctx workflow.Context, input BranchesInput) (StageResult, error) {
	ctx = withDefaultOptions(ctx)
	chapters, err := stageChapters(ctx, input.Chapters)
	if err != nil {
		return StageResult{}, err
	}
	threshold := input.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	result := newStageResult()
	genCtx := withGenerateOptions(ctx)
	for _, id := range chapters {
		var out activities.GenerateChapterBranchesOutput
		if err := workflow.ExecuteActivity(genCtx, "GenerateChapterBranchesActivity", activities.GenerateChapterBranchesInput{
			ChapterID: id,
			Threshold: threshold,
		}).Get(ctx, &out); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
		result.Artifacts = append(result.Artifacts, out.Path)
	}
	if len(result.Succeeded) > 0 {
		if err := workflow.ExecuteActivity(ctx, "AggregateBranchesActivity", activities.AggregateBranchesInput{ChapterIDs: result.Succeeded}).Get(ctx, nil); err != nil {
			return result, err
		}
	}
	return result, nil
}

func CharactersWorkflow(ctx workflow.Context) (CharactersResult, error) {
	ctx = withDefaultOptions(ctx)
	var out activities.BuildCharacterBibleOutput
	if err := workflow.ExecuteActivity(withGenerateOptions(ctx), "BuildCharacterBibleActivity", activities.BuildCharacterBibleInput{}).Get(ctx, &out); err != nil {
		return CharactersResult{}, err
	}
	return CharactersResult{Path: out.Path, CharacterCount: out.CharacterCount}, nil
}

func ScalesWorkflow(ctx workflow.Context, input StageInput) (StageResult, error) {
	ctx = withDefaultOptions(ctx)
	chapters, err := stageChapters(ctx, input.Chapters)
	if err != nil {
		return StageResult{}, err
	}
	result := newStageResult()
	genCtx := withGenerateOptions(ctx)
	maxConc := input.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 3
	}
	for i := 0; i < len(chapters); i += maxConc {
		end := i + maxConc
		if end > len(chapters) {
			end = len(chapters)
		}
		batch := chapters[i:end]
		futures := make([]workflow.Future, 0, len(batch))
		for _, id := range batch {
			futures = append(futures, workflow.ExecuteActivity(genCtx, "ScoreChapterActivity", activities.ScoreChapterInput{ChapterID: id}))
		}
		for idx, f := range futures {
			id := batch[idx]
			var out activities.ScoreChapterOutput
			if err := f.Get(ctx, &out); err != nil {
				result.Failed[id] = err.Error()
				continue
			}
			result.Succeeded = append(result.Succeeded, id)
			result.Artifacts = append(result.Artifacts, out.Path)
		}
	}
	if len(result.Succeeded) > 0 {
		if err := workflow.ExecuteActivity(ctx, "AggregateScalesActivity", activities.AggregateScalesInput{ChapterIDs: result.Succeeded}).Get(ctx, nil); err != nil {
			return result, err
		}
	}
	return result, nil
}

func RunAllWorkflow(ctx workflow.Context, input RunAllInput) (RunAllResult, error) {
	out := RunAllResult{Stages: map[string]StageResult{}}

	// Published schemas let external consumers validate the artifacts this
	// run is about to produce.
	actCtx := withDefaultOptions(ctx)
	if err := workflow.ExecuteActivity(actCtx, "ExportSchemasActivity", activities.ExportSchemasInput{}).Get(actCtx, nil); err != nil {
		return out, err
	}

	var indexRes ChaptersIndexResult
	if err := workflow.ExecuteChildWorkflow(ctx, ChaptersIndexWorkflow, ChaptersIndexInput{RebuildIndex: true}).Get(ctx, &indexRes); err != nil {
		return out, err
	}
	out.Stages["chapters"] = StageResult{Succeeded: indexRes.ChapterIDs, Failed: map[string]string{}}

	var vlmRes StageResult
	if err := workflow.ExecuteChildWorkflow(ctx, VLMExtractWorkflow, VLMExtractInput{
		Chapters:       indexRes.ChapterIDs,
		PageBatchSize:  input.PageBatchSize,
		MaxConcurrency: input.MaxConcurrency,
	}).Get(ctx, &vlmRes); err != nil {
		out.Failed = append(out.Failed, "vlm")
		return out, err
	}
	out.Stages["vlm"] = vlmRes

	var storyRes StoryIndexResult
	if err := workflow.ExecuteChildWorkflow(ctx, StoryIndexWorkflow, StoryIndexInput{}).Get(ctx, &storyRes); err != nil {
		out.Failed = append(out.Failed, "index")
		return out, err
	}
	out.Stages["index"] = StageResult{Succeeded: storyRes.Covered, Failed: failedMap(storyRes.InvalidChapters, "invalid summary")}

	var refineRes StageResult
	if err := workflow.ExecuteChildWorkflow(ctx, RefineWorkflow, StageInput{MaxConcurrency: input.MaxConcurrency}).Get(ctx, &refineRes); err != nil {
		out.Failed = append(out.Failed, "refine")
		return out, err
	}
	out.Stages["refine"] = refineRes

	var novelRes NovelizeResult
	if err := workflow.ExecuteChildWorkflow(ctx, NovelizeWorkflow, NovelizeInput{}).Get(ctx, &novelRes); err != nil {
		out.Failed = append(out.Failed, "novel")
		return out, err
	}
	out.Stages["novel"] = novelRes.StageResult

	var anchorsRes StageResult
	if err := workflow.ExecuteChildWorkflow(ctx, AnchorsWorkflow, AnchorsInput{
		Chapters:       novelRes.Succeeded,
		MaxConcurrency: input.MaxConcurrency,
	}).Get(ctx, &anchorsRes); err != nil {
		out.Failed = append(out.Failed, "anchors")
		return out, err
	}
	out.Stages["anchors"] = anchorsRes

	var branchesRes StageResult
	if err := workflow.ExecuteChildWorkflow(ctx, BranchesWorkflow, BranchesInput{Chapters: anchorsRes.Succeeded}).Get(ctx, &branchesRes); err != nil {
		out.Failed = append(out.Failed, "branches")
		return out, err
	}
	out.Stages["branches"] = branchesRes

	var charsRes CharactersResult
	if err := workflow.ExecuteChildWorkflow(ctx, CharactersWorkflow).Get(ctx, &charsRes); err != nil {
		out.Failed = append(out.Failed, "characters")
		return out, err
	}
	out.Stages["characters"] = StageResult{Succeeded: []string{charsRes.Path}, Failed: map[string]string{}}

	var scalesRes StageResult
	if err := workflow.ExecuteChildWorkflow(ctx, ScalesWorkflow, StageInput{
		Chapters:       novelRes.Succeeded,
		MaxConcurrency: input.MaxConcurrency,
	}).Get(ctx, &scalesRes); err != nil {
		out.Failed = append(out.Failed, "scales")
		return out, err
	}
	out.Stages["scales"] = scalesRes

	return out, nil
}

func failedMap(ids []string, reason string) map[string]string {
	out := map[string]string{}
	for _, id := range ids {
		out[id] = reason
	}
	return out
}

// stageChapters resolves the chapter set for a stage: an explicit subset, or
// every chapter with a committed summary.
func stageChapters(ctx workflow.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	var loaded activities.LoadSummariesOutput
	if err := workflow.ExecuteActivity(ctx, "LoadSummariesActivity", activities.LoadSummariesInput{}).Get(ctx, &loaded); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(loaded.Summaries))
	for _, s := range loaded.Summaries {
		ids = append(ids, s.ChapterID)
	}
	return ids, nil
}
