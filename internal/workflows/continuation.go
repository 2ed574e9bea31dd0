package workflows

import (
	"go.temporal.io/sdk/workflow"

	"mangaflow/internal/activities"
	"mangaflow/internal/models"
	"mangaflow/internal/schema"
)

// ContinuationWorkflow generates one new chapter on a timeline. Page batches
// accumulate in workflow state and nothing touches the corpus until the full
// chapter validates, so a failed run leaves no partial artifact behind.
func ContinuationWorkflow(ctx workflow.Context, input ContinuationInput) (ContinuationResult, error) {
	status := ContinuationStatus{
		Mode:   input.Mode,
		Target: input.BranchID,
		State:  StateIdle,
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetContinuationStatus, func() (ContinuationStatus, error) {
		return status, nil
	}); err != nil {
		return ContinuationResult{}, err
	}

	targetPages := input.TargetPages
	if targetPages <= 0 {
		targetPages = 18
	}
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	status.TargetPages = targetPages

	ctx = withDefaultOptions(ctx)
	genCtx := withGenerateOptions(ctx)
	isBranch := input.Mode == activities.ModeBranchGenerate || input.Mode == activities.ModeBranchContinue

	fail := func(reason string, err error) (ContinuationResult, error) {
		status.State = StateFailed
		status.FailReason = reason
		if status.NewChapterID != "" {
			// Best effort: the run already failed, a bookkeeping miss must
			// not mask the original error.
			dCtx, cancel := workflow.NewDisconnectedContext(ctx)
			defer cancel()
			dCtx = withDefaultOptions(dCtx)
			_ = workflow.ExecuteActivity(dCtx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
				ChapterID: status.NewChapterID, Timeline: status.Timeline, Status: models.StatusFailed, FailReason: reason,
			}).Get(dCtx, nil)
			if isBranch {
				_ = workflow.ExecuteActivity(dCtx, "UpdateBranchStatusActivity", activities.UpdateBranchStatusInput{
					BranchID: input.BranchID, Status: models.StatusFailed,
				}).Get(dCtx, nil)
			}
		}
		return ContinuationResult{}, err
	}

	var target activities.ResolveTargetOutput
	if err := workflow.ExecuteActivity(ctx, "ResolveTargetActivity", activities.ResolveTargetInput{
		Mode:        input.Mode,
		BranchID:    input.BranchID,
		TimelineDir: input.TimelineDir,
	}).Get(ctx, &target); err != nil {
		status.State = StateFailed
		status.FailReason = err.Error()
		return ContinuationResult{}, err
	}
	status.NewChapterID = target.NewChapterID
	status.ParentChapterID = target.ParentChapterID
	status.Timeline = target.Timeline
	if status.Target == "" {
		status.Target = target.Timeline
	}

	_ = workflow.ExecuteActivity(ctx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
		ChapterID: target.NewChapterID, Timeline: target.Timeline, Status: models.StatusProcessing,
	}).Get(ctx, nil)
	if isBranch {
		_ = workflow.ExecuteActivity(ctx, "UpdateBranchStatusActivity", activities.UpdateBranchStatusInput{
			BranchID: input.BranchID, Status: models.StatusProcessing,
		}).Get(ctx, nil)
	}

	var assembled activities.AssembleContextOutput
	if err := workflow.ExecuteActivity(ctx, "AssembleContextActivity", activities.AssembleContextInput{
		Mode:            input.Mode,
		Timeline:        target.Timeline,
		TimelineDir:     target.TimelineDir,
		NewChapterID:    target.NewChapterID,
		ParentChapterID: target.ParentChapterID,
		Route:           target.Route,
		Anchor:          target.Anchor,
		Config:          target.Config,
	}).Get(ctx, &assembled); err != nil {
		return fail(err.Error(), err)
	}
	status.State = StateContextAssembled

	var planned activities.PlanChapterOutput
	if err := workflow.ExecuteActivity(genCtx, "PlanChapterActivity", activities.PlanChapterInput{
		ChapterID:   target.NewChapterID,
		Context:     assembled.Context,
		TargetPages: targetPages,
	}).Get(ctx, &planned); err != nil {
		return fail(err.Error(), err)
	}

	routeKind := ""
	anchorSummary := ""
	anchorOutcome := ""
	if target.Route != nil {
		routeKind = string(target.Route.BranchType)
	}
	if target.Anchor != nil {
		anchorSummary = target.Anchor.Summary
		if target.Anchor.ImmediateEffect != "" {
			anchorSummary = target.Anchor.Summary + " " + target.Anchor.ImmediateEffect
		}
		// The divergence check matches events against the outcome alone;
		// the concatenated summary would never appear verbatim in an event.
		anchorOutcome = target.Anchor.ImmediateEffect
		if anchorOutcome == "" {
			anchorOutcome = target.Anchor.Summary
		}
	}

	chapter := schema.GeneratedChapter{
		ChapterSummary:  schema.ChapterSummary{ChapterID: target.NewChapterID},
		Timeline:        target.Timeline,
		ParentChapterID: target.ParentChapterID,
	}
	earlyClosure := false
	lastProvider := ""
	lastModel := ""
	batches := 0
	for page := 1; page <= targetPages; page += batchSize {
		if ctx.Err() != nil {
			return fail("cancelled at batch boundary", ctx.Err())
		}
		size := batchSize
		if page+size-1 > targetPages {
			size = targetPages - page + 1
		}
		status.State = StateGenerating
		var out activities.GeneratePageBatchOutput
		if err := workflow.ExecuteActivity(genCtx, "GeneratePageBatchActivity", activities.GeneratePageBatchInput{
			ChapterID:     target.NewChapterID,
			Context:       assembled.Context,
			Plan:          planned.Plan,
			PriorEvents:   chapter.Events,
			PriorPages:    chapter.PageSummaries,
			StartPage:     page,
			BatchSize:     size,
			TargetPages:   targetPages,
			RouteKind:     routeKind,
			AnchorSummary: anchorSummary,
			AnchorOutcome: anchorOutcome,
		}).Get(ctx, &out); err != nil {
			return fail(err.Error(), err)
		}
		chapter.Events = append(chapter.Events, out.Batch.Events...)
		chapter.Dialogues = append(chapter.Dialogues, out.Batch.Dialogues...)
		chapter.PageSummaries = append(chapter.PageSummaries, out.Batch.PageSummaries...)
		lastProvider = out.ProviderName
		lastModel = out.Model
		batches++
		status.BatchesDone = batches
		status.PagesDone = len(chapter.PageSummaries)
		status.State = StatePageBatchComplete
		if out.Batch.NarrativeClosure {
			earlyClosure = true
			break
		}
	}

	var visuals activities.SynthesizeVisualsOutput
	if err := workflow.ExecuteActivity(genCtx, "SynthesizeVisualsActivity", activities.SynthesizeVisualsInput{
		ChapterID:     target.NewChapterID,
		Events:        chapter.Events,
		PageSummaries: chapter.PageSummaries,
	}).Get(ctx, &visuals); err != nil {
		return fail(err.Error(), err)
	}
	chapter.VisualDetails = visuals.Visuals
	status.State = StateValidated

	var committed activities.CommitChapterOutput
	if err := workflow.ExecuteActivity(ctx, "CommitChapterActivity", activities.CommitChapterInput{
		Chapter:     chapter,
		TimelineDir: target.TimelineDir,
		Provenance:  input.Mode,
	}).Get(ctx, &committed); err != nil {
		return fail(err.Error(), err)
	}
	status.State = StateCommitted

	if isBranch {
		_ = workflow.ExecuteActivity(ctx, "UpdateBranchStatusActivity", activities.UpdateBranchStatusInput{
			BranchID: input.BranchID, Status: models.StatusCommitted,
		}).Get(ctx, nil)
	}
	_ = workflow.ExecuteActivity(ctx, "LogGenerationCallActivity", activities.LogGenerationCallInput{
		Operation:    "continuation",
		ChapterID:    target.NewChapterID,
		Timeline:     target.Timeline,
		ProviderName: lastProvider,
		Model:        lastModel,
		Attempts:     batches,
		Status:       "succeeded",
	}).Get(ctx, nil)

	return ContinuationResult{
		ChapterID:    target.NewChapterID,
		Timeline:     target.Timeline,
		ArtifactPath: committed.Path,
		Pages:        len(chapter.PageSummaries),
		Batches:      batches,
		EarlyClosure: earlyClosure,
	}, nil
}

// BranchPlanWorkflow is the dry run: resolve the branch target, assemble its
// context, and plan the chapter without generating or committing anything.
func BranchPlanWorkflow(ctx workflow.Context, input BranchPlanInput) (BranchPlanResult, error) {
	ctx = withDefaultOptions(ctx)

	// A fresh branch plans its first chapter; a branch with chapters plans
	// the next one.
	mode := activities.ModeBranchGenerate
	var target activities.ResolveTargetOutput
	if err := workflow.ExecuteActivity(ctx, "ResolveTargetActivity", activities.ResolveTargetInput{
		Mode:     mode,
		BranchID: input.BranchID,
	}).Get(ctx, &target); err != nil {
		mode = activities.ModeBranchContinue
		if err2 := workflow.ExecuteActivity(ctx, "ResolveTargetActivity", activities.ResolveTargetInput{
			Mode:     mode,
			BranchID: input.BranchID,
		}).Get(ctx, &target); err2 != nil {
			return BranchPlanResult{}, err
		}
	}

	var assembled activities.AssembleContextOutput
	if err := workflow.ExecuteActivity(ctx, "AssembleContextActivity", activities.AssembleContextInput{
		Mode:            mode,
		Timeline:        target.Timeline,
		TimelineDir:     target.TimelineDir,
		NewChapterID:    target.NewChapterID,
		ParentChapterID: target.ParentChapterID,
		Route:           target.Route,
		Anchor:          target.Anchor,
		Config:          target.Config,
	}).Get(ctx, &assembled); err != nil {
		return BranchPlanResult{}, err
	}

	var planned activities.PlanChapterOutput
	if err := workflow.ExecuteActivity(withGenerateOptions(ctx), "PlanChapterActivity", activities.PlanChapterInput{
		ChapterID:   target.NewChapterID,
		Context:     assembled.Context,
		TargetPages: 18,
	}).Get(ctx, &planned); err != nil {
		return BranchPlanResult{}, err
	}

	out := BranchPlanResult{
		BranchID:  input.BranchID,
		ChapterID: target.NewChapterID,
		Plan:      planned.Plan.ChapterPurpose,
	}
	if target.Route != nil {
		out.RouteKind = string(target.Route.BranchType)
		out.WhatIf = target.Route.WhatIf
	}
	if target.Anchor != nil {
		out.AnchorSummary = target.Anchor.Summary
	}
	return out, nil
}
