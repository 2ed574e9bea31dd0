package workflows

import (
	"context"
	"fmt"
	"testing"

	"mangaflow/internal/activities"
	"mangaflow/internal/models"
	"mangaflow/internal/schema"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func pageBatchOf(start, size int, closure bool) schema.PageBatch {
	batch := schema.PageBatch{
		Events:           []string{fmt.Sprintf("event at page %d", start)},
		NarrativeClosure: closure,
	}
	for i := 0; i < size; i++ {
		batch.PageSummaries = append(batch.PageSummaries, schema.PageSummary{
			PageNumber: start + i,
			Text:       fmt.Sprintf("generated page %d", start+i),
		})
	}
	return batch
}

type continuationHarness struct {
	env         *testsuite.TestWorkflowEnvironment
	batchInputs []activities.GeneratePageBatchInput
	committed   []activities.CommitChapterInput
	chapterRows []activities.UpdateChapterStatusInput
	branchRows  []activities.UpdateBranchStatusInput
	generateFn  func(activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error)
	resolveOut  activities.ResolveTargetOutput
	resolveErr  error
}

func newContinuationHarness(t *testing.T) *continuationHarness {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	h := &continuationHarness{env: ts.NewTestWorkflowEnvironment()}
	h.env.RegisterWorkflow(ContinuationWorkflow)

	registerActivityName(h.env, "ResolveTargetActivity", func(context.Context, activities.ResolveTargetInput) (activities.ResolveTargetOutput, error) {
		return h.resolveOut, h.resolveErr
	})
	registerActivityName(h.env, "AssembleContextActivity", func(context.Context, activities.AssembleContextInput) (activities.AssembleContextOutput, error) {
		return activities.AssembleContextOutput{Context: "assembled story context", UsedRunes: 120}, nil
	})
	registerActivityName(h.env, "PlanChapterActivity", func(_ context.Context, in activities.PlanChapterInput) (activities.PlanChapterOutput, error) {
		return activities.PlanChapterOutput{Plan: schema.ChapterPlan{
			ChapterID:      in.ChapterID,
			ChapterPurpose: "move the story forward",
			Acts:           []schema.ChapterAct{{ActID: 1, PageRange: fmt.Sprintf("1-%d", in.TargetPages), Objective: "whole chapter"}},
		}}, nil
	})
	registerActivityName(h.env, "GeneratePageBatchActivity", func(_ context.Context, in activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		h.batchInputs = append(h.batchInputs, in)
		return h.generateFn(in)
	})
	registerActivityName(h.env, "SynthesizeVisualsActivity", func(context.Context, activities.SynthesizeVisualsInput) (activities.SynthesizeVisualsOutput, error) {
		return activities.SynthesizeVisualsOutput{Visuals: schema.VisualDetails{Setting: "night city"}}, nil
	})
	registerActivityName(h.env, "CommitChapterActivity", func(_ context.Context, in activities.CommitChapterInput) (activities.CommitChapterOutput, error) {
		h.committed = append(h.committed, in)
		return activities.CommitChapterOutput{Path: "/artifacts/" + in.Chapter.ChapterID + ".summary.json"}, nil
	})
	registerActivityName(h.env, "UpdateChapterStatusActivity", func(_ context.Context, in activities.UpdateChapterStatusInput) error {
		h.chapterRows = append(h.chapterRows, in)
		return nil
	})
	registerActivityName(h.env, "UpdateBranchStatusActivity", func(_ context.Context, in activities.UpdateBranchStatusInput) error {
		h.branchRows = append(h.branchRows, in)
		return nil
	})
	registerActivityName(h.env, "LogGenerationCallActivity", func(context.Context, activities.LogGenerationCallInput) error { return nil })
	return h
}

func TestContinuationWorkflowMainlineFullChapter(t *testing.T) {
	h := newContinuationHarness(t)
	h.resolveOut = activities.ResolveTargetOutput{
		NewChapterID:    "ch_006",
		ParentChapterID: "ch_005",
		Timeline:        models.MainlineTimeline,
		TimelineDir:     "/artifacts/summaries",
	}
	h.generateFn = func(in activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		return activities.GeneratePageBatchOutput{
			Batch:        pageBatchOf(in.StartPage, in.BatchSize, false),
			ProviderName: "mock",
			Model:        "mock",
			Attempts:     1,
		}, nil
	}

	h.env.ExecuteWorkflow(ContinuationWorkflow, ContinuationInput{
		Mode:        activities.ModeContinueMainline,
		TargetPages: 18,
		BatchSize:   10,
	})
	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())

	var out ContinuationResult
	require.NoError(t, h.env.GetWorkflowResult(&out))
	require.Equal(t, "ch_006", out.ChapterID)
	require.Equal(t, models.MainlineTimeline, out.Timeline)
	require.Equal(t, 18, out.Pages)
	require.Equal(t, 2, out.Batches)
	require.False(t, out.EarlyClosure)

	// Second batch is trimmed to the page budget and sees the first batch.
	require.Len(t, h.batchInputs, 2)
	require.Equal(t, 11, h.batchInputs[1].StartPage)
	require.Equal(t, 8, h.batchInputs[1].BatchSize)
	require.Len(t, h.batchInputs[1].PriorPages, 10)
	require.NotEmpty(t, h.batchInputs[1].PriorEvents)

	require.Len(t, h.committed, 1)
	chapter := h.committed[0].Chapter
	require.Equal(t, "ch_006", chapter.ChapterID)
	require.Equal(t, models.MainlineTimeline, chapter.Timeline)
	require.Equal(t, "ch_005", chapter.ParentChapterID)
	require.Len(t, chapter.PageSummaries, 18)
	require.Equal(t, "night city", chapter.VisualDetails.Setting)

	val, err := h.env.QueryWorkflow(QueryGetContinuationStatus)
	require.NoError(t, err)
	var status ContinuationStatus
	require.NoError(t, val.Get(&status))
	require.Equal(t, StateCommitted, status.State)
	require.Equal(t, 18, status.PagesDone)
}

func TestContinuationWorkflowEarlyClosure(t *testing.T) {
	h := newContinuationHarness(t)
	h.resolveOut = activities.ResolveTargetOutput{
		NewChapterID:    "ch_006",
		ParentChapterID: "ch_005",
		Timeline:        models.MainlineTimeline,
		TimelineDir:     "/artifacts/summaries",
	}
	h.generateFn = func(in activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		return activities.GeneratePageBatchOutput{Batch: pageBatchOf(in.StartPage, 6, true)}, nil
	}

	h.env.ExecuteWorkflow(ContinuationWorkflow, ContinuationInput{Mode: activities.ModeContinueMainline})
	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())

	var out ContinuationResult
	require.NoError(t, h.env.GetWorkflowResult(&out))
	require.True(t, out.EarlyClosure)
	require.Equal(t, 1, out.Batches)
	require.Equal(t, 6, out.Pages)
	require.Len(t, h.committed, 1)
}

func TestContinuationWorkflowBatchFailureCommitsNothing(t *testing.T) {
	h := newContinuationHarness(t)
	h.resolveOut = activities.ResolveTargetOutput{
		NewChapterID:    "ch_007",
		ParentChapterID: "ch_006",
		Timeline:        models.MainlineTimeline,
		TimelineDir:     "/artifacts/summaries",
	}
	h.generateFn = func(in activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		if in.StartPage > 1 {
			return activities.GeneratePageBatchOutput{}, temporal.NewNonRetryableApplicationError("schema violations after 3 attempts", "GenerationFailed", nil)
		}
		return activities.GeneratePageBatchOutput{Batch: pageBatchOf(in.StartPage, in.BatchSize, false)}, nil
	}

	h.env.ExecuteWorkflow(ContinuationWorkflow, ContinuationInput{Mode: activities.ModeContinueMainline})
	require.True(t, h.env.IsWorkflowCompleted())
	require.Error(t, h.env.GetWorkflowError())

	require.Empty(t, h.committed)
	var failed bool
	for _, row := range h.chapterRows {
		if row.ChapterID == "ch_007" && row.Status == models.StatusFailed {
			failed = true
			require.NotEmpty(t, row.FailReason)
		}
	}
	require.True(t, failed)
}

func TestContinuationWorkflowBranchStatusLifecycle(t *testing.T) {
	h := newContinuationHarness(t)
	branchID := "ch_005_a001_b_behavioral"
	h.resolveOut = activities.ResolveTargetOutput{
		NewChapterID:    "ch_006",
		ParentChapterID: "ch_005",
		Timeline:        branchID,
		TimelineDir:     "/artifacts/timelines/timeline_" + branchID,
		Route: &schema.BranchOption{
			BranchID:   branchID,
			AnchorID:   "a001",
			BranchType: schema.RouteBehavioral,
			WhatIf:     "what if the rescue never happened",
		},
		Anchor: &schema.Anchor{
			AnchorID:        "a001",
			ChapterID:       "ch_005",
			Summary:         "the rooftop rescue",
			ImmediateEffect: "the hero saves the rival",
		},
	}
	h.generateFn = func(in activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		require.Equal(t, string(schema.RouteBehavioral), in.RouteKind)
		require.Contains(t, in.AnchorSummary, "the rooftop rescue")
		require.Equal(t, "the hero saves the rival", in.AnchorOutcome)
		return activities.GeneratePageBatchOutput{Batch: pageBatchOf(in.StartPage, in.BatchSize, in.StartPage > 1)}, nil
	}

	h.env.ExecuteWorkflow(ContinuationWorkflow, ContinuationInput{
		Mode:     activities.ModeBranchGenerate,
		BranchID: branchID,
	})
	require.True(t, h.env.IsWorkflowCompleted())
	require.NoError(t, h.env.GetWorkflowError())

	var out ContinuationResult
	require.NoError(t, h.env.GetWorkflowResult(&out))
	require.Equal(t, branchID, out.Timeline)

	require.Len(t, h.branchRows, 2)
	require.Equal(t, models.StatusProcessing, h.branchRows[0].Status)
	require.Equal(t, models.StatusCommitted, h.branchRows[1].Status)
	require.Equal(t, branchID, h.committed[0].Chapter.Timeline)
}

func TestContinuationWorkflowUnresolvableTarget(t *testing.T) {
	h := newContinuationHarness(t)
	h.resolveErr = temporal.NewNonRetryableApplicationError("branch ch_005_a009_b_wildcard has no route", activities.ErrTypeUnresolvableTarget, nil)
	h.generateFn = func(activities.GeneratePageBatchInput) (activities.GeneratePageBatchOutput, error) {
		t.Fatal("generation must not run without a resolved target")
		return activities.GeneratePageBatchOutput{}, nil
	}

	h.env.ExecuteWorkflow(ContinuationWorkflow, ContinuationInput{
		Mode:     activities.ModeBranchGenerate,
		BranchID: "ch_005_a009_b_wildcard",
	})
	require.True(t, h.env.IsWorkflowCompleted())
	require.Error(t, h.env.GetWorkflowError())
	require.Empty(t, h.committed)
	require.Empty(t, h.batchInputs)
}

func TestBranchPlanWorkflowFallsBackToContinueMode(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(BranchPlanWorkflow)

	branchID := "ch_003_a002_b_badend"
	var modes []string
	registerActivityName(env, "ResolveTargetActivity", func(_ context.Context, in activities.ResolveTargetInput) (activities.ResolveTargetOutput, error) {
		modes = append(modes, in.Mode)
		if in.Mode == activities.ModeBranchGenerate {
			return activities.ResolveTargetOutput{}, temporal.NewNonRetryableApplicationError("branch already has generated chapters", activities.ErrTypeUnresolvableTarget, nil)
		}
		return activities.ResolveTargetOutput{
			NewChapterID:    "ch_005",
			ParentChapterID: "ch_004",
			Timeline:        branchID,
			TimelineDir:     "/artifacts/timelines/timeline_" + branchID,
			Route:           &schema.BranchOption{BranchType: schema.RouteBadEnd, WhatIf: "the villain wins"},
			Anchor:          &schema.Anchor{AnchorID: "a002", Summary: "the duel"},
		}, nil
	})
	registerActivityName(env, "AssembleContextActivity", func(context.Context, activities.AssembleContextInput) (activities.AssembleContextOutput, error) {
		return activities.AssembleContextOutput{Context: "branch context"}, nil
	})
	registerActivityName(env, "PlanChapterActivity", func(_ context.Context, in activities.PlanChapterInput) (activities.PlanChapterOutput, error) {
		return activities.PlanChapterOutput{Plan: schema.ChapterPlan{ChapterID: in.ChapterID, ChapterPurpose: "deepen the bad end"}}, nil
	})

	env.ExecuteWorkflow(BranchPlanWorkflow, BranchPlanInput{BranchID: branchID})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out BranchPlanResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, []string{activities.ModeBranchGenerate, activities.ModeBranchContinue}, modes)
	require.Equal(t, "ch_005", out.ChapterID)
	require.Equal(t, string(schema.RouteBadEnd), out.RouteKind)
	require.Equal(t, "the duel", out.AnchorSummary)
	require.Equal(t, "deepen the bad end", out.Plan)
}
