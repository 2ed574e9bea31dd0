package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mangaflow/internal/activities"
	"mangaflow/internal/schema"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func summariesFor(ids ...string) []schema.ChapterSummary {
	out := make([]schema.ChapterSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, schema.ChapterSummary{
			ChapterID: id,
			Events:    []string{"event in " + id},
			PageSummaries: schema.PageSummaryList{
				{PageNumber: 1, Text: "page one of " + id},
			},
		})
	}
	return out
}

func TestChapterExtractWorkflowSkipsExisting(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ChapterExtractWorkflow)

	extractCalled := false
	registerActivityName(env, "CheckSummaryActivity", func(context.Context, activities.CheckSummaryInput) (activities.CheckSummaryOutput, error) {
		return activities.CheckSummaryOutput{Exists: true}, nil
	})
	registerActivityName(env, "ListChapterPagesActivity", func(context.Context, activities.ListChapterPagesInput) (activities.ListChapterPagesOutput, error) {
		extractCalled = true
		return activities.ListChapterPagesOutput{}, nil
	})

	env.ExecuteWorkflow(ChapterExtractWorkflow, ChapterExtractInput{ChapterID: "ch_001"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "skipped", out)
	require.False(t, extractCalled)
}

func TestChapterExtractWorkflowBatchesPages(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ChapterExtractWorkflow)

	pages := make([]string, 25)
	for i := range pages {
		pages[i] = fmt.Sprintf("/corpus/ch_004/p%03d.png", i+1)
	}

	var batchInputs []activities.ExtractPageBatchInput
	var written schema.ChapterSummary
	registerActivityName(env, "CheckSummaryActivity", func(context.Context, activities.CheckSummaryInput) (activities.CheckSummaryOutput, error) {
		return activities.CheckSummaryOutput{}, nil
	})
	registerActivityName(env, "ListChapterPagesActivity", func(context.Context, activities.ListChapterPagesInput) (activities.ListChapterPagesOutput, error) {
		return activities.ListChapterPagesOutput{Pages: pages}, nil
	})
	registerActivityName(env, "ExtractPageBatchActivity", func(_ context.Context, in activities.ExtractPageBatchInput) (activities.ExtractPageBatchOutput, error) {
		batchInputs = append(batchInputs, in)
		out := activities.ExtractPageBatchOutput{
			Events:  []string{fmt.Sprintf("events from page %d", in.StartPage)},
			Setting: "rooftop at dusk",
		}
		for i := range in.PagePaths {
			out.PageSummaries = append(out.PageSummaries, schema.PageSummary{
				PageNumber: in.StartPage + i,
				Text: fmt.Sprintf("page %d content", in.StartPage+i),
			})
		}
		return out, nil
	})
	registerActivityName(env, "WriteChapterSummaryActivity", func(_ context.Context, in activities.WriteChapterSummaryInput) (activities.WriteChapterSummaryOutput, error) {
		written = in.Summary
		return activities.WriteChapterSummaryOutput{}, nil
	})
	registerActivityName(env, "UpdateChapterStatusActivity", func(context.Context, activities.UpdateChapterStatusInput) error { return nil })

	env.ExecuteWorkflow(ChapterExtractWorkflow, ChapterExtractInput{ChapterID: "ch_004", PageBatchSize: 10})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, batchInputs, 3)
	require.Equal(t, 1, batchInputs[0].StartPage)
	require.Equal(t, 11, batchInputs[1].StartPage)
	require.Equal(t, 21, batchInputs[2].StartPage)
	require.Len(t, batchInputs[2].PagePaths, 5)
	require.Empty(t, batchInputs[0].StorySoFar)
	require.Contains(t, batchInputs[1].StorySoFar, "page 10 content")

	require.Equal(t, "ch_004", written.ChapterID)
	require.Len(t, written.PageSummaries, 25)
	require.Equal(t, "rooftop at dusk", written.VisualDetails.Setting)
}

func TestStoryIndexWorkflowStopsAtFirstInvalidChapter(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(StoryIndexWorkflow)

	var indexed []string
	registerActivityName(env, "LoadSummariesActivity", func(context.Context, activities.LoadSummariesInput) (activities.LoadSummariesOutput, error) {
		return activities.LoadSummariesOutput{
			Summaries:       summariesFor("ch_001", "ch_002", "ch_004"),
			InvalidChapters: []string{"ch_003"},
		}, nil
	})
	registerActivityName(env, "BuildStoryIndexActivity", func(_ context.Context, in activities.BuildStoryIndexInput) (activities.BuildStoryIndexOutput, error) {
		for _, s := range in.Summaries {
			indexed = append(indexed, s.ChapterID)
		}
		return activities.BuildStoryIndexOutput{Path: "/artifacts/story_index.json", Version: "abc123"}, nil
	})

	env.ExecuteWorkflow(StoryIndexWorkflow, StoryIndexInput{})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out StoryIndexResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, []string{"ch_001", "ch_002"}, indexed)
	require.Equal(t, []string{"ch_001", "ch_002"}, out.Covered)
	require.True(t, out.Incomplete)
	require.Equal(t, []string{"ch_003"}, out.InvalidChapters)
}

func TestNovelizeWorkflowSerialFoldStopsAtFailure(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(NovelizeWorkflow)

	var novelizeInputs []activities.NovelizeChapterInput
	var concatIDs []string
	registerActivityName(env, "LoadSummariesActivity", func(context.Context, activities.LoadSummariesInput) (activities.LoadSummariesOutput, error) {
		return activities.LoadSummariesOutput{Summaries: summariesFor("ch_001", "ch_002", "ch_003")}, nil
	})
	registerActivityName(env, "NovelizeChapterActivity", func(_ context.Context, in activities.NovelizeChapterInput) (activities.NovelizeChapterOutput, error) {
		novelizeInputs = append(novelizeInputs, in)
		if in.ChapterID == "ch_002" {
			return activities.NovelizeChapterOutput{}, errors.New("provider exhausted")
		}
		return activities.NovelizeChapterOutput{
			Prose:    "prose for " + in.ChapterID,
			Synopsis: "synopsis of " + in.ChapterID,
			Path:     "/artifacts/novel/" + in.ChapterID + ".md",
		}, nil
	})
	registerActivityName(env, "ConcatNovelActivity", func(_ context.Context, in activities.ConcatNovelInput) (activities.ConcatNovelOutput, error) {
		concatIDs = in.ChapterIDs
		return activities.ConcatNovelOutput{Path: "/artifacts/full_novel.md"}, nil
	})

	env.ExecuteWorkflow(NovelizeWorkflow, NovelizeInput{})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out NovelizeResult
	require.NoError(t, env.GetWorkflowResult(&out))

	// The fold stops at the failed chapter so ch_003 is never attempted.
	require.Len(t, novelizeInputs, 2)
	require.Empty(t, novelizeInputs[0].StorySoFar)
	require.Contains(t, novelizeInputs[1].StorySoFar, "[ch_001] synopsis of ch_001")
	require.Equal(t, []string{"ch_001"}, out.Succeeded)
	require.Contains(t, out.Failed, "ch_002")
	require.Equal(t, []string{"ch_001"}, concatIDs)
	require.Equal(t, "/artifacts/full_novel.md", out.FullNovelPath)
}

func TestAnchorsWorkflowAggregatesOnlySuccesses(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(AnchorsWorkflow)

	var aggregated []string
	registerActivityName(env, "ExtractAnchorsActivity", func(_ context.Context, in activities.ExtractAnchorsInput) (activities.ExtractAnchorsOutput, error) {
		if in.ChapterID == "ch_002" {
			return activities.ExtractAnchorsOutput{}, errors.New("no anchors found after retries")
		}
		return activities.ExtractAnchorsOutput{AnchorCount: 2, Path: "/artifacts/anchors/" + in.ChapterID + ".anchors.json"}, nil
	})
	registerActivityName(env, "AggregateAnchorsActivity", func(_ context.Context, in activities.AggregateAnchorsInput) (activities.AggregateAnchorsOutput, error) {
		aggregated = in.ChapterIDs
		return activities.AggregateAnchorsOutput{Total: 4}, nil
	})

	env.ExecuteWorkflow(AnchorsWorkflow, AnchorsInput{Chapters: []string{"ch_001", "ch_002", "ch_003"}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out StageResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.ElementsMatch(t, []string{"ch_001", "ch_003"}, out.Succeeded)
	require.Contains(t, out.Failed, "ch_002")
	require.ElementsMatch(t, []string{"ch_001", "ch_003"}, aggregated)
}

func TestVLMExtractWorkflowReportsPerChapterOutcome(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(VLMExtractWorkflow)
	env.RegisterWorkflow(ChapterExtractWorkflow)

	registerActivityName(env, "CheckSummaryActivity", func(_ context.Context, in activities.CheckSummaryInput) (activities.CheckSummaryOutput, error) {
		return activities.CheckSummaryOutput{Exists: in.ChapterID == "ch_001"}, nil
	})
	registerActivityName(env, "ListChapterPagesActivity", func(_ context.Context, in activities.ListChapterPagesInput) (activities.ListChapterPagesOutput, error) {
		if in.ChapterID == "ch_003" {
			return activities.ListChapterPagesOutput{}, nil
		}
		return activities.ListChapterPagesOutput{Pages: []string{"/corpus/" + in.ChapterID + "/p001.png"}}, nil
	})
	registerActivityName(env, "ExtractPageBatchActivity", func(_ context.Context, in activities.ExtractPageBatchInput) (activities.ExtractPageBatchOutput, error) {
		return activities.ExtractPageBatchOutput{
			Events:        []string{"an event"},
			PageSummaries: schema.PageSummaryList{{PageNumber: in.StartPage, Text: "a page"}},
		}, nil
	})
	registerActivityName(env, "WriteChapterSummaryActivity", func(context.Context, activities.WriteChapterSummaryInput) (activities.WriteChapterSummaryOutput, error) {
		return activities.WriteChapterSummaryOutput{}, nil
	})
	registerActivityName(env, "UpdateChapterStatusActivity", func(context.Context, activities.UpdateChapterStatusInput) error { return nil })

	env.ExecuteWorkflow(VLMExtractWorkflow, VLMExtractInput{Chapters: []string{"ch_001", "ch_002", "ch_003"}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out StageResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.ElementsMatch(t, []string{"ch_001", "ch_002"}, out.Succeeded)
	require.Contains(t, out.Failed, "ch_003")
}

func TestValidPrefixComparesChapterNumbers(t *testing.T) {
	sums := summariesFor("ch_998", "ch_999", "ch_1000", "ch_1001")

	got := validPrefix(sums, []string{"ch_1000"})
	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ChapterID)
	}
	// Lexically ch_999 sorts after ch_1000; numerically it belongs to the
	// valid prefix.
	require.Equal(t, []string{"ch_998", "ch_999"}, ids)

	require.Len(t, validPrefix(sums, nil), 4)
	require.Empty(t, validPrefix(sums, []string{"ch_998"}))
}
