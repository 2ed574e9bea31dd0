package activities

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"mangaflow/internal/config"
	"mangaflow/internal/corpus"
	"mangaflow/internal/genclient"
	"mangaflow/internal/models"
	"mangaflow/internal/providers"
	"mangaflow/internal/schema"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		ChaptersDir:          filepath.Join(root, "chapters"),
		SummariesDir:         filepath.Join(root, "summaries"),
		StoryIndexDir:        filepath.Join(root, "story_index"),
		NovelDir:             filepath.Join(root, "novel"),
		TimelineDir:          filepath.Join(root, "timeline"),
		CharactersDir:        filepath.Join(root, "characters"),
		ScalesDir:            filepath.Join(root, "scales"),
		TimelinesDir:         filepath.Join(root, "timelines"),
		SchemasDir:           filepath.Join(root, "schemas"),
		TextProviders:        "mock",
		VisionProviders:      "mock",
		ProviderTimeout:      5,
		ContextBudget:        15000,
		IndexContextBudget:   100000,
		RollingSummaryBudget: 15000,
		NovelTailBudget:      100000,
		MaxGenAttempts:       3,
		TargetPages:          18,
		PageBatchSize:        10,
		VLMPageBatchSize:     10,
		BranchThreshold:      3,
		ErotismBounds:        config.ScaleBounds{Min: 0, Max: 5},
		RomanceBounds:        config.ScaleBounds{Min: 0, Max: 5},
		ActionBounds:         config.ScaleBounds{Min: 0, Max: 5},
	}
}

func testActivities(t *testing.T) (*Activities, *corpus.Store) {
	t.Helper()
	cfg := testConfig(t)
	pm, err := providers.NewManager(cfg)
	require.NoError(t, err)
	store := corpus.NewStore(corpus.NewLayout(cfg))
	return NewWithDeps(cfg, store, genclient.New(pm, cfg.MaxGenAttempts, cfg.ContextBudget, nil), nil), store
}

func writeMainlineSummary(t *testing.T, store *corpus.Store, id string, events ...string) {
	t.Helper()
	if len(events) == 0 {
		events = []string{"something happens in " + id}
	}
	sum := schema.ChapterSummary{
		ChapterID:     id,
		Events:        events,
		PageSummaries: schema.PageSummaryList{{PageNumber: 1, Text: "page one of " + id}},
	}
	require.NoError(t, store.WriteArtifact(store.Layout.SummaryPath(id), &sum))
}

func writeBranchFixtures(t *testing.T, store *corpus.Store, chapterID, anchorID string) string {
	t.Helper()
	branchID := corpus.BranchID(chapterID, anchorID, schema.RouteBehavioral)
	anchors := schema.AnchorList{Anchors: []schema.Anchor{{
		AnchorID:           anchorID,
		ChapterID:          chapterID,
		Summary:            "the rooftop confrontation",
		ImmediateEffect:    "the rival walks away unharmed",
		ImportanceScore:    5,
		BranchingPotential: 5,
	}}}
	require.NoError(t, store.WriteArtifact(store.Layout.AnchorsPath(chapterID), &anchors))
	sugg := schema.BranchSuggestions{ByAnchor: map[string][]schema.BranchOption{
		anchorID: {{
			BranchID:   branchID,
			AnchorID:   anchorID,
			BranchType: schema.RouteBehavioral,
			WhatIf:     "what if the confrontation turned violent",
		}},
	}}
	require.NoError(t, store.WriteArtifact(store.Layout.BranchesPath(chapterID), &sugg))
	return branchID
}

func requireAppErrType(t *testing.T, err error, errType string) {
	t.Helper()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, errType, appErr.Type())
}

func TestResolveTargetMainlineAdvancesTip(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_001")
	writeMainlineSummary(t, store, "ch_002")

	out, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{Mode: ModeContinueMainline})
	require.NoError(t, err)
	require.Equal(t, "ch_003", out.NewChapterID)
	require.Equal(t, "ch_002", out.ParentChapterID)
	require.Equal(t, models.MainlineTimeline, out.Timeline)
}

func TestResolveTargetMainlineEmptyCorpus(t *testing.T) {
	a, _ := testActivities(t)
	_, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{Mode: ModeContinueMainline})
	requireAppErrType(t, err, ErrTypeUnresolvableTarget)
}

func TestResolveTargetBranchGenerate(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_005")
	branchID := writeBranchFixtures(t, store, "ch_005", "a001")

	out, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{
		Mode:     ModeBranchGenerate,
		BranchID: branchID,
	})
	require.NoError(t, err)
	require.Equal(t, "ch_006", out.NewChapterID)
	require.Equal(t, "ch_005", out.ParentChapterID)
	require.Equal(t, branchID, out.Timeline)
	require.NotNil(t, out.Route)
	require.Equal(t, schema.RouteBehavioral, out.Route.BranchType)
	require.NotNil(t, out.Anchor)
	require.Equal(t, "the rooftop confrontation", out.Anchor.Summary)
}

func TestResolveTargetBranchGenerateRejectsPopulatedBranch(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_005")
	branchID := writeBranchFixtures(t, store, "ch_005", "a001")

	existing := schema.GeneratedChapter{
		ChapterSummary: schema.ChapterSummary{ChapterID: "ch_006", Events: []string{"branch chapter"}},
		Timeline:       branchID,
	}
	require.NoError(t, store.WriteArtifact(store.Layout.BranchChapterPath(branchID, "ch_006"), &existing))

	_, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{
		Mode:     ModeBranchGenerate,
		BranchID: branchID,
	})
	requireAppErrType(t, err, ErrTypeUnresolvableTarget)

	// The same branch continues from its own tip instead.
	out, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{
		Mode:     ModeBranchContinue,
		BranchID: branchID,
	})
	require.NoError(t, err)
	require.Equal(t, "ch_007", out.NewChapterID)
	require.Equal(t, "ch_006", out.ParentChapterID)
}

func TestResolveTargetBranchContinueNeedsChapters(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_005")
	branchID := writeBranchFixtures(t, store, "ch_005", "a001")

	_, err := a.ResolveTargetActivity(context.Background(), ResolveTargetInput{
		Mode:     ModeBranchContinue,
		BranchID: branchID,
	})
	requireAppErrType(t, err, ErrTypeUnresolvableTarget)
}

func TestAssembleContextNearestFirstUnderBudget(t *testing.T) {
	a, store := testActivities(t)
	long := strings.Repeat("a long recap sentence. ", 120)
	for _, id := range []string{"ch_001", "ch_002", "ch_003", "ch_004"} {
		writeMainlineSummary(t, store, id, long)
	}
	a.cfg.ContextBudget = 3*len([]rune(long)) + 500

	out, err := a.AssembleContextActivity(context.Background(), AssembleContextInput{
		Mode:            ModeContinueMainline,
		Timeline:        models.MainlineTimeline,
		TimelineDir:     store.Layout.SummariesDir,
		NewChapterID:    "ch_005",
		ParentChapterID: "ch_004",
	})
	require.NoError(t, err)
	require.True(t, out.Truncated)
	require.Contains(t, out.ChapterIDs, "ch_004")
	require.Contains(t, out.ChapterIDs, "ch_003")
	require.NotContains(t, out.ChapterIDs, "ch_001")
	require.LessOrEqual(t, out.UsedRunes, a.cfg.ContextBudget)
}

func TestAssembleContextEssentialOverBudgetFails(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_001", strings.Repeat("an enormous essential recap. ", 100))
	a.cfg.ContextBudget = 50

	_, err := a.AssembleContextActivity(context.Background(), AssembleContextInput{
		Mode:            ModeContinueMainline,
		Timeline:        models.MainlineTimeline,
		TimelineDir:     store.Layout.SummariesDir,
		NewChapterID:    "ch_002",
		ParentChapterID: "ch_001",
	})
	requireAppErrType(t, err, ErrTypeContextBudgetExceeded)
}

func TestCommitChapterBranchLeavesMainlineTipAlone(t *testing.T) {
	a, store := testActivities(t)
	writeMainlineSummary(t, store, "ch_005")
	branchID := "ch_005_a001_b_behavioral"

	chapter := schema.GeneratedChapter{
		ChapterSummary: schema.ChapterSummary{
			ChapterID:     "ch_006",
			Events:        []string{"the fight breaks out"},
			PageSummaries: schema.PageSummaryList{{PageNumber: 1, Text: "a page"}},
		},
		Timeline:        branchID,
		ParentChapterID: "ch_005",
	}
	out, err := a.CommitChapterActivity(context.Background(), CommitChapterInput{
		Chapter:     chapter,
		TimelineDir: store.Layout.BranchTimelineDir(branchID),
		Provenance:  ModeBranchGenerate,
	})
	require.NoError(t, err)
	require.Equal(t, store.Layout.BranchChapterPath(branchID, "ch_006"), out.Path)

	branchTip, err := store.Tip(store.Layout.BranchTimelineDir(branchID))
	require.NoError(t, err)
	require.Equal(t, "ch_006", branchTip)

	mainTip, err := store.Tip("")
	require.NoError(t, err)
	require.Equal(t, "ch_005", mainTip)
}

func TestCommitChapterRefusesInvalidChapter(t *testing.T) {
	a, store := testActivities(t)
	chapter := schema.GeneratedChapter{
		ChapterSummary: schema.ChapterSummary{ChapterID: "ch_002"},
		// Timeline missing.
	}
	_, err := a.CommitChapterActivity(context.Background(), CommitChapterInput{
		Chapter:     chapter,
		TimelineDir: store.Layout.SummariesDir,
	})
	requireAppErrType(t, err, "InvalidChapter")
	require.False(t, store.HasSummary("ch_002"))
}

func TestCheckDivergenceFlagsCanonicalOutcome(t *testing.T) {
	vs := checkDivergence(
		[]string{"the hero hesitates", "The rival walks away unharmed after all"},
		"the rival walks away unharmed",
	)
	require.Len(t, vs, 1)
	require.Equal(t, "divergence", vs[0].Rule)

	require.Empty(t, checkDivergence(
		[]string{"the hero strikes first", "the rival is carried off"},
		"the rival walks away unharmed",
	))
	require.Empty(t, checkDivergence([]string{"anything"}, ""))
}

type scriptedSource struct{ p *providers.ScriptedProvider }

func (s scriptedSource) TextProviderByIndex(int) (providers.TextProvider, providers.ProviderRef) {
	return s.p, providers.ProviderRef{Raw: "scripted", Name: "scripted"}
}
func (s scriptedSource) TextCount() int            { return 1 }
func (s scriptedSource) PreferredTextOrder() []int { return []int{0} }
func (s scriptedSource) VisionProviderByIndex(int) (providers.VisionProvider, providers.ProviderRef) {
	return s.p, providers.ProviderRef{Raw: "scripted", Name: "scripted"}
}
func (s scriptedSource) VisionCount() int            { return 1 }
func (s scriptedSource) PreferredVisionOrder() []int { return []int{0} }

func scriptedActivities(t *testing.T) (*Activities, *providers.ScriptedProvider) {
	t.Helper()
	cfg := testConfig(t)
	p := providers.NewScriptedProvider()
	store := corpus.NewStore(corpus.NewLayout(cfg))
	return NewWithDeps(cfg, store, genclient.New(scriptedSource{p: p}, cfg.MaxGenAttempts, 0, nil), nil), p
}

func TestGeneratePageBatchRejectsCanonicalOutcome(t *testing.T) {
	a, p := scriptedActivities(t)
	replay := `{"events":["Against the odds, the hero saves the rival on the rooftop."],"dialogues":[],"page_summaries":[{"page_number":1,"text":"The rooftop again."}],"narrative_closure":false}`
	diverged := `{"events":["The rival walks into the stairwell alone."],"dialogues":[],"page_summaries":[{"page_number":1,"text":"A different path."}],"narrative_closure":false}`
	p.Queue(replay, nil)
	p.Queue(diverged, nil)

	// The needle is the outcome alone; the fuller anchor summary never
	// appears verbatim in an event, so matching against it would let the
	// replayed outcome through.
	out, err := a.GeneratePageBatchActivity(context.Background(), GeneratePageBatchInput{
		ChapterID:     "ch_006",
		StartPage:     1,
		BatchSize:     10,
		TargetPages:   18,
		RouteKind:     "Behavioral",
		AnchorSummary: "the rooftop confrontation the hero saves the rival",
		AnchorOutcome: "the hero saves the rival",
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, []string{"The rival walks into the stairwell alone."}, out.Batch.Events)
	require.Len(t, p.Calls, 2)
	require.Contains(t, p.Calls[1].Prompt, "repeats the original-timeline outcome")
}
