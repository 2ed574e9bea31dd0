package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.temporal.io/sdk/temporal"

	"mangaflow/internal/corpus"
	"mangaflow/internal/genclient"
	"mangaflow/internal/models"
	"mangaflow/internal/schema"
	"mangaflow/internal/util"
)

const (
	ModeContinueMainline = "continue_mainline"
	ModeBranchGenerate   = "branch_generate"
	ModeBranchContinue   = "branch_continue"
)

// Error types carried on non-retryable application errors so workflows can
// branch on them.
const (
	ErrTypeUnresolvableTarget    = "UnresolvableTarget"
	ErrTypeContextBudgetExceeded = "ContextBudgetExceeded"
)

func unresolvable(format string, args ...any) error {
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf(format, args...), ErrTypeUnresolvableTarget, nil)
}

func (a *Activities) ResolveTargetActivity(ctx context.Context, in ResolveTargetInput) (ResolveTargetOutput, error) {
	_ = ctx
	switch in.Mode {
	case ModeContinueMainline:
		dir := in.TimelineDir
		if dir == "" {
			dir = a.store.Layout.SummariesDir
		}
		tip, err := a.store.Tip(dir)
		if err != nil {
			return ResolveTargetOutput{}, err
		}
		if tip == "" {
			return ResolveTargetOutput{}, unresolvable("timeline %s has no committed chapters to continue from", dir)
		}
		n, err := corpus.ParseChapterID(tip)
		if err != nil {
			return ResolveTargetOutput{}, err
		}
		return ResolveTargetOutput{
			NewChapterID:    corpus.FormatChapterID(n + 1),
			ParentChapterID: tip,
			Timeline:        models.MainlineTimeline,
			TimelineDir:     dir,
		}, nil

	case ModeBranchGenerate, ModeBranchContinue:
		ref, err := corpus.ParseBranchID(in.BranchID)
		if err != nil {
			return ResolveTargetOutput{}, unresolvable("%s", err.Error())
		}
		route, anchor, err := a.loadRoute(ref)
		if err != nil {
			return ResolveTargetOutput{}, err
		}
		cfg := a.loadBranchConfig(in.BranchID)
		dir := a.store.Layout.BranchTimelineDir(in.BranchID)
		tip, err := a.store.Tip(dir)
		if err != nil {
			return ResolveTargetOutput{}, err
		}
		out := ResolveTargetOutput{
			Timeline:    in.BranchID,
			TimelineDir: dir,
			Route:       route,
			Anchor:      anchor,
			Config:      cfg,
		}
		if in.Mode == ModeBranchGenerate {
			if tip != "" {
				return ResolveTargetOutput{}, unresolvable("branch %s already has generated chapters, use branch_continue", in.BranchID)
			}
			parentN, err := corpus.ParseChapterID(ref.ChapterID)
			if err != nil {
				return ResolveTargetOutput{}, err
			}
			out.ParentChapterID = ref.ChapterID
			out.NewChapterID = corpus.FormatChapterID(parentN + 1)
			return out, nil
		}
		if tip == "" {
			return ResolveTargetOutput{}, unresolvable("branch %s has no chapters yet, run branch_generate first", in.BranchID)
		}
		tipN, err := corpus.ParseChapterID(tip)
		if err != nil {
			return ResolveTargetOutput{}, err
		}
		out.ParentChapterID = tip
		out.NewChapterID = corpus.FormatChapterID(tipN + 1)
		return out, nil

	default:
		return ResolveTargetOutput{}, unresolvable("unknown continuation mode %q", in.Mode)
	}
}

func (a *Activities) loadRoute(ref corpus.BranchRef) (*schema.BranchOption, *schema.Anchor, error) {
	var sugg schema.BranchSuggestions
	if err := a.store.ReadArtifact(a.store.Layout.BranchesPath(ref.ChapterID), &sugg); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, unresolvable("no branches generated for %s", ref.ChapterID)
		}
		return nil, nil, err
	}
	var route *schema.BranchOption
	for anchorID, opts := range sugg.ByAnchor {
		if anchorID != ref.AnchorID {
			continue
		}
		for i := range opts {
			if opts[i].BranchID == ref.BranchID {
				route = &opts[i]
			}
		}
	}
	if route == nil {
		return nil, nil, unresolvable("branch %s not found in suggestions for %s", ref.BranchID, ref.ChapterID)
	}
	var anchors schema.AnchorList
	var anchor *schema.Anchor
	if err := a.store.ReadArtifact(a.store.Layout.AnchorsPath(ref.ChapterID), &anchors); err == nil {
		for i := range anchors.Anchors {
			if anchors.Anchors[i].AnchorID == ref.AnchorID {
				anchor = &anchors.Anchors[i]
			}
		}
	}
	return route, anchor, nil
}

func (a *Activities) loadBranchConfig(branchID string) *schema.BranchConfig {
	var cfg schema.BranchConfig
	path := a.store.Layout.BranchConfigPath(branchID)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := a.store.ReadArtifact(path, &cfg); err != nil {
		a.log.Warnw("ignoring invalid branch config", "branch", branchID, "error", err)
		return nil
	}
	return &cfg
}

func (a *Activities) AssembleContextActivity(ctx context.Context, in AssembleContextInput) (AssembleContextOutput, error) {
	_ = ctx
	budget := a.cfg.ContextBudget

	var essential strings.Builder
	essential.WriteString("You are continuing an ongoing manga-derived story.\n")
	fmt.Fprintf(&essential, "You are writing chapter %s, which follows chapter %s.\n", in.NewChapterID, in.ParentChapterID)
	if in.Route != nil {
		fmt.Fprintf(&essential, "\nThis is an alternate timeline (%s branch). Divergence premise: %s\n", in.Route.BranchType, in.Route.WhatIf)
		if in.Route.ShortEffect != "" {
			fmt.Fprintf(&essential, "Immediate consequence: %s\n", in.Route.ShortEffect)
		}
		if in.Route.LongEffect != "" {
			fmt.Fprintf(&essential, "Long-term direction: %s\n", in.Route.LongEffect)
		}
	}
	if in.Anchor != nil {
		fmt.Fprintf(&essential, "Divergence point in the original story: %s\n", in.Anchor.Summary)
		if in.Anchor.ImmediateEffect != "" {
			fmt.Fprintf(&essential, "In the original timeline this led to: %s. That outcome must NOT happen here.\n", in.Anchor.ImmediateEffect)
		}
	}
	if in.Config != nil {
		for _, d := range in.Config.ForceDecisions {
			fmt.Fprintf(&essential, "Required decision: %s must %s\n", d.Character, d.Decision)
		}
		for _, c := range in.Config.IntroduceCharacters {
			fmt.Fprintf(&essential, "Introduce this character: %s\n", string(c))
		}
	}

	parentDir := ""
	if in.Timeline != models.MainlineTimeline {
		parentDir = in.TimelineDir
	}
	parent, err := a.readTimelineSummary(parentDir, in.ParentChapterID)
	if err != nil {
		return AssembleContextOutput{}, err
	}
	essential.WriteString("\nPrevious chapter in full:\n")
	essential.WriteString(condenseSummary(parent, true))

	if utf8Len(essential.String()) > budget {
		return AssembleContextOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("essential context (%d runes) exceeds the %d rune budget", utf8Len(essential.String()), budget),
			ErrTypeContextBudgetExceeded, nil)
	}

	var sections []string
	used := utf8Len(essential.String())
	chapterIDs := []string{in.ParentChapterID}

	appendSection := func(text string) bool {
		n := utf8Len(text)
		if used+n > budget {
			return false
		}
		sections = append(sections, text)
		used += n
		return true
	}

	// Character bible entries come right after the essentials.
	if bible := a.readBible(); bible != nil {
		var cb strings.Builder
		cb.WriteString("\nCharacters:\n")
		for _, c := range bible.Characters {
			fmt.Fprintf(&cb, "- %s (%s): %s\n", strings.Join(c.Names, "/"), c.Role, c.Personality)
		}
		appendSection(cb.String())
	}

	// Walk chapters outward from the parent: branch timeline chapters first
	// (nearest last written), then mainline history nearest-first.
	truncated := false
	for _, id := range a.historyOrder(in) {
		sum, err := a.readTimelineSummary(a.timelineDirFor(in, id), id)
		if err != nil {
			continue
		}
		text := "\nEarlier chapter " + id + ":\n" + condenseSummary(sum, false)
		if !appendSection(text) {
			truncated = true
			break
		}
		chapterIDs = append(chapterIDs, id)
	}

	full := essential.String() + strings.Join(sections, "")
	return AssembleContextOutput{
		Context:    full,
		UsedRunes:  utf8Len(full),
		Truncated:  truncated,
		ChapterIDs: chapterIDs,
	}, nil
}

// historyOrder lists context candidate chapters nearest-first, excluding the
// parent which is always essential.
func (a *Activities) historyOrder(in AssembleContextInput) []string {
	var ids []string
	if in.Timeline != models.MainlineTimeline {
		branchIDs, _ := a.store.ListSummarizedChapters(in.TimelineDir)
		for i := len(branchIDs) - 1; i >= 0; i-- {
			if branchIDs[i] != in.ParentChapterID {
				ids = append(ids, branchIDs[i])
			}
		}
		// Mainline history up to and including the branch point.
		if ref, err := corpus.ParseBranchID(in.Timeline); err == nil {
			n, _ := corpus.ParseChapterID(ref.ChapterID)
			for i := n; i >= 1; i-- {
				ids = append(ids, corpus.FormatChapterID(i))
			}
		}
		return ids
	}
	n, err := corpus.ParseChapterID(in.ParentChapterID)
	if err != nil {
		return nil
	}
	for i := n - 1; i >= 1; i-- {
		ids = append(ids, corpus.FormatChapterID(i))
	}
	return ids
}

func (a *Activities) timelineDirFor(in AssembleContextInput, chapterID string) string {
	if in.Timeline == models.MainlineTimeline {
		if in.TimelineDir != a.store.Layout.SummariesDir {
			return in.TimelineDir
		}
		return ""
	}
	// Branch chapters live in the branch dir; chapters at or before the
	// branch point come from the mainline.
	if ids, err := a.store.ListSummarizedChapters(in.TimelineDir); err == nil {
		for _, id := range ids {
			if id == chapterID {
				return in.TimelineDir
			}
		}
	}
	return ""
}

func (a *Activities) readTimelineSummary(dir, chapterID string) (schema.ChapterSummary, error) {
	var sum schema.ChapterSummary
	if dir == "" {
		got, err := a.store.ReadSummary(chapterID)
		if err != nil {
			return schema.ChapterSummary{}, err
		}
		return *got, nil
	}
	if err := a.store.ReadArtifact(filepath.Join(dir, chapterID+".summary.json"), &sum); err != nil {
		return schema.ChapterSummary{}, err
	}
	return sum, nil
}

func (a *Activities) readBible() *schema.CharacterBible {
	var bible schema.CharacterBible
	if err := a.store.ReadArtifact(a.store.Layout.CharacterBiblePath(), &bible); err != nil {
		return nil
	}
	return &bible
}

func condenseSummary(sum schema.ChapterSummary, full bool) string {
	var b strings.Builder
	for _, e := range sum.Events {
		b.WriteString("- " + e + "\n")
	}
	if full {
		for _, d := range sum.Dialogues {
			b.WriteString("  \"" + d + "\"\n")
		}
		if sum.VisualDetails.Setting != "" {
			b.WriteString("Setting: " + sum.VisualDetails.Setting + "\n")
		}
	}
	return b.String()
}

func utf8Len(s string) int { return len([]rune(s)) }

func (a *Activities) PlanChapterActivity(ctx context.Context, in PlanChapterInput) (PlanChapterOutput, error) {
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "chapter_plan",
		Prompt:    chapterPlanPrompt(in),
		Budget:    a.cfg.ContextBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.ChapterPlan{} },
		Check: func(art schema.Artifact) []schema.Violation {
			if len(art.(*schema.ChapterPlan).Acts) == 0 {
				return []schema.Violation{{Field: "acts", Rule: "min", Message: "the plan needs at least one act"}}
			}
			return nil
		},
	})
	a.audit(ctx, "chapter_plan", in.ChapterID, "", res, err)
	if err != nil {
		return PlanChapterOutput{}, err
	}
	plan := res.Artifact.(*schema.ChapterPlan)
	plan.ChapterID = in.ChapterID
	return PlanChapterOutput{Plan: *plan}, nil
}

func (a *Activities) GeneratePageBatchActivity(ctx context.Context, in GeneratePageBatchInput) (GeneratePageBatchOutput, error) {
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "page_batch",
		Prompt:    pageBatchPrompt(in),
		Budget:    a.cfg.ContextBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.PageBatch{} },
		Check: func(art schema.Artifact) []schema.Violation {
			batch := art.(*schema.PageBatch)
			if len(batch.PageSummaries) == 0 {
				return []schema.Violation{{Field: "page_summaries", Rule: "min", Message: "the batch must contain pages"}}
			}
			if in.AnchorOutcome != "" {
				return checkDivergence(batch.Events, in.AnchorOutcome)
			}
			return nil
		},
	})
	a.audit(ctx, "page_batch", in.ChapterID, "", res, err)
	if err != nil {
		return GeneratePageBatchOutput{}, err
	}
	batch := res.Artifact.(*schema.PageBatch)
	if len(batch.PageSummaries) > in.BatchSize {
		batch.PageSummaries = batch.PageSummaries[:in.BatchSize]
	}
	for i := range batch.PageSummaries {
		batch.PageSummaries[i].PageNumber = in.StartPage + i
	}
	return GeneratePageBatchOutput{
		Batch:        *batch,
		ProviderName: res.Provider.Name,
		Model:        res.Provider.Model,
		Attempts:     res.Attempts,
	}, nil
}

// checkDivergence rejects batches that replay the canonical outcome the
// branch is supposed to avert.
func checkDivergence(events []string, anchorOutcome string) []schema.Violation {
	needle := strings.ToLower(strings.TrimSpace(anchorOutcome))
	if needle == "" {
		return nil
	}
	for i, e := range events {
		if strings.Contains(strings.ToLower(e), needle) {
			return []schema.Violation{{
				Field:   fmt.Sprintf("events[%d]", i),
				Rule:    "divergence",
				Message: "event repeats the original-timeline outcome this branch averts",
			}}
		}
	}
	return nil
}

func (a *Activities) SynthesizeVisualsActivity(ctx context.Context, in SynthesizeVisualsInput) (SynthesizeVisualsOutput, error) {
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "visual_details",
		Prompt:    visualsPrompt(in),
		Budget:    a.cfg.ContextBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.VisualDetails{} },
	})
	a.audit(ctx, "visual_details", in.ChapterID, "", res, err)
	if err != nil {
		return SynthesizeVisualsOutput{}, err
	}
	return SynthesizeVisualsOutput{Visuals: *res.Artifact.(*schema.VisualDetails)}, nil
}

// CommitChapterActivity is the single place a continuation becomes durable:
// the artifact lands via atomic rename, then the chapter row flips to
// committed. Nothing earlier in the run writes inside the timeline dir.
func (a *Activities) CommitChapterActivity(ctx context.Context, in CommitChapterInput) (CommitChapterOutput, error) {
	if vs := in.Chapter.Validate(); len(vs) > 0 {
		return CommitChapterOutput{}, temporal.NewNonRetryableApplicationError(
			"refusing to commit invalid chapter: "+schema.FormatViolations(vs), "InvalidChapter", nil)
	}
	path := filepath.Join(in.TimelineDir, in.Chapter.ChapterID+".summary.json")
	if err := util.WriteJSONAtomic(path, in.Chapter); err != nil {
		return CommitChapterOutput{}, err
	}
	if a.chapterRepo != nil {
		if err := a.chapterRepo.UpsertChapter(ctx, models.Chapter{
			ChapterID:  in.Chapter.ChapterID,
			Timeline:   in.Chapter.Timeline,
			Status:     models.StatusCommitted,
			Provenance: in.Provenance,
		}); err != nil {
			return CommitChapterOutput{}, err
		}
	}
	return CommitChapterOutput{Path: path}, nil
}
