package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"mangaflow/internal/corpus"
	"mangaflow/internal/genclient"
	"mangaflow/internal/models"
	"mangaflow/internal/schema"
	"mangaflow/internal/storage"
	"mangaflow/internal/util"
)

// promptHeadroom covers the instruction text and per-call extras (plan,
// accumulated page summaries) wrapped around content that is already clamped
// to a configured budget, so the client's prompt cap does not eat into the
// content itself.
const promptHeadroom = 8000

func (a *Activities) scaleLimits() schema.ScaleLimits {
	return schema.ScaleLimits{
		ErotismMin: a.cfg.ErotismBounds.Min, ErotismMax: a.cfg.ErotismBounds.Max,
		RomanceMin: a.cfg.RomanceBounds.Min, RomanceMax: a.cfg.RomanceBounds.Max,
		ActionMin: a.cfg.ActionBounds.Min, ActionMax: a.cfg.ActionBounds.Max,
	}
}

func (a *Activities) audit(ctx context.Context, operation, chapterID, timeline string, res genclient.Result, genErr error) {
	if a.auditRepo == nil {
		return
	}
	rec := storage.GenerationCallRecord{
		Operation:    operation,
		ChapterID:    chapterID,
		Timeline:     timeline,
		ProviderName: res.Provider.Name,
		Model:        res.Provider.Model,
		Attempts:     res.Attempts,
		Status:       "ok",
	}
	if genErr != nil {
		rec.Status = "failed"
		var gerr *genclient.GenerationError
		if errors.As(genErr, &gerr) {
			rec.ErrorType = string(gerr.Kind)
		}
	}
	if err := a.auditRepo.Insert(ctx, rec); err != nil {
		a.log.Warnw("audit insert failed", "operation", operation, "error", err)
	}
}

func (a *Activities) ExtractPageBatchActivity(ctx context.Context, in ExtractPageBatchInput) (ExtractPageBatchOutput, error) {
	images, err := corpus.EncodePages(in.PagePaths)
	if err != nil {
		return ExtractPageBatchOutput{}, err
	}
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "chapter_summary",
		Prompt:    extractPagesPrompt(in),
		Budget:    a.cfg.ContextBudget + promptHeadroom,
		Images:    images,
		New:       func() schema.Artifact { return &schema.ChapterSummary{} },
		Check: func(art schema.Artifact) []schema.Violation {
			if len(art.(*schema.ChapterSummary).PageSummaries) == 0 {
				return []schema.Violation{{Field: "page_summaries", Rule: "min", Message: "one entry per page is required"}}
			}
			return nil
		},
	})
	a.audit(ctx, "vlm_extract", in.ChapterID, models.MainlineTimeline, res, err)
	if err != nil {
		return ExtractPageBatchOutput{}, err
	}
	sum := res.Artifact.(*schema.ChapterSummary)
	// Page numbers are batch-local in the response; shift them into chapter
	// position.
	for i := range sum.PageSummaries {
		sum.PageSummaries[i].PageNumber = in.StartPage + i
	}
	return ExtractPageBatchOutput{
		Events:        sum.Events,
		Dialogues:     sum.Dialogues,
		PageSummaries: sum.PageSummaries,
		Setting:       sum.VisualDetails.Setting,
		Atmosphere:    sum.VisualDetails.Atmosphere,
		ProviderName:  res.Provider.Name,
		Model:         res.Provider.Model,
	}, nil
}

func (a *Activities) BuildStoryIndexActivity(ctx context.Context, in BuildStoryIndexInput) (BuildStoryIndexOutput, error) {
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "story_index",
		Prompt:    storyIndexPrompt(in.Summaries, a.cfg.IndexContextBudget),
		Budget:    a.cfg.IndexContextBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.StoryIndex{} },
		Check: func(art schema.Artifact) []schema.Violation {
			idx := art.(*schema.StoryIndex)
			if len(idx.Chapters) == 0 {
				return []schema.Violation{{Field: "chapters", Rule: "min", Message: "index must cover the chapters"}}
			}
			return nil
		},
	})
	a.audit(ctx, "story_index", "", models.MainlineTimeline, res, err)
	if err != nil {
		return BuildStoryIndexOutput{}, err
	}
	idx := res.Artifact.(*schema.StoryIndex)
	corpusRaw, _ := json.Marshal(in.Summaries)
	idx.Version = util.SHA256Hex(corpusRaw)[:16]
	path := a.store.Layout.StoryIndexPath()
	if err := a.store.WriteArtifact(path, idx); err != nil {
		return BuildStoryIndexOutput{}, err
	}
	return BuildStoryIndexOutput{Path: path, Version: idx.Version}, nil
}

func (a *Activities) RefineChapterActivity(ctx context.Context, in RefineChapterInput) (RefineChapterOutput, error) {
	path := a.store.Layout.RefinedSummaryPath(in.ChapterID)
	if a.store.HasRefinedSummary(in.ChapterID) && !in.Force {
		return RefineChapterOutput{Skipped: true, Path: path}, nil
	}
	var original schema.ChapterSummary
	if err := a.store.ReadArtifact(a.store.Layout.SummaryPath(in.ChapterID), &original); err != nil {
		return RefineChapterOutput{}, err
	}
	var index schema.StoryIndex
	if err := a.store.ReadArtifact(a.store.Layout.StoryIndexPath(), &index); err != nil {
		return RefineChapterOutput{}, err
	}
	wantPages := len(original.PageSummaries)
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "chapter_summary_refine",
		Prompt:    refinePrompt(original, index, a.cfg.ContextBudget),
		Budget:    a.cfg.ContextBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.ChapterSummary{} },
		Check: func(art schema.Artifact) []schema.Violation {
			sum := art.(*schema.ChapterSummary)
			var vs []schema.Violation
			if sum.ChapterID != in.ChapterID {
				vs = append(vs, schema.Violation{Field: "chapter_id", Rule: "preserve", Message: fmt.Sprintf("chapter_id must stay %s", in.ChapterID)})
			}
			if len(sum.PageSummaries) != wantPages {
				vs = append(vs, schema.Violation{Field: "page_summaries", Rule: "preserve", Message: fmt.Sprintf("must keep exactly %d entries", wantPages)})
			}
			return vs
		},
	})
	a.audit(ctx, "refine", in.ChapterID, models.MainlineTimeline, res, err)
	if err != nil {
		return RefineChapterOutput{}, err
	}
	refined := res.Artifact.(*schema.ChapterSummary)
	refined.StoryIndexVersion = index.Version
	if err := a.store.WriteArtifact(path, refined); err != nil {
		return RefineChapterOutput{}, err
	}
	return RefineChapterOutput{Path: path}, nil
}

func (a *Activities) NovelizeChapterActivity(ctx context.Context, in NovelizeChapterInput) (NovelizeChapterOutput, error) {
	sum, err := a.store.ReadSummary(in.ChapterID)
	if err != nil {
		return NovelizeChapterOutput{}, err
	}
	prose, info, err := a.gen.GenerateText(ctx, genclient.Request{
		Operation: "novel_prose",
		Prompt:    novelizePrompt(*sum, in.StorySoFar),
		Budget:    a.cfg.NovelTailBudget,
	})
	a.audit(ctx, "novelize", in.ChapterID, models.MainlineTimeline, genclient.Result{Provider: info, Attempts: 1}, err)
	if err != nil {
		return NovelizeChapterOutput{}, err
	}
	synopsis, _, err := a.gen.GenerateText(ctx, genclient.Request{
		Operation: "novel_synopsis",
		Prompt:    synopsisPrompt(in.ChapterID, prose),
		Budget:    a.cfg.NovelTailBudget,
	})
	if err != nil {
		return NovelizeChapterOutput{}, err
	}
	n, _ := corpus.ParseChapterID(in.ChapterID)
	content := fmt.Sprintf("# Chapter %d\n\n%s\n", n, strings.TrimSpace(prose))
	path := a.store.Layout.NovelChapterPath(in.ChapterID)
	if err := util.WriteTextAtomic(path, content); err != nil {
		return NovelizeChapterOutput{}, err
	}
	if err := util.WriteTextAtomic(a.store.Layout.StorySoFarPath(in.ChapterID), in.StorySoFar); err != nil {
		return NovelizeChapterOutput{}, err
	}
	return NovelizeChapterOutput{Prose: content, Synopsis: strings.TrimSpace(synopsis), Path: path}, nil
}

func (a *Activities) readNovelProse(chapterID string) (string, error) {
	raw, err := os.ReadFile(a.store.Layout.NovelChapterPath(chapterID))
	if err != nil {
		return "", fmt.Errorf("read novel chapter %s: %w", chapterID, err)
	}
	return string(raw), nil
}

func (a *Activities) ExtractAnchorsActivity(ctx context.Context, in ExtractAnchorsInput) (ExtractAnchorsOutput, error) {
	prose, err := a.readNovelProse(in.ChapterID)
	if err != nil {
		return ExtractAnchorsOutput{}, err
	}
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "anchor_list",
		Prompt:    anchorsPrompt(in.ChapterID, prose, !in.AllowEmpty),
		New:       func() schema.Artifact { return &schema.AnchorList{} },
		Check: func(art schema.Artifact) []schema.Violation {
			if !in.AllowEmpty && len(art.(*schema.AnchorList).Anchors) == 0 {
				return []schema.Violation{{Field: "anchors", Rule: "min", Message: "this chapter has content, identify its anchors"}}
			}
			return nil
		},
	})
	a.audit(ctx, "anchors", in.ChapterID, models.MainlineTimeline, res, err)
	if err != nil {
		return ExtractAnchorsOutput{}, err
	}
	list := res.Artifact.(*schema.AnchorList)
	for i := range list.Anchors {
		list.Anchors[i].ChapterID = in.ChapterID
	}
	path := a.store.Layout.AnchorsPath(in.ChapterID)
	if err := a.store.WriteArtifact(path, list); err != nil {
		return ExtractAnchorsOutput{}, err
	}
	return ExtractAnchorsOutput{AnchorCount: len(list.Anchors), Path: path}, nil
}

func (a *Activities) GenerateChapterBranchesActivity(ctx context.Context, in GenerateChapterBranchesInput) (GenerateChapterBranchesOutput, error) {
	var anchors schema.AnchorList
	if err := a.store.ReadArtifact(a.store.Layout.AnchorsPath(in.ChapterID), &anchors); err != nil {
		return GenerateChapterBranchesOutput{}, err
	}
	prose, err := a.readNovelProse(in.ChapterID)
	if err != nil {
		return GenerateChapterBranchesOutput{}, err
	}
	out := GenerateChapterBranchesOutput{}
	suggestions := schema.BranchSuggestions{ByAnchor: map[string][]schema.BranchOption{}}
	for _, anchor := range anchors.Anchors {
		if anchor.BranchingPotential < in.Threshold {
			out.Skipped++
			continue
		}
		res, err := a.gen.Generate(ctx, genclient.Request{
			Operation: "branch_routes",
			Prompt:    branchRoutesPrompt(in.ChapterID, anchor, prose),
			New:       func() schema.Artifact { return &schema.BranchRoutes{} },
		})
		a.audit(ctx, "branch_routes", in.ChapterID, models.MainlineTimeline, res, err)
		if err != nil {
			return GenerateChapterBranchesOutput{}, err
		}
		routes := res.Artifact.(*schema.BranchRoutes)
		for i := range routes.Branches {
			b := &routes.Branches[i]
			b.AnchorID = anchor.AnchorID
			b.BranchID = corpus.BranchID(in.ChapterID, anchor.AnchorID, b.BranchType)
			out.BranchIDs = append(out.BranchIDs, b.BranchID)
			if a.branchRepo != nil {
				if err := a.branchRepo.UpsertBranch(ctx, models.Branch{
					BranchID:   b.BranchID,
					AnchorID:   anchor.AnchorID,
					ChapterID:  in.ChapterID,
					BranchType: string(b.BranchType),
					Status:     models.StatusPending,
				}); err != nil {
					return GenerateChapterBranchesOutput{}, err
				}
			}
		}
		suggestions.ByAnchor[anchor.AnchorID] = routes.Branches
	}
	path := a.store.Layout.BranchesPath(in.ChapterID)
	if err := a.store.WriteArtifact(path, &suggestions); err != nil {
		return GenerateChapterBranchesOutput{}, err
	}
	out.Path = path
	return out, nil
}

func (a *Activities) BuildCharacterBibleActivity(ctx context.Context, _ BuildCharacterBibleInput) (BuildCharacterBibleOutput, error) {
	raw, err := os.ReadFile(a.store.Layout.FullNovelPath())
	if err != nil {
		return BuildCharacterBibleOutput{}, fmt.Errorf("read full novel: %w", err)
	}
	tail := util.TruncateTail(string(raw), a.cfg.NovelTailBudget)
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "character_bible",
		Prompt:    characterBiblePrompt(tail),
		Budget:    a.cfg.NovelTailBudget + promptHeadroom,
		New:       func() schema.Artifact { return &schema.CharacterBible{} },
		Check: func(art schema.Artifact) []schema.Violation {
			if len(art.(*schema.CharacterBible).Characters) == 0 {
				return []schema.Violation{{Field: "characters", Rule: "min", Message: "at least one character is required"}}
			}
			return nil
		},
	})
	a.audit(ctx, "character_bible", "", models.MainlineTimeline, res, err)
	if err != nil {
		return BuildCharacterBibleOutput{}, err
	}
	bible := res.Artifact.(*schema.CharacterBible)
	path := a.store.Layout.CharacterBiblePath()
	if err := a.store.WriteArtifact(path, bible); err != nil {
		return BuildCharacterBibleOutput{}, err
	}
	for _, c := range bible.Characters {
		if err := util.WriteJSONAtomic(a.store.Layout.CharacterPath(c.CharacterID), c); err != nil {
			return BuildCharacterBibleOutput{}, err
		}
	}
	return BuildCharacterBibleOutput{Path: path, CharacterCount: len(bible.Characters)}, nil
}

func (a *Activities) ScoreChapterActivity(ctx context.Context, in ScoreChapterInput) (ScoreChapterOutput, error) {
	prose, err := a.readNovelProse(in.ChapterID)
	if err != nil {
		return ScoreChapterOutput{}, err
	}
	limits := a.scaleLimits()
	res, err := a.gen.Generate(ctx, genclient.Request{
		Operation: "chapter_scales",
		Prompt:    scalesPrompt(in.ChapterID, prose, limits),
		New:       func() schema.Artifact { return &schema.ChapterScales{} },
		Check: func(art schema.Artifact) []schema.Violation {
			sc := *art.(*schema.ChapterScales)
			sc.ChapterID = in.ChapterID
			return sc.ValidateBounds(limits)
		},
	})
	a.audit(ctx, "scales", in.ChapterID, models.MainlineTimeline, res, err)
	if err != nil {
		return ScoreChapterOutput{}, err
	}
	scales := res.Artifact.(*schema.ChapterScales)
	scales.ChapterID = in.ChapterID
	path := a.store.Layout.ScalesPath(in.ChapterID)
	if err := a.store.WriteArtifact(path, scales); err != nil {
		return ScoreChapterOutput{}, err
	}
	return ScoreChapterOutput{Path: path, Scales: *scales}, nil
}
