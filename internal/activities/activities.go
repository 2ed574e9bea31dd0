package activities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mangaflow/internal/config"
	"mangaflow/internal/corpus"
	"mangaflow/internal/genclient"
	"mangaflow/internal/models"
	"mangaflow/internal/providers"
	"mangaflow/internal/schema"
	"mangaflow/internal/storage"
	"mangaflow/internal/util"
)

type Activities struct {
	cfg         config.Config
	store       *corpus.Store
	gen         *genclient.Client
	chapterRepo *storage.ChapterRepo
	branchRepo  *storage.BranchRepo
	auditRepo   *storage.GenAuditRepo
	log         *zap.SugaredLogger
}

func New(cfg config.Config, db *storage.DB, log *zap.SugaredLogger) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Activities{
		cfg:   cfg,
		store: corpus.NewStore(corpus.NewLayout(cfg)),
		gen:   genclient.New(pm, cfg.MaxGenAttempts, cfg.ContextBudget, log),
		log:   log,
	}
	if db != nil {
		a.chapterRepo = storage.NewChapterRepo(db)
		a.branchRepo = storage.NewBranchRepo(db)
		a.auditRepo = storage.NewGenAuditRepo(db)
	}
	return a, nil
}

// NewWithDeps wires explicit dependencies, used by tests that script the
// provider responses.
func NewWithDeps(cfg config.Config, store *corpus.Store, gen *genclient.Client, log *zap.SugaredLogger) *Activities {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Activities{cfg: cfg, store: store, gen: gen, log: log}
}

func (a *Activities) ScanChaptersActivity(ctx context.Context, in ScanChaptersInput) (ScanChaptersOutput, error) {
	_ = ctx
	ids, err := a.store.ListChapterDirs()
	if err != nil {
		return ScanChaptersOutput{}, err
	}
	out := ScanChaptersOutput{ChapterIDs: ids}
	if err := corpus.CheckContiguous(ids); err != nil {
		var cerr *corpus.Error
		if errors.As(err, &cerr) {
			out.MissingIDs = cerr.Chapters
		} else {
			return ScanChaptersOutput{}, err
		}
	}
	index := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		pages, err := a.store.ListPageImages(id)
		if err != nil {
			return ScanChaptersOutput{}, err
		}
		index = append(index, map[string]any{
			"chapter_id": id,
			"page_count": len(pages),
			"path":       a.store.Layout.ChapterPagesDir(id),
		})
	}
	path := a.store.Layout.ChaptersIndexPath()
	if err := util.WriteJSONAtomic(path, map[string]any{
		"chapters":    index,
		"missing_ids": out.MissingIDs,
	}); err != nil {
		return ScanChaptersOutput{}, err
	}
	out.IndexPath = path
	return out, nil
}

func (a *Activities) CheckSummaryActivity(ctx context.Context, in CheckSummaryInput) (CheckSummaryOutput, error) {
	_ = ctx
	if in.Refined {
		return CheckSummaryOutput{Exists: a.store.HasRefinedSummary(in.ChapterID)}, nil
	}
	return CheckSummaryOutput{Exists: a.store.HasSummary(in.ChapterID)}, nil
}

func (a *Activities) ListChapterPagesActivity(ctx context.Context, in ListChapterPagesInput) (ListChapterPagesOutput, error) {
	_ = ctx
	pages, err := a.store.ListPageImages(in.ChapterID)
	if err != nil {
		return ListChapterPagesOutput{}, err
	}
	return ListChapterPagesOutput{Pages: pages}, nil
}

func (a *Activities) WriteChapterSummaryActivity(ctx context.Context, in WriteChapterSummaryInput) (WriteChapterSummaryOutput, error) {
	_ = ctx
	path := a.store.Layout.SummaryPath(in.Summary.ChapterID)
	if err := a.store.WriteArtifact(path, &in.Summary); err != nil {
		return WriteChapterSummaryOutput{}, err
	}
	return WriteChapterSummaryOutput{Path: path}, nil
}

func (a *Activities) LoadSummariesActivity(ctx context.Context, in LoadSummariesInput) (LoadSummariesOutput, error) {
	_ = ctx
	ids, err := a.store.ListSummarizedChapters(in.TimelineDir)
	if err != nil {
		return LoadSummariesOutput{}, err
	}
	out := LoadSummariesOutput{}
	for _, id := range ids {
		sum, err := a.store.ReadSummary(id)
		if err != nil {
			a.log.Warnw("invalid chapter summary", "chapter", id, "error", err)
			out.InvalidChapters = append(out.InvalidChapters, id)
			continue
		}
		out.Summaries = append(out.Summaries, *sum)
	}
	return out, nil
}

func (a *Activities) ConcatNovelActivity(ctx context.Context, in ConcatNovelInput) (ConcatNovelOutput, error) {
	_ = ctx
	var b strings.Builder
	for _, id := range in.ChapterIDs {
		raw, err := os.ReadFile(a.store.Layout.NovelChapterPath(id))
		if err != nil {
			return ConcatNovelOutput{}, fmt.Errorf("read novel chapter %s: %w", id, err)
		}
		b.Write(raw)
		if !strings.HasSuffix(string(raw), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	path := a.store.Layout.FullNovelPath()
	if err := util.WriteTextAtomic(path, b.String()); err != nil {
		return ConcatNovelOutput{}, err
	}
	return ConcatNovelOutput{Path: path}, nil
}

func (a *Activities) AggregateAnchorsActivity(ctx context.Context, in AggregateAnchorsInput) (AggregateAnchorsOutput, error) {
	_ = ctx
	byChapter := make(map[string][]schema.Anchor, len(in.ChapterIDs))
	total := 0
	for _, id := range in.ChapterIDs {
		var list schema.AnchorList
		path := a.store.Layout.AnchorsPath(id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := a.store.ReadArtifact(path, &list); err != nil {
			return AggregateAnchorsOutput{}, err
		}
		byChapter[id] = list.Anchors
		total += len(list.Anchors)
	}
	path := a.store.Layout.AnchorsAggregatePath()
	if err := util.WriteJSONAtomic(path, map[string]any{"anchors_by_chapter": byChapter, "total": total}); err != nil {
		return AggregateAnchorsOutput{}, err
	}
	return AggregateAnchorsOutput{Path: path, Total: total}, nil
}

func (a *Activities) AggregateBranchesActivity(ctx context.Context, in AggregateBranchesInput) (AggregateBranchesOutput, error) {
	_ = ctx
	byAnchor := make(map[string][]schema.BranchOption)
	total := 0
	for _, id := range in.ChapterIDs {
		path := a.store.Layout.BranchesPath(id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var sugg schema.BranchSuggestions
		if err := a.store.ReadArtifact(path, &sugg); err != nil {
			return AggregateBranchesOutput{}, err
		}
		for anchorID, opts := range sugg.ByAnchor {
			byAnchor[anchorID] = opts
			total += len(opts)
		}
	}
	path := a.store.Layout.BranchesAggregatePath()
	if err := util.WriteJSONAtomic(path, schema.BranchSuggestions{ByAnchor: byAnchor}); err != nil {
		return AggregateBranchesOutput{}, err
	}
	return AggregateBranchesOutput{Path: path, Total: total}, nil
}

func (a *Activities) AggregateScalesActivity(ctx context.Context, in AggregateScalesInput) (AggregateScalesOutput, error) {
	_ = ctx
	byChapter := make(map[string]schema.ChapterScales, len(in.ChapterIDs))
	for _, id := range in.ChapterIDs {
		path := a.store.Layout.ScalesPath(id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var sc schema.ChapterScales
		if err := a.store.ReadArtifact(path, &sc); err != nil {
			return AggregateScalesOutput{}, err
		}
		byChapter[id] = sc
	}
	path := a.store.Layout.ScalesAggregatePath()
	if err := util.WriteJSONAtomic(path, map[string]any{"scales_by_chapter": byChapter}); err != nil {
		return AggregateScalesOutput{}, err
	}
	return AggregateScalesOutput{Path: path}, nil
}

func (a *Activities) UpdateChapterStatusActivity(ctx context.Context, in UpdateChapterStatusInput) error {
	if a.chapterRepo == nil {
		return nil
	}
	return a.chapterRepo.UpsertChapter(ctx, models.Chapter{
		ChapterID:  in.ChapterID,
		Timeline:   in.Timeline,
		Status:     in.Status,
		FailReason: in.FailReason,
	})
}

func (a *Activities) UpdateBranchStatusActivity(ctx context.Context, in UpdateBranchStatusInput) error {
	if a.branchRepo == nil {
		return nil
	}
	return a.branchRepo.UpdateBranchStatus(ctx, in.BranchID, in.Status)
}

func (a *Activities) LogGenerationCallActivity(ctx context.Context, in LogGenerationCallInput) error {
	if a.auditRepo == nil {
		return nil
	}
	return a.auditRepo.Insert(ctx, storage.GenerationCallRecord{
		Operation:    in.Operation,
		ChapterID:    in.ChapterID,
		Timeline:     in.Timeline,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		Attempts:     in.Attempts,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	})
}

func (a *Activities) ExportSchemasActivity(ctx context.Context, in ExportSchemasInput) (ExportSchemasOutput, error) {
	_ = ctx
	dir := in.OutDir
	if dir == "" {
		dir = a.store.Layout.SchemasDir
	}
	if err := schema.ExportAll(dir); err != nil {
		return ExportSchemasOutput{}, err
	}
	kinds := make([]string, 0)
	for _, k := range schema.Kinds() {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return ExportSchemasOutput{Dir: dir, Kinds: kinds}, nil
}
