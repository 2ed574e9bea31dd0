package corpus

import (
	"fmt"
	"path/filepath"

	"mangaflow/internal/config"
)

// Layout maps logical artifacts to filesystem paths. Every stage writes only
// inside its own root.
type Layout struct {
	ChaptersDir   string
	SummariesDir  string
	StoryIndexDir string
	NovelDir      string
	TimelineDir   string
	CharactersDir string
	ScalesDir     string
	TimelinesDir  string
	SchemasDir    string
}

func NewLayout(cfg config.Config) Layout {
	return Layout{
		ChaptersDir:   cfg.ChaptersDir,
		SummariesDir:  cfg.SummariesDir,
		StoryIndexDir: cfg.StoryIndexDir,
		NovelDir:      cfg.NovelDir,
		TimelineDir:   cfg.TimelineDir,
		CharactersDir: cfg.CharactersDir,
		ScalesDir:     cfg.ScalesDir,
		TimelinesDir:  cfg.TimelinesDir,
		SchemasDir:    cfg.SchemasDir,
	}
}

func (l Layout) ChapterPagesDir(chapterID string) string {
	return filepath.Join(l.ChaptersDir, chapterID)
}

func (l Layout) ChaptersIndexPath() string {
	return filepath.Join(l.ChaptersDir, "chapters_index.json")
}

func (l Layout) SummaryPath(chapterID string) string {
	return filepath.Join(l.SummariesDir, chapterID+".summary.json")
}

// RefinedSummaryPath is written alongside the original; refinement never
// mutates the first-pass summary in place.
func (l Layout) RefinedSummaryPath(chapterID string) string {
	return filepath.Join(l.SummariesDir, chapterID+".summary.refined.json")
}

func (l Layout) StoryIndexPath() string {
	return filepath.Join(l.StoryIndexDir, "story_index.json")
}

func (l Layout) NovelChapterPath(chapterID string) string {
	return filepath.Join(l.NovelDir, chapterID+".md")
}

func (l Layout) StorySoFarPath(chapterID string) string {
	return filepath.Join(l.NovelDir, chapterID+".story_so_far.txt")
}

func (l Layout) FullNovelPath() string {
	return filepath.Join(l.NovelDir, "full_novel.md")
}

func (l Layout) AnchorsPath(chapterID string) string {
	return filepath.Join(l.TimelineDir, chapterID+".anchors.json")
}

func (l Layout) AnchorsAggregatePath() string {
	return filepath.Join(l.TimelineDir, "anchors.json")
}

func (l Layout) BranchesPath(chapterID string) string {
	return filepath.Join(l.TimelineDir, chapterID+".branches.json")
}

func (l Layout) BranchesAggregatePath() string {
	return filepath.Join(l.TimelineDir, "branches.json")
}

func (l Layout) BranchConfigPath(branchID string) string {
	return filepath.Join(l.TimelineDir, "configs", branchID+".config.json")
}

func (l Layout) CharacterBiblePath() string {
	return filepath.Join(l.CharactersDir, "character_bible.json")
}

func (l Layout) CharacterPath(characterID string) string {
	return filepath.Join(l.CharactersDir, characterID+".json")
}

func (l Layout) ScalesPath(chapterID string) string {
	return filepath.Join(l.ScalesDir, chapterID+".scales.json")
}

func (l Layout) ScalesAggregatePath() string {
	return filepath.Join(l.ScalesDir, "scales_by_chapter.json")
}

// BranchTimelineDir is where a branch's generated chapters live, fully
// separate from the mainline summary root.
func (l Layout) BranchTimelineDir(branchID string) string {
	return filepath.Join(l.TimelinesDir, fmt.Sprintf("timeline_%s", branchID))
}

func (l Layout) BranchChapterPath(branchID, chapterID string) string {
	return filepath.Join(l.BranchTimelineDir(branchID), chapterID+".summary.json")
}
