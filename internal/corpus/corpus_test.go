package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mangaflow/internal/schema"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(Layout{
		ChaptersDir:   filepath.Join(root, "chapters"),
		SummariesDir:  filepath.Join(root, "summaries"),
		StoryIndexDir: filepath.Join(root, "story_index"),
		NovelDir:      filepath.Join(root, "novel"),
		TimelineDir:   filepath.Join(root, "timeline"),
		CharactersDir: filepath.Join(root, "characters"),
		ScalesDir:     filepath.Join(root, "scales"),
		TimelinesDir:  filepath.Join(root, "timelines"),
		SchemasDir:    filepath.Join(root, "schemas"),
	})
}

func summaryFor(id string) *schema.ChapterSummary {
	return &schema.ChapterSummary{
		ChapterID:     id,
		Events:        []string{"an event"},
		PageSummaries: schema.PageSummaryList{{PageNumber: 1, Text: "a page"}},
	}
}

func TestChapterIDRoundTrip(t *testing.T) {
	require.Equal(t, "ch_007", FormatChapterID(7))
	require.Equal(t, "ch_120", FormatChapterID(120))
	n, err := ParseChapterID("ch_042")
	require.NoError(t, err)
	require.Equal(t, 42, n)

	_, err = ParseChapterID("chapter_1")
	require.Error(t, err)
	_, err = ParseChapterID("ch_005_a001_b_behavioral")
	require.Error(t, err)
}

func TestSortChapterIDsNumeric(t *testing.T) {
	ids := []string{"ch_010", "ch_002", "ch_100", "ch_001"}
	SortChapterIDs(ids)
	require.Equal(t, []string{"ch_001", "ch_002", "ch_010", "ch_100"}, ids)
}

func TestBranchIDDeterministic(t *testing.T) {
	id := BranchID("ch_005", "a001", schema.RouteBehavioral)
	require.Equal(t, "ch_005_a001_b_behavioral", id)
	require.Equal(t, id, BranchID("ch_005", "a001", schema.RouteBehavioral))

	// Anchor ids that already carry the chapter prefix collapse to the same
	// branch id.
	require.Equal(t, id, BranchID("ch_005", "ch_005_a001", schema.RouteBehavioral))

	require.Equal(t, "ch_005_a001_b_badend", BranchID("ch_005", "a001", schema.RouteBadEnd))
	require.Equal(t, "ch_005_a002_b_wildcard", BranchID("ch_005", "a002", schema.RouteWildcard))
}

func TestParseBranchID(t *testing.T) {
	ref, err := ParseBranchID("ch_005_a001_b_behavioral")
	require.NoError(t, err)
	require.Equal(t, "ch_005", ref.ChapterID)
	require.Equal(t, "a001", ref.AnchorID)
	require.Equal(t, schema.RouteBehavioral, ref.Kind)

	_, err = ParseBranchID("ch_005_a001_b_sideways")
	require.Error(t, err)
	_, err = ParseBranchID("ch_005")
	require.Error(t, err)
}

func TestCheckContiguous(t *testing.T) {
	require.NoError(t, CheckContiguous(nil))
	require.NoError(t, CheckContiguous([]string{"ch_001", "ch_002", "ch_003"}))

	err := CheckContiguous([]string{"ch_001", "ch_004"})
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ErrGapInSequence, cerr.Kind)
	require.Equal(t, []string{"ch_002", "ch_003"}, cerr.Chapters)
}

func TestStoreWriteReadSummary(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.WriteArtifact(s.Layout.SummaryPath("ch_001"), summaryFor("ch_001")))

	got, err := s.ReadSummary("ch_001")
	require.NoError(t, err)
	require.Equal(t, "ch_001", got.ChapterID)
	require.True(t, s.HasSummary("ch_001"))
	require.False(t, s.HasRefinedSummary("ch_001"))
}

func TestStoreRefusesInvalidArtifact(t *testing.T) {
	s := testStore(t)
	err := s.WriteArtifact(s.Layout.SummaryPath("ch_001"), &schema.ChapterSummary{})
	require.ErrorContains(t, err, "refusing to write")
	_, statErr := os.Stat(s.Layout.SummaryPath("ch_001"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestReadSummaryPrefersRefined(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.WriteArtifact(s.Layout.SummaryPath("ch_001"), summaryFor("ch_001")))

	refined := summaryFor("ch_001")
	refined.CoverageNotes = "refined"
	refined.StoryIndexVersion = "v1"
	require.NoError(t, s.WriteArtifact(s.Layout.RefinedSummaryPath("ch_001"), refined))

	got, err := s.ReadSummary("ch_001")
	require.NoError(t, err)
	require.Equal(t, "refined", got.CoverageNotes)

	// The original stays untouched on disk.
	var original schema.ChapterSummary
	require.NoError(t, s.ReadArtifact(s.Layout.SummaryPath("ch_001"), &original))
	require.Empty(t, original.CoverageNotes)
}

func TestTipAndListing(t *testing.T) {
	s := testStore(t)
	tip, err := s.Tip("")
	require.NoError(t, err)
	require.Empty(t, tip)

	for _, id := range []string{"ch_002", "ch_010", "ch_001"} {
		require.NoError(t, s.WriteArtifact(s.Layout.SummaryPath(id), summaryFor(id)))
	}
	ids, err := s.ListSummarizedChapters("")
	require.NoError(t, err)
	require.Equal(t, []string{"ch_001", "ch_002", "ch_010"}, ids)

	tip, err = s.Tip("")
	require.NoError(t, err)
	require.Equal(t, "ch_010", tip)
}

func TestBranchTimelineIsolation(t *testing.T) {
	s := testStore(t)
	branchID := BranchID("ch_005", "a001", schema.RouteBadEnd)
	require.NoError(t, s.WriteArtifact(s.Layout.BranchChapterPath(branchID, "ch_006"), summaryFor("ch_006")))

	tip, err := s.Tip(s.Layout.BranchTimelineDir(branchID))
	require.NoError(t, err)
	require.Equal(t, "ch_006", tip)

	mainTip, err := s.Tip("")
	require.NoError(t, err)
	require.Empty(t, mainTip)
}

func TestListPageImagesSorted(t *testing.T) {
	s := testStore(t)
	dir := s.Layout.ChapterPagesDir("ch_001")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"p003.png", "p001.jpg", "p002.jpeg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0xFF}, 0o644))
	}
	pages, err := s.ListPageImages("ch_001")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	require.Equal(t, "p001.jpg", filepath.Base(pages[0]))
	require.Equal(t, "p003.png", filepath.Base(pages[2]))

	imgs, err := EncodePages(pages)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", imgs[0].MediaType)
	require.NotEmpty(t, imgs[0].Base64)
}
