package corpus

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mangaflow/internal/providers"
	"mangaflow/internal/schema"
	"mangaflow/internal/util"
)

// Store is the validated read/write surface over the artifact tree. Writes go
// through temp-file rename so readers never see partial artifacts.
type Store struct {
	Layout Layout
}

func NewStore(layout Layout) *Store {
	return &Store{Layout: layout}
}

func (s *Store) WriteArtifact(path string, a schema.Artifact) error {
	if vs := a.Validate(); len(vs) > 0 {
		return fmt.Errorf("refusing to write invalid %s artifact: %s", a.Kind(), schema.FormatViolations(vs))
	}
	return util.WriteJSONAtomic(path, a)
}

func (s *Store) ReadArtifact(path string, dst schema.Artifact) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if vs := schema.Decode(raw, dst); len(vs) > 0 {
		return fmt.Errorf("artifact %s failed validation: %s", path, schema.FormatViolations(vs))
	}
	return nil
}

// ReadSummary loads a chapter summary, preferring the refined variant when
// one exists.
func (s *Store) ReadSummary(chapterID string) (*schema.ChapterSummary, error) {
	var sum schema.ChapterSummary
	refined := s.Layout.RefinedSummaryPath(chapterID)
	if _, err := os.Stat(refined); err == nil {
		if err := s.ReadArtifact(refined, &sum); err != nil {
			return nil, err
		}
		return &sum, nil
	}
	if err := s.ReadArtifact(s.Layout.SummaryPath(chapterID), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *Store) HasSummary(chapterID string) bool {
	_, err := os.Stat(s.Layout.SummaryPath(chapterID))
	return err == nil
}

func (s *Store) HasRefinedSummary(chapterID string) bool {
	_, err := os.Stat(s.Layout.RefinedSummaryPath(chapterID))
	return err == nil
}

// ListChapterDirs returns mainline chapter ids that have a page-image folder,
// in numeric order.
func (s *Store) ListChapterDirs() ([]string, error) {
	entries, err := os.ReadDir(s.Layout.ChaptersDir)
	if err != nil {
		return nil, fmt.Errorf("read chapters dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && IsChapterID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	SortChapterIDs(ids)
	return ids, nil
}

// ListSummarizedChapters returns chapter ids with a committed summary, in
// numeric order. dir defaults to the summaries root so branch timelines can
// be listed with the same logic.
func (s *Store) ListSummarizedChapters(dir string) ([]string, error) {
	if dir == "" {
		dir = s.Layout.SummariesDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read summaries dir: %w", err)
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".summary.json") {
			continue
		}
		if id, ok := ChapterRefOf(e.Name()); ok {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	SortChapterIDs(ids)
	return ids, nil
}

// Tip returns the highest committed chapter id in dir, or "" when the
// timeline is empty.
func (s *Store) Tip(dir string) (string, error) {
	ids, err := s.ListSummarizedChapters(dir)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}

// CheckContiguous verifies the ids run ch_001..ch_N with no holes and returns
// a GapInSequence error naming every missing chapter.
func CheckContiguous(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	present := make(map[int]bool, len(ids))
	max := 0
	for _, id := range ids {
		n, err := ParseChapterID(id)
		if err != nil {
			return err
		}
		present[n] = true
		if n > max {
			max = n
		}
	}
	var missing []string
	for n := 1; n <= max; n++ {
		if !present[n] {
			missing = append(missing, FormatChapterID(n))
		}
	}
	if len(missing) > 0 {
		return NewGapError(missing)
	}
	return nil
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// ListPageImages returns the page image files of a chapter folder sorted by
// name, which is the page order in pre-segmented corpora.
func (s *Store) ListPageImages(chapterID string) ([]string, error) {
	dir := s.Layout.ChapterPagesDir(chapterID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read chapter pages: %w", err)
	}
	var pages []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			pages = append(pages, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(pages)
	return pages, nil
}

// EncodePages loads image files as base64 payloads for vision requests.
func EncodePages(paths []string) ([]providers.EncodedImage, error) {
	out := make([]providers.EncodedImage, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read page image %s: %w", p, err)
		}
		out = append(out, providers.EncodedImage{
			MediaType: imageExtensions[strings.ToLower(filepath.Ext(p))],
			Base64:    base64.StdEncoding.EncodeToString(raw),
		})
	}
	return out, nil
}
