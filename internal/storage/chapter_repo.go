package storage

import (
	"context"
	"fmt"

	"mangaflow/internal/models"
)

type ChapterRepo struct {
	db *DB
}

func NewChapterRepo(db *DB) *ChapterRepo {
	return &ChapterRepo{db: db}
}

func (r *ChapterRepo) UpsertChapter(ctx context.Context, c models.Chapter) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO chapters (chapter_id, timeline, status, provenance, fail_reason)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''))
ON CONFLICT (chapter_id, timeline)
DO UPDATE SET
  status = EXCLUDED.status,
  provenance = COALESCE(EXCLUDED.provenance, chapters.provenance),
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		c.ChapterID, c.Timeline, c.Status, c.Provenance, c.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert chapter: %w", err)
	}
	return nil
}

func (r *ChapterRepo) UpdateChapterStatus(ctx context.Context, chapterID, timeline, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE chapters SET status=$3, fail_reason=NULLIF($4,''), updated_at=NOW()
WHERE chapter_id=$1 AND timeline=$2`, chapterID, timeline, status, failReason)
	if err != nil {
		return fmt.Errorf("update chapter status: %w", err)
	}
	return nil
}

func (r *ChapterRepo) ListChaptersByTimeline(ctx context.Context, timeline string) ([]models.Chapter, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chapter_id, timeline, status, COALESCE(provenance,''), COALESCE(fail_reason,''), created_at, updated_at
FROM chapters
WHERE timeline=$1
ORDER BY chapter_id`, timeline)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chapter, 0)
	for rows.Next() {
		var c models.Chapter
		if err := rows.Scan(&c.ChapterID, &c.Timeline, &c.Status, &c.Provenance, &c.FailReason, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return out, nil
}

func (r *ChapterRepo) GetChapter(ctx context.Context, chapterID, timeline string) (models.Chapter, error) {
	var c models.Chapter
	err := r.db.Pool.QueryRow(ctx, `
SELECT chapter_id, timeline, status, COALESCE(provenance,''), COALESCE(fail_reason,''), created_at, updated_at
FROM chapters
WHERE chapter_id=$1 AND timeline=$2`, chapterID, timeline).
		Scan(&c.ChapterID, &c.Timeline, &c.Status, &c.Provenance, &c.FailReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}
