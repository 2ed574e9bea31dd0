package storage

import (
	"context"
	"fmt"

	"mangaflow/internal/models"
)

type BranchRepo struct {
	db *DB
}

func NewBranchRepo(db *DB) *BranchRepo {
	return &BranchRepo{db: db}
}

func (r *BranchRepo) UpsertBranch(ctx context.Context, b models.Branch) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO branches (branch_id, anchor_id, chapter_id, branch_type, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (branch_id)
DO UPDATE SET
  status = EXCLUDED.status,
  updated_at = NOW()`,
		b.BranchID, b.AnchorID, b.ChapterID, b.BranchType, b.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert branch: %w", err)
	}
	return nil
}

func (r *BranchRepo) UpdateBranchStatus(ctx context.Context, branchID, status string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE branches SET status=$2, updated_at=NOW() WHERE branch_id=$1`, branchID, status)
	if err != nil {
		return fmt.Errorf("update branch status: %w", err)
	}
	return nil
}

func (r *BranchRepo) ListBranchesByChapter(ctx context.Context, chapterID string) ([]models.Branch, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT branch_id, anchor_id, chapter_id, branch_type, status, created_at, updated_at
FROM branches
WHERE chapter_id=$1
ORDER BY branch_id`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	out := make([]models.Branch, 0)
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.BranchID, &b.AnchorID, &b.ChapterID, &b.BranchType, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return out, nil
}
