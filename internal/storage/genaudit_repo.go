package storage

import (
	"context"
	"fmt"
)

// GenerationCallRecord is one audited model call, successful or not.
type GenerationCallRecord struct {
	CallID       string
	Operation    string
	ChapterID    string
	Timeline     string
	ProviderName string
	Model        string
	Attempts     int
	Status       string
	ErrorType    string
}

type GenAuditRepo struct {
	db *DB
}

func NewGenAuditRepo(db *DB) *GenAuditRepo {
	return &GenAuditRepo{db: db}
}

func (r *GenAuditRepo) Insert(ctx context.Context, rec GenerationCallRecord) error {
	if rec.Attempts < 1 {
		rec.Attempts = 1
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO generation_calls(call_id, operation, chapter_id, timeline, provider_name, model, attempts, status, error_type)
VALUES (COALESCE(NULLIF($1,'')::uuid, gen_random_uuid()), $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, $8, NULLIF($9,''))`,
		rec.CallID, rec.Operation, rec.ChapterID, rec.Timeline, rec.ProviderName, rec.Model, rec.Attempts, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert generation call: %w", err)
	}
	return nil
}
