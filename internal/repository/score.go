package repository

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"revscore/internal/models"
)

type ScoreRepository interface {
	// InsertRecords bulk-inserts classification records. Inserts are
	// idempotent: a record already present for the same (revision, model,
	// class) key is silently ignored so concurrent fetchers for the same
	// revision race harmlessly.
	InsertRecords(records []models.ClassificationRecord) error
	GetRecords(revisionIDs []int64, modelIDs []int) ([]models.ClassificationRecord, error)
	// PurgeRevisions deletes all records for the given revisions except those
	// belonging to the protected (keep-forever) models.
	PurgeRevisions(revisionIDs []int64, protectedModelIDs []int) error
	// DeleteAllForRevisions removes every record for the given revisions,
	// including keep-forever models. Used when the content itself is purged.
	DeleteAllForRevisions(revisionIDs []int64) error
	// DeleteParentRecords removes the records of superseded parent revisions
	// for the given models.
	DeleteParentRecords(parentRevisionIDs []int64, modelIDs []int) error
}

type scoreRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewScoreRepository(db *sqlx.DB, logger *zap.Logger) ScoreRepository {
	return &scoreRepository{db: db, logger: logger}
}

func (r *scoreRepository) InsertRecords(records []models.ClassificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, args := buildInsertRecords(records)
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert classification records: %w", err)
	}
	return nil
}

// buildInsertRecords renders the multi-row insert. The ON CONFLICT clause on
// the (revision, model, class) key is what makes concurrent fetchers for the
// same revision race harmlessly.
func buildInsertRecords(records []models.ClassificationRecord) (string, []interface{}) {
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*5)
	for i, rec := range records {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, rec.RevisionID, rec.ModelID, rec.ClassIndex, rec.Probability, rec.IsPredicted)
	}

	query := `INSERT INTO classification_records
	          (revision_id, model_id, class_index, probability, is_predicted)
	          VALUES ` + strings.Join(values, ", ") + `
	          ON CONFLICT (revision_id, model_id, class_index) DO NOTHING`
	return query, args
}

func (r *scoreRepository) GetRecords(revisionIDs []int64, modelIDs []int) ([]models.ClassificationRecord, error) {
	var records []models.ClassificationRecord
	query := `SELECT revision_id, model_id, class_index, probability, is_predicted
	          FROM classification_records
	          WHERE revision_id = ANY($1) AND model_id = ANY($2)
	          ORDER BY revision_id, model_id, class_index`
	err := r.db.Select(&records, query, pq.Array(revisionIDs), pq.Array(modelIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query classification records: %w", err)
	}
	return records, nil
}

func (r *scoreRepository) PurgeRevisions(revisionIDs []int64, protectedModelIDs []int) error {
	if len(revisionIDs) == 0 {
		return nil
	}
	if protectedModelIDs == nil {
		// A nil slice would render as SQL NULL and match nothing.
		protectedModelIDs = []int{}
	}
	query := `DELETE FROM classification_records
	          WHERE revision_id = ANY($1) AND NOT (model_id = ANY($2))`
	res, err := r.db.Exec(query, pq.Array(revisionIDs), pq.Array(protectedModelIDs))
	if err != nil {
		return fmt.Errorf("failed to purge revisions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Info("Purged classification records",
			zap.Int("revisions", len(revisionIDs)), zap.Int64("rows", n))
	}
	return nil
}

func (r *scoreRepository) DeleteAllForRevisions(revisionIDs []int64) error {
	if len(revisionIDs) == 0 {
		return nil
	}
	query := `DELETE FROM classification_records WHERE revision_id = ANY($1)`
	if _, err := r.db.Exec(query, pq.Array(revisionIDs)); err != nil {
		return fmt.Errorf("failed to delete records for purged content: %w", err)
	}
	return nil
}

func (r *scoreRepository) DeleteParentRecords(parentRevisionIDs []int64, modelIDs []int) error {
	if len(parentRevisionIDs) == 0 || len(modelIDs) == 0 {
		return nil
	}
	query := `DELETE FROM classification_records
	          WHERE revision_id = ANY($1) AND model_id = ANY($2)`
	if _, err := r.db.Exec(query, pq.Array(parentRevisionIDs), pq.Array(modelIDs)); err != nil {
		return fmt.Errorf("failed to delete superseded parent records: %w", err)
	}
	return nil
}
