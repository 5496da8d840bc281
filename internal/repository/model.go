package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"revscore/internal/models"
)

type ModelRepository interface {
	// GetCurrent returns the current version row for the named model, or
	// models.ErrModelNotFound if the name has never been observed.
	GetCurrent(name string) (*models.Model, error)
	// GetAllCurrent returns the current version row of every observed model.
	GetAllCurrent() ([]models.Model, error)
	// EnsureCurrent assigns a stable id on first sight of the name, demotes
	// any other current version row and promotes the given version. The flip
	// is last-writer-wins; racing observers converge to whichever write lands
	// last.
	EnsureCurrent(name, version string) (*models.Model, error)
}

type modelRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewModelRepository(db *sqlx.DB, logger *zap.Logger) ModelRepository {
	return &modelRepository{db: db, logger: logger}
}

func (r *modelRepository) GetCurrent(name string) (*models.Model, error) {
	var m models.Model
	query := `SELECT m.id AS model_id, m.name, v.version, v.is_current
	          FROM scoring_models m
	          JOIN scoring_model_versions v ON v.model_id = m.id
	          WHERE m.name = $1 AND v.is_current`
	err := r.db.Get(&m, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *modelRepository) GetAllCurrent() ([]models.Model, error) {
	var out []models.Model
	query := `SELECT m.id AS model_id, m.name, v.version, v.is_current
	          FROM scoring_models m
	          JOIN scoring_model_versions v ON v.model_id = m.id
	          WHERE v.is_current
	          ORDER BY m.name`
	if err := r.db.Select(&out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *modelRepository) EnsureCurrent(name, version string) (*models.Model, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var modelID int
	// The dummy update makes RETURNING work for pre-existing names too.
	err = tx.QueryRowx(
		`INSERT INTO scoring_models (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, name).Scan(&modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert model %q: %w", name, err)
	}

	_, err = tx.Exec(
		`UPDATE scoring_model_versions SET is_current = FALSE
		 WHERE model_id = $1 AND version <> $2`, modelID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to demote old versions of %q: %w", name, err)
	}

	_, err = tx.Exec(
		`INSERT INTO scoring_model_versions (model_id, version, is_current)
		 VALUES ($1, $2, TRUE)
		 ON CONFLICT (model_id, version) DO UPDATE SET is_current = TRUE`,
		modelID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to promote version %q of %q: %w", version, name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version flip for %q: %w", name, err)
	}

	return &models.Model{ID: modelID, Name: name, Version: version, IsCurrent: true}, nil
}
