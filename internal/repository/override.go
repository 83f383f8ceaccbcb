package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/arrsync/internal/models"
)

// ErrNoScoreOverride is returned when promoting a format that has no score override
var ErrNoScoreOverride = errors.New("no score override to promote")

type OverrideRepository struct {
	db *sql.DB
}

func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// List returns the override rows of a (template, instance) pair
func (r *OverrideRepository) List(templateID, instanceID string) ([]models.InstanceOverride, error) {
	rows, err := r.db.Query(`
		SELECT template_id, instance_id, trash_id, score_override, enabled, updated_at
		FROM instance_overrides WHERE template_id = ? AND instance_id = ?
		ORDER BY trash_id`, templateID, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := []models.InstanceOverride{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

// Get returns the overrides of a pair as lookup maps; empty when none exist
func (r *OverrideRepository) Get(templateID, instanceID string) (*models.OverrideSet, error) {
	list, err := r.List(templateID, instanceID)
	if err != nil {
		return nil, err
	}

	set := models.NewOverrideSet()
	for _, o := range list {
		if o.ScoreOverride != nil {
			set.ScoreOverrides[o.TrashID] = *o.ScoreOverride
		}
		if o.Enabled != nil {
			set.CFOverrides[o.TrashID] = models.FormatOverride{Enabled: *o.Enabled}
		}
	}
	return set, nil
}

func scanOverride(s rowScanner) (*models.InstanceOverride, error) {
	o := &models.InstanceOverride{}
	var scoreOverride sql.NullInt64
	var enabled sql.NullBool
	if err := s.Scan(&o.TemplateID, &o.InstanceID, &o.TrashID, &scoreOverride, &enabled, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if scoreOverride.Valid {
		v := int(scoreOverride.Int64)
		o.ScoreOverride = &v
	}
	if enabled.Valid {
		v := enabled.Bool
		o.Enabled = &v
	}
	return o, nil
}

func getOverrideTx(tx *sql.Tx, templateID, instanceID, trashID string) (*models.InstanceOverride, error) {
	o, err := scanOverride(tx.QueryRow(`
		SELECT template_id, instance_id, trash_id, score_override, enabled, updated_at
		FROM instance_overrides WHERE template_id = ? AND instance_id = ? AND trash_id = ?`,
		templateID, instanceID, trashID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// writeOverrideTx stores the row, or removes it when nothing differs from the template
func writeOverrideTx(tx *sql.Tx, o *models.InstanceOverride) error {
	if o.Empty() {
		_, err := tx.Exec("DELETE FROM instance_overrides WHERE template_id = ? AND instance_id = ? AND trash_id = ?",
			o.TemplateID, o.InstanceID, o.TrashID)
		return err
	}

	var scoreOverride sql.NullInt64
	if o.ScoreOverride != nil {
		scoreOverride = sql.NullInt64{Int64: int64(*o.ScoreOverride), Valid: true}
	}
	var enabled sql.NullBool
	if o.Enabled != nil {
		enabled = sql.NullBool{Bool: *o.Enabled, Valid: true}
	}

	_, err := tx.Exec(`
		INSERT INTO instance_overrides (template_id, instance_id, trash_id, score_override, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(template_id, instance_id, trash_id) DO UPDATE SET
			score_override = excluded.score_override,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		o.TemplateID, o.InstanceID, o.TrashID, scoreOverride, enabled, o.UpdatedAt,
	)
	return err
}

// Upsert applies a partial update. Fields left nil are kept; a row that ends up
// identical to the template defaults is deleted. Returns nil when no row remains.
func (r *OverrideRepository) Upsert(templateID, instanceID string, upd models.OverrideUpdate) (*models.InstanceOverride, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o, err := getOverrideTx(tx, templateID, instanceID, upd.TrashID)
	if err != nil {
		return nil, fmt.Errorf("failed to read override: %w", err)
	}
	if o == nil {
		o = &models.InstanceOverride{TemplateID: templateID, InstanceID: instanceID, TrashID: upd.TrashID}
	}

	if upd.ClearScore {
		o.ScoreOverride = nil
	} else if upd.ScoreOverride != nil {
		v := *upd.ScoreOverride
		o.ScoreOverride = &v
	}
	if upd.ClearEnabled {
		o.Enabled = nil
	} else if upd.Enabled != nil {
		v := *upd.Enabled
		o.Enabled = &v
	}
	o.UpdatedAt = time.Now().UTC()

	if err := writeOverrideTx(tx, o); err != nil {
		return nil, fmt.Errorf("failed to save override: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if o.Empty() {
		return nil, nil
	}
	return o, nil
}

// DeleteOne removes every override of one format
func (r *OverrideRepository) DeleteOne(templateID, instanceID, trashID string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM instance_overrides WHERE template_id = ? AND instance_id = ? AND trash_id = ?",
		templateID, instanceID, trashID)
	if err != nil {
		return false, fmt.Errorf("failed to delete override: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAll removes every override of a (template, instance) pair
func (r *OverrideRepository) DeleteAll(templateID, instanceID string) (int64, error) {
	res, err := r.db.Exec("DELETE FROM instance_overrides WHERE template_id = ? AND instance_id = ?", templateID, instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete overrides: %w", err)
	}
	return res.RowsAffected()
}

// Promote makes an instance score override the template default. The template
// rewrite and the override removal happen in one transaction.
func (r *OverrideRepository) Promote(templateID, instanceID, trashID string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	o, err := getOverrideTx(tx, templateID, instanceID, trashID)
	if err != nil {
		return 0, fmt.Errorf("failed to read override: %w", err)
	}
	if o == nil || o.ScoreOverride == nil {
		return 0, ErrNoScoreOverride
	}
	value := *o.ScoreOverride

	if err := assignFormatScore(tx, templateID, trashID, value); err != nil {
		return 0, err
	}

	o.ScoreOverride = nil
	o.UpdatedAt = time.Now().UTC()
	if err := writeOverrideTx(tx, o); err != nil {
		return 0, fmt.Errorf("failed to clear override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return value, nil
}
