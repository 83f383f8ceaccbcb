package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/arrsync/internal/models"
)

// ErrMappingNotFound is returned when an operation needs an existing deployment mapping
var ErrMappingNotFound = errors.New("deployment mapping not found")

type MappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

const mappingColumns = `template_id, instance_id, sync_strategy, auto_delete, last_deployed_at, last_commit, pending_commit, auto_synced_at, created_at, updated_at`

func scanMapping(s rowScanner) (*models.DeploymentMapping, error) {
	m := &models.DeploymentMapping{}
	var lastDeployedAt, autoSyncedAt sql.NullTime
	err := s.Scan(&m.TemplateID, &m.InstanceID, &m.SyncStrategy, &m.AutoDelete, &lastDeployedAt,
		&m.LastCommit, &m.PendingCommit, &autoSyncedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastDeployedAt.Valid {
		m.LastDeployedAt = &lastDeployedAt.Time
	}
	if autoSyncedAt.Valid {
		m.AutoSyncedAt = &autoSyncedAt.Time
	}
	return m, nil
}

// Get returns the mapping of a pair, nil when the template was never deployed there
func (r *MappingRepository) Get(templateID, instanceID string) (*models.DeploymentMapping, error) {
	m, err := scanMapping(r.db.QueryRow(`SELECT `+mappingColumns+` FROM deployment_mappings
		WHERE template_id = ? AND instance_id = ?`, templateID, instanceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetStrategy returns the sync strategy of a pair; pairs without a mapping
// report the default strategy and HasMapping false.
func (r *MappingRepository) GetStrategy(templateID, instanceID string) (*models.StrategyInfo, error) {
	info := &models.StrategyInfo{
		TemplateID:   templateID,
		InstanceID:   instanceID,
		SyncStrategy: models.DefaultSyncStrategy,
	}

	m, err := r.Get(templateID, instanceID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		info.SyncStrategy = m.SyncStrategy
		info.HasMapping = true
		info.AutoDelete = m.AutoDelete
	}
	return info, nil
}

// RecordDeployment creates or refreshes the mapping after a deployment that
// was not FAILED. An empty strategy keeps the existing one, or falls back to fallback.
func (r *MappingRepository) RecordDeployment(templateID, instanceID string, strategy, fallback models.SyncStrategy, commit string, at time.Time) (*models.DeploymentMapping, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := scanMapping(tx.QueryRow(`SELECT `+mappingColumns+` FROM deployment_mappings
		WHERE template_id = ? AND instance_id = ?`, templateID, instanceID))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	now := time.Now().UTC()
	m := &models.DeploymentMapping{
		TemplateID: templateID,
		InstanceID: instanceID,
		CreatedAt:  now,
	}
	if existing != nil {
		m = existing
	}

	switch {
	case strategy != "":
		m.SyncStrategy = strategy
	case existing != nil:
	case fallback != "":
		m.SyncStrategy = fallback
	default:
		m.SyncStrategy = models.DefaultSyncStrategy
	}
	at = at.UTC()
	m.LastDeployedAt = &at
	m.LastCommit = commit
	m.PendingCommit = ""
	m.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO deployment_mappings (`+mappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(template_id, instance_id) DO UPDATE SET
			sync_strategy = excluded.sync_strategy,
			last_deployed_at = excluded.last_deployed_at,
			last_commit = excluded.last_commit,
			pending_commit = excluded.pending_commit,
			updated_at = excluded.updated_at`,
		m.TemplateID, m.InstanceID, m.SyncStrategy, m.AutoDelete, m.LastDeployedAt, m.LastCommit,
		m.PendingCommit, m.AutoSyncedAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MappingRepository) updatePair(query string, args ...any) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// SetStrategy changes the sync strategy of an existing mapping
func (r *MappingRepository) SetStrategy(templateID, instanceID string, strategy models.SyncStrategy) error {
	return r.updatePair(`UPDATE deployment_mappings SET sync_strategy = ?, updated_at = ?
		WHERE template_id = ? AND instance_id = ?`, strategy, time.Now().UTC(), templateID, instanceID)
}

// BulkSetStrategy changes the strategy of every mapping of a template
func (r *MappingRepository) BulkSetStrategy(templateID string, strategy models.SyncStrategy) (int64, error) {
	res, err := r.db.Exec(`UPDATE deployment_mappings SET sync_strategy = ?, updated_at = ? WHERE template_id = ?`,
		strategy, time.Now().UTC(), templateID)
	if err != nil {
		return 0, fmt.Errorf("failed to update strategies: %w", err)
	}
	return res.RowsAffected()
}

// SetAutoDelete toggles removal of formats dropped from the template
func (r *MappingRepository) SetAutoDelete(templateID, instanceID string, enabled bool) error {
	return r.updatePair(`UPDATE deployment_mappings SET auto_delete = ?, updated_at = ?
		WHERE template_id = ? AND instance_id = ?`, enabled, time.Now().UTC(), templateID, instanceID)
}

// MarkPending records an upstream commit awaiting a human decision
func (r *MappingRepository) MarkPending(templateID, instanceID, commit string) error {
	return r.updatePair(`UPDATE deployment_mappings SET pending_commit = ?, updated_at = ?
		WHERE template_id = ? AND instance_id = ?`, commit, time.Now().UTC(), templateID, instanceID)
}

// MarkAutoSynced stamps the time the scheduler applied an update
func (r *MappingRepository) MarkAutoSynced(templateID, instanceID string, at time.Time) error {
	return r.updatePair(`UPDATE deployment_mappings SET auto_synced_at = ?, updated_at = ?
		WHERE template_id = ? AND instance_id = ?`, at.UTC(), time.Now().UTC(), templateID, instanceID)
}

// Delete unlinks a template from an instance
func (r *MappingRepository) Delete(templateID, instanceID string) error {
	return r.updatePair("DELETE FROM deployment_mappings WHERE template_id = ? AND instance_id = ?", templateID, instanceID)
}

// ListByTemplate returns every mapping of a template ordered by instance
func (r *MappingRepository) ListByTemplate(templateID string) ([]models.DeploymentMapping, error) {
	return r.query(`SELECT `+mappingColumns+` FROM deployment_mappings WHERE template_id = ? ORDER BY instance_id`, templateID)
}

// ListByInstance returns every mapping targeting an instance
func (r *MappingRepository) ListByInstance(instanceID string) ([]models.DeploymentMapping, error) {
	return r.query(`SELECT `+mappingColumns+` FROM deployment_mappings WHERE instance_id = ? ORDER BY template_id`, instanceID)
}

func (r *MappingRepository) query(query string, args ...any) ([]models.DeploymentMapping, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := []models.DeploymentMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}
