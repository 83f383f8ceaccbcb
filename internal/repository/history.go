package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/arrsync/internal/models"
)

// HistoryRepository is the append-only deployment log plus pre-deployment backups
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, template_id, instance_id, deployed_at, deployed_by, trigger_type, template_commit, status,
	duration_ms, applied_cfs, failed_cfs, total_cfs, backup_id, rolled_back, rolled_back_at`

func scanHistory(s rowScanner) (*models.HistoryEntry, error) {
	e := &models.HistoryEntry{}
	var backupID sql.NullString
	var rolledBackAt sql.NullTime
	err := s.Scan(&e.ID, &e.TemplateID, &e.InstanceID, &e.DeployedAt, &e.DeployedBy, &e.Trigger, &e.TemplateCommit,
		&e.Status, &e.DurationMs, &e.AppliedCFs, &e.FailedCFs, &e.TotalCFs, &backupID, &e.RolledBack, &rolledBackAt)
	if err != nil {
		return nil, err
	}
	if backupID.Valid {
		e.BackupID = backupID.String
	}
	if rolledBackAt.Valid {
		e.RolledBackAt = &rolledBackAt.Time
	}
	return e, nil
}

// Create records a deployment as IN_PROGRESS
func (r *HistoryRepository) Create(e *models.HistoryEntry) error {
	e.ID = uuid.New().String()
	e.Status = models.StatusInProgress
	if e.DeployedAt.IsZero() {
		e.DeployedAt = time.Now().UTC()
	}
	if e.Trigger == "" {
		e.Trigger = models.TriggerManual
	}

	var backupID sql.NullString
	if e.BackupID != "" {
		backupID = sql.NullString{String: e.BackupID, Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO deployment_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TemplateID, e.InstanceID, e.DeployedAt, e.DeployedBy, e.Trigger, e.TemplateCommit, e.Status,
		0, 0, 0, e.TotalCFs, backupID, false, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	return nil
}

// Finalize stores the terminal status, counters and item outcomes of an entry
func (r *HistoryRepository) Finalize(e *models.HistoryEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var backupID sql.NullString
	if e.BackupID != "" {
		backupID = sql.NullString{String: e.BackupID, Valid: true}
	}

	res, err := tx.Exec(`
		UPDATE deployment_history SET status = ?, duration_ms = ?, applied_cfs = ?, failed_cfs = ?, total_cfs = ?, backup_id = ?
		WHERE id = ?`,
		e.Status, e.DurationMs, e.AppliedCFs, e.FailedCFs, e.TotalCFs, backupID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history entry not found: %s", e.ID)
	}

	if _, err := tx.Exec("DELETE FROM deployment_history_items WHERE history_id = ?", e.ID); err != nil {
		return fmt.Errorf("failed to reset history items: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO deployment_history_items (history_id, position, trash_id, name, action, remote_id, applied, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, it := range e.Items {
		if _, err := stmt.Exec(e.ID, i, it.TrashID, it.Name, it.Action, it.RemoteID, it.Applied, it.Error); err != nil {
			return fmt.Errorf("failed to store history item: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns an entry with its items
func (r *HistoryRepository) Get(id string) (*models.HistoryEntry, error) {
	e, err := scanHistory(r.db.QueryRow(`SELECT `+historyColumns+` FROM deployment_history WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if e.Items, err = r.items(e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *HistoryRepository) items(historyID string) ([]models.HistoryItem, error) {
	rows, err := r.db.Query(`
		SELECT trash_id, name, action, remote_id, applied, error
		FROM deployment_history_items WHERE history_id = ? ORDER BY position`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.HistoryItem{}
	for rows.Next() {
		var it models.HistoryItem
		if err := rows.Scan(&it.TrashID, &it.Name, &it.Action, &it.RemoteID, &it.Applied, &it.Error); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns entries newest first without their items
func (r *HistoryRepository) List(filter models.HistoryFilter) ([]models.HistoryEntry, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.TemplateID != "" {
		where += " AND template_id = ?"
		args = append(args, filter.TemplateID)
	}
	if filter.InstanceID != "" {
		where += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM deployment_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + historyColumns + ` FROM deployment_history` + where + ` ORDER BY deployed_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	entries, err := r.query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListActive returns the entries on an instance that still describe deployed
// state (finished, not FAILED, not rolled back), with items, oldest first.
func (r *HistoryRepository) ListActive(instanceID string) ([]models.HistoryEntry, error) {
	entries, err := r.query(`SELECT `+historyColumns+` FROM deployment_history
		WHERE instance_id = ? AND rolled_back = 0 AND status IN (?, ?)
		ORDER BY deployed_at, rowid`, instanceID, models.StatusSuccess, models.StatusPartialSuccess)
	if err != nil {
		return nil, err
	}
	return r.withItems(entries)
}

// LastActive returns the newest active entry of a pair, nil when there is none
func (r *HistoryRepository) LastActive(templateID, instanceID string) (*models.HistoryEntry, error) {
	e, err := scanHistory(r.db.QueryRow(`SELECT `+historyColumns+` FROM deployment_history
		WHERE template_id = ? AND instance_id = ? AND rolled_back = 0 AND status IN (?, ?)
		ORDER BY deployed_at DESC, rowid DESC LIMIT 1`,
		templateID, instanceID, models.StatusSuccess, models.StatusPartialSuccess))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.Items, err = r.items(e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *HistoryRepository) query(query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *HistoryRepository) withItems(entries []models.HistoryEntry) ([]models.HistoryEntry, error) {
	for i := range entries {
		items, err := r.items(entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Items = items
	}
	return entries, nil
}

// MarkRolledBack flags an entry as undeployed. It reports false when the entry
// does not exist or was already rolled back.
func (r *HistoryRepository) MarkRolledBack(id string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`UPDATE deployment_history SET rolled_back = 1, rolled_back_at = ?
		WHERE id = ? AND rolled_back = 0`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark rollback: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Delete removes an entry and its items; the instance is not touched
func (r *HistoryRepository) Delete(id string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM deployment_history WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete history entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveBackup stores the instance state captured before a deployment
func (r *HistoryRepository) SaveBackup(b *models.Backup) error {
	b.ID = uuid.New().String()
	b.CreatedAt = time.Now().UTC()
	if b.Items == nil {
		b.Items = []models.RemoteItem{}
	}

	snapshot, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	_, err = r.db.Exec("INSERT INTO deployment_backups (id, instance_id, snapshot, created_at) VALUES (?, ?, ?, ?)",
		b.ID, b.InstanceID, snapshot, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save backup: %w", err)
	}
	return nil
}

// GetBackup returns a backup by ID
func (r *HistoryRepository) GetBackup(id string) (*models.Backup, error) {
	b := &models.Backup{}
	var snapshot []byte
	err := r.db.QueryRow("SELECT id, instance_id, snapshot, created_at FROM deployment_backups WHERE id = ?", id).
		Scan(&b.ID, &b.InstanceID, &snapshot, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &b.Items); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return b, nil
}
