package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/arrsync/internal/models"
)

// RefRepository remembers which remote id a trash id was deployed as, so a
// renamed format on the instance is still recognised.
type RefRepository struct {
	db *sql.DB
}

func NewRefRepository(db *sql.DB) *RefRepository {
	return &RefRepository{db: db}
}

// Map returns trash id -> remote id for an instance
func (r *RefRepository) Map(instanceID string) (map[string]int, error) {
	rows, err := r.db.Query("SELECT trash_id, remote_id FROM remote_item_refs WHERE instance_id = ?", instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]int)
	for rows.Next() {
		var trashID string
		var remoteID int
		if err := rows.Scan(&trashID, &remoteID); err != nil {
			return nil, err
		}
		refs[trashID] = remoteID
	}
	return refs, rows.Err()
}

// Upsert records the remote id of a deployed format
func (r *RefRepository) Upsert(ref models.RemoteRef) error {
	if ref.UpdatedAt.IsZero() {
		ref.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(`
		INSERT INTO remote_item_refs (instance_id, trash_id, remote_id, name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, trash_id) DO UPDATE SET
			remote_id = excluded.remote_id,
			name = excluded.name,
			updated_at = excluded.updated_at`,
		ref.InstanceID, ref.TrashID, ref.RemoteID, ref.Name, ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save remote ref: %w", err)
	}
	return nil
}

// Delete forgets the ref of a format removed from the instance
func (r *RefRepository) Delete(instanceID, trashID string) error {
	_, err := r.db.Exec("DELETE FROM remote_item_refs WHERE instance_id = ? AND trash_id = ?", instanceID, trashID)
	if err != nil {
		return fmt.Errorf("failed to delete remote ref: %w", err)
	}
	return nil
}
