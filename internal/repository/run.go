package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/foxzi/arrsync/internal/models"
)

// RunRepository persists scheduler run results
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save stores a finished run and sets its ID
func (r *RunRepository) Save(run *models.RunResult) error {
	if run.Errors == nil {
		run.Errors = []string{}
	}
	result, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	res, err := r.db.Exec(`
		INSERT INTO scheduler_runs (trigger_type, started_at, finished_at, latest_commit, result)
		VALUES (?, ?, ?, ?, ?)`,
		run.Trigger, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.LatestCommit, result,
	)
	if err != nil {
		return fmt.Errorf("failed to save scheduler run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// Latest returns the most recent run, nil when the scheduler never ran
func (r *RunRepository) Latest() (*models.RunResult, error) {
	runs, err := r.List(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// List returns up to limit runs, newest first
func (r *RunRepository) List(limit int) ([]models.RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query("SELECT id, result FROM scheduler_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.RunResult{}
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var run models.RunResult
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, fmt.Errorf("failed to decode scheduler run %d: %w", id, err)
		}
		run.ID = id
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
