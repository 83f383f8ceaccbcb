package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationTemplates,
		migrationDeploymentMappings,
		migrationInstanceOverrides,
		migrationDeploymentBackups,
		migrationDeploymentHistory,
		migrationDeploymentHistoryItems,
		migrationRemoteItemRefs,
		migrationSchedulerRuns,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    service_type TEXT NOT NULL,
    formats JSON NOT NULL DEFAULT '[]',
    groups_json JSON NOT NULL DEFAULT '[]',
    quality_profile JSON NOT NULL DEFAULT '{}',
    source TEXT NOT NULL DEFAULT 'custom',
    source_commit TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_templates_source ON templates(source);
`

const migrationDeploymentMappings = `
CREATE TABLE IF NOT EXISTS deployment_mappings (
    template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
    instance_id TEXT NOT NULL,
    sync_strategy TEXT NOT NULL DEFAULT 'notify',
    auto_delete INTEGER NOT NULL DEFAULT 0,
    last_deployed_at TIMESTAMP,
    last_commit TEXT NOT NULL DEFAULT '',
    pending_commit TEXT NOT NULL DEFAULT '',
    auto_synced_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (template_id, instance_id)
);
CREATE INDEX IF NOT EXISTS idx_deployment_mappings_instance ON deployment_mappings(instance_id);
`

const migrationInstanceOverrides = `
CREATE TABLE IF NOT EXISTS instance_overrides (
    template_id TEXT NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
    instance_id TEXT NOT NULL,
    trash_id TEXT NOT NULL,
    score_override INTEGER,
    enabled INTEGER,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (template_id, instance_id, trash_id)
);
`

const migrationDeploymentBackups = `
CREATE TABLE IF NOT EXISTS deployment_backups (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    snapshot JSON NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationDeploymentHistory = `
CREATE TABLE IF NOT EXISTS deployment_history (
    id TEXT PRIMARY KEY,
    template_id TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    deployed_at TIMESTAMP NOT NULL,
    deployed_by TEXT NOT NULL DEFAULT '',
    trigger_type TEXT NOT NULL DEFAULT 'manual',
    template_commit TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    applied_cfs INTEGER NOT NULL DEFAULT 0,
    failed_cfs INTEGER NOT NULL DEFAULT 0,
    total_cfs INTEGER NOT NULL DEFAULT 0,
    backup_id TEXT REFERENCES deployment_backups(id) ON DELETE SET NULL,
    rolled_back INTEGER NOT NULL DEFAULT 0,
    rolled_back_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deployment_history_template ON deployment_history(template_id);
CREATE INDEX IF NOT EXISTS idx_deployment_history_instance ON deployment_history(instance_id);
CREATE INDEX IF NOT EXISTS idx_deployment_history_deployed_at ON deployment_history(deployed_at);
`

const migrationDeploymentHistoryItems = `
CREATE TABLE IF NOT EXISTS deployment_history_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    history_id TEXT NOT NULL REFERENCES deployment_history(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    trash_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    remote_id INTEGER NOT NULL DEFAULT 0,
    applied INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_deployment_history_items_history ON deployment_history_items(history_id);
`

const migrationRemoteItemRefs = `
CREATE TABLE IF NOT EXISTS remote_item_refs (
    instance_id TEXT NOT NULL,
    trash_id TEXT NOT NULL,
    remote_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (instance_id, trash_id)
);
`

const migrationSchedulerRuns = `
CREATE TABLE IF NOT EXISTS scheduler_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger_type TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    latest_commit TEXT NOT NULL DEFAULT '',
    result JSON NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started_at ON scheduler_runs(started_at);
`
