package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/foxzi/arrsync/internal/db"
	"github.com/foxzi/arrsync/internal/models"
)

// setupTestDB creates a throwaway SQLite database with all migrations applied.
// A file is used instead of :memory: so every pooled connection sees the same schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d.DB
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// createTestTemplate stores a radarr template with two formats
func createTestTemplate(t *testing.T, sqlDB *sql.DB, name string) *models.Template {
	t.Helper()

	tmpl := &models.Template{
		Name:        name,
		ServiceType: models.ServiceRadarr,
		Formats: []models.FormatDefinition{
			{TrashID: "cf-a", Name: "Format A", Scores: map[string]int{"default": 100}},
			{TrashID: "cf-b", Name: "Format B", Score: intPtr(50)},
		},
		QualityProfile: models.QualityProfile{Name: "HD", ScoreSet: "sqp-1"},
	}
	if err := NewTemplateRepository(sqlDB).Create(tmpl); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return tmpl
}
