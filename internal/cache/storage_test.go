package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foxzi/arrsync/internal/models"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "cache", "cache.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorage_Catalog(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	got, err := s.Catalog(ctx, models.ServiceRadarr)
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if got != nil {
		t.Fatal("Catalog() should be nil before any refresh")
	}

	c := &models.Catalog{
		ServiceType: models.ServiceRadarr,
		Commit:      "abc123",
		Formats:     []models.FormatDefinition{{TrashID: "cf-a", Name: "A"}},
		Profiles:    []models.CatalogProfile{{TrashID: "qp-1", Name: "HD Bluray", Formats: []string{"cf-a"}}},
	}
	if err := s.SaveCatalog(ctx, c); err != nil {
		t.Fatalf("SaveCatalog() error = %v", err)
	}
	if c.RefreshedAt.IsZero() {
		t.Error("SaveCatalog() did not set RefreshedAt")
	}

	got, err = s.Catalog(ctx, models.ServiceRadarr)
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if got.Commit != "abc123" || got.Format("cf-a") == nil {
		t.Errorf("Catalog() = %+v", got)
	}
	if p := got.Profile("HD Bluray"); p == nil || p.TrashID != "qp-1" {
		t.Errorf("Profile() = %+v", p)
	}

	other, _ := s.Catalog(ctx, models.ServiceSonarr)
	if other != nil {
		t.Error("catalogs are per service type")
	}
}

func TestStorage_Snapshot(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	snap := &models.Snapshot{
		InstanceID: "radarr-1",
		Version:    "5.0.0",
		Items:      []models.RemoteItem{{RemoteID: 1, Name: "A", Score: 10}},
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	got, err := s.Snapshot(ctx, "radarr-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got == nil || len(got.Items) != 1 || got.Items[0].Score != 10 {
		t.Fatalf("Snapshot() = %+v", got)
	}

	if err := s.DeleteSnapshot(ctx, "radarr-1"); err != nil {
		t.Fatalf("DeleteSnapshot() error = %v", err)
	}
	got, _ = s.Snapshot(ctx, "radarr-1")
	if got != nil {
		t.Error("Snapshot() should be nil after delete")
	}
}
