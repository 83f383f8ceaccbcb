package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/arrsync/internal/models"
)

type fakeProber struct {
	statuses []models.InstanceStatus
}

func (f *fakeProber) AllStatus(ctx context.Context) []models.InstanceStatus {
	return f.statuses
}

func openTestBolt(t *testing.T, path string) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

func TestNewCollector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := openTestBolt(t, path)
	defer db.Close()

	c, err := NewCollector(db, New(), nil, path, 10*time.Second)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if c.flushInterval != 10*time.Second {
		t.Errorf("flushInterval = %v, want 10s", c.flushInterval)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestCollectorPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := openTestBolt(t, path)

	c, err := NewCollector(db, New(), nil, path, 0)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.TrackDeployment("SUCCESS", "manual", 2*time.Second)
	c.TrackDeployment("SUCCESS", "manual", time.Second)
	c.TrackDeployment("FAILED", "auto_sync", time.Second)
	c.TrackDeployItem("create", "applied")
	c.TrackUndeploy("ok")
	c.TrackAPIRequest("GET", "/api/v1/templates/{id}", "200")
	c.TrackAPIError("not_found")

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	db.Close()

	// counters come back after a restart
	db = openTestBolt(t, path)
	defer db.Close()

	m := New()
	c2, err := NewCollector(db, m, nil, path, 0)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"deployments success", counterValue(t, m.DeploymentsTotal.WithLabelValues("SUCCESS", "manual")), 2},
		{"deployments failed", counterValue(t, m.DeploymentsTotal.WithLabelValues("FAILED", "auto_sync")), 1},
		{"items", counterValue(t, m.DeployItemsTotal.WithLabelValues("create", "applied")), 1},
		{"undeploys", counterValue(t, m.UndeploysTotal.WithLabelValues("ok")), 1},
		{"api requests", counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/templates/{id}", "200")), 1},
		{"api errors", counterValue(t, m.APIErrorsTotal.WithLabelValues("not_found")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if err := c2.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestCollectorSystemAndInstanceMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := openTestBolt(t, path)
	defer db.Close()

	m := New()
	prober := &fakeProber{statuses: []models.InstanceStatus{
		{ID: "radarr-main", Reachable: true},
		{ID: "sonarr-4k", Reachable: false},
	}}
	c, err := NewCollector(db, m, prober, path, 0)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c.Stop()

	c.collectSystemMetrics()
	c.collectInstanceMetrics(context.Background())

	if got := gaugeValue(t, m.Goroutines); got <= 0 {
		t.Errorf("goroutines = %v, want > 0", got)
	}
	if got := gaugeValue(t, m.StorageUsedBytes); got <= 0 {
		t.Errorf("storage bytes = %v, want > 0", got)
	}
	if got := gaugeValue(t, m.InstanceReachable.WithLabelValues("radarr-main")); got != 1 {
		t.Errorf("radarr-main reachable = %v, want 1", got)
	}
	if got := gaugeValue(t, m.InstanceReachable.WithLabelValues("sonarr-4k")); got != 0 {
		t.Errorf("sonarr-4k reachable = %v, want 0", got)
	}
}

func TestSplitLabels(t *testing.T) {
	tests := []struct {
		key   string
		arity int
		want  []string
	}{
		{"create|failed", 2, []string{"create", "failed"}},
		{"GET|/api/v1/history/{id}|404", 3, []string{"GET", "/api/v1/history/{id}", "404"}},
		{"GET", 3, []string{"GET", "", ""}},
		{"ok", 1, []string{"ok"}},
	}

	for _, tt := range tests {
		got := splitLabels(tt.key, tt.arity)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") || len(got) != tt.arity {
			t.Errorf("splitLabels(%q, %d) = %q, want %q", tt.key, tt.arity, got, tt.want)
		}
	}
}

func TestCollectorStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db := openTestBolt(t, path)
	defer db.Close()

	m := New()
	prober := &fakeProber{statuses: []models.InstanceStatus{{ID: "radarr-main", Reachable: true}}}
	c, err := NewCollector(db, m, prober, path, time.Hour)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.Start(context.Background())
	c.TrackUndeploy("ok")
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// the first probe and system sample run immediately on Start
	if got := gaugeValue(t, m.InstanceReachable.WithLabelValues("radarr-main")); got != 1 {
		t.Errorf("radarr-main reachable = %v, want 1", got)
	}
	if got := gaugeValue(t, m.Goroutines); got <= 0 {
		t.Errorf("goroutines = %v, want > 0", got)
	}
}
