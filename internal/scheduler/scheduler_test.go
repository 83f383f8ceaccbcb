package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/arrsync/internal/cache"
	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/db"
	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/repository"
	"github.com/foxzi/arrsync/internal/upstream"
)

type fakeSource struct {
	latest    string
	latestErr error
	deltas    map[string]*upstream.Delta
	deltaErr  error
	catalogs  map[models.ServiceType]*models.Catalog
	block     chan struct{}
}

func (f *fakeSource) LatestCommit(ctx context.Context) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.latest, f.latestErr
}

func (f *fakeSource) Delta(_ context.Context, fromCommit string) (*upstream.Delta, error) {
	if f.deltaErr != nil {
		return nil, f.deltaErr
	}
	d, ok := f.deltas[fromCommit]
	if !ok {
		return nil, fmt.Errorf("unknown commit %s", fromCommit)
	}
	return d, nil
}

func (f *fakeSource) Catalog(_ context.Context, st models.ServiceType) (*models.Catalog, error) {
	c, ok := f.catalogs[st]
	if !ok {
		return nil, errors.New("catalog missing")
	}
	copied := *c
	return &copied, nil
}

type fakeEngine struct {
	mu        sync.Mutex
	templates *repository.TemplateRepository
	requests  []deploy.Request
	updates   int
	fail      map[string]error
	status    models.HistoryStatus
}

func (e *fakeEngine) Deploy(_ context.Context, req deploy.Request) (*models.HistoryEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if err := e.fail[req.InstanceID]; err != nil {
		return nil, err
	}
	status := e.status
	if status == "" {
		status = models.StatusSuccess
	}
	return &models.HistoryEntry{ID: "h-" + req.InstanceID, Status: status, TotalCFs: 2, FailedCFs: 1}, nil
}

func (e *fakeEngine) UpdateTemplate(t *models.Template) error {
	e.mu.Lock()
	e.updates++
	e.mu.Unlock()
	return e.templates.Update(t)
}

func (e *fakeEngine) deployed() []deploy.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]deploy.Request(nil), e.requests...)
}

type fixture struct {
	db       *sql.DB
	store    *cache.Storage
	source   *fakeSource
	engine   *fakeEngine
	sched    *Scheduler
	template *models.Template
	mappings *repository.MappingRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	d, err := db.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { d.Close() })

	store, err := cache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	templates := repository.NewTemplateRepository(d.DB)
	tmpl := &models.Template{
		Name:        "HD Bluray",
		ServiceType: models.ServiceRadarr,
		Formats: []models.FormatDefinition{
			{TrashID: "aaa", Name: "A Format", Scores: map[string]int{"default": 10}},
			{TrashID: "bbb", Name: "B Format", Scores: map[string]int{"default": 5}},
		},
		Source:       models.SourceUpstream,
		SourceCommit: "c1",
	}
	require.NoError(t, templates.Create(tmpl))
	require.NoError(t, templates.Create(&models.Template{Name: "Custom", ServiceType: models.ServiceRadarr}))

	mappings := repository.NewMappingRepository(d.DB)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for id, strategy := range map[string]models.SyncStrategy{
		"i1": models.StrategyAuto,
		"i2": models.StrategyNotify,
		"i3": models.StrategyManual,
	} {
		_, err := mappings.RecordDeployment(tmpl.ID, id, strategy, "", "c1", at)
		require.NoError(t, err)
	}

	source := &fakeSource{
		latest: "c2",
		deltas: map[string]*upstream.Delta{
			"c1": {From: "c1", To: "c2", Changes: []upstream.FormatChange{{
				ServiceType: models.ServiceRadarr,
				TrashID:     "aaa",
				Previous:    &models.FormatDefinition{TrashID: "aaa", Name: "A Format", Scores: map[string]int{"default": 10}},
				Format:      &models.FormatDefinition{TrashID: "aaa", Name: "A Format", Scores: map[string]int{"default": 15}},
			}}},
		},
		catalogs: map[models.ServiceType]*models.Catalog{
			models.ServiceRadarr: {ServiceType: models.ServiceRadarr, Commit: "c2"},
			models.ServiceSonarr: {ServiceType: models.ServiceSonarr, Commit: "c2"},
		},
	}
	engine := &fakeEngine{templates: templates, fail: map[string]error{}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := New(config.SchedulerConfig{Enabled: true, Interval: time.Hour, MaxParallel: 2}, d.DB, engine, source, store, logger)

	return &fixture{
		db:       d.DB,
		store:    store,
		source:   source,
		engine:   engine,
		sched:    sched,
		template: tmpl,
		mappings: mappings,
	}
}

func TestRun_PropagatesUpstreamChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.sched.Run(ctx, models.RunTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, "c2", res.LatestCommit)
	assert.Equal(t, 1, res.TemplatesChecked)
	assert.Equal(t, 1, res.TemplatesOutdated)
	assert.Equal(t, 1, res.TemplatesAutoSynced)
	assert.Equal(t, 1, res.TemplatesWithAutoStrategy)
	assert.Equal(t, 1, res.TemplatesWithNotifyStrategy)
	assert.Equal(t, 1, res.TemplatesNeedingAttention)
	assert.Equal(t, 2, res.CachesRefreshed)
	assert.Equal(t, 0, res.CachesFailed)
	assert.Empty(t, res.Errors)
	assert.NotZero(t, res.ID)

	// only the auto mapping is deployed
	reqs := f.engine.deployed()
	require.Len(t, reqs, 1)
	assert.Equal(t, "i1", reqs[0].InstanceID)
	assert.Equal(t, models.TriggerAutoSync, reqs[0].Trigger)
	assert.Equal(t, DeployedBy, reqs[0].DeployedBy)

	tmpl, err := repository.NewTemplateRepository(f.db).GetByID(f.template.ID)
	require.NoError(t, err)
	assert.Equal(t, "c2", tmpl.SourceCommit)
	assert.Equal(t, 15, tmpl.Format("aaa").Scores["default"])

	auto, err := f.mappings.Get(f.template.ID, "i1")
	require.NoError(t, err)
	require.NotNil(t, auto.AutoSyncedAt)
	assert.True(t, auto.RecentlyAutoSynced(time.Now(), 24*time.Hour))

	notify, err := f.mappings.Get(f.template.ID, "i2")
	require.NoError(t, err)
	assert.Equal(t, "c2", notify.PendingCommit)

	manual, err := f.mappings.Get(f.template.ID, "i3")
	require.NoError(t, err)
	assert.Empty(t, manual.PendingCommit)
	assert.Nil(t, manual.AutoSyncedAt)

	catalog, err := f.store.Catalog(ctx, models.ServiceSonarr)
	require.NoError(t, err)
	require.NotNil(t, catalog)
	assert.False(t, catalog.RefreshedAt.IsZero())

	// nothing left to do on the next run
	res, err = f.sched.Run(ctx, models.RunTriggerInterval)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TemplatesOutdated)
	assert.Len(t, f.engine.deployed(), 1)
}

func TestRun_UnaffectedTemplateOnlyStampsCommit(t *testing.T) {
	f := newFixture(t)
	f.source.deltas["c1"].Changes[0].TrashID = "zzz"

	res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TemplatesOutdated)
	assert.Equal(t, 0, res.TemplatesAutoSynced)
	assert.Equal(t, 0, res.TemplatesNeedingAttention)
	assert.Empty(t, f.engine.deployed())
	assert.Zero(t, f.engine.updates, "content untouched, only the commit is stamped")

	tmpl, err := repository.NewTemplateRepository(f.db).GetByID(f.template.ID)
	require.NoError(t, err)
	assert.Equal(t, "c2", tmpl.SourceCommit)
}

func TestRun_AutoSyncFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.fail["i1"] = deploy.ErrInstanceUnreachable

	res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TemplatesAutoSynced)
	assert.Equal(t, 1, res.TemplatesNeedingAttention)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "instance unreachable")

	auto, err := f.mappings.Get(f.template.ID, "i1")
	require.NoError(t, err)
	assert.Nil(t, auto.AutoSyncedAt)
}

func TestRun_PartialAutoSyncNeedsAttention(t *testing.T) {
	f := newFixture(t)
	f.engine.status = models.StatusPartialSuccess
	_, err := f.mappings.BulkSetStrategy(f.template.ID, models.StrategyAuto)
	require.NoError(t, err)

	res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TemplatesAutoSynced)
	assert.Equal(t, 1, res.TemplatesNeedingAttention)
	assert.Len(t, res.Errors, 3)
	assert.Len(t, f.engine.deployed(), 3)
}

func TestRun_UpstreamFailures(t *testing.T) {
	t.Run("latest commit", func(t *testing.T) {
		f := newFixture(t)
		f.source.latestErr = errors.New("network down")

		res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 0, res.TemplatesChecked)
		assert.Contains(t, res.Errors[0], "network down")
		assert.Equal(t, 2, res.CachesRefreshed)
	})

	t.Run("delta", func(t *testing.T) {
		f := newFixture(t)
		f.source.deltaErr = errors.New("object not found")

		res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, res.TemplatesOutdated)
		assert.Equal(t, 1, res.TemplatesNeedingAttention)
		assert.Contains(t, res.Errors, "template HD Bluray: upstream delta unavailable")
		assert.Empty(t, f.engine.deployed())
	})

	t.Run("catalog", func(t *testing.T) {
		f := newFixture(t)
		delete(f.source.catalogs, models.ServiceSonarr)

		res, err := f.sched.Run(context.Background(), models.RunTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, res.CachesRefreshed)
		assert.Equal(t, 1, res.CachesFailed)
		assert.Contains(t, res.Errors, "catalog sonarr: catalog missing")
	})
}

func TestRun_CanceledBeforeDeploys(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.sched.Run(ctx, models.RunTriggerManual)
	require.NoError(t, err)
	assert.Empty(t, f.engine.deployed())
	assert.Equal(t, 1, res.TemplatesNeedingAttention)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.source.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.sched.Run(context.Background(), models.RunTriggerManual)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.sched.Status().Running }, 2*time.Second, 10*time.Millisecond)

	_, err := f.sched.Run(context.Background(), models.RunTriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.source.block)
	require.NoError(t, <-done)
	assert.False(t, f.sched.Status().Running)
}

func TestTriggerCoalesces(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.sched.Trigger())
	assert.False(t, f.sched.Trigger())
}

func TestStartTriggerStop(t *testing.T) {
	f := newFixture(t)

	st := f.sched.Status()
	assert.True(t, st.Enabled)
	assert.Nil(t, st.LastRun)

	f.sched.Start()
	require.True(t, f.sched.Trigger())
	require.Eventually(t, func() bool { return f.sched.Status().LastRun != nil }, 5*time.Second, 10*time.Millisecond)
	f.sched.Stop()

	st = f.sched.Status()
	assert.Equal(t, models.RunTriggerManual, st.LastRun.Trigger)
	require.NotNil(t, st.LastRunAt)
	require.NotNil(t, st.NextRunAt)
	assert.Equal(t, time.Hour, st.Interval)
}

func TestNewLoadsLastRun(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.Run(context.Background(), models.RunTriggerManual)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	again := New(config.SchedulerConfig{}, f.db, f.engine, f.source, f.store, logger)

	st := again.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "c2", st.LastRun.LatestCommit)
	assert.Equal(t, 12*time.Hour, st.Interval)
}
