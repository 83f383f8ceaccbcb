// Package scheduler periodically pulls upstream changes into upstream-derived
// templates and propagates them along each mapping's sync strategy.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/arrsync/internal/cache"
	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/metrics"
	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/repository"
	"github.com/foxzi/arrsync/internal/upstream"
)

// DeployedBy is the identity recorded on deployments the scheduler makes
const DeployedBy = "scheduler"

// ErrRunInProgress is returned when a run is requested while one is active
var ErrRunInProgress = errors.New("scheduler run already in progress")

// Engine is the part of the deployment engine the scheduler drives
type Engine interface {
	Deploy(ctx context.Context, req deploy.Request) (*models.HistoryEntry, error)
	UpdateTemplate(t *models.Template) error
}

// Scheduler runs update checks on an interval and on demand
type Scheduler struct {
	cfg    config.SchedulerConfig
	logger *slog.Logger
	engine Engine
	source upstream.Source
	cache  *cache.Storage

	templates *repository.TemplateRepository
	mappings  *repository.MappingRepository
	runs      *repository.RunRepository

	trigger chan struct{}

	mu        sync.Mutex
	running   bool
	lastRun   *models.RunResult
	nextRunAt *time.Time

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. store may be nil, catalogs are then not refreshed.
func New(cfg config.SchedulerConfig, db *sql.DB, engine Engine, source upstream.Source, store *cache.Storage, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Hour
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		engine:    engine,
		source:    source,
		cache:     store,
		templates: repository.NewTemplateRepository(db),
		mappings:  repository.NewMappingRepository(db),
		runs:      repository.NewRunRepository(db),
		trigger:   make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
	}

	if last, err := s.runs.Latest(); err != nil {
		s.logger.Warn("failed to load last scheduler run", "error", err)
	} else {
		s.lastRun = last
	}
	return s
}

// Start starts the background loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "max_parallel", s.cfg.MaxParallel)
}

// Stop cancels a run in progress between instance tasks and waits for the loop
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger requests a run from the background loop. Requests made while one
// is already queued are coalesced; it reports whether a new one was queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status reports the scheduler state and the last run
func (s *Scheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.SchedulerStatus{
		Enabled:   s.cfg.Enabled,
		Running:   s.running,
		Interval:  s.cfg.Interval,
		NextRunAt: s.nextRunAt,
	}
	if s.lastRun != nil {
		run := *s.lastRun
		st.LastRun = &run
		finished := run.FinishedAt
		st.LastRunAt = &finished
	}
	return st
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.scheduleNext()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scheduleNext()
			s.runLogged(models.RunTriggerInterval)
		case <-s.trigger:
			s.runLogged(models.RunTriggerManual)
		}
	}
}

func (s *Scheduler) scheduleNext() {
	next := s.now().Add(s.cfg.Interval)
	s.mu.Lock()
	s.nextRunAt = &next
	s.mu.Unlock()
}

func (s *Scheduler) runLogged(trigger string) {
	if _, err := s.Run(s.ctx, trigger); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.logger.Error("scheduler run failed", "error", err)
	}
}

// Run executes one update check. A run that partially fails still completes;
// failures are listed in the result. Only a concurrent run is an error.
func (s *Scheduler) Run(ctx context.Context, trigger string) (*models.RunResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	result := &models.RunResult{
		Trigger:   trigger,
		StartedAt: s.now(),
		Errors:    []string{},
	}
	logger := s.logger.With("trigger", trigger)
	logger.Info("scheduler run started")

	s.syncTemplates(ctx, result)
	s.refreshCatalogs(ctx, result)

	result.FinishedAt = s.now()
	if err := s.runs.Save(result); err != nil {
		logger.Error("failed to save scheduler run", "error", err)
	}

	s.mu.Lock()
	s.lastRun = result
	s.mu.Unlock()

	metrics.ObserveSchedulerRun(trigger, time.Since(start).Seconds(), float64(result.FinishedAt.Unix()),
		result.TemplatesOutdated, result.TemplatesNeedingAttention)

	logger.Info("scheduler run finished",
		"latest_commit", result.LatestCommit,
		"checked", result.TemplatesChecked,
		"outdated", result.TemplatesOutdated,
		"auto_synced", result.TemplatesAutoSynced,
		"needing_attention", result.TemplatesNeedingAttention,
		"errors", len(result.Errors),
		"caches_refreshed", result.CachesRefreshed,
		"caches_failed", result.CachesFailed,
	)
	return result, nil
}

// templateOutcome is the per-template result of the update phase
type templateOutcome struct {
	outdated  bool
	hasAuto   bool
	hasNotify bool
	pending   bool
	failed    bool
	autoSync  []models.DeploymentMapping
	errors    []string
}

// deployOutcome is the per-mapping result of the auto-sync phase
type deployOutcome struct {
	templateIndex int
	ok            bool
	err           string
}

func (s *Scheduler) syncTemplates(ctx context.Context, result *models.RunResult) {
	latest, err := s.source.LatestCommit(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("upstream: %v", err))
		return
	}
	result.LatestCommit = latest

	templates, err := s.templates.ListUpstream()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to list templates: %v", err))
		return
	}
	result.TemplatesChecked = len(templates)

	deltas := s.fetchDeltas(ctx, templates, latest)

	outcomes := make([]templateOutcome, len(templates))
	var updates errgroup.Group
	updates.SetLimit(s.cfg.MaxParallel)
	for i := range templates {
		updates.Go(func() error {
			outcomes[i] = s.updateTemplate(&templates[i], latest, deltas)
			return nil
		})
	}
	updates.Wait()

	type task struct {
		templateIndex int
		mapping       models.DeploymentMapping
	}
	var tasks []task
	for i, o := range outcomes {
		for _, m := range o.autoSync {
			tasks = append(tasks, task{i, m})
		}
	}

	deployed := make([]deployOutcome, len(tasks))
	var deploys errgroup.Group
	deploys.SetLimit(s.cfg.MaxParallel)
	for i, tk := range tasks {
		deploys.Go(func() error {
			deployed[i] = s.autoSync(ctx, tk.templateIndex, &templates[tk.templateIndex], tk.mapping)
			return nil
		})
	}
	deploys.Wait()

	synced := make([]bool, len(templates))
	for _, d := range deployed {
		if d.ok {
			synced[d.templateIndex] = true
		}
		if d.err != "" {
			outcomes[d.templateIndex].failed = true
			outcomes[d.templateIndex].errors = append(outcomes[d.templateIndex].errors, d.err)
		}
	}

	for i, o := range outcomes {
		if o.outdated {
			result.TemplatesOutdated++
		}
		if o.hasAuto {
			result.TemplatesWithAutoStrategy++
		}
		if o.hasNotify {
			result.TemplatesWithNotifyStrategy++
		}
		if synced[i] {
			result.TemplatesAutoSynced++
		}
		if o.pending || o.failed {
			result.TemplatesNeedingAttention++
		}
		result.Errors = append(result.Errors, o.errors...)
	}
}

// fetchDeltas loads one delta per distinct source commit of the outdated templates
func (s *Scheduler) fetchDeltas(ctx context.Context, templates []models.Template, latest string) map[string]*upstream.Delta {
	deltas := make(map[string]*upstream.Delta)
	for _, t := range templates {
		if t.SourceCommit == latest {
			continue
		}
		if _, ok := deltas[t.SourceCommit]; ok {
			continue
		}
		d, err := s.source.Delta(ctx, t.SourceCommit)
		if err != nil {
			s.logger.Warn("failed to fetch upstream delta", "from", t.SourceCommit, "error", err)
			d = nil
		}
		deltas[t.SourceCommit] = d
	}
	return deltas
}

// updateTemplate brings one template to the latest commit and sorts its
// mappings by strategy. Manual mappings are left alone.
func (s *Scheduler) updateTemplate(t *models.Template, latest string, deltas map[string]*upstream.Delta) templateOutcome {
	var o templateOutcome
	if t.SourceCommit == latest {
		return o
	}
	o.outdated = true
	logger := s.logger.With("template_id", t.ID, "from", t.SourceCommit, "to", latest)

	delta := deltas[t.SourceCommit]
	if delta == nil {
		o.failed = true
		o.errors = append(o.errors, fmt.Sprintf("template %s: upstream delta unavailable", t.Name))
		return o
	}

	mappings, err := s.mappings.ListByTemplate(t.ID)
	if err != nil {
		o.failed = true
		o.errors = append(o.errors, fmt.Sprintf("template %s: failed to list mappings: %v", t.Name, err))
		return o
	}

	// content changes go through the engine; a bare commit stamp must not
	// disturb open review sessions of the template
	affected := delta.Apply(t)
	t.SourceCommit = latest
	if affected {
		err = s.engine.UpdateTemplate(t)
	} else {
		err = s.templates.SetSourceCommit(t.ID, latest)
	}
	if err != nil {
		o.failed = true
		o.errors = append(o.errors, fmt.Sprintf("template %s: failed to update: %v", t.Name, err))
		return o
	}
	logger.Info("template updated from upstream", "affected", affected, "mappings", len(mappings))

	for _, m := range mappings {
		switch m.SyncStrategy {
		case models.StrategyAuto:
			o.hasAuto = true
			if affected {
				o.autoSync = append(o.autoSync, m)
			}
		case models.StrategyNotify:
			o.hasNotify = true
			if !affected {
				continue
			}
			if err := s.mappings.MarkPending(t.ID, m.InstanceID, latest); err != nil {
				o.errors = append(o.errors, fmt.Sprintf("template %s: failed to flag %s: %v", t.Name, m.InstanceID, err))
				continue
			}
			o.pending = true
		}
	}
	return o
}

// autoSync redeploys a template to one auto mapping
func (s *Scheduler) autoSync(ctx context.Context, idx int, t *models.Template, m models.DeploymentMapping) deployOutcome {
	out := deployOutcome{templateIndex: idx}
	if ctx.Err() != nil {
		out.err = fmt.Sprintf("template %s on %s: run canceled", t.Name, m.InstanceID)
		return out
	}

	entry, err := s.engine.Deploy(ctx, deploy.Request{
		TemplateID: t.ID,
		InstanceID: m.InstanceID,
		DeployedBy: DeployedBy,
		Trigger:    models.TriggerAutoSync,
	})
	if err != nil {
		out.err = fmt.Sprintf("template %s on %s: %v", t.Name, m.InstanceID, err)
		return out
	}
	if entry.Status == models.StatusFailed {
		out.err = fmt.Sprintf("template %s on %s: deployment failed", t.Name, m.InstanceID)
		return out
	}

	if err := s.mappings.MarkAutoSynced(t.ID, m.InstanceID, s.now()); err != nil {
		s.logger.Warn("failed to stamp auto sync", "template_id", t.ID, "instance_id", m.InstanceID, "error", err)
	}
	out.ok = true
	// partial deployments still want a human look
	if entry.Status == models.StatusPartialSuccess {
		out.err = fmt.Sprintf("template %s on %s: %d of %d formats failed", t.Name, m.InstanceID, entry.FailedCFs, entry.TotalCFs)
	}
	return out
}

// refreshCatalogs stores fresh upstream catalogs for every service type
func (s *Scheduler) refreshCatalogs(ctx context.Context, result *models.RunResult) {
	if s.cache == nil {
		return
	}
	for _, st := range []models.ServiceType{models.ServiceRadarr, models.ServiceSonarr} {
		err := s.refreshCatalog(ctx, st)
		metrics.IncCacheRefresh(err == nil)
		if err != nil {
			result.CachesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("catalog %s: %v", st, err))
			continue
		}
		result.CachesRefreshed++
	}
}

func (s *Scheduler) refreshCatalog(ctx context.Context, st models.ServiceType) error {
	c, err := s.source.Catalog(ctx, st)
	if err != nil {
		return err
	}
	c.RefreshedAt = s.now()
	return s.cache.SaveCatalog(ctx, c)
}

// Runs returns up to limit persisted runs, newest first
func (s *Scheduler) Runs(limit int) ([]models.RunResult, error) {
	return s.runs.List(limit)
}
