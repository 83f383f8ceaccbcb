// Package deploy computes, executes and reverts template deployments on
// Radarr and Sonarr instances.
package deploy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/arrsync/internal/cache"
	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/diff"
	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/repository"
	"github.com/foxzi/arrsync/internal/resolution"
)

// InstanceAPI is the remote side of a deployment, implemented by instance.Manager
type InstanceAPI interface {
	Instances() []config.InstanceConfig
	Instance(id string) (*config.InstanceConfig, bool)
	Status(ctx context.Context, id string) (*models.InstanceStatus, error)
	AllStatus(ctx context.Context) []models.InstanceStatus
	ListItems(ctx context.Context, id, profileName string) ([]models.RemoteItem, error)
	CreateItem(ctx context.Context, id, profileName string, item models.RemoteItem) (int, error)
	UpdateItem(ctx context.Context, id, profileName string, item models.RemoteItem) error
	DeleteItem(ctx context.Context, id string, remoteID int) error
}

// Recorder receives deployment metrics, implemented by metrics.Collector
type Recorder interface {
	TrackDeployment(status, trigger string, duration time.Duration)
	TrackDeployItem(action, result string)
	TrackUndeploy(result string)
}

type nopRecorder struct{}

func (nopRecorder) TrackDeployment(string, string, time.Duration) {}
func (nopRecorder) TrackDeployItem(string, string)                {}
func (nopRecorder) TrackUndeploy(string)                          {}

// Service is the deployment engine
type Service struct {
	cfg       config.DeployConfig
	logger    *slog.Logger
	instances InstanceAPI
	cache     *cache.Storage
	sessions  *resolution.Store
	recorder  Recorder

	templates *repository.TemplateRepository
	overrides *repository.OverrideRepository
	mappings  *repository.MappingRepository
	history   *repository.HistoryRepository
	refs      *repository.RefRepository

	now func() time.Time
}

// New creates the engine. store may be nil, previews of unreachable
// instances then carry no items.
func New(cfg config.DeployConfig, db *sql.DB, instances InstanceAPI, store *cache.Storage, logger *slog.Logger) *Service {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	return &Service{
		cfg:       cfg,
		logger:    logger.With("component", "deploy"),
		instances: instances,
		cache:     store,
		sessions:  resolution.NewStore(),
		recorder:  nopRecorder{},
		templates: repository.NewTemplateRepository(db),
		overrides: repository.NewOverrideRepository(db),
		mappings:  repository.NewMappingRepository(db),
		history:   repository.NewHistoryRepository(db),
		refs:      repository.NewRefRepository(db),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder routes deployment metrics to r
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// Templates exposes the template store to the scheduler
func (s *Service) Templates() *repository.TemplateRepository {
	return s.templates
}

// Mappings exposes the mapping registry to the scheduler
func (s *Service) Mappings() *repository.MappingRepository {
	return s.mappings
}

// target loads and checks the (template, instance) pair of an operation
func (s *Service) target(templateID, instanceID string) (*models.Template, *config.InstanceConfig, error) {
	tmpl, err := s.templates.GetByID(templateID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	inst, ok := s.instances.Instance(instanceID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if inst.ServiceType != tmpl.ServiceType {
		return nil, nil, fmt.Errorf("%w: template is %s, instance is %s", ErrServiceMismatch, tmpl.ServiceType, inst.ServiceType)
	}
	return tmpl, inst, nil
}

// observation is what the engine knows about an instance's current items
type observation struct {
	reachable bool
	fromCache bool
	err       string
	version   string
	items     []models.RemoteItem
}

// observe reads the instance items for a template. An unreachable instance
// falls back to the cached snapshot when useCache is set.
func (s *Service) observe(ctx context.Context, tmpl *models.Template, inst *config.InstanceConfig, useCache bool) (*observation, error) {
	obs := &observation{}

	status, err := s.instances.Status(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	obs.version = status.Version
	if status.Reachable {
		items, err := s.instances.ListItems(ctx, inst.ID, tmpl.QualityProfile.Name)
		if err != nil {
			obs.err = err.Error()
		} else {
			obs.reachable = true
			obs.items = items
			s.saveSnapshot(ctx, inst.ID, status.Version, items)
		}
	} else {
		obs.err = status.Error
	}

	if !obs.reachable && useCache && s.cache != nil {
		snap, err := s.cache.Snapshot(ctx, inst.ID)
		if err != nil {
			s.logger.Warn("failed to read instance snapshot", "instance_id", inst.ID, "error", err)
		} else if snap != nil {
			obs.items = snap.Items
			obs.fromCache = true
		}
	}

	refs, err := s.refs.Map(inst.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote refs: %w", err)
	}
	obs.items = diff.Match(obs.items, tmpl.Formats, refs)
	return obs, nil
}

func (s *Service) saveSnapshot(ctx context.Context, instanceID, version string, items []models.RemoteItem) {
	if s.cache == nil {
		return
	}
	snap := &models.Snapshot{
		InstanceID: instanceID,
		Version:    version,
		Items:      items,
		CapturedAt: s.now(),
	}
	if err := s.cache.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("failed to save instance snapshot", "instance_id", instanceID, "error", err)
	}
}

// diffInput gathers the local state the diff engine needs for a pair
func (s *Service) diffInput(tmpl *models.Template, instanceID string, obs *observation) (diff.Input, error) {
	in := diff.Input{
		Template:  tmpl,
		Items:     obs.items,
		Reachable: obs.reachable,
		FromCache: obs.fromCache,
	}

	overrides, err := s.overrides.Get(tmpl.ID, instanceID)
	if err != nil {
		return in, fmt.Errorf("failed to load overrides: %w", err)
	}
	in.Overrides = overrides

	mapping, err := s.mappings.Get(tmpl.ID, instanceID)
	if err != nil {
		return in, fmt.Errorf("failed to load mapping: %w", err)
	}
	in.Mapping = mapping

	if mapping != nil {
		last, err := s.history.LastActive(tmpl.ID, instanceID)
		if err != nil {
			return in, fmt.Errorf("failed to load last deployment: %w", err)
		}
		if last != nil {
			in.Tracked = make(map[string]bool)
			for _, it := range last.AppliedItems() {
				if it.Action != models.ActionDelete {
					in.Tracked[it.TrashID] = true
				}
			}
		}
	}
	return in, nil
}

// Preview computes the plan for deploying a template to an instance. Conflicts
// of the plan are merged into the review session without touching prior choices.
func (s *Service) Preview(ctx context.Context, templateID, instanceID string) (*models.Plan, error) {
	tmpl, inst, err := s.target(templateID, instanceID)
	if err != nil {
		return nil, err
	}

	obs, err := s.observe(ctx, tmpl, inst, true)
	if err != nil {
		return nil, err
	}

	in, err := s.diffInput(tmpl, inst.ID, obs)
	if err != nil {
		return nil, err
	}
	in.Resolutions = s.sessions.Chosen(tmpl.ID, inst.ID)

	plan := diff.Compute(in)
	plan.InstanceID = inst.ID
	plan.InstanceName = inst.Name
	plan.Error = obs.err

	s.sessions.Merge(tmpl.ID, inst.ID, plan.ConflictingTrashIDs())
	return plan, nil
}

// Resolutions returns the review session of a pair
func (s *Service) Resolutions(templateID, instanceID string) resolution.Resolutions {
	if r := s.sessions.Get(templateID, instanceID); r != nil {
		return r
	}
	return resolution.Resolutions{}
}

// SetResolution records the user's choice for one conflicting format
func (s *Service) SetResolution(templateID, instanceID, trashID string, r models.Resolution) error {
	if !r.Valid() {
		return fmt.Errorf("%w: resolution %q", ErrInvalidRequest, r)
	}
	if _, _, err := s.target(templateID, instanceID); err != nil {
		return err
	}
	s.sessions.Set(templateID, instanceID, trashID, r)
	return nil
}

// ResetResolutions closes the review session of a pair
func (s *Service) ResetResolutions(templateID, instanceID string) {
	s.sessions.Reset(templateID, instanceID)
}

// InstanceStatuses probes every configured instance
func (s *Service) InstanceStatuses(ctx context.Context) []models.InstanceStatus {
	return s.instances.AllStatus(ctx)
}
