package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/repository"
)

// validateTemplate checks the fields a stored template must carry
func validateTemplate(t *models.Template) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}
	if !t.ServiceType.Valid() {
		return fmt.Errorf("%w: service type %q", ErrInvalidRequest, t.ServiceType)
	}
	switch t.Source {
	case "", models.SourceCustom, models.SourceUpstream:
	default:
		return fmt.Errorf("%w: source %q", ErrInvalidRequest, t.Source)
	}

	seen := make(map[string]bool, len(t.Formats))
	for _, f := range t.Formats {
		if f.TrashID == "" {
			return fmt.Errorf("%w: format %q has no trash id", ErrInvalidRequest, f.Name)
		}
		if seen[f.TrashID] {
			return fmt.Errorf("%w: duplicate format %s", ErrInvalidRequest, f.TrashID)
		}
		seen[f.TrashID] = true
	}
	for _, g := range t.Groups {
		for _, id := range g.TrashIDs {
			if !seen[id] {
				return fmt.Errorf("%w: group %q references unknown format %s", ErrInvalidRequest, g.Name, id)
			}
		}
	}
	return nil
}

// ListTemplates returns templates matching the filter and the total count
func (s *Service) ListTemplates(filter models.TemplateListFilter) ([]models.Template, int, error) {
	return s.templates.List(filter)
}

// GetTemplate returns a template or ErrTemplateNotFound
func (s *Service) GetTemplate(id string) (*models.Template, error) {
	t, err := s.templates.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// CreateTemplate stores a new template with a unique name
func (s *Service) CreateTemplate(t *models.Template) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	existing, err := s.templates.GetByName(t.Name)
	if err != nil {
		return fmt.Errorf("failed to check template name: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrTemplateExists, t.Name)
	}
	if err := s.templates.Create(t); err != nil {
		return err
	}
	s.logger.Info("template created", "template_id", t.ID, "name", t.Name, "source", t.Source)
	return nil
}

// UpdateTemplate replaces a template's content. The service type cannot
// change while the template is deployed somewhere. Open review sessions of
// the template are dropped since their plans no longer apply.
func (s *Service) UpdateTemplate(t *models.Template) error {
	current, err := s.GetTemplate(t.ID)
	if err != nil {
		return err
	}
	if t.Source == "" {
		t.Source = current.Source
	}
	if err := validateTemplate(t); err != nil {
		return err
	}
	if t.Name != current.Name {
		other, err := s.templates.GetByName(t.Name)
		if err != nil {
			return fmt.Errorf("failed to check template name: %w", err)
		}
		if other != nil && other.ID != t.ID {
			return fmt.Errorf("%w: %s", ErrTemplateExists, t.Name)
		}
	}
	if t.ServiceType != current.ServiceType {
		mappings, err := s.mappings.ListByTemplate(t.ID)
		if err != nil {
			return fmt.Errorf("failed to load mappings: %w", err)
		}
		if len(mappings) > 0 {
			return fmt.Errorf("%w: template is deployed to %d instances", ErrServiceMismatch, len(mappings))
		}
	}

	t.CreatedAt = current.CreatedAt
	if err := s.templates.Update(t); err != nil {
		return err
	}
	s.sessions.ResetTemplate(t.ID)
	s.logger.Info("template updated", "template_id", t.ID, "formats", len(t.Formats))
	return nil
}

// DeleteTemplate removes a template with its overrides and mappings; history is kept
func (s *Service) DeleteTemplate(id string) error {
	deleted, err := s.templates.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	s.sessions.ResetTemplate(id)
	s.logger.Info("template deleted", "template_id", id)
	return nil
}

// UpdateFormatScore sets the template-level score of one format
func (s *Service) UpdateFormatScore(templateID, trashID string, value int) error {
	t, err := s.GetTemplate(templateID)
	if err != nil {
		return err
	}
	if !t.HasFormat(trashID) {
		return fmt.Errorf("%w: format %s not in template", ErrInvalidRequest, trashID)
	}
	return s.templates.UpdateFormatScore(templateID, trashID, value)
}

// Catalog returns the cached upstream catalog of a service type
func (s *Service) Catalog(ctx context.Context, serviceType models.ServiceType) (*models.Catalog, error) {
	if !serviceType.Valid() {
		return nil, fmt.Errorf("%w: service type %q", ErrInvalidRequest, serviceType)
	}
	if s.cache == nil {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, serviceType)
	}
	c, err := s.cache.Catalog(ctx, serviceType)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, serviceType)
	}
	return c, nil
}

// ImportTemplate creates an upstream template from a quality profile of the
// cached catalog. profileKey matches the profile trash id or name; an empty
// name takes the profile's name.
func (s *Service) ImportTemplate(ctx context.Context, serviceType models.ServiceType, profileKey, name string) (*models.Template, error) {
	c, err := s.Catalog(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	p := c.Profile(profileKey)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileKey)
	}

	t := &models.Template{
		Name:        name,
		Description: fmt.Sprintf("Imported from upstream %s profile %s", serviceType, p.Name),
		ServiceType: serviceType,
		QualityProfile: models.QualityProfile{
			Name:     p.Name,
			Language: p.Language,
			Cutoff:   p.Cutoff,
			ScoreSet: p.ScoreSet,
		},
		Source:       models.SourceUpstream,
		SourceCommit: c.Commit,
	}
	if t.Name == "" {
		t.Name = p.Name
	}
	for _, id := range p.Formats {
		f := c.Format(id)
		if f == nil {
			s.logger.Warn("profile references format missing from catalog", "profile", p.Name, "trash_id", id)
			continue
		}
		t.Formats = append(t.Formats, *f)
	}

	if err := s.CreateTemplate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Overrides lists the stored overrides of a pair
func (s *Service) Overrides(templateID, instanceID string) ([]models.InstanceOverride, error) {
	if _, _, err := s.target(templateID, instanceID); err != nil {
		return nil, err
	}
	return s.overrides.List(templateID, instanceID)
}

// SetOverride applies a partial override update for one format of the template
func (s *Service) SetOverride(templateID, instanceID string, upd models.OverrideUpdate) (*models.InstanceOverride, error) {
	tmpl, _, err := s.target(templateID, instanceID)
	if err != nil {
		return nil, err
	}
	if !tmpl.HasFormat(upd.TrashID) {
		return nil, fmt.Errorf("%w: format %s not in template", ErrInvalidRequest, upd.TrashID)
	}
	return s.overrides.Upsert(templateID, instanceID, upd)
}

// DeleteOverride drops the overrides of one format, reporting whether any existed
func (s *Service) DeleteOverride(templateID, instanceID, trashID string) (bool, error) {
	return s.overrides.DeleteOne(templateID, instanceID, trashID)
}

// DeleteOverrides drops every override of a pair
func (s *Service) DeleteOverrides(templateID, instanceID string) (int64, error) {
	return s.overrides.DeleteAll(templateID, instanceID)
}

// PromoteOverride makes an instance score override the template default
func (s *Service) PromoteOverride(templateID, instanceID, trashID string) (int, error) {
	if _, err := s.GetTemplate(templateID); err != nil {
		return 0, err
	}
	value, err := s.overrides.Promote(templateID, instanceID, trashID)
	if err != nil {
		if errors.Is(err, repository.ErrNoScoreOverride) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return 0, err
	}
	s.logger.Info("score override promoted", "template_id", templateID, "instance_id", instanceID, "trash_id", trashID, "score", value)
	return value, nil
}

// Strategy returns the sync strategy of a pair
func (s *Service) Strategy(templateID, instanceID string) (*models.StrategyInfo, error) {
	info, err := s.mappings.GetStrategy(templateID, instanceID)
	if err != nil {
		return nil, err
	}
	if !info.HasMapping && s.cfg.DefaultStrategy.Valid() {
		info.SyncStrategy = s.cfg.DefaultStrategy
	}
	return info, nil
}

// SetStrategy changes the strategy of an existing mapping
func (s *Service) SetStrategy(templateID, instanceID string, strategy models.SyncStrategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: sync strategy %q", ErrInvalidRequest, strategy)
	}
	return s.mappings.SetStrategy(templateID, instanceID, strategy)
}

// SetAutoDelete toggles removal of formats dropped from the template
func (s *Service) SetAutoDelete(templateID, instanceID string, enabled bool) error {
	return s.mappings.SetAutoDelete(templateID, instanceID, enabled)
}

// Unlink forgets a mapping; the instance keeps its formats and history is kept
func (s *Service) Unlink(templateID, instanceID string) error {
	if err := s.mappings.Delete(templateID, instanceID); err != nil {
		return err
	}
	s.sessions.Reset(templateID, instanceID)
	return nil
}

// BulkSetStrategy changes the strategy of every mapping of a template
func (s *Service) BulkSetStrategy(templateID string, strategy models.SyncStrategy) (int64, error) {
	if !strategy.Valid() {
		return 0, fmt.Errorf("%w: sync strategy %q", ErrInvalidRequest, strategy)
	}
	if _, err := s.GetTemplate(templateID); err != nil {
		return 0, err
	}
	return s.mappings.BulkSetStrategy(templateID, strategy)
}

// MappingsForTemplate lists the instances a template is deployed to
func (s *Service) MappingsForTemplate(templateID string) ([]models.DeploymentMapping, error) {
	return s.mappings.ListByTemplate(templateID)
}

// ListHistory returns entries newest first and the total count
func (s *Service) ListHistory(filter models.HistoryFilter) ([]models.HistoryEntry, int, error) {
	return s.history.List(filter)
}

// GetHistory returns one entry with its items
func (s *Service) GetHistory(id string) (*models.HistoryEntry, error) {
	e, err := s.history.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history entry: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}
	return e, nil
}

// DeleteHistory removes an entry from the log without touching the instance
func (s *Service) DeleteHistory(id string) error {
	deleted, err := s.history.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}
	return nil
}
