// Package instance manages the configured Radarr and Sonarr instances.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/models"
)

// ErrUnknownInstance is returned for an instance id missing from the configuration
var ErrUnknownInstance = errors.New("unknown instance")

// minVersions lists the oldest API versions that expose custom formats
var minVersions = map[models.ServiceType]string{
	models.ServiceRadarr: ">= 3.0.0-0",
	models.ServiceSonarr: ">= 4.0.0-0",
}

// Manager manages one client per configured instance
type Manager struct {
	clients   map[string]*Client
	instances []config.InstanceConfig
	mu        sync.RWMutex
}

// NewManager creates a new instance manager
func NewManager(instances []config.InstanceConfig) *Manager {
	m := &Manager{
		clients:   make(map[string]*Client),
		instances: instances,
	}

	for _, inst := range instances {
		m.clients[inst.ID] = NewClient(inst.BaseURL, inst.APIKey, inst.Timeout)
	}

	return m
}

// Instances returns all configured instances
func (m *Manager) Instances() []config.InstanceConfig {
	return m.instances
}

// Instance returns an instance config by id
func (m *Manager) Instance(id string) (*config.InstanceConfig, bool) {
	for i := range m.instances {
		if m.instances[i].ID == id {
			return &m.instances[i], true
		}
	}
	return nil, false
}

func (m *Manager) client(id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, id)
	}
	return client, nil
}

// Status probes an instance. Network failures and unsupported versions are
// reported in the status, only an unknown id is an error.
func (m *Manager) Status(ctx context.Context, id string) (*models.InstanceStatus, error) {
	inst, ok := m.Instance(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, id)
	}
	client, err := m.client(id)
	if err != nil {
		return nil, err
	}

	status := &models.InstanceStatus{
		ID:          inst.ID,
		Name:        inst.Name,
		ServiceType: inst.ServiceType,
		CheckedAt:   time.Now().UTC(),
	}

	sys, err := client.SystemStatus(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Version = sys.Version

	if err := checkVersion(inst.ServiceType, sys.Version); err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Reachable = true
	return status, nil
}

func checkVersion(serviceType models.ServiceType, version string) error {
	constraint, ok := minVersions[serviceType]
	if !ok {
		return fmt.Errorf("unsupported service type %q", serviceType)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(trimBuild(version))
	if err != nil {
		return fmt.Errorf("unparseable version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("unsupported %s version %s (need %s)", serviceType, version, constraint)
	}
	return nil
}

// trimBuild keeps major.minor.patch of four-part versions like 5.2.6.8376
func trimBuild(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return strings.Join(parts[:3], ".")
	}
	return version
}

// AllStatus probes every instance concurrently
func (m *Manager) AllStatus(ctx context.Context) []models.InstanceStatus {
	var wg sync.WaitGroup
	results := make([]models.InstanceStatus, len(m.instances))

	for i, inst := range m.instances {
		wg.Add(1)
		go func(idx int, inst config.InstanceConfig) {
			defer wg.Done()

			status, err := m.Status(ctx, inst.ID)
			if err != nil {
				results[idx] = models.InstanceStatus{ID: inst.ID, Name: inst.Name, ServiceType: inst.ServiceType, Error: err.Error()}
				return
			}
			results[idx] = *status
		}(i, inst)
	}

	wg.Wait()
	return results
}

func findProfile(profiles []QualityProfile, name string) *QualityProfile {
	for i := range profiles {
		if strings.EqualFold(profiles[i].Name, name) {
			return &profiles[i]
		}
	}
	return nil
}

// ListItems returns the custom formats of an instance with the scores they
// carry in the named quality profile (zero when no profile is named).
func (m *Manager) ListItems(ctx context.Context, id, profileName string) ([]models.RemoteItem, error) {
	client, err := m.client(id)
	if err != nil {
		return nil, err
	}

	formats, err := client.ListCustomFormats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom formats: %w", err)
	}

	scores := map[int]int{}
	if profileName != "" {
		profiles, err := client.ListQualityProfiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list quality profiles: %w", err)
		}
		if p := findProfile(profiles, profileName); p != nil {
			for _, fi := range p.FormatItems {
				scores[fi.Format] = fi.Score
			}
		}
	}

	items := make([]models.RemoteItem, 0, len(formats))
	for _, cf := range formats {
		items = append(items, models.RemoteItem{
			RemoteID:       cf.ID,
			Name:           cf.Name,
			Score:          scores[cf.ID],
			Specifications: NormalizeSpecs(cf.Specifications),
		})
	}
	return items, nil
}

// CreateItem creates a custom format and sets its score in the named profile
func (m *Manager) CreateItem(ctx context.Context, id, profileName string, item models.RemoteItem) (int, error) {
	client, err := m.client(id)
	if err != nil {
		return 0, err
	}

	created, err := client.CreateCustomFormat(ctx, &CustomFormat{
		Name:           item.Name,
		Specifications: APISpecs(item.Specifications),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create custom format: %w", err)
	}

	if err := m.setScore(ctx, client, profileName, created.ID, item.Name, item.Score); err != nil {
		return created.ID, err
	}
	return created.ID, nil
}

// UpdateItem replaces a custom format and its score in the named profile.
// Nil specifications keep what the instance has; the renaming flag is always
// carried over from the instance.
func (m *Manager) UpdateItem(ctx context.Context, id, profileName string, item models.RemoteItem) error {
	client, err := m.client(id)
	if err != nil {
		return err
	}

	current, err := client.ListCustomFormats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read custom format: %w", err)
	}
	update := &CustomFormat{ID: item.RemoteID, Name: item.Name}
	specs := item.Specifications
	for _, cf := range current {
		if cf.ID != item.RemoteID {
			continue
		}
		update.IncludeCustomFormatWhenRenaming = cf.IncludeCustomFormatWhenRenaming
		if len(specs) == 0 {
			specs = cf.Specifications
		}
		break
	}
	update.Specifications = APISpecs(specs)

	_, err = client.UpdateCustomFormat(ctx, update)
	if err != nil {
		return fmt.Errorf("failed to update custom format: %w", err)
	}

	return m.setScore(ctx, client, profileName, item.RemoteID, item.Name, item.Score)
}

// DeleteItem removes a custom format
func (m *Manager) DeleteItem(ctx context.Context, id string, remoteID int) error {
	client, err := m.client(id)
	if err != nil {
		return err
	}
	if err := client.DeleteCustomFormat(ctx, remoteID); err != nil {
		return fmt.Errorf("failed to delete custom format: %w", err)
	}
	return nil
}

func (m *Manager) setScore(ctx context.Context, client *Client, profileName string, formatID int, name string, score int) error {
	if profileName == "" {
		return nil
	}

	profiles, err := client.ListQualityProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list quality profiles: %w", err)
	}
	p := findProfile(profiles, profileName)
	if p == nil {
		return fmt.Errorf("quality profile %q not found", profileName)
	}

	found := false
	for i := range p.FormatItems {
		if p.FormatItems[i].Format == formatID {
			p.FormatItems[i].Score = score
			found = true
			break
		}
	}
	if !found {
		p.FormatItems = append(p.FormatItems, ProfileFormatItem{Format: formatID, Name: name, Score: score})
	}

	if err := client.UpdateQualityProfile(ctx, p); err != nil {
		return fmt.Errorf("failed to update quality profile: %w", err)
	}
	return nil
}
