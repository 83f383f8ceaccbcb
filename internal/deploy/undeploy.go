package deploy

import (
	"context"
	"fmt"

	"github.com/foxzi/arrsync/internal/models"
)

// Undeploy removes from the instance the formats a deployment introduced,
// keeping every format another active deployment still relies on, and marks
// the entry rolled back. Delete failures are itemized, not returned.
func (s *Service) Undeploy(ctx context.Context, historyID string) (*models.UndeployResult, error) {
	entry, err := s.history.Get(historyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, historyID)
	}
	if entry.RolledBack {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, historyID)
	}
	if entry.Status == models.StatusInProgress {
		return nil, fmt.Errorf("%w: deployment %s is still in progress", ErrInvalidRequest, historyID)
	}
	if _, ok := s.instances.Instance(entry.InstanceID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, entry.InstanceID)
	}

	logger := s.logger.With("history_id", entry.ID, "template_id", entry.TemplateID, "instance_id", entry.InstanceID)

	candidates, err := s.undeployCandidates(entry)
	if err != nil {
		return nil, err
	}
	referenced, err := s.referencedElsewhere(entry)
	if err != nil {
		return nil, err
	}

	result := &models.UndeployResult{
		HistoryID:  entry.ID,
		InstanceID: entry.InstanceID,
		Removed:    []models.HistoryItem{},
		Preserved:  []models.HistoryItem{},
		Failed:     []models.HistoryItem{},
	}

	var toDelete []models.HistoryItem
	for _, it := range candidates {
		if referenced[it.TrashID] {
			result.Preserved = append(result.Preserved, it)
			continue
		}
		toDelete = append(toDelete, it)
	}

	if len(toDelete) > 0 {
		status, err := s.instances.Status(ctx, entry.InstanceID)
		if err != nil {
			return nil, err
		}
		if !status.Reachable {
			s.recorder.TrackUndeploy("unreachable")
			return nil, fmt.Errorf("%w: %s", ErrInstanceUnreachable, status.Error)
		}

		refs, err := s.refs.Map(entry.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load remote refs: %w", err)
		}

		ctx = context.WithoutCancel(ctx)
		for _, it := range toDelete {
			remoteID := it.RemoteID
			if remoteID <= 0 {
				remoteID = refs[it.TrashID]
			}
			out := models.HistoryItem{TrashID: it.TrashID, Name: it.Name, Action: models.ActionDelete, RemoteID: remoteID}
			if remoteID <= 0 {
				out.Error = "remote id unknown"
				result.Failed = append(result.Failed, out)
				continue
			}
			if err := s.instances.DeleteItem(ctx, entry.InstanceID, remoteID); err != nil {
				out.Error = err.Error()
				result.Failed = append(result.Failed, out)
				logger.Warn("failed to remove format", "trash_id", it.TrashID, "error", err)
				continue
			}
			out.Applied = true
			result.Removed = append(result.Removed, out)
			if err := s.refs.Delete(entry.InstanceID, it.TrashID); err != nil {
				logger.Warn("failed to drop remote ref", "trash_id", it.TrashID, "error", err)
			}
		}
	}

	result.RolledBackAt = s.now()
	ok, err := s.history.MarkRolledBack(entry.ID, result.RolledBackAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRolledBack, historyID)
	}

	outcome := "ok"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	s.recorder.TrackUndeploy(outcome)

	if s.cache != nil && len(result.Removed) > 0 {
		if err := s.cache.DeleteSnapshot(ctx, entry.InstanceID); err != nil {
			logger.Warn("failed to drop instance snapshot", "error", err)
		}
	}

	logger.Info("deployment undeployed",
		"removed", len(result.Removed),
		"preserved", len(result.Preserved),
		"failed", len(result.Failed),
	)
	return result, nil
}

// undeployCandidates returns the applied items the entry introduced on the
// instance: those missing from its backup, or its creates when no backup exists.
func (s *Service) undeployCandidates(entry *models.HistoryEntry) ([]models.HistoryItem, error) {
	var backup *models.Backup
	if entry.BackupID != "" {
		b, err := s.history.GetBackup(entry.BackupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load backup: %w", err)
		}
		backup = b
	}

	var out []models.HistoryItem
	for _, it := range entry.AppliedItems() {
		if it.Action == models.ActionDelete || it.TrashID == "" {
			continue
		}
		if backup != nil {
			if !backup.Has(it.TrashID) {
				out = append(out, it)
			}
			continue
		}
		if it.Action == models.ActionCreate {
			out = append(out, it)
		}
	}
	return out, nil
}

// referencedElsewhere collects the formats other active deployments on the
// same instance still own: any entry of another template, and newer entries
// of the same template. An item counts whether or not it was applied, since a
// failed update still means the other template expects the format.
func (s *Service) referencedElsewhere(entry *models.HistoryEntry) (map[string]bool, error) {
	active, err := s.history.ListActive(entry.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active deployments: %w", err)
	}

	referenced := make(map[string]bool)
	for _, other := range active {
		if other.ID == entry.ID {
			continue
		}
		if other.TemplateID == entry.TemplateID && !other.DeployedAt.After(entry.DeployedAt) {
			continue
		}
		for _, it := range other.Items {
			if it.Action != models.ActionDelete {
				referenced[it.TrashID] = true
			}
		}
	}
	return referenced, nil
}
