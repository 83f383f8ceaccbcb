package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/arrsync/internal/config"
	"github.com/foxzi/arrsync/internal/diff"
	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/resolution"
)

// Request describes one deployment of a template to an instance
type Request struct {
	TemplateID   string
	InstanceID   string
	Resolutions  map[string]models.Resolution
	SyncStrategy models.SyncStrategy
	DeployedBy   string
	Trigger      string
}

func (r *Request) validate() error {
	for trashID, res := range r.Resolutions {
		if !res.Valid() {
			return fmt.Errorf("%w: resolution %q for %s", ErrInvalidRequest, res, trashID)
		}
	}
	if r.SyncStrategy != "" && !r.SyncStrategy.Valid() {
		return fmt.Errorf("%w: sync strategy %q", ErrInvalidRequest, r.SyncStrategy)
	}
	switch r.Trigger {
	case "", models.TriggerManual, models.TriggerBulk, models.TriggerAutoSync:
	default:
		return fmt.Errorf("%w: trigger %q", ErrInvalidRequest, r.Trigger)
	}
	return nil
}

// Deploy applies a template to an instance and returns the finalized history
// entry. Item failures are recorded on the entry, not returned. An unreachable
// instance yields a FAILED entry together with ErrInstanceUnreachable.
func (s *Service) Deploy(ctx context.Context, req Request) (*models.HistoryEntry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	tmpl, inst, err := s.target(req.TemplateID, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}

	logger := s.logger.With("template_id", tmpl.ID, "instance_id", inst.ID, "trigger", req.Trigger)
	start := time.Now()

	entry := &models.HistoryEntry{
		TemplateID:     tmpl.ID,
		InstanceID:     inst.ID,
		DeployedAt:     s.now(),
		DeployedBy:     req.DeployedBy,
		Trigger:        req.Trigger,
		TemplateCommit: tmpl.SourceCommit,
		Items:          []models.HistoryItem{},
	}
	if err := s.history.Create(entry); err != nil {
		return nil, err
	}

	// an accepted deployment runs to the end even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	obs, err := s.observe(ctx, tmpl, inst, false)
	if err != nil {
		entry.Status = models.StatusFailed
		s.finish(entry, start, logger)
		return entry, err
	}
	if !obs.reachable {
		entry.Status = models.StatusFailed
		s.finish(entry, start, logger)
		return entry, fmt.Errorf("%w: %s", ErrInstanceUnreachable, obs.err)
	}

	backup := &models.Backup{InstanceID: inst.ID, Items: obs.items}
	if err := s.history.SaveBackup(backup); err != nil {
		logger.Error("failed to save backup", "error", err)
	} else {
		entry.BackupID = backup.ID
	}

	in, err := s.diffInput(tmpl, inst.ID, obs)
	if err != nil {
		entry.Status = models.StatusFailed
		s.finish(entry, start, logger)
		return entry, err
	}
	plan := diff.Compute(in)

	explicit := resolution.Overlay(s.sessions.Chosen(tmpl.ID, inst.ID), req.Resolutions)
	effective := resolution.Overlay(s.sessions.Get(tmpl.ID, inst.ID), req.Resolutions)

	entry.TotalCFs = len(plan.Items)
	for _, item := range plan.Items {
		outcome := s.apply(ctx, tmpl, inst, item, explicit, effective)
		if outcome.Applied {
			entry.AppliedCFs++
		} else {
			entry.FailedCFs++
			logger.Warn("deployment item failed", "trash_id", item.TrashID, "action", item.Action, "error", outcome.Error)
		}
		s.recorder.TrackDeployItem(string(outcome.Action), itemResult(outcome.Applied))
		entry.Items = append(entry.Items, outcome)
	}

	entry.Status = models.FinalStatus(entry.AppliedCFs, entry.FailedCFs)
	s.finish(entry, start, logger)

	if entry.Status != models.StatusFailed {
		_, err := s.mappings.RecordDeployment(tmpl.ID, inst.ID, req.SyncStrategy, s.cfg.DefaultStrategy, tmpl.SourceCommit, entry.DeployedAt)
		if err != nil {
			logger.Error("failed to record deployment mapping", "error", err)
		}
		s.sessions.Reset(tmpl.ID, inst.ID)
	}

	// refresh the last-known snapshot with the applied state
	if items, err := s.instances.ListItems(ctx, inst.ID, tmpl.QualityProfile.Name); err == nil {
		s.saveSnapshot(ctx, inst.ID, obs.version, items)
	}

	return entry, nil
}

func (s *Service) finish(entry *models.HistoryEntry, start time.Time, logger *slog.Logger) {
	elapsed := time.Since(start)
	entry.DurationMs = elapsed.Milliseconds()
	if err := s.history.Finalize(entry); err != nil {
		logger.Error("failed to finalize history entry", "history_id", entry.ID, "error", err)
	}
	s.recorder.TrackDeployment(string(entry.Status), entry.Trigger, elapsed)
	logger.Info("deployment finished",
		"history_id", entry.ID,
		"status", entry.Status,
		"applied", entry.AppliedCFs,
		"failed", entry.FailedCFs,
		"duration_ms", entry.DurationMs,
	)
}

func itemResult(applied bool) string {
	if applied {
		return "applied"
	}
	return "failed"
}

// apply executes one plan item against the instance
func (s *Service) apply(ctx context.Context, tmpl *models.Template, inst *config.InstanceConfig, item models.DeploymentItem,
	explicit, effective resolution.Resolutions) models.HistoryItem {

	out := models.HistoryItem{
		TrashID:  item.TrashID,
		Name:     item.Name,
		Action:   item.Action,
		RemoteID: item.RemoteID,
	}
	profile := tmpl.QualityProfile.Name

	switch item.Action {
	case models.ActionSkip:
		out.Applied = true
		s.recordRef(inst.ID, item.TrashID, item.RemoteID, item.Name)

	case models.ActionCreate:
		remote := models.RemoteItem{Name: item.Name, Score: item.TemplateScore}
		if f := tmpl.Format(item.TrashID); f != nil {
			remote.Specifications = f.Specifications()
		}
		id, err := s.instances.CreateItem(ctx, inst.ID, profile, remote)
		if id > 0 {
			out.RemoteID = id
			s.recordRef(inst.ID, item.TrashID, id, item.Name)
		}
		if err != nil {
			out.Error = err.Error()
			break
		}
		out.Applied = true

	case models.ActionUpdate:
		if _, ok := explicit[item.TrashID]; item.HasConflicts && !ok && s.cfg.RequireResolution {
			out.Error = ErrUnresolvedConflict.Error()
			break
		}
		if effective.Get(item.TrashID) == models.ResolutionKeepExisting {
			// instance value retained, counted as applied
			out.Action = models.ActionSkip
			out.Applied = true
			s.recordRef(inst.ID, item.TrashID, item.RemoteID, item.Name)
			break
		}
		remote := models.RemoteItem{RemoteID: item.RemoteID, Name: item.Name, Score: item.TemplateScore}
		if f := tmpl.Format(item.TrashID); f != nil {
			remote.Specifications = f.Specifications()
		}
		if err := s.instances.UpdateItem(ctx, inst.ID, profile, remote); err != nil {
			out.Error = err.Error()
			break
		}
		out.Applied = true
		s.recordRef(inst.ID, item.TrashID, item.RemoteID, item.Name)

	case models.ActionDelete:
		if err := s.instances.DeleteItem(ctx, inst.ID, item.RemoteID); err != nil {
			out.Error = err.Error()
			break
		}
		out.Applied = true
		if err := s.refs.Delete(inst.ID, item.TrashID); err != nil {
			s.logger.Warn("failed to drop remote ref", "instance_id", inst.ID, "trash_id", item.TrashID, "error", err)
		}

	default:
		out.Error = fmt.Sprintf("unknown action %q", item.Action)
	}

	return out
}

func (s *Service) recordRef(instanceID, trashID string, remoteID int, name string) {
	if trashID == "" || remoteID <= 0 {
		return
	}
	err := s.refs.Upsert(models.RemoteRef{InstanceID: instanceID, TrashID: trashID, RemoteID: remoteID, Name: name})
	if err != nil {
		s.logger.Warn("failed to record remote ref", "instance_id", instanceID, "trash_id", trashID, "error", err)
	}
}
