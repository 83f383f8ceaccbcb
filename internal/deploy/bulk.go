package deploy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/arrsync/internal/models"
)

// BulkRequest fans one template out to several instances
type BulkRequest struct {
	TemplateID  string
	InstanceIDs []string
	// Strategies and Resolutions are keyed by instance id
	Strategies  map[string]models.SyncStrategy
	Resolutions map[string]map[string]models.Resolution
	DeployedBy  string
}

// BulkDeploy previews every instance in parallel, then deploys the ready ones
// in parallel. Per-instance failures are reported in the result; only a
// missing template or an empty request is an error.
func (s *Service) BulkDeploy(ctx context.Context, req BulkRequest) (*models.BulkResult, error) {
	tmpl, err := s.templates.GetByID(req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, req.TemplateID)
	}

	ids := dedupe(req.InstanceIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no instances selected", ErrInvalidRequest)
	}
	for id, strategy := range req.Strategies {
		if strategy != "" && !strategy.Valid() {
			return nil, fmt.Errorf("%w: sync strategy %q for %s", ErrInvalidRequest, strategy, id)
		}
	}

	results := make([]models.BulkInstanceResult, len(ids))

	var previews errgroup.Group
	previews.SetLimit(s.cfg.MaxParallel)
	for i, id := range ids {
		previews.Go(func() error {
			results[i].InstanceReadiness = s.readiness(ctx, req, id)
			return nil
		})
	}
	previews.Wait()

	var deploys errgroup.Group
	deploys.SetLimit(s.cfg.MaxParallel)
	for i := range results {
		r := &results[i]
		if r.ExcludedReason != "" {
			continue
		}
		deploys.Go(func() error {
			if ctx.Err() != nil {
				r.ExcludedReason = "canceled"
				return nil
			}
			entry, err := s.Deploy(ctx, Request{
				TemplateID:   req.TemplateID,
				InstanceID:   r.InstanceID,
				Resolutions:  req.Resolutions[r.InstanceID],
				SyncStrategy: req.Strategies[r.InstanceID],
				DeployedBy:   req.DeployedBy,
				Trigger:      models.TriggerBulk,
			})
			if entry != nil {
				r.Deployed = true
				r.HistoryID = entry.ID
				r.Status = entry.Status
				r.Applied = entry.AppliedCFs
				r.Failed = entry.FailedCFs
			}
			if err != nil {
				r.Error = err.Error()
			}
			return nil
		})
	}
	deploys.Wait()

	out := &models.BulkResult{
		TemplateID:         tmpl.ID,
		TotalInstances:     len(results),
		PerInstanceResults: results,
	}
	for i := range results {
		if results[i].Succeeded() {
			out.SucceededInstances++
		} else {
			out.FailedInstances++
		}
	}

	s.logger.Info("bulk deployment finished",
		"template_id", tmpl.ID,
		"instances", out.TotalInstances,
		"succeeded", out.SucceededInstances,
		"failed", out.FailedInstances,
	)
	return out, nil
}

// readiness previews one instance of a bulk request
func (s *Service) readiness(ctx context.Context, req BulkRequest, instanceID string) models.InstanceReadiness {
	r := models.InstanceReadiness{InstanceID: instanceID}
	if ctx.Err() != nil {
		r.ExcludedReason = "canceled"
		return r
	}

	inst, ok := s.instances.Instance(instanceID)
	if !ok {
		r.ExcludedReason = ErrInstanceNotFound.Error()
		return r
	}
	r.InstanceName = inst.Name

	plan, err := s.Preview(ctx, req.TemplateID, instanceID)
	if err != nil {
		r.ExcludedReason = err.Error()
		return r
	}

	r.Reachable = plan.Reachable
	r.CanDeploy = plan.CanDeploy
	r.Conflicts = plan.Summary.Conflicts

	chosen := s.sessions.Chosen(req.TemplateID, instanceID)
	for _, trashID := range plan.ConflictingTrashIDs() {
		_, inSession := chosen[trashID]
		_, inRequest := req.Resolutions[instanceID][trashID]
		if !inSession && !inRequest {
			r.UnresolvedConflicts++
		}
	}

	switch {
	case !plan.CanDeploy:
		r.ExcludedReason = "instance unreachable"
		if plan.Error != "" {
			r.ExcludedReason += ": " + plan.Error
		}
	case s.cfg.RequireResolution && r.UnresolvedConflicts > 0:
		r.ExcludedReason = fmt.Sprintf("%d unresolved conflicts", r.UnresolvedConflicts)
	}
	return r
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
