// Package diff computes deployment plans between a template and an instance.
package diff

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/score"
)

// Input is everything needed to compute a plan
type Input struct {
	Template  *models.Template
	Items     []models.RemoteItem
	Overrides *models.OverrideSet

	// Mapping is nil when the template was never deployed to the instance.
	Mapping *models.DeploymentMapping
	// Tracked holds the trash ids applied by the last active deployment of the mapping.
	Tracked map[string]bool

	Reachable   bool
	FromCache   bool
	Resolutions map[string]models.Resolution
}

// Compute builds the plan. It never fails: every template format ends up as an
// item, every instance item not referenced ends up unmatched or as a delete.
func Compute(in Input) *models.Plan {
	plan := &models.Plan{
		Reachable:  in.Reachable,
		FromCache:  in.FromCache,
		CanDeploy:  in.Reachable,
		HasMapping: in.Mapping != nil,
		Items:      []models.DeploymentItem{},
		Unmatched:  []models.UnmatchedItem{},
	}
	if in.Template != nil {
		plan.TemplateID = in.Template.ID
	}

	observed := make(map[string]models.RemoteItem, len(in.Items))
	for _, it := range in.Items {
		if it.TrashID != "" {
			observed[it.TrashID] = it
		}
	}

	referenced := make(map[string]bool)
	if in.Template != nil {
		for i := range in.Template.Formats {
			f := &in.Template.Formats[i]
			referenced[f.TrashID] = true

			if !in.Overrides.Enabled(f.TrashID) {
				plan.Summary.Disabled++
				continue
			}

			plan.Items = append(plan.Items, planItem(in.Template, f, in.Overrides, observed))
		}
	}

	deletes := []models.DeploymentItem{}
	for _, it := range in.Items {
		if it.TrashID != "" && referenced[it.TrashID] {
			continue
		}
		if shouldDelete(in, it) {
			deletes = append(deletes, models.DeploymentItem{
				TrashID:   it.TrashID,
				Name:      it.Name,
				Action:    models.ActionDelete,
				RemoteID:  it.RemoteID,
				Conflicts: []models.Conflict{},
			})
			continue
		}
		plan.Unmatched = append(plan.Unmatched, models.UnmatchedItem{
			RemoteID: it.RemoteID,
			TrashID:  it.TrashID,
			Name:     it.Name,
		})
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].TrashID < deletes[j].TrashID })
	plan.Items = append(plan.Items, deletes...)

	summarize(plan, in.Resolutions)
	return plan
}

func planItem(t *models.Template, f *models.FormatDefinition, overrides *models.OverrideSet, observed map[string]models.RemoteItem) models.DeploymentItem {
	want := score.ForTemplate(t, f, overrides)
	item := models.DeploymentItem{
		TrashID:       f.TrashID,
		Name:          f.Name,
		TemplateScore: want,
		Conflicts:     []models.Conflict{},
	}

	current, ok := observed[f.TrashID]
	if !ok {
		item.Action = models.ActionCreate
		return item
	}

	item.RemoteID = current.RemoteID
	have := current.Score
	item.InstanceScore = &have

	if want != have {
		item.Conflicts = append(item.Conflicts, models.Conflict{
			Type:                models.ConflictScoreMismatch,
			TemplateValue:       want,
			InstanceValue:       have,
			SuggestedResolution: models.DefaultResolution,
		})
	}

	if specs := f.Specifications(); specs != nil && !SameJSON(specs, current.Specifications) {
		item.Conflicts = append(item.Conflicts, models.Conflict{
			Type:                models.ConflictConfigMismatch,
			TemplateValue:       specs,
			InstanceValue:       current.Specifications,
			SuggestedResolution: models.DefaultResolution,
		})
	}

	if f.Name != "" && current.Name != f.Name {
		item.Conflicts = append(item.Conflicts, models.Conflict{
			Type:                models.ConflictNameMismatch,
			TemplateValue:       f.Name,
			InstanceValue:       current.Name,
			SuggestedResolution: models.DefaultResolution,
		})
	}

	if len(item.Conflicts) > 0 {
		item.Action = models.ActionUpdate
		item.HasConflicts = true
	} else {
		item.Action = models.ActionSkip
	}
	return item
}

// shouldDelete reports whether an unreferenced instance item was dropped from
// a tracked template whose mapping opted into removal.
func shouldDelete(in Input, it models.RemoteItem) bool {
	if in.Mapping == nil || !in.Mapping.AutoDelete || it.TrashID == "" {
		return false
	}
	return in.Tracked[it.TrashID]
}

func summarize(plan *models.Plan, resolutions map[string]models.Resolution) {
	s := &plan.Summary
	s.TotalItems = len(plan.Items)
	s.Unmatched = len(plan.Unmatched)
	for _, item := range plan.Items {
		switch item.Action {
		case models.ActionCreate:
			s.Create++
		case models.ActionUpdate:
			s.Update++
		case models.ActionSkip:
			s.Skip++
		case models.ActionDelete:
			s.Delete++
		}
		if item.HasConflicts {
			s.Conflicts++
			if _, ok := resolutions[item.TrashID]; !ok {
				s.UnresolvedConflicts++
			}
		}
	}
}

// SameJSON compares two JSON documents ignoring key order and whitespace.
// Two empty documents are equal; an empty and a non-empty one are not.
func SameJSON(a, b json.RawMessage) bool {
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return bytes.Equal(ca, cb)
}

func canonical(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
