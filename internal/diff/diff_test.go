package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/arrsync/internal/models"
)

func intPtr(v int) *int { return &v }

// templateAB has formats {A: default score 10, B: score 5}
func templateAB() *models.Template {
	return &models.Template{
		ID:          "t1",
		Name:        "HD Bluray",
		ServiceType: models.ServiceRadarr,
		Formats: []models.FormatDefinition{
			{TrashID: "a", Name: "A", Scores: map[string]int{"default": 10}},
			{TrashID: "b", Name: "B", Score: intPtr(5)},
		},
	}
}

func TestCompute_EmptyInstance(t *testing.T) {
	plan := Compute(Input{Template: templateAB(), Reachable: true})

	require.Len(t, plan.Items, 2)
	for _, item := range plan.Items {
		assert.Equal(t, models.ActionCreate, item.Action)
		assert.False(t, item.HasConflicts)
		assert.Empty(t, item.Conflicts)
	}
	assert.True(t, plan.CanDeploy)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.Equal(t, 0, plan.Summary.Conflicts)
	assert.Equal(t, "t1", plan.TemplateID)
}

func TestCompute_ScoreMismatch(t *testing.T) {
	items := []models.RemoteItem{{RemoteID: 7, TrashID: "a", Name: "A", Score: 7}}
	plan := Compute(Input{Template: templateAB(), Items: items, Reachable: true})

	require.Len(t, plan.Items, 2)
	a := plan.Items[0]
	assert.Equal(t, models.ActionUpdate, a.Action)
	assert.True(t, a.HasConflicts)
	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, models.ConflictScoreMismatch, a.Conflicts[0].Type)
	assert.Equal(t, 10, a.Conflicts[0].TemplateValue)
	assert.Equal(t, 7, a.Conflicts[0].InstanceValue)
	assert.Equal(t, models.ResolutionUseTemplate, a.Conflicts[0].SuggestedResolution)
	assert.Equal(t, 7, a.RemoteID)

	assert.Equal(t, models.ActionCreate, plan.Items[1].Action)
	assert.Equal(t, 1, plan.Summary.Conflicts)
	assert.Equal(t, 1, plan.Summary.UnresolvedConflicts)
}

func TestCompute_ResolvedConflictsAreNotUnresolved(t *testing.T) {
	items := []models.RemoteItem{{RemoteID: 7, TrashID: "a", Name: "A", Score: 7}}
	plan := Compute(Input{
		Template:    templateAB(),
		Items:       items,
		Reachable:   true,
		Resolutions: map[string]models.Resolution{"a": models.ResolutionKeepExisting},
	})
	assert.Equal(t, 1, plan.Summary.Conflicts)
	assert.Equal(t, 0, plan.Summary.UnresolvedConflicts)
}

func TestCompute_IdenticalIsSkip(t *testing.T) {
	items := []models.RemoteItem{
		{RemoteID: 1, TrashID: "a", Name: "A", Score: 10},
		{RemoteID: 2, TrashID: "b", Name: "B", Score: 5},
	}
	plan := Compute(Input{Template: templateAB(), Items: items, Reachable: true})
	for _, item := range plan.Items {
		assert.Equal(t, models.ActionSkip, item.Action)
		assert.Empty(t, item.Conflicts)
	}
	assert.Equal(t, 2, plan.Summary.Skip)
}

func TestCompute_ConfigAndNameMismatch(t *testing.T) {
	tmpl := &models.Template{
		ID: "t1",
		Formats: []models.FormatDefinition{{
			TrashID: "a",
			Name:    "Remux",
			Score:   intPtr(1),
			Config:  json.RawMessage(`{"specifications":[{"name":"x","negate":false}]}`),
		}},
	}
	items := []models.RemoteItem{{
		RemoteID:       3,
		TrashID:        "a",
		Name:           "Remux (old)",
		Score:          1,
		Specifications: json.RawMessage(`[{"negate":true,"name":"x"}]`),
	}}

	plan := Compute(Input{Template: tmpl, Items: items, Reachable: true})
	require.Len(t, plan.Items, 1)
	item := plan.Items[0]
	assert.Equal(t, models.ActionUpdate, item.Action)
	require.Len(t, item.Conflicts, 2)
	assert.Equal(t, models.ConflictConfigMismatch, item.Conflicts[0].Type)
	assert.Equal(t, models.ConflictNameMismatch, item.Conflicts[1].Type)
}

func TestCompute_ConfigKeyOrderIgnored(t *testing.T) {
	tmpl := &models.Template{
		Formats: []models.FormatDefinition{{
			TrashID: "a",
			Name:    "A",
			Config:  json.RawMessage(`{"specifications":[{"a":1,"b":2}]}`),
		}},
	}
	items := []models.RemoteItem{{TrashID: "a", Name: "A", Specifications: json.RawMessage(`[ {"b":2, "a":1} ]`)}}

	plan := Compute(Input{Template: tmpl, Items: items, Reachable: true})
	assert.Equal(t, models.ActionSkip, plan.Items[0].Action)
}

func TestCompute_UnmatchedNeverDeletedWithoutOptIn(t *testing.T) {
	items := []models.RemoteItem{
		{RemoteID: 9, TrashID: "gone", Name: "Gone"},
		{RemoteID: 10, Name: "Hand made"},
	}
	mapping := &models.DeploymentMapping{TemplateID: "t1", InstanceID: "i1"}

	plan := Compute(Input{
		Template:  templateAB(),
		Items:     items,
		Mapping:   mapping,
		Tracked:   map[string]bool{"gone": true},
		Reachable: true,
	})

	assert.Equal(t, 0, plan.Summary.Delete)
	assert.Len(t, plan.Unmatched, 2)
	assert.True(t, plan.HasMapping)
}

func TestCompute_DeleteOnlyForTrackedResyncWithOptIn(t *testing.T) {
	items := []models.RemoteItem{
		{RemoteID: 9, TrashID: "gone", Name: "Gone"},
		{RemoteID: 11, TrashID: "other", Name: "Other template format"},
	}
	mapping := &models.DeploymentMapping{TemplateID: "t1", InstanceID: "i1", AutoDelete: true}

	plan := Compute(Input{
		Template:  templateAB(),
		Items:     items,
		Mapping:   mapping,
		Tracked:   map[string]bool{"gone": true},
		Reachable: true,
	})

	require.Len(t, plan.Items, 3)
	last := plan.Items[2]
	assert.Equal(t, models.ActionDelete, last.Action)
	assert.Equal(t, "gone", last.TrashID)
	assert.Equal(t, 9, last.RemoteID)
	assert.Equal(t, 1, plan.Summary.Delete)
	require.Len(t, plan.Unmatched, 1)
	assert.Equal(t, "other", plan.Unmatched[0].TrashID)
}

func TestCompute_NoMappingMeansNoDelete(t *testing.T) {
	items := []models.RemoteItem{{RemoteID: 9, TrashID: "gone", Name: "Gone"}}
	plan := Compute(Input{
		Template:  templateAB(),
		Items:     items,
		Tracked:   map[string]bool{"gone": true},
		Reachable: true,
	})
	assert.Equal(t, 0, plan.Summary.Delete)
	assert.Len(t, plan.Unmatched, 1)
}

func TestCompute_Overrides(t *testing.T) {
	overrides := models.NewOverrideSet()
	overrides.ScoreOverrides["a"] = 7
	overrides.CFOverrides["b"] = models.FormatOverride{Enabled: false}

	items := []models.RemoteItem{{RemoteID: 1, TrashID: "a", Name: "A", Score: 7}}
	plan := Compute(Input{Template: templateAB(), Items: items, Overrides: overrides, Reachable: true})

	require.Len(t, plan.Items, 1)
	assert.Equal(t, models.ActionSkip, plan.Items[0].Action)
	assert.Equal(t, 7, plan.Items[0].TemplateScore)
	assert.Equal(t, 1, plan.Summary.Disabled)
}

func TestCompute_EmptyTemplate(t *testing.T) {
	plan := Compute(Input{Template: &models.Template{ID: "t"}, Reachable: true})
	assert.Empty(t, plan.Items)
	assert.Equal(t, 0, plan.Summary.TotalItems)
	assert.True(t, plan.CanDeploy)
}

func TestCompute_Unreachable(t *testing.T) {
	items := []models.RemoteItem{{RemoteID: 7, TrashID: "a", Name: "A", Score: 7}}
	plan := Compute(Input{Template: templateAB(), Items: items, FromCache: true})
	assert.False(t, plan.CanDeploy)
	assert.True(t, plan.FromCache)
	assert.Equal(t, 1, plan.Summary.Update)
}

func TestCompute_Idempotent(t *testing.T) {
	items := []models.RemoteItem{
		{RemoteID: 7, TrashID: "a", Name: "A", Score: 7},
		{RemoteID: 8, Name: "Other"},
	}
	in := Input{Template: templateAB(), Items: items, Reachable: true}
	assert.Equal(t, Compute(in), Compute(in))
}

func TestMatch(t *testing.T) {
	formats := []models.FormatDefinition{
		{TrashID: "a", Name: "Remux Tier 01"},
		{TrashID: "b", Name: "HDR"},
		{TrashID: "c", Name: "DV"},
	}
	items := []models.RemoteItem{
		{RemoteID: 1, Name: "remux tier 01"},
		{RemoteID: 2, Name: "renamed by user"},
		{RemoteID: 3, Name: "DV", TrashID: "c"},
		{RemoteID: 4, Name: "hdr"},
		{RemoteID: 5, Name: "Unknown"},
	}
	refs := map[string]int{"b": 2}

	got := Match(items, formats, refs)
	require.Len(t, got, 5)
	assert.Equal(t, "a", got[0].TrashID)
	assert.Equal(t, "b", got[1].TrashID)
	assert.Equal(t, "c", got[2].TrashID)
	assert.Equal(t, "", got[3].TrashID, "b is already claimed by its ref")
	assert.Equal(t, "", got[4].TrashID)
}

func TestSameJSON(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{`[1,2]`, `[2,1]`, false},
		{``, ``, true},
		{``, `[]`, false},
		{`not json`, `not json`, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SameJSON(json.RawMessage(tt.a), json.RawMessage(tt.b)), "%s vs %s", tt.a, tt.b)
	}
}
