package upstream

import (
	"maps"

	"github.com/foxzi/arrsync/internal/models"
)

// FormatChange is one custom format that differs between two commits.
// Format is nil when the format was removed, Previous is nil when it is new.
type FormatChange struct {
	ServiceType models.ServiceType
	TrashID     string
	Previous    *models.FormatDefinition
	Format      *models.FormatDefinition
}

// Delta lists the format changes between two upstream commits
type Delta struct {
	From    string
	To      string
	Changes []FormatChange
}

// Empty reports whether nothing changed
func (d *Delta) Empty() bool {
	return d == nil || len(d.Changes) == 0
}

func (d *Delta) lookup(st models.ServiceType) map[string]FormatChange {
	out := make(map[string]FormatChange)
	for _, c := range d.Changes {
		if c.ServiceType == st {
			out[c.TrashID] = c
		}
	}
	return out
}

// Apply updates the template formats from the delta and stamps the target
// commit. Removed formats are dropped. Template-local scores survive when the
// upstream score table of the format did not change. Reports whether any
// format was touched.
func (d *Delta) Apply(t *models.Template) bool {
	if d.Empty() {
		return false
	}
	changes := d.lookup(t.ServiceType)

	touched := false
	formats := make([]models.FormatDefinition, 0, len(t.Formats))
	for _, f := range t.Formats {
		c, ok := changes[f.TrashID]
		if !ok {
			formats = append(formats, f)
			continue
		}
		touched = true
		if c.Format == nil {
			continue
		}

		next := *c.Format
		if c.Previous != nil && sameScores(c.Previous, c.Format) {
			next.Scores = maps.Clone(f.Scores)
			next.Score = f.Score
		}
		formats = append(formats, next)
	}

	t.Formats = formats
	if touched {
		t.Groups = pruneGroups(t.Groups, t)
	}
	t.SourceCommit = d.To
	return touched
}

// pruneGroups drops trash ids the template no longer carries and groups left
// without members
func pruneGroups(groups []models.FormatGroup, t *models.Template) []models.FormatGroup {
	out := make([]models.FormatGroup, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, 0, len(g.TrashIDs))
		for _, id := range g.TrashIDs {
			if t.HasFormat(id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		g.TrashIDs = ids
		out = append(out, g)
	}
	return out
}

func sameScores(a, b *models.FormatDefinition) bool {
	if !maps.Equal(a.Scores, b.Scores) {
		return false
	}
	if (a.Score == nil) != (b.Score == nil) {
		return false
	}
	return a.Score == nil || *a.Score == *b.Score
}
