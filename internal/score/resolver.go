// Package score resolves the effective score of a custom format on one instance.
package score

import (
	"github.com/tidwall/gjson"

	"github.com/foxzi/arrsync/internal/models"
)

// Resolve returns the effective score for a format. Priority, highest first:
// instance override, named score set, default score set, legacy score field
// on the origin config, top-level score, zero.
func Resolve(f *models.FormatDefinition, scoreSet string, override *int) int {
	if override != nil {
		return *override
	}
	if f == nil {
		return 0
	}
	if scoreSet != "" {
		if v, ok := f.Scores[scoreSet]; ok {
			return v
		}
	}
	if v, ok := f.Scores[models.DefaultScoreSet]; ok {
		return v
	}
	if v, ok := legacyScore(f); ok {
		return v
	}
	if f.Score != nil {
		return *f.Score
	}
	return 0
}

// ForTemplate resolves a format score using the template's active score set
func ForTemplate(t *models.Template, f *models.FormatDefinition, overrides *models.OverrideSet) int {
	return Resolve(f, t.QualityProfile.ScoreSet, overrides.Score(f.TrashID))
}

// Assign stores value in the highest-priority template-level slot Resolve reads,
// so that resolving without an override yields value afterwards.
func Assign(f *models.FormatDefinition, scoreSet string, value int) {
	if f.Scores == nil {
		f.Scores = map[string]int{}
	}
	key := models.DefaultScoreSet
	if scoreSet != "" {
		key = scoreSet
	}
	f.Scores[key] = value
}

func legacyScore(f *models.FormatDefinition) (int, bool) {
	if len(f.Config) == 0 || !gjson.ValidBytes(f.Config) {
		return 0, false
	}
	res := gjson.GetBytes(f.Config, "score")
	if !res.Exists() || res.Type != gjson.Number {
		return 0, false
	}
	return int(res.Int()), true
}
