package models

import "time"

// InstanceOverride is an instance-local customization of one template format
type InstanceOverride struct {
	TemplateID    string    `json:"template_id"`
	InstanceID    string    `json:"instance_id"`
	TrashID       string    `json:"trash_id"`
	ScoreOverride *int      `json:"score_override,omitempty"`
	Enabled       *bool     `json:"enabled,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Empty reports whether no field differs from the template default
func (o *InstanceOverride) Empty() bool {
	return o.ScoreOverride == nil && (o.Enabled == nil || *o.Enabled)
}

type FormatOverride struct {
	Enabled bool `json:"enabled"`
}

// OverrideSet holds every override of one (template, instance) pair
type OverrideSet struct {
	ScoreOverrides map[string]int            `json:"score_overrides"`
	CFOverrides    map[string]FormatOverride `json:"cf_overrides"`
}

func NewOverrideSet() *OverrideSet {
	return &OverrideSet{
		ScoreOverrides: map[string]int{},
		CFOverrides:    map[string]FormatOverride{},
	}
}

// Score returns the override score for a format, nil when none
func (s *OverrideSet) Score(trashID string) *int {
	if s == nil {
		return nil
	}
	v, ok := s.ScoreOverrides[trashID]
	if !ok {
		return nil
	}
	return &v
}

// Enabled reports whether a format is enabled for the instance (default true)
func (s *OverrideSet) Enabled(trashID string) bool {
	if s == nil {
		return true
	}
	o, ok := s.CFOverrides[trashID]
	if !ok {
		return true
	}
	return o.Enabled
}

// OverrideUpdate is a partial update; nil fields are left untouched
type OverrideUpdate struct {
	TrashID       string `json:"trash_id"`
	ScoreOverride *int   `json:"score_override,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
	ClearScore    bool   `json:"clear_score,omitempty"`
	ClearEnabled  bool   `json:"clear_enabled,omitempty"`
}
