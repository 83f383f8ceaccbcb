package models

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

type ServiceType string

const (
	ServiceRadarr ServiceType = "radarr"
	ServiceSonarr ServiceType = "sonarr"
)

// Valid reports whether the service type is one the engine can target
func (s ServiceType) Valid() bool {
	return s == ServiceRadarr || s == ServiceSonarr
}

const (
	SourceUpstream = "upstream"
	SourceCustom   = "custom"
)

// DefaultScoreSet is the score-set key used when a template names none
const DefaultScoreSet = "default"

// FormatDefinition is one custom format as a template wants it
type FormatDefinition struct {
	TrashID string          `json:"trash_id"`
	Name    string          `json:"name"`
	Score   *int            `json:"score,omitempty"`
	Scores  map[string]int  `json:"trash_scores,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Specifications returns the specifications array of the origin config, or nil
func (f *FormatDefinition) Specifications() json.RawMessage {
	if len(f.Config) == 0 {
		return nil
	}
	res := gjson.GetBytes(f.Config, "specifications")
	if !res.Exists() {
		return nil
	}
	return json.RawMessage(res.Raw)
}

type FormatGroup struct {
	Name     string   `json:"name"`
	TrashIDs []string `json:"trash_ids"`
}

type QualityProfile struct {
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Cutoff   string `json:"cutoff,omitempty"`
	ScoreSet string `json:"score_set,omitempty"`
}

type Template struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	ServiceType    ServiceType        `json:"service_type"`
	Formats        []FormatDefinition `json:"formats"`
	Groups         []FormatGroup      `json:"groups"`
	QualityProfile QualityProfile     `json:"quality_profile"`
	Source         string             `json:"source"`
	SourceCommit   string             `json:"source_commit"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Format returns the format with the given trash id
func (t *Template) Format(trashID string) *FormatDefinition {
	for i := range t.Formats {
		if t.Formats[i].TrashID == trashID {
			return &t.Formats[i]
		}
	}
	return nil
}

// HasFormat reports whether the template references the trash id
func (t *Template) HasFormat(trashID string) bool {
	return t.Format(trashID) != nil
}

// IsUpstream reports whether the template content is derived from the upstream source
func (t *Template) IsUpstream() bool {
	return t.Source == SourceUpstream
}

// TemplateListFilter for filtering template list
type TemplateListFilter struct {
	Search      string
	ServiceType ServiceType
	Source      string
	Limit       int
	Offset      int
}
