package instance

import "encoding/json"

// SystemStatus is the subset of /api/v3/system/status the engine reads
type SystemStatus struct {
	AppName      string `json:"appName"`
	InstanceName string `json:"instanceName"`
	Version      string `json:"version"`
}

// CustomFormat as served by /api/v3/customformat
type CustomFormat struct {
	ID                              int             `json:"id,omitempty"`
	Name                            string          `json:"name"`
	IncludeCustomFormatWhenRenaming bool            `json:"includeCustomFormatWhenRenaming"`
	Specifications                  json.RawMessage `json:"specifications"`
}

// ProfileFormatItem is the score of one custom format inside a quality profile
type ProfileFormatItem struct {
	Format int    `json:"format"`
	Name   string `json:"name,omitempty"`
	Score  int    `json:"score"`
}

// QualityProfile keeps the raw document so an update can send back every
// field the engine does not manage.
type QualityProfile struct {
	ID          int                 `json:"id"`
	Name        string              `json:"name"`
	FormatItems []ProfileFormatItem `json:"formatItems"`

	raw json.RawMessage
}
