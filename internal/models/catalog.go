package models

import "time"

// CatalogProfile is a quality profile published upstream: a named selection of formats
type CatalogProfile struct {
	TrashID  string   `json:"trash_id"`
	Name     string   `json:"name"`
	ScoreSet string   `json:"score_set,omitempty"`
	Cutoff   string   `json:"cutoff,omitempty"`
	Language string   `json:"language,omitempty"`
	Formats  []string `json:"formats"`
}

// Catalog is the upstream reference data for one service type at one commit
type Catalog struct {
	ServiceType ServiceType        `json:"service_type"`
	Commit      string             `json:"commit"`
	Formats     []FormatDefinition `json:"formats"`
	Profiles    []CatalogProfile   `json:"profiles"`
	RefreshedAt time.Time          `json:"refreshed_at"`
}

// Format returns the catalog format with the given trash id
func (c *Catalog) Format(trashID string) *FormatDefinition {
	for i := range c.Formats {
		if c.Formats[i].TrashID == trashID {
			return &c.Formats[i]
		}
	}
	return nil
}

// Profile finds a profile by trash id or case-sensitive name
func (c *Catalog) Profile(key string) *CatalogProfile {
	for i := range c.Profiles {
		if c.Profiles[i].TrashID == key || c.Profiles[i].Name == key {
			return &c.Profiles[i]
		}
	}
	return nil
}

// Snapshot is the last successfully observed item set of an instance
type Snapshot struct {
	InstanceID string       `json:"instance_id"`
	Version    string       `json:"version,omitempty"`
	Items      []RemoteItem `json:"items"`
	CapturedAt time.Time    `json:"captured_at"`
}
