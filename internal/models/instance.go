package models

import (
	"encoding/json"
	"time"
)

// RemoteItem is a custom format as observed on an instance
type RemoteItem struct {
	RemoteID       int             `json:"remote_id"`
	TrashID        string          `json:"trash_id,omitempty"`
	Name           string          `json:"name"`
	Score          int             `json:"score"`
	Specifications json.RawMessage `json:"specifications,omitempty"`
}

// InstanceStatus represents reachability of one configured instance
type InstanceStatus struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ServiceType ServiceType `json:"service_type"`
	Reachable   bool        `json:"reachable"`
	Version     string      `json:"version,omitempty"`
	Error       string      `json:"error,omitempty"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// RemoteRef links a trash id to the remote id it was deployed as
type RemoteRef struct {
	InstanceID string    `json:"instance_id"`
	TrashID    string    `json:"trash_id"`
	RemoteID   int       `json:"remote_id"`
	Name       string    `json:"name"`
	UpdatedAt  time.Time `json:"updated_at"`
}
