package models

import (
	"fmt"
	"time"
)

type SyncStrategy string

const (
	StrategyAuto   SyncStrategy = "auto"
	StrategyNotify SyncStrategy = "notify"
	StrategyManual SyncStrategy = "manual"
)

// DefaultSyncStrategy applies when a caller does not choose one
const DefaultSyncStrategy = StrategyNotify

func (s SyncStrategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyNotify, StrategyManual:
		return true
	}
	return false
}

// ParseSyncStrategy validates a strategy name, empty input yields ""
func ParseSyncStrategy(s string) (SyncStrategy, error) {
	if s == "" {
		return "", nil
	}
	strategy := SyncStrategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("invalid sync strategy %q", s)
	}
	return strategy, nil
}

// DeploymentMapping tracks a template that has been deployed to an instance
type DeploymentMapping struct {
	TemplateID     string       `json:"template_id"`
	InstanceID     string       `json:"instance_id"`
	SyncStrategy   SyncStrategy `json:"sync_strategy"`
	AutoDelete     bool         `json:"auto_delete"`
	LastDeployedAt *time.Time   `json:"last_deployed_at,omitempty"`
	LastCommit     string       `json:"last_commit,omitempty"`
	PendingCommit  string       `json:"pending_commit,omitempty"`
	AutoSyncedAt   *time.Time   `json:"auto_synced_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RecentlyAutoSynced reports whether the scheduler applied an update within window
func (m *DeploymentMapping) RecentlyAutoSynced(now time.Time, window time.Duration) bool {
	if m.AutoSyncedAt == nil {
		return false
	}
	return now.Sub(*m.AutoSyncedAt) < window
}

// StrategyInfo is the answer to a strategy lookup
type StrategyInfo struct {
	TemplateID   string       `json:"template_id"`
	InstanceID   string       `json:"instance_id"`
	SyncStrategy SyncStrategy `json:"sync_strategy"`
	HasMapping   bool         `json:"has_mapping"`
	AutoDelete   bool         `json:"auto_delete"`
}
