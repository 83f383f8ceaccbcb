package models

import "time"

type HistoryStatus string

const (
	StatusInProgress     HistoryStatus = "IN_PROGRESS"
	StatusSuccess        HistoryStatus = "SUCCESS"
	StatusPartialSuccess HistoryStatus = "PARTIAL_SUCCESS"
	StatusFailed         HistoryStatus = "FAILED"
)

const (
	TriggerManual   = "manual"
	TriggerBulk     = "bulk"
	TriggerAutoSync = "auto_sync"
)

// HistoryItem is the outcome of one plan item
type HistoryItem struct {
	TrashID  string `json:"trash_id"`
	Name     string `json:"name"`
	Action   Action `json:"action"`
	RemoteID int    `json:"remote_id,omitempty"`
	Applied  bool   `json:"applied"`
	Error    string `json:"error,omitempty"`
}

type HistoryEntry struct {
	ID             string        `json:"id"`
	TemplateID     string        `json:"template_id"`
	InstanceID     string        `json:"instance_id"`
	DeployedAt     time.Time     `json:"deployed_at"`
	DeployedBy     string        `json:"deployed_by"`
	Trigger        string        `json:"trigger"`
	TemplateCommit string        `json:"template_commit,omitempty"`
	Status         HistoryStatus `json:"status"`
	DurationMs     int64         `json:"duration_ms"`
	AppliedCFs     int           `json:"applied_cfs"`
	FailedCFs      int           `json:"failed_cfs"`
	TotalCFs       int           `json:"total_cfs"`
	BackupID       string        `json:"backup_id,omitempty"`
	RolledBack     bool          `json:"rolled_back"`
	RolledBackAt   *time.Time    `json:"rolled_back_at,omitempty"`
	Items          []HistoryItem `json:"items,omitempty"`
}

// Active reports whether the entry still counts as deployed state on the instance
func (h *HistoryEntry) Active() bool {
	return !h.RolledBack && h.Status != StatusFailed && h.Status != StatusInProgress
}

// AppliedItems returns the items that were applied successfully
func (h *HistoryEntry) AppliedItems() []HistoryItem {
	var items []HistoryItem
	for _, it := range h.Items {
		if it.Applied {
			items = append(items, it)
		}
	}
	return items
}

// FailedItems returns the items that failed to apply
func (h *HistoryEntry) FailedItems() []HistoryItem {
	var items []HistoryItem
	for _, it := range h.Items {
		if !it.Applied {
			items = append(items, it)
		}
	}
	return items
}

// FinalStatus derives the terminal status from item counts
func FinalStatus(applied, failed int) HistoryStatus {
	switch {
	case failed == 0:
		return StatusSuccess
	case applied == 0:
		return StatusFailed
	default:
		return StatusPartialSuccess
	}
}

// HistoryFilter for filtering history list
type HistoryFilter struct {
	TemplateID string
	InstanceID string
	Limit      int
	Offset     int
}

// Backup is the instance state captured right before a deployment
type Backup struct {
	ID         string       `json:"id"`
	InstanceID string       `json:"instance_id"`
	CreatedAt  time.Time    `json:"created_at"`
	Items      []RemoteItem `json:"items"`
}

// Has reports whether the snapshot contained the trash id
func (b *Backup) Has(trashID string) bool {
	if b == nil {
		return false
	}
	for _, it := range b.Items {
		if it.TrashID == trashID {
			return true
		}
	}
	return false
}
