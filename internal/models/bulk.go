package models

import "time"

// InstanceReadiness is the preview outcome of one instance in a bulk deployment
type InstanceReadiness struct {
	InstanceID          string `json:"instance_id"`
	InstanceName        string `json:"instance_name"`
	Reachable           bool   `json:"reachable"`
	CanDeploy           bool   `json:"can_deploy"`
	Conflicts           int    `json:"conflicts"`
	UnresolvedConflicts int    `json:"unresolved_conflicts"`
	ExcludedReason      string `json:"excluded_reason,omitempty"`
}

// BulkInstanceResult is the outcome of one instance in a bulk deployment
type BulkInstanceResult struct {
	InstanceReadiness
	Deployed  bool          `json:"deployed"`
	HistoryID string        `json:"history_id,omitempty"`
	Status    HistoryStatus `json:"status,omitempty"`
	Applied   int           `json:"applied_cfs"`
	Failed    int           `json:"failed_cfs"`
	Error     string        `json:"error,omitempty"`
}

// Succeeded reports whether the instance was deployed and the deployment was not FAILED
func (r *BulkInstanceResult) Succeeded() bool {
	return r.Deployed && r.Error == "" && (r.Status == StatusSuccess || r.Status == StatusPartialSuccess)
}

type BulkResult struct {
	TemplateID         string               `json:"template_id"`
	TotalInstances     int                  `json:"total_instances"`
	SucceededInstances int                  `json:"succeeded_instances"`
	FailedInstances    int                  `json:"failed_instances"`
	PerInstanceResults []BulkInstanceResult `json:"per_instance_results"`
}

// UndeployResult lists what an undeploy removed, kept and failed to remove
type UndeployResult struct {
	HistoryID    string        `json:"history_id"`
	InstanceID   string        `json:"instance_id"`
	Removed      []HistoryItem `json:"removed"`
	Preserved    []HistoryItem `json:"preserved"`
	Failed       []HistoryItem `json:"failed"`
	RolledBackAt time.Time     `json:"rolled_back_at"`
}
