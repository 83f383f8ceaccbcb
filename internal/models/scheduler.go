package models

import "time"

const (
	RunTriggerInterval = "interval"
	RunTriggerManual   = "manual"
)

// RunResult is the outcome of one scheduler run
type RunResult struct {
	ID                          int64     `json:"id"`
	Trigger                     string    `json:"trigger"`
	StartedAt                   time.Time `json:"started_at"`
	FinishedAt                  time.Time `json:"finished_at"`
	LatestCommit                string    `json:"latest_commit,omitempty"`
	TemplatesChecked            int       `json:"templates_checked"`
	TemplatesOutdated           int       `json:"templates_outdated"`
	TemplatesAutoSynced         int       `json:"templates_auto_synced"`
	TemplatesWithAutoStrategy   int       `json:"templates_with_auto_strategy"`
	TemplatesWithNotifyStrategy int       `json:"templates_with_notify_strategy"`
	TemplatesNeedingAttention   int       `json:"templates_needing_attention"`
	Errors                      []string  `json:"errors"`
	CachesRefreshed             int       `json:"caches_refreshed"`
	CachesFailed                int       `json:"caches_failed"`
}

type SchedulerStatus struct {
	Enabled   bool          `json:"enabled"`
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
	LastRun   *RunResult    `json:"last_run,omitempty"`
}
