package models

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSkip   Action = "skip"
)

type ConflictType string

const (
	ConflictScoreMismatch  ConflictType = "score_mismatch"
	ConflictConfigMismatch ConflictType = "config_mismatch"
	ConflictNameMismatch   ConflictType = "name_mismatch"
)

type Resolution string

const (
	ResolutionUseTemplate  Resolution = "use_template"
	ResolutionKeepExisting Resolution = "keep_existing"
)

// DefaultResolution applies to every conflict the user has not decided on
const DefaultResolution = ResolutionUseTemplate

func (r Resolution) Valid() bool {
	return r == ResolutionUseTemplate || r == ResolutionKeepExisting
}

type Conflict struct {
	Type                ConflictType `json:"conflict_type"`
	TemplateValue       any          `json:"template_value"`
	InstanceValue       any          `json:"instance_value"`
	SuggestedResolution Resolution   `json:"suggested_resolution"`
}

// DeploymentItem is the planned action for one format
type DeploymentItem struct {
	TrashID       string     `json:"trash_id"`
	Name          string     `json:"name"`
	Action        Action     `json:"action"`
	RemoteID      int        `json:"remote_id,omitempty"`
	TemplateScore int        `json:"template_score"`
	InstanceScore *int       `json:"instance_score,omitempty"`
	HasConflicts  bool       `json:"has_conflicts"`
	Conflicts     []Conflict `json:"conflicts"`
}

// UnmatchedItem is present on the instance but not referenced by the template
type UnmatchedItem struct {
	RemoteID int    `json:"remote_id"`
	TrashID  string `json:"trash_id,omitempty"`
	Name     string `json:"name"`
}

type PlanSummary struct {
	TotalItems          int `json:"total_items"`
	Create              int `json:"create"`
	Update              int `json:"update"`
	Skip                int `json:"skip"`
	Delete              int `json:"delete"`
	Conflicts           int `json:"conflicts"`
	UnresolvedConflicts int `json:"unresolved_conflicts"`
	Unmatched           int `json:"unmatched"`
	Disabled            int `json:"disabled"`
}

// Plan is the set of per-item actions reconciling an instance with a template
type Plan struct {
	TemplateID   string           `json:"template_id"`
	InstanceID   string           `json:"instance_id"`
	InstanceName string           `json:"instance_name"`
	Reachable    bool             `json:"reachable"`
	FromCache    bool             `json:"from_cache"`
	CanDeploy    bool             `json:"can_deploy"`
	HasMapping   bool             `json:"has_mapping"`
	Items        []DeploymentItem `json:"items"`
	Unmatched    []UnmatchedItem  `json:"unmatched"`
	Summary      PlanSummary      `json:"summary"`
	Error        string           `json:"error,omitempty"`
}

// ConflictingTrashIDs returns the trash ids of items carrying conflicts, in plan order
func (p *Plan) ConflictingTrashIDs() []string {
	var ids []string
	for _, item := range p.Items {
		if item.HasConflicts {
			ids = append(ids, item.TrashID)
		}
	}
	return ids
}
