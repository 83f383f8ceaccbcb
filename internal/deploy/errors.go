package deploy

import "errors"

var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrTemplateExists      = errors.New("template name already in use")
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrServiceMismatch     = errors.New("template and instance service types differ")
	ErrHistoryNotFound     = errors.New("history entry not found")
	ErrAlreadyRolledBack   = errors.New("deployment already rolled back")
	ErrInstanceUnreachable = errors.New("instance unreachable")
	ErrUnresolvedConflict  = errors.New("unresolved conflict")
	ErrCatalogNotFound     = errors.New("upstream catalog not cached")
	ErrProfileNotFound     = errors.New("quality profile not in catalog")
	ErrInvalidRequest      = errors.New("invalid request")
)
