// Package resolution keeps the user's conflict choices for a plan under review.
package resolution

import (
	"sync"

	"github.com/foxzi/arrsync/internal/models"
)

// Resolutions maps a trash id to the chosen resolution
type Resolutions map[string]models.Resolution

// Initialize returns default resolutions for every conflicting trash id
func Initialize(conflicting []string) Resolutions {
	return Merge(nil, conflicting)
}

// Merge adds defaults for trash ids not yet keyed. Existing choices are never
// overwritten, so a plan recomputed in the background keeps what the user picked.
func Merge(existing Resolutions, conflicting []string) Resolutions {
	out := make(Resolutions, len(existing)+len(conflicting))
	for k, v := range existing {
		out[k] = v
	}
	for _, trashID := range conflicting {
		if _, ok := out[trashID]; !ok {
			out[trashID] = models.DefaultResolution
		}
	}
	return out
}

// Get returns the resolution for a trash id, defaulting to use_template
func (r Resolutions) Get(trashID string) models.Resolution {
	if v, ok := r[trashID]; ok && v.Valid() {
		return v
	}
	return models.DefaultResolution
}

// Overlay returns base with every entry of top applied over it
func Overlay(base, top Resolutions) Resolutions {
	out := make(Resolutions, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

type key struct {
	templateID string
	instanceID string
}

// Store holds one resolution map per (template, instance) review session.
// Choices made through Set are tracked apart from merged defaults.
type Store struct {
	mu       sync.Mutex
	sessions map[key]Resolutions
	chosen   map[key]Resolutions
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[key]Resolutions),
		chosen:   make(map[key]Resolutions),
	}
}

// Merge folds newly observed conflicts into the session and returns a copy of it
func (s *Store) Merge(templateID, instanceID string, conflicting []string) Resolutions {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{templateID, instanceID}
	s.sessions[k] = Merge(s.sessions[k], conflicting)
	return Overlay(nil, s.sessions[k])
}

// Set records the user's choice for one trash id
func (s *Store) Set(templateID, instanceID, trashID string, r models.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{templateID, instanceID}
	if s.sessions[k] == nil {
		s.sessions[k] = Resolutions{}
	}
	if s.chosen[k] == nil {
		s.chosen[k] = Resolutions{}
	}
	s.sessions[k][trashID] = r
	s.chosen[k][trashID] = r
}

// Chosen returns a copy of the choices the user made explicitly
func (s *Store) Chosen(templateID, instanceID string) Resolutions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Overlay(nil, s.chosen[key{templateID, instanceID}])
}

// Get returns a copy of the session map, nil when there is none
func (s *Store) Get(templateID, instanceID string) Resolutions {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[key{templateID, instanceID}]
	if !ok {
		return nil
	}
	return Overlay(nil, cur)
}

// Reset drops the session, used when the review is closed or the template changes
func (s *Store) Reset(templateID, instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key{templateID, instanceID})
	delete(s.chosen, key{templateID, instanceID})
}

// ResetTemplate drops every session of a template
func (s *Store) ResetTemplate(templateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.sessions {
		if k.templateID == templateID {
			delete(s.sessions, k)
		}
	}
	for k := range s.chosen {
		if k.templateID == templateID {
			delete(s.chosen, k)
		}
	}
}
