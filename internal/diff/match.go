package diff

import (
	"strings"

	"github.com/foxzi/arrsync/internal/models"
)

// Match assigns trash ids to observed items. Known remote refs win, then a
// case-insensitive name match against the template formats. Items already
// carrying a trash id are kept as is.
func Match(items []models.RemoteItem, formats []models.FormatDefinition, refs map[string]int) []models.RemoteItem {
	byRemote := make(map[int]string, len(refs))
	for trashID, remoteID := range refs {
		byRemote[remoteID] = trashID
	}

	byName := make(map[string]string, len(formats))
	for _, f := range formats {
		byName[strings.ToLower(f.Name)] = f.TrashID
	}

	out := make([]models.RemoteItem, len(items))
	claimed := make(map[string]bool)
	for i, it := range items {
		if it.TrashID == "" {
			if trashID, ok := byRemote[it.RemoteID]; ok {
				it.TrashID = trashID
			}
		}
		if it.TrashID != "" {
			claimed[it.TrashID] = true
		}
		out[i] = it
	}

	for i := range out {
		if out[i].TrashID != "" {
			continue
		}
		trashID, ok := byName[strings.ToLower(out[i].Name)]
		if !ok || claimed[trashID] {
			continue
		}
		out[i].TrashID = trashID
		claimed[trashID] = true
	}

	return out
}
