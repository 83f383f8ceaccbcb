package upstream

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/foxzi/arrsync/internal/models"
)

// Repository layout of the upstream guides
const (
	jsonRoot      = "docs/json"
	formatsDir    = "cf"
	profilesDir   = "quality-profiles"
	definitionExt = ".json"
)

type fileKind int

const (
	kindOther fileKind = iota
	kindFormat
	kindProfile
)

// classify maps a repository path to its service type and content kind
func classify(p string) (models.ServiceType, fileKind) {
	if !strings.HasPrefix(p, jsonRoot+"/") || path.Ext(p) != definitionExt {
		return "", kindOther
	}
	parts := strings.Split(strings.TrimPrefix(p, jsonRoot+"/"), "/")
	if len(parts) != 3 {
		return "", kindOther
	}
	st := models.ServiceType(parts[0])
	if !st.Valid() {
		return "", kindOther
	}
	switch parts[1] {
	case formatsDir:
		return st, kindFormat
	case profilesDir:
		return st, kindProfile
	}
	return "", kindOther
}

// ParseFormat decodes an upstream custom format document. The whole document
// is kept as origin config so specifications travel with the format.
func ParseFormat(data []byte) (*models.FormatDefinition, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	trashID := doc.Get("trash_id").String()
	if trashID == "" {
		return nil, fmt.Errorf("missing trash_id")
	}

	f := &models.FormatDefinition{
		TrashID: trashID,
		Name:    doc.Get("name").String(),
		Config:  json.RawMessage(append([]byte(nil), data...)),
	}

	if scores := doc.Get("trash_scores"); scores.IsObject() {
		f.Scores = map[string]int{}
		scores.ForEach(func(k, v gjson.Result) bool {
			f.Scores[k.String()] = int(v.Int())
			return true
		})
	}
	return f, nil
}

// ParseProfile decodes an upstream quality profile document
func ParseProfile(data []byte) (*models.CatalogProfile, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	p := &models.CatalogProfile{
		TrashID:  doc.Get("trash_id").String(),
		Name:     doc.Get("name").String(),
		ScoreSet: doc.Get("trash_score_set").String(),
		Cutoff:   doc.Get("cutoff").String(),
		Language: doc.Get("language").String(),
		Formats:  []string{},
	}
	if p.TrashID == "" || p.Name == "" {
		return nil, fmt.Errorf("missing trash_id or name")
	}

	// formatItems maps a display name to a format trash id
	doc.Get("formatItems").ForEach(func(_, v gjson.Result) bool {
		if id := v.String(); id != "" {
			p.Formats = append(p.Formats, id)
		}
		return true
	})
	return p, nil
}
