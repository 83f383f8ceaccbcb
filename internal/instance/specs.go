package instance

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// NormalizeSpecs converts API specifications into the template shape:
// only name, implementation, negate, required, and fields as a name -> value object.
// The API adds ids, labels and help text that templates never carry.
func NormalizeSpecs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return raw
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return raw
	}

	specs := make([]map[string]any, 0)
	for _, s := range res.Array() {
		spec := map[string]any{
			"name":           s.Get("name").String(),
			"implementation": s.Get("implementation").String(),
			"negate":         s.Get("negate").Bool(),
			"required":       s.Get("required").Bool(),
		}

		fields := map[string]any{}
		f := s.Get("fields")
		switch {
		case f.IsArray():
			for _, field := range f.Array() {
				fields[field.Get("name").String()] = field.Get("value").Value()
			}
		case f.IsObject():
			f.ForEach(func(k, v gjson.Result) bool {
				fields[k.String()] = v.Value()
				return true
			})
		}
		spec["fields"] = fields
		specs = append(specs, spec)
	}

	out, err := json.Marshal(specs)
	if err != nil {
		return raw
	}
	return out
}

// APISpecs converts template specifications into the API shape, where
// fields is an array of name/value pairs.
func APISpecs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return json.RawMessage("[]")
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return json.RawMessage("[]")
	}

	specs := make([]map[string]any, 0)
	for _, s := range res.Array() {
		spec := map[string]any{}
		s.ForEach(func(k, v gjson.Result) bool {
			spec[k.String()] = v.Value()
			return true
		})

		f := s.Get("fields")
		if f.IsObject() {
			fields := make([]map[string]any, 0)
			f.ForEach(func(k, v gjson.Result) bool {
				fields = append(fields, map[string]any{"name": k.String(), "value": v.Value()})
				return true
			})
			spec["fields"] = fields
		}
		specs = append(specs, spec)
	}

	out, err := json.Marshal(specs)
	if err != nil {
		return json.RawMessage("[]")
	}
	return out
}
