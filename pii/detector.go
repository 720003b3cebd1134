package pii

import (
	"encoding/json"
	"sort"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Detection is a single PII finding. Confidence is informational only.
type Detection struct {
	Field      string        `json:"field"`
	Type       types.PIIType `json:"type"`
	Confidence float64       `json:"confidence"`
}

// Detector applies an ordered rule set to records
type Detector struct {
	rules []Rule
}

// NewDetector creates a detector. With no rules the defaults are used.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules}
}

// Rules returns a copy of the detector's rule set
func (d *Detector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

// DetectPII scans record fields in sorted order. Nested maps are searched
// recursively and reported with dotted paths; a nested map whose own name
// matches a name-only rule is reported as a whole.
func (d *Detector) DetectPII(record map[string]any) []Detection {
	var out []Detection
	d.detect(record, "", &out)
	return out
}

func (d *Detector) detect(record map[string]any, prefix string, out *[]Detection) {
	for _, field := range sortedKeys(record) {
		value := record[field]
		path := joinPath(prefix, field)

		if nested, ok := value.(map[string]any); ok {
			if rule, ok := d.nameOnlyMatch(field); ok {
				*out = append(*out, Detection{Field: path, Type: rule.Type, Confidence: rule.Confidence})
				continue
			}
			d.detect(nested, path, out)
			continue
		}

		if rule, ok := d.match(field, value); ok {
			*out = append(*out, Detection{Field: path, Type: rule.Type, Confidence: rule.Confidence})
		}
	}
}

func (d *Detector) match(field string, value any) (Rule, bool) {
	for _, r := range d.rules {
		if r.Matches(field, value) {
			return r, true
		}
	}
	return Rule{}, false
}

func (d *Detector) nameOnlyMatch(field string) (Rule, bool) {
	for _, r := range d.rules {
		if r.Value == nil && r.matchesName(field) {
			return r, true
		}
	}
	return Rule{}, false
}

// DetectTypes returns the distinct PII types found in record, in detection order
func (d *Detector) DetectTypes(record map[string]any) []types.PIIType {
	return Types(d.DetectPII(record))
}

// Types returns the distinct types of detections, in order
func Types(detections []Detection) []types.PIIType {
	seen := make(map[types.PIIType]bool, len(detections))
	var out []types.PIIType
	for _, det := range detections {
		if !seen[det.Type] {
			seen[det.Type] = true
			out = append(out, det.Type)
		}
	}
	return out
}

// AsRecord returns v as a generic record. Maps are returned as-is; structs and
// other JSON objects are converted through JSON. Non-object values report false.
func AsRecord(v any) (map[string]any, bool) {
	switch r := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return r, true
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil || record == nil {
		return nil, false
	}
	return record, true
}

// rewrite returns a deep copy of record where every leaf value (and every
// detected nested map) is replaced by fn. t is empty for undetected fields.
func rewrite(record map[string]any, prefix string, detected map[string]types.PIIType, fn func(path string, t types.PIIType, v any) any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for field, value := range record {
		path := joinPath(prefix, field)
		if t, ok := detected[path]; ok {
			out[field] = fn(path, t, value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[field] = rewrite(nested, path, detected, fn)
			continue
		}
		out[field] = fn(path, "", value)
	}
	return out
}

func detectionIndex(detections []Detection) map[string]types.PIIType {
	idx := make(map[string]types.PIIType, len(detections))
	for _, det := range detections {
		idx[det.Field] = det.Type
	}
	return idx
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}
