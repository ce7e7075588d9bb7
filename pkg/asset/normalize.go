package asset

import "strings"

// Normalize trims and upper-cases a text value. Every write path (create, update,
// actions, bulk import) must go through it so that diffs never report casing-only changes.
func Normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// NormalizeFields returns a normalized copy of values restricted to the descriptor's fields.
func NormalizeFields(d *Descriptor, values map[string]string) FieldValues {
	out := make(FieldValues, len(d.Fields))
	for _, f := range d.Fields {
		out[f] = Normalize(values[f])
	}
	return out
}

func trim(v string) string {
	return strings.TrimSpace(v)
}
