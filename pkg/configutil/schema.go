package configutil

import (
	"fmt"
	"sort"
	"strings"
)

// Schema names the keys a settings map may carry. Required keys must be
// present and non-empty; anything outside Required and Optional is
// rejected so typos surface at startup instead of being ignored.
type Schema struct {
	Required []string
	Optional []string
}

// ValidateSettings checks a settings map against a schema. Keys compare
// case, underscore, and hyphen insensitively, matching DecodeSettings.
func ValidateSettings(input map[string]any, schema Schema) error {
	allowed := make(map[string]string, len(schema.Required)+len(schema.Optional))
	for _, k := range append(append([]string{}, schema.Required...), schema.Optional...) {
		allowed[normalizeKey(k)] = k
	}

	present := make(map[string]bool, len(input))
	var unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		if _, ok := allowed[nk]; !ok {
			unknown = append(unknown, k)
			continue
		}
		present[nk] = !isEmpty(v)
	}

	var missing []string
	for _, k := range schema.Required {
		if !present[normalizeKey(k)] {
			missing = append(missing, k)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return fmt.Errorf("invalid settings (%s)", strings.Join(parts, "; "))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
