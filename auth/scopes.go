package auth

import (
	"slices"
	"strings"
)

// MapScopesToTools converts granted scopes into an allow-list.
//
// An empty mapping, or any scope mapped to "*", yields nil (unrestricted).
// Otherwise the result is the sorted, de-duplicated union of the mapped
// tools, which is empty (allow nothing) when no scope is mapped.
func MapScopesToTools(scopes []string, mapping map[string][]string) []string {
	if len(mapping) == 0 {
		return nil
	}

	tools := []string{}
	for _, scope := range scopes {
		mapped, ok := mapping[scope]
		if !ok {
			continue
		}
		if slices.Contains(mapped, Wildcard) {
			return nil
		}
		tools = append(tools, mapped...)
	}

	slices.Sort(tools)
	return slices.Compact(tools)
}

// scopesFromClaim reads scopes from a claim value. A space-separated string
// and an array of strings are accepted; anything else yields no scopes.
func scopesFromClaim(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []string:
		return slices.Clone(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
