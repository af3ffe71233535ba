package cache

import "strings"

// ModelFamily reduces a concrete model name to its family so that cache hits
// apply across minor variants: "gpt-4-turbo" and "gpt-4-0613" share "gpt-4",
// while "gpt-4" and "gpt-3.5-turbo" stay apart.
func ModelFamily(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return "unknown"
	}

	parts := strings.Split(model, "-")
	family := parts[0]
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		// The first version-like segment closes the family prefix.
		family += "-" + p
		if p[0] >= '0' && p[0] <= '9' {
			break
		}
	}
	return family
}
