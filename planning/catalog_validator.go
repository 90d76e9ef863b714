package planning

import (
	"fmt"
	"strings"
)

// ValidateAgainstCatalog checks every phase's tool/prompt reference against
// allowed, the set of names actually shown to the LM this call (lowercased).
// A name missing from allowed but resolvable via lookup is a tiered-selection
// miss rather than a hallucination: the full catalog has it, tiering just
// didn't surface it, so it is folded into allowed and validation continues.
// A name absent from both is a genuine hallucination: its name is returned
// alongside an error, for the caller to fold into one bounded re-plan retry.
// An empty allowed set skips validation entirely - graceful degradation when
// no catalog provider is wired in, or a Request supplies its own CatalogText
// directly without an accompanying allowed-name set.
func ValidateAgainstCatalog(plan *MetaPlan, allowed map[string]bool, lookup ToolLookup) (string, error) {
	if plan == nil || len(allowed) == 0 {
		return "", nil
	}

	for _, phase := range plan.Phases {
		for _, name := range phase.CatalogReferences() {
			if name == "" {
				continue
			}
			normalized := strings.ToLower(name)
			if allowed[normalized] {
				continue
			}
			if lookup != nil {
				if _, ok := lookup(name); ok {
					allowed[normalized] = true
					continue
				}
			}
			return name, fmt.Errorf("planning: LLM referenced %q, which was not in the catalog shown in the prompt", name)
		}
	}
	return "", nil
}
