package planning

import "regexp"

// Normalizer runs once, immediately after plan generation, converting every
// equivalent loop-item/placeholder template form into the canonical
// {source, key} dict, so every downstream pass (validator, rewriter,
// argument resolver) sees exactly one placeholder shape.
type Normalizer struct{}

// NewNormalizer builds a Normalizer. It is stateless; one instance is
// reusable across turns.
func NewNormalizer() *Normalizer { return &Normalizer{} }

var (
	// {{loop_item.FIELD}} and {{loop_item['FIELD']}}
	loopItemDoubleBraceRegex = regexp.MustCompile(`^\{\{\s*loop_item(?:\.([A-Za-z0-9_]+)|\[\s*['"]([A-Za-z0-9_]+)['"]\s*\])\s*\}\}$`)
	// {loop_item[FIELD]} and {loop_item.FIELD}
	loopItemSingleBraceRegex = regexp.MustCompile(`^\{\s*loop_item(?:\.([A-Za-z0-9_]+)|\[\s*([A-Za-z0-9_]+)\s*\])\s*\}$`)
	// {FIELD} when FIELD begins uppercase (TableName, ColumnName, DatabaseName, ...)
	capitalFieldRegex = regexp.MustCompile(`^\{\s*([A-Z][A-Za-z0-9_]*)\s*\}$`)
)

// Normalize walks plan's phase arguments in place and returns it, having
// converted every pure-template value to a canonical Placeholder. Embedded
// templates inside a larger string (e.g. "between {StartDate} and
// {EndDate}") are left as strings; they are resolved at execution time by
// regex substitution, not here.
func (n *Normalizer) Normalize(plan *MetaPlan) *MetaPlan {
	for i := range plan.Phases {
		plan.Phases[i].Arguments = n.normalizeArgs(plan.Phases[i].Arguments)
	}
	return plan
}

func (n *Normalizer) normalizeArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	for k, v := range args {
		args[k] = n.normalizeValue(v)
	}
	return args
}

func (n *Normalizer) normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if ph, ok := templatePlaceholder(val); ok {
			return ph
		}
		return val
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = n.normalizeValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = n.normalizeValue(inner)
		}
		return val
	default:
		return v
	}
}

// templatePlaceholder recognises a value that is *entirely* a loop-item or
// capitalised-field template and converts it to the canonical
// {source: loop_item, key} map form. Returns ok=false for anything else,
// including templates embedded in a larger string.
func templatePlaceholder(s string) (map[string]interface{}, bool) {
	if m := loopItemDoubleBraceRegex.FindStringSubmatch(s); m != nil {
		key := firstNonEmpty(m[1], m[2])
		return map[string]interface{}{"source": string(SourceLoopItem), "key": key}, true
	}
	if m := loopItemSingleBraceRegex.FindStringSubmatch(s); m != nil {
		key := firstNonEmpty(m[1], m[2])
		return map[string]interface{}{"source": string(SourceLoopItem), "key": key}, true
	}
	if m := capitalFieldRegex.FindStringSubmatch(s); m != nil {
		return map[string]interface{}{"source": string(SourceLoopItem), "key": m[1]}, true
	}
	return nil, false
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
