package planning

import (
	"strings"

	"github.com/rgeissen/turnengine/toolproto"
)

// synonymGroups lists argument-name spellings the planner's tools and LM
// output use interchangeably, so a validator/rewriter rename is a table
// lookup before it falls back to fuzzy matching.
var synonymGroups = [][]string{
	{"table", "table_name", "tablename"},
	{"column", "column_name", "columnname", "field"},
	{"database", "database_name", "databasename", "db"},
	{"start", "start_date", "startdate", "from_date"},
	{"end", "end_date", "enddate", "to_date"},
	{"query", "sql", "sql_query"},
}

func canonicalSynonym(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, group := range synonymGroups {
		for _, candidate := range group {
			if candidate == lower {
				return group[0], true
			}
		}
	}
	return "", false
}

func sameSynonymGroup(a, b string) bool {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	if al == bl {
		return true
	}
	for _, group := range synonymGroups {
		inA, inB := false, false
		for _, c := range group {
			if c == al {
				inA = true
			}
			if c == bl {
				inB = true
			}
		}
		if inA && inB {
			return true
		}
	}
	return false
}

// ToolLookup is the minimal collaborator Validator needs: resolve a tool
// name to its descriptor. catalog.Catalog.Tool satisfies this signature.
type ToolLookup func(name string) (toolproto.ToolDescriptor, bool)

// Validator applies deterministic plan-shape rules in a fixed order. Each
// triggered rule rewrites the phase in place and records a CorrectionEvent.
type Validator struct {
	lookupFn ToolLookup
}

// NewValidator builds a Validator against lookup, used to resolve each
// phase's declared tool to its argument schema.
func NewValidator(lookup ToolLookup) *Validator {
	return &Validator{lookupFn: lookup}
}

// Lookup exposes the validator's catalog-resolution function so other
// pipeline stages (ValidateAgainstCatalog's tiered-selection-miss check) can
// reuse the same tool lookup without a second collaborator wired in.
func (v *Validator) Lookup(name string) (toolproto.ToolDescriptor, bool) {
	return v.lookupFn(name)
}

// Validate applies rules 1-6 to every phase of plan, in order, and returns
// the corrections made.
func (v *Validator) Validate(plan *MetaPlan) []CorrectionEvent {
	var events []CorrectionEvent
	for i := range plan.Phases {
		events = append(events, v.validatePhase(&plan.Phases[i])...)
	}
	return events
}

func (v *Validator) validatePhase(p *Phase) []CorrectionEvent {
	var events []CorrectionEvent

	// Rule 1 (null-valued executable_prompt -> remove the field) is
	// enforced by construction: ParsePlan never leaves ExecutablePrompt
	// set to the JSON null sentinel, only to "" or a real name.

	// Rules 2/3 require knowing whether a name is a tool or a prompt; the
	// lookup function only resolves tools, so a name absent from the tool
	// catalog but present as the sole relevant_tools entry is treated as a
	// prompt reference (rule 2), and the inverse (rule 3) catches an
	// executable_prompt value that *is* a known tool.
	if len(p.RelevantTools) == 1 && p.ExecutablePrompt == "" {
		if _, isTool := v.lookupFn(p.RelevantTools[0]); !isTool {
			p.ExecutablePrompt = p.RelevantTools[0]
			p.RelevantTools = nil
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "prompt_in_relevant_tools",
				Description: "moved " + p.ExecutablePrompt + " from relevant_tools to executable_prompt"})
		}
	}
	if p.ExecutablePrompt != "" {
		if tool, isTool := v.lookupFn(p.ExecutablePrompt); isTool && tool.Name != "" {
			p.RelevantTools = []string{p.ExecutablePrompt}
			p.ExecutablePrompt = ""
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "tool_in_executable_prompt",
				Description: "moved " + tool.Name + " from executable_prompt to relevant_tools"})
		}
	}

	// Rules 4-6 only apply to tool phases with a resolvable schema.
	if len(p.RelevantTools) != 1 {
		return events
	}
	tool, ok := v.lookupFn(p.RelevantTools[0])
	if !ok {
		return events
	}

	// Rule 4: drop extraneous arguments.
	for name := range p.Arguments {
		if _, ok := tool.ArgSpecByName(name); !ok {
			if !hasSynonymArg(tool, name) {
				delete(p.Arguments, name)
				events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "extraneous_argument",
					Description: "removed extraneous argument " + name})
			}
		}
	}

	// Rule 5: fuzzy/synonym rename of unmatched provided names against
	// missing required schema names.
	missing := missingRequiredArgs(tool, p.Arguments)
	for _, provided := range unmatchedArgNames(tool, p.Arguments) {
		best, bestRatio := "", 0.0
		for _, want := range missing {
			if sameSynonymGroup(provided, want) {
				best, bestRatio = want, 1.0
				break
			}
			if r := similarity(provided, want); r > bestRatio {
				best, bestRatio = want, r
			}
		}
		if best != "" && bestRatio >= 0.7 {
			p.Arguments[best] = p.Arguments[provided]
			delete(p.Arguments, provided)
			events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "fuzzy_rename",
				Description: "renamed argument " + provided + " to " + best})
		}
	}

	// Rule 6: final missing-required check.
	if stillMissing := missingRequiredArgs(tool, p.Arguments); len(stillMissing) > 0 {
		p.NeedsRefinement = true
		events = append(events, CorrectionEvent{Phase: p.Phase, Rule: "needs_refinement",
			Description: "still missing required arguments after validation"})
	}

	return events
}

func hasSynonymArg(tool toolproto.ToolDescriptor, providedName string) bool {
	for _, a := range tool.Args {
		if sameSynonymGroup(a.Name, providedName) {
			return true
		}
	}
	return false
}

func missingRequiredArgs(tool toolproto.ToolDescriptor, args map[string]interface{}) []string {
	var missing []string
	for _, a := range tool.Args {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			missing = append(missing, a.Name)
		}
	}
	return missing
}

func unmatchedArgNames(tool toolproto.ToolDescriptor, args map[string]interface{}) []string {
	var unmatched []string
	for name := range args {
		if _, ok := tool.ArgSpecByName(name); !ok {
			unmatched = append(unmatched, name)
		}
	}
	return unmatched
}

// similarity is a difflib-style ratio in [0,1]: twice the number of
// matching characters (via longest-common-subsequence length) over the
// combined length of both strings.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	lcs := lcsLength(a, b)
	if len(a)+len(b) == 0 {
		return 0
	}
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

func lcsLength(a, b string) int {
	m, n := len(a), len(b)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[n]
}
