package execution

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/planning"
	"github.com/rgeissen/turnengine/toolproto"
)

// temporalPhraseRegex recognises a date argument given as a phrase rather
// than a concrete date, the date-range orchestrator's trigger condition.
var temporalPhraseRegex = regexp.MustCompile(`(?i)\b(last \d+ days?|past \d+ days?|yesterday|today|this week|this month|\d+ days? ago|between .+ and .+)\b`)

// dayCountRegex pulls the day count out of a phrase like "last 5 days" or
// "past 5 days", so Resolve can size the window instead of assuming 7.
var dayCountRegex = regexp.MustCompile(`(\d+)\s*days?`)

// yesterdayRegex recognises "yesterday" specifically, distinct from "today",
// so a single-date resolution can apply the -1 day offset.
var yesterdayRegex = regexp.MustCompile(`(?i)\byesterday\b`)

// ColumnDescription is one row of a table's schema, as base_columnDescription
// returns it.
type ColumnDescription struct {
	Name     string
	DataType string // "numeric", "character", or whatever the source reports
}

// ColumnDescriber looks up a table's columns; normally backed by invoking
// the catalog's base_columnDescription tool.
type ColumnDescriber func(ctx context.Context, table string) ([]ColumnDescription, error)

// ColumnTypeClassifier decides whether tool requires "numeric", "character",
// or "any" columns, normally a cached single LM call per tool name.
type ColumnTypeClassifier func(ctx context.Context, tool toolproto.ToolDescriptor) (string, error)

// ColumnIterationOrchestrator expands a column-scoped phase (one whose tool
// declares Scope == ScopeColumn and has no column_name argument) into one
// tool invocation per loop item per compatible column.
type ColumnIterationOrchestrator struct {
	Describe   ColumnDescriber
	Classify   ColumnTypeClassifier
	classified map[string]string
}

// NewColumnIterationOrchestrator builds one against describe/classify.
func NewColumnIterationOrchestrator(describe ColumnDescriber, classify ColumnTypeClassifier) *ColumnIterationOrchestrator {
	return &ColumnIterationOrchestrator{Describe: describe, Classify: classify, classified: make(map[string]string)}
}

// AppliesTo reports whether phase triggers column-iteration expansion.
func (o *ColumnIterationOrchestrator) AppliesTo(tool toolproto.ToolDescriptor, args map[string]interface{}) bool {
	if tool.Scope != toolproto.ScopeColumn {
		return false
	}
	_, hasColumn := args["column_name"]
	return !hasColumn
}

// Item is one expanded call the orchestrator produced: a concrete table and
// column pair to substitute into the phase's arguments before invocation.
type Item struct {
	Table  string
	Column string
}

// Expand returns one Item per (loopTable, compatible column) pair, loading
// the required data type once per tool (cached) and the column list once
// per table.
func (o *ColumnIterationOrchestrator) Expand(ctx context.Context, tool toolproto.ToolDescriptor, tables []string) ([]Item, error) {
	requiredType := tool.RequiredDataType
	if requiredType == "" {
		cached, ok := o.classified[tool.Name]
		if !ok {
			classified, err := o.Classify(ctx, tool)
			if err != nil {
				return nil, fmt.Errorf("execution: classify column type for %s: %w", tool.Name, err)
			}
			o.classified[tool.Name] = classified
			cached = classified
		}
		requiredType = cached
	}

	var items []Item
	for _, table := range tables {
		columns, err := o.Describe(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("execution: describe columns for %s: %w", table, err)
		}
		for _, col := range columns {
			if requiredType != "any" && !strings.EqualFold(col.DataType, requiredType) {
				continue
			}
			items = append(items, Item{Table: table, Column: col.Name})
		}
	}
	return items, nil
}

// DateClassifier decides whether the user's query calls for a single date
// or a date range, normally a short LM call.
type DateClassifier func(ctx context.Context, userQuery string) (string, error) // "single" or "range"

// DateRangeOrchestrator resolves a date-shaped phase argument that arrived
// as a temporal phrase, or is missing while the tool requires start/end
// dates.
type DateRangeOrchestrator struct {
	Classify DateClassifier
	Clock    core.Clock
}

// NewDateRangeOrchestrator builds one against classify, using clock for
// "today"-relative resolution.
func NewDateRangeOrchestrator(classify DateClassifier, clock core.Clock) *DateRangeOrchestrator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &DateRangeOrchestrator{Classify: classify, Clock: clock}
}

// AppliesTo reports whether tool/args trigger date-range resolution: a
// date-shaped argument that is a temporal phrase, or the tool requires
// start_date/end_date and neither is supplied.
func (o *DateRangeOrchestrator) AppliesTo(tool toolproto.ToolDescriptor, args map[string]interface{}) bool {
	for name, v := range args {
		if s, ok := v.(string); ok && isDateArgName(name) && temporalPhraseRegex.MatchString(s) {
			return true
		}
	}
	_, hasStart := tool.ArgSpecByName("start_date")
	_, hasEnd := tool.ArgSpecByName("end_date")
	if hasStart && hasEnd {
		_, startGiven := args["start_date"]
		_, endGiven := args["end_date"]
		if !startGiven && !endGiven {
			return true
		}
	}
	return false
}

func isDateArgName(name string) bool {
	lower := strings.ToLower(name)
	return lower == "date" || lower == "start_date" || lower == "end_date" || lower == "as_of" || lower == "reporting_date"
}

// Resolution is what the date-range orchestrator decided: either a single
// concrete date, or a start/end pair (paired-parameter or day-by-day list,
// decided by whether the tool supports a range natively).
type Resolution struct {
	Single string
	Start  string
	End    string
	// Days, if non-empty, is the day-by-day expansion for a tool that has
	// no native start_date/end_date pair and must be called once per day.
	Days []string
}

// Resolve classifies userQuery and returns the resolution, using
// supportsRange to decide between a paired-parameter result and a
// day-by-day list for a "range" classification.
func (o *DateRangeOrchestrator) Resolve(ctx context.Context, userQuery string, supportsRange bool) (*Resolution, error) {
	class, err := o.Classify(ctx, userQuery)
	if err != nil {
		return nil, fmt.Errorf("execution: classify date scope: %w", err)
	}

	today := o.Clock.Now()
	phrase := temporalPhraseRegex.FindString(userQuery)

	if class == "single" {
		target := today
		if yesterdayRegex.MatchString(phrase) {
			target = today.AddDate(0, 0, -1)
		}
		return &Resolution{Single: target.Format("2006-01-02")}, nil
	}

	days := dayCount(phrase)
	start := today.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	end := today.Format("2006-01-02")
	if supportsRange {
		return &Resolution{Start: start, End: end}, nil
	}

	var list []string
	cursor := today.AddDate(0, 0, -(days - 1))
	for !cursor.After(today) {
		list = append(list, cursor.Format("2006-01-02"))
		cursor = cursor.AddDate(0, 0, 1)
	}
	return &Resolution{Days: list}, nil
}

// dayCount extracts the day count from a temporal phrase ("last 5 days",
// "past 5 days", "5 days ago"), defaulting to a 7-day window when the
// phrase names no count ("this week", "this month", or no phrase at all).
func dayCount(phrase string) int {
	if m := dayCountRegex.FindStringSubmatch(phrase); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 7
}

// HallucinatedLoopOrchestrator handles a loop phase whose loop_over value
// is a literal list of strings rather than a canonical source reference —
// a common LM hallucination. Each string is merged into the best-matching
// argument slot by heuristic matching against the tool's argument names.
type HallucinatedLoopOrchestrator struct{}

// NewHallucinatedLoopOrchestrator builds one; it is stateless.
func NewHallucinatedLoopOrchestrator() *HallucinatedLoopOrchestrator {
	return &HallucinatedLoopOrchestrator{}
}

// AppliesTo reports whether phase's loop_over is a list of bare strings
// (not placeholder dicts).
func (o *HallucinatedLoopOrchestrator) AppliesTo(p planning.Phase) bool {
	if p.Type != planning.PhaseTypeLoop {
		return false
	}
	list, ok := p.LoopOver.([]interface{})
	if !ok || len(list) == 0 {
		return false
	}
	for _, item := range list {
		if _, isString := item.(string); !isString {
			return false
		}
	}
	return true
}

// Expand returns one resolved-argument map per loop item, merging the
// string into the argument slot whose name best matches by a simple
// name-overlap heuristic (table/column/value/name, in that preference order,
// then the first unfilled string-typed argument).
func (o *HallucinatedLoopOrchestrator) Expand(tool toolproto.ToolDescriptor, baseArgs map[string]interface{}, loopOver []interface{}) []map[string]interface{} {
	slot := bestStringSlot(tool, baseArgs)

	out := make([]map[string]interface{}, 0, len(loopOver))
	for _, item := range loopOver {
		s, _ := item.(string)
		merged := make(map[string]interface{}, len(baseArgs)+1)
		for k, v := range baseArgs {
			merged[k] = v
		}
		if slot != "" {
			merged[slot] = s
		}
		out = append(out, merged)
	}
	return out
}

func bestStringSlot(tool toolproto.ToolDescriptor, baseArgs map[string]interface{}) string {
	preferred := []string{"table_name", "column_name", "value", "name"}
	for _, want := range preferred {
		if spec, ok := tool.ArgSpecByName(want); ok {
			if _, filled := baseArgs[spec.Name]; !filled {
				return spec.Name
			}
		}
	}
	for _, a := range tool.Args {
		if a.Type != "string" {
			continue
		}
		if _, filled := baseArgs[a.Name]; !filled {
			return a.Name
		}
	}
	return ""
}
