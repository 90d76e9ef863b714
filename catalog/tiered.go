package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rgeissen/turnengine/core"
)

// TieredProvider implements two-phase capability resolution: below
// MinToolsForTiering it hands the planner the full catalog text directly;
// at or above it, a first LM call selects tool names from lightweight
// CapabilitySummary lines, and only the selected tools' full schemas are
// rendered into the planning prompt. This keeps planning prompt size flat
// as a deployment's tool count grows, without changing plan semantics.
type TieredProvider struct {
	catalog            *Catalog
	aiClient           core.AIClient
	logger             core.Logger
	MinToolsForTiering int
}

// NewTieredProvider wires a TieredProvider over catalog. threshold is the
// tool count at or above which tier-1 selection kicks in (core.Config's
// Planning.TieredCapabilityThreshold).
func NewTieredProvider(catalog *Catalog, aiClient core.AIClient, logger core.Logger, threshold int) *TieredProvider {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if threshold <= 0 {
		threshold = 25
	}
	return &TieredProvider{catalog: catalog, aiClient: aiClient, logger: logger, MinToolsForTiering: threshold}
}

// ResolveCatalogText returns the catalog text to embed in a planning
// prompt for goal, tiering down to a selected subset when the visible tool
// count is at or above MinToolsForTiering.
func (p *TieredProvider) ResolveCatalogText(ctx context.Context, goal string) (string, error) {
	text, _, err := p.ResolveCatalog(ctx, goal)
	return text, err
}

// ResolveCatalog is ResolveCatalogText plus the set of names (lowercased)
// actually shown to the LM this call, used to drive
// planning.ValidateAgainstCatalog's hallucinated-reference check. Below
// MinToolsForTiering, or with no AI client wired in, every catalog name is
// "allowed" since the full catalog was rendered.
func (p *TieredProvider) ResolveCatalog(ctx context.Context, goal string) (string, map[string]bool, error) {
	if p.catalog.ToolCount() < p.MinToolsForTiering || p.aiClient == nil {
		return p.catalog.FormatForLLM(nil), p.catalog.AllNames(), nil
	}

	summaries := p.catalog.CapabilitySummaries()
	selected, err := p.selectTools(ctx, goal, summaries)
	if err != nil {
		p.logger.WarnWithContext(ctx, "tiered selection failed, falling back to full catalog", map[string]interface{}{
			"error": err.Error(),
		})
		return p.catalog.FormatForLLM(nil), p.catalog.AllNames(), nil
	}

	restrict := make(map[string]bool, len(selected))
	allowed := make(map[string]bool, len(selected))
	for _, name := range selected {
		restrict[name] = true
		allowed[strings.ToLower(name)] = true
	}
	return p.catalog.FormatForLLM(restrict), allowed, nil
}

func (p *TieredProvider) selectTools(ctx context.Context, goal string, summaries []CapabilitySummary) ([]string, error) {
	var b strings.Builder
	b.WriteString("You are selecting which tools are relevant to a task. ")
	b.WriteString("Respond with a JSON array of tool names only, no commentary.\n\nTask: ")
	b.WriteString(goal)
	b.WriteString("\n\nTools:\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Summary)
	}

	resp, err := p.aiClient.GenerateResponse(ctx, b.String(), &core.AIOptions{
		Temperature: 0,
		MaxTokens:   500,
		Phase:       core.PhaseTactical,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: tool selection call: %w", err)
	}

	start := strings.Index(resp.Content, "[")
	end := strings.LastIndex(resp.Content, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("catalog: no JSON array in selection response")
	}

	var names []string
	if err := json.Unmarshal([]byte(resp.Content[start:end+1]), &names); err != nil {
		return nil, fmt.Errorf("catalog: parse selection response: %w", err)
	}
	return names, nil
}
