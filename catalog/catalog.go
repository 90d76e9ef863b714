// Package catalog holds the per-turn view of available tools and prompts:
// refresh from the protocol client, LM-facing text rendering, and tiered
// (summary-then-full) resolution for large deployments.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/toolproto"
)

// CapabilitySummary is the lightweight view of a tool sent to the LM during
// tiered selection: name and one-line purpose, no parameter schema.
type CapabilitySummary struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Catalog is a per-turn capability bundle: the current tool/prompt set,
// resolved once at turn start and held for the turn's lifetime. This
// replaces a process-wide mutable catalog (no component reaches for a
// global) — a profile override simply builds a different Catalog and hands
// it down, with nothing to restore at turn end.
type Catalog struct {
	mu      sync.RWMutex
	tools   map[string]toolproto.ToolDescriptor
	prompts map[string]toolproto.PromptDescriptor
	order   []string // tool names in catalog order, for stable LM prompt rendering

	logger core.Logger
}

// New builds an empty Catalog. Call Refresh to populate it.
func New(logger core.Logger) *Catalog {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Catalog{
		tools:   make(map[string]toolproto.ToolDescriptor),
		prompts: make(map[string]toolproto.PromptDescriptor),
		logger:  logger,
	}
}

// Refresh reloads the tool and prompt lists from client. Call once at turn
// start, or periodically in a long-running host process via
// core.Config.Catalog.RefreshInterval.
func (c *Catalog) Refresh(ctx context.Context, client toolproto.Client) error {
	start := time.Now()

	tools, err := client.ListTools(ctx)
	if err != nil {
		c.logger.ErrorWithContext(ctx, "catalog refresh: list tools failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("catalog: list tools: %w", err)
	}
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		c.logger.ErrorWithContext(ctx, "catalog refresh: list prompts failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("catalog: list prompts: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = make(map[string]toolproto.ToolDescriptor, len(tools))
	c.order = c.order[:0]
	for _, t := range tools {
		c.tools[t.Name] = t
		c.order = append(c.order, t.Name)
	}
	c.prompts = make(map[string]toolproto.PromptDescriptor, len(prompts))
	for _, p := range prompts {
		c.prompts[p.Name] = p
	}

	c.logger.InfoWithContext(ctx, "catalog refreshed", map[string]interface{}{
		"tool_count":    len(tools),
		"prompt_count":  len(prompts),
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return nil
}

// Tool returns the descriptor for name, if present.
func (c *Catalog) Tool(name string) (toolproto.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Prompt returns the descriptor for name, if present.
func (c *Catalog) Prompt(name string) (toolproto.PromptDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[name]
	return p, ok
}

// Tools returns every tool in catalog order.
func (c *Catalog) Tools() []toolproto.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]toolproto.ToolDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	return out
}

// Prompts returns every prompt, in map iteration order (prompts have no
// stable ordering requirement — only tools do, for LM prompt stability).
func (c *Catalog) Prompts() []toolproto.PromptDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]toolproto.PromptDescriptor, 0, len(c.prompts))
	for _, p := range c.prompts {
		out = append(out, p)
	}
	return out
}

// ToolCount reports how many tools are visible to the LM (excludes
// Internal).
func (c *Catalog) ToolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, t := range c.tools {
		if !t.Internal {
			n++
		}
	}
	return n
}

// HasTool reports whether name exists, used by hallucinated-tool validation.
func (c *Catalog) HasTool(name string) bool {
	_, ok := c.Tool(name)
	return ok
}

// HasPrompt reports whether name exists.
func (c *Catalog) HasPrompt(name string) bool {
	_, ok := c.Prompt(name)
	return ok
}

// AllNames returns every visible tool and prompt name, lowercased. It is the
// permissive allowed-set a tiered provider falls back to when it skips
// selection (below threshold, or no AI client): hallucination validation
// still catches a name that doesn't exist anywhere, even though the prompt
// showed the full catalog rather than a tiered subset.
func (c *Catalog) AllNames() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.tools)+len(c.prompts))
	for name, t := range c.tools {
		if t.Internal {
			continue
		}
		out[strings.ToLower(name)] = true
	}
	for name := range c.prompts {
		out[strings.ToLower(name)] = true
	}
	return out
}

// CapabilitySummaries renders the lightweight tier-1 view, one line per
// visible tool, used by the tiered resolver's first LM call.
func (c *Catalog) CapabilitySummaries() []CapabilitySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CapabilitySummary, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		if t.Internal {
			continue
		}
		out = append(out, CapabilitySummary{Name: t.Name, Summary: firstSentence(t.Description)})
	}
	return out
}

// FormatForLLM renders the full tool+prompt catalog as text for the
// planning prompt. restrictTo, if non-nil, limits rendering to that set
// of tool/prompt names (used both for a phase's permitted catalog and for
// tier-2 tiered resolution).
func (c *Catalog) FormatForLLM(restrictTo map[string]bool) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, name := range c.order {
		t := c.tools[name]
		if t.Internal {
			continue
		}
		if restrictTo != nil && !restrictTo[name] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, a := range t.Args {
			req := ""
			if a.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", a.Name, a.Type, req, a.Description)
		}
	}

	if len(c.prompts) > 0 {
		b.WriteString("\nAvailable prompts:\n")
		for name, p := range c.prompts {
			if restrictTo != nil && !restrictTo[name] {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Description)
			for _, a := range p.Args {
				req := ""
				if a.Required {
					req = ", required"
				}
				fmt.Fprintf(&b, "    %s (%s%s): %s\n", a.Name, a.Type, req, a.Description)
			}
		}
	}

	return b.String()
}

func firstSentence(s string) string {
	if idx := strings.IndexAny(s, ".\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
