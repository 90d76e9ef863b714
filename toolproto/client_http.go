package toolproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rgeissen/turnengine/core"
)

// HTTPClient is a reference Client implementation speaking streamable HTTP
// to a model-context-protocol server: GET /tools and GET /prompts for the
// catalog, POST /tools/{name} to invoke, POST /prompts/{name} to load a
// prompt body.
// A stdio transport is an equally valid Client implementation; nothing in
// planning/execution depends on HTTP specifically.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  core.Logger
}

// NewHTTPClient builds a Client against baseURL using httpClient (pass a
// telemetry.NewTracedHTTPClient result to get trace propagation on every
// tool call).
func NewHTTPClient(baseURL string, httpClient *http.Client, logger core.Logger) *HTTPClient {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient, logger: logger}
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var tools []ToolDescriptor
	if err := c.getJSON(ctx, "/tools", &tools); err != nil {
		return nil, fmt.Errorf("toolproto: list tools: %w", err)
	}
	return tools, nil
}

func (c *HTTPClient) ListPrompts(ctx context.Context) ([]PromptDescriptor, error) {
	var prompts []PromptDescriptor
	if err := c.getJSON(ctx, "/prompts", &prompts); err != nil {
		return nil, fmt.Errorf("toolproto: list prompts: %w", err)
	}
	return prompts, nil
}

func (c *HTTPClient) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResponse, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("toolproto: marshal tool args: %w", err)
	}

	c.logger.DebugWithContext(ctx, "invoking tool", map[string]interface{}{
		"tool_name": name,
		"url":       c.baseURL + "/tools/" + name,
	})

	respBody, status, err := c.post(ctx, "/tools/"+name, body)
	if err != nil {
		return nil, fmt.Errorf("toolproto: invoke %s: %w", name, err)
	}

	var resp ToolResponse
	if jsonErr := json.Unmarshal(respBody, &resp); jsonErr != nil {
		return nil, &core.ToolError{
			Code:      "PARSE_ERROR",
			Message:   fmt.Sprintf("tool %s returned non-JSON response (status %d)", name, status),
			Category:  core.CategoryServiceError,
			Retryable: true,
		}
	}
	if resp.Status == "" {
		if status == http.StatusOK {
			resp.Status = "success"
		} else {
			resp.Status = "error"
		}
	}
	return &resp, nil
}

func (c *HTTPClient) LoadPrompt(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("toolproto: marshal prompt args: %w", err)
	}
	respBody, _, err := c.post(ctx, "/prompts/"+name, body)
	if err != nil {
		return "", fmt.Errorf("toolproto: load prompt %s: %w", name, err)
	}
	var out struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("toolproto: decode prompt %s: %w", name, err)
	}
	return out.Body, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}
