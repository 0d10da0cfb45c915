// ABOUTME: Web search tool backed by the Exa search API
// ABOUTME: Returns result titles, URLs, and text snippets for a query

package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const exaSearchURL = "https://api.exa.ai/search"

// WebSearchTool queries the Exa search API.
type WebSearchTool struct {
	apiKey     string
	client     *http.Client
	numResults int
}

// NewWebSearchTool creates the web search tool. Pass nil to use the
// default HTTP client.
func NewWebSearchTool(apiKey string, client *http.Client) *WebSearchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearchTool{apiKey: apiKey, client: client, numResults: 5}
}

func (t *WebSearchTool) Name() string { return NameWebSearch }

func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date information. Use when the answer depends on current events or facts outside your knowledge."
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"}
		},
		"required": ["query"]
	}`)
}

type webSearchArgs struct {
	Query string `json:"query"`
}

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Execute performs one search request and returns the result list.
func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var req webSearchArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("parsing search args: %w", err)
	}
	if req.Query == "" {
		return nil, errors.New("query is required")
	}
	if t.apiKey == "" {
		return nil, errors.New("web search is not configured")
	}

	body := exaRequest{Query: req.Query, NumResults: t.numResults}
	body.Contents.Text = true
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, exaSearchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, snippet)
	}

	var searchResp exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]map[string]string, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		text := r.Text
		if len(text) > 500 {
			text = text[:500]
		}
		results = append(results, map[string]string{
			"title": r.Title,
			"url":   r.URL,
			"text":  text,
		})
	}

	out, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return nil, fmt.Errorf("encoding search result: %w", err)
	}
	return out, nil
}
