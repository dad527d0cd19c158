// Package retrieval queries the knowledge-base search service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	URL   string
	Limit int
	HTTP  *http.Client
}

func NewClient(url string, limit int) *Client {
	if limit <= 0 {
		limit = 3
	}
	return &Client{URL: url, Limit: limit, HTTP: &http.Client{Timeout: 3 * time.Second}}
}

type searchRequest struct {
	Query           string `json:"query"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Limit           int    `json:"limit"`
}

type searchResponse struct {
	Chunks []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"chunks"`
}

// Retrieve returns the joined text of the best matching chunks. A client
// without a URL, or a call without a knowledge base, returns "".
func (c *Client) Retrieve(ctx context.Context, query, knowledgeBaseID string) (string, error) {
	if c == nil || c.URL == "" || knowledgeBaseID == "" || strings.TrimSpace(query) == "" {
		return "", nil
	}
	body, _ := json.Marshal(searchRequest{Query: query, KnowledgeBaseID: knowledgeBaseID, Limit: c.Limit})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("retrieval: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("retrieval: status=%d body=%s", resp.StatusCode, string(b))
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("retrieval: decode: %w", err)
	}
	parts := make([]string, 0, len(out.Chunks))
	for _, ch := range out.Chunks {
		if t := strings.TrimSpace(ch.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
