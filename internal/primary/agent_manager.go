package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HeaderFunc supplies per-client request headers, typically credentials read
// from the primary client. Headers are used for the request only.
type HeaderFunc func(ctx context.Context, client Client) (http.Header, error)

// AgentManagerOption configures an AgentManagerClient.
type AgentManagerOption func(*AgentManagerClient)

// WithHTTPClient overrides the http.Client.
func WithHTTPClient(client *http.Client) AgentManagerOption {
	return func(c *AgentManagerClient) {
		if client != nil {
			c.http = client
		}
	}
}

// WithHeaderFunc sets the per-client header source.
func WithHeaderFunc(fn HeaderFunc) AgentManagerOption {
	return func(c *AgentManagerClient) {
		c.headers = fn
	}
}

// AgentManagerClient lists agents over HTTP from the agent manager running at
// each client's endpoint.
type AgentManagerClient struct {
	http    *http.Client
	path    string
	headers HeaderFunc
}

// NewAgentManagerClient creates an AgentLister calling
// GET <client.Endpoint><path>?limit=&offset=.
func NewAgentManagerClient(path string, timeout time.Duration, opts ...AgentManagerOption) *AgentManagerClient {
	if path == "" {
		path = "/api/agents"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &AgentManagerClient{
		http: &http.Client{Timeout: timeout},
		path: path,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ AgentLister = (*AgentManagerClient)(nil)

type agentPage struct {
	Agents []AgentSummary `json:"agents"`
	Data   []AgentSummary `json:"data"`
}

func (c *AgentManagerClient) ListAgents(ctx context.Context, client Client, limit, offset int) ([]AgentSummary, error) {
	if strings.TrimSpace(client.Endpoint) == "" {
		return nil, fmt.Errorf("client %s has no endpoint", client.ID)
	}

	endpoint, err := url.Parse(strings.TrimRight(client.Endpoint, "/") + c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent manager url: %w", err)
	}
	query := endpoint.Query()
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent manager request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		headers, err := c.headers(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve agent manager credentials: %w", err)
		}
		for key, values := range headers {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent manager: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent manager returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent manager response: %w", err)
	}
	return decodeAgents(body)
}

// decodeAgents accepts a bare array or an object wrapping it in "agents" or
// "data".
func decodeAgents(body []byte) ([]AgentSummary, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var agents []AgentSummary
		if err := json.Unmarshal(body, &agents); err != nil {
			return nil, fmt.Errorf("failed to decode agents: %w", err)
		}
		return agents, nil
	}

	var page agentPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	if page.Agents != nil {
		return page.Agents, nil
	}
	if page.Data != nil {
		return page.Data, nil
	}
	return []AgentSummary{}, nil
}
