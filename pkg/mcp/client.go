package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"

	endpointMCP    = "/mcp"
	endpointHealth = "/health"

	toolsCacheKey = "tools"
)

// Client talks to an MCP server over the streamable HTTP transport. It lists
// tools and invokes them, so it can serve as both tools.ToolSource and tools.Invoker.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string

	toolsCache *expirable.LRU[string, []tools.ToolDescriptor]
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	defaults := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = defaults.ProtocolVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ToolsCacheTTL <= 0 {
		cfg.ToolsCacheTTL = defaults.ToolsCacheTTL
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaults.ClientName
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		toolsCache: expirable.NewLRU[string, []tools.ToolDescriptor](1, nil, cfg.ToolsCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Connect performs the initialize handshake and records the session id.
func (c *Client) Connect(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": c.cfg.ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    c.cfg.ClientName,
			"version": "1.0.0",
		},
	}
	resp, err := c.call(ctx, endpointMCP, "initialize", params)
	if err != nil {
		return errors.Wrap(err, "initialize failed")
	}
	if resp.Error != nil {
		return errors.Wrap(resp.Error, "initialize failed")
	}
	if c.SessionID() == "" {
		return errors.New("server did not return a session id")
	}

	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		log.Warn().Err(err).Msg("mcp: initialized notification failed")
	}

	log.Info().Str("url", c.cfg.URL).Str("session", c.SessionID()).Msg("mcp: connected")
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.SessionID() != "" {
		return nil
	}
	return c.Connect(ctx)
}

// Ping checks the health endpoint of the server.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.call(ctx, endpointHealth, "ping", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListTools returns the tools offered by the server. The list is cached for
// Config.ToolsCacheTTL.
func (c *Client) ListTools(ctx context.Context) ([]tools.ToolDescriptor, error) {
	if cached, ok := c.toolsCache.Get(toolsCacheKey); ok {
		return cached, nil
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, endpointMCP, "tools/list", nil)
	if err != nil {
		return nil, errors.Wrap(err, "tools/list failed")
	}
	if resp.Error != nil {
		return nil, errors.Wrap(resp.Error, "tools/list failed")
	}

	var result struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrap(err, "could not decode tools/list result")
	}

	ret := make([]tools.ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		if t.Name == "" {
			log.Warn().Msg("mcp: skipping tool without a name")
			continue
		}
		ret = append(ret, tools.ToolDescriptor{
			Name:              t.Name,
			Description:       t.Description,
			RequiredArguments: requiredFromSchema(t.InputSchema),
			InputSchema:       t.InputSchema,
		})
	}

	c.toolsCache.Add(toolsCacheKey, ret)
	log.Debug().Int("count", len(ret)).Msg("mcp: listed tools")
	return ret, nil
}

func requiredFromSchema(schema json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	return s.Required
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content           []contentItem   `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError"`
}

// ToolCallError is returned when the server reports a failed tool call.
type ToolCallError struct {
	Tool    string
	Message string
}

func (e *ToolCallError) Error() string {
	return "tool " + e.Tool + " failed: " + e.Message
}

// InvokeTool calls a tool through tools/call. Transport failures are retried
// with exponential backoff; errors reported by the server are not.
func (c *Client) InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}

	var resp *rpcResponse
	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.backoff(attempt)
			log.Debug().Str("tool", name).Int("attempt", attempt).Dur("backoff", delay).Err(err).Msg("mcp: retrying tool call")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err = c.call(ctx, endpointMCP, "tools/call", params)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "tools/call %s failed", name)
	}
	if resp.Error != nil {
		return nil, &ToolCallError{Tool: name, Message: resp.Error.Message}
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrap(err, "could not decode tools/call result")
	}

	text := joinText(result.Content)
	if result.IsError {
		return nil, &ToolCallError{Tool: name, Message: text}
	}
	if len(result.Content) == 0 {
		if len(result.StructuredContent) > 0 {
			return result.StructuredContent, nil
		}
		return string(resp.Result), nil
	}
	return text, nil
}

func joinText(items []contentItem) string {
	var texts []string
	for _, item := range items {
		if item.Type == "text" {
			texts = append(texts, item.Text)
		}
	}
	if len(texts) == 0 && len(items) > 0 {
		b, _ := json.Marshal(items)
		return string(b)
	}
	return strings.Join(texts, "\n")
}

// Close forgets the session and the cached tool list.
func (c *Client) Close() error {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	c.toolsCache.Purge()
	return nil
}

func (c *Client) call(ctx context.Context, endpoint string, method string, params interface{}) (*rpcResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
	httpResp, err := c.post(ctx, endpoint, req, true)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readSSE(httpResp.Body)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s response", method)
	}
	return &resp, nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpResp, err := c.post(ctx, endpointMCP, rpcRequest{JSONRPC: jsonRPCVersion, Method: method}, false)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return httpResp.Body.Close()
}

func (c *Client) post(ctx context.Context, endpoint string, body rpcRequest, expectResponse bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode request")
	}

	url := c.cfg.URL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if expectResponse {
		req.Header.Set("Accept", "application/json, text/event-stream")
	}
	req.Header.Set(headerProtocolVersion, c.cfg.ProtocolVersion)
	if sid := c.SessionID(); sid != "" {
		req.Header.Set(headerSessionID, sid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", url)
	}

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = sid
		}
		c.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, errors.Errorf("mcp endpoint not found: %s", url)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if !expectResponse {
			log.Warn().Int("status", resp.StatusCode).Str("body", string(b)).Msg("mcp: notification rejected")
			return nil, errors.Errorf("notification rejected with status %d", resp.StatusCode)
		}
		return nil, errors.Errorf("mcp server error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return resp, nil
}

var _ tools.ToolSource = (*Client)(nil)
var _ tools.Invoker = (*Client)(nil)
