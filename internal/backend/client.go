// File: internal/backend/client.go
// Description: HTTP client for the reasoning backend (Anthropic-style
// messages API with tool use). Transient failures retry with exponential
// backoff; auth rejections and malformed requests fail permanently.

package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

const (
	defaultEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion      = "2023-06-01"
)

const defaultSystemPrompt = `You are an autonomous computer-use assistant. You see the screen
through screenshots and act through the declared tools. Observe the current
screen state, then either request the next action(s) toward the task or, when
the task is finished, reply with a short summary and no tool calls.`

// Client reaches the reasoning backend over HTTP.
type Client struct {
	apiKey     string
	endpoint   string
	system     string
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.BackendConfig
}

// New initializes the client. The API key arrives from the environment via
// the config layer and is treated as an opaque token.
func New(cfg config.BackendConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend API key is required (set ANTHROPIC_API_KEY)")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return &Client{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		system:   system,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("backend"),
	}, nil
}

// -- Messages API wire structures (internal to this file) --

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Source    *imageSource   `json:"source,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	// Content is a plain string for text-only tool results and a nested
	// block array when a result carries an image.
	Content any  `json:"content,omitempty"`
	IsError bool `json:"is_error,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type toolParam struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type requestPayload struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	System    string      `json:"system,omitempty"`
	Messages  []message   `json:"messages"`
	Tools     []toolParam `json:"tools,omitempty"`
}

type responseBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type responsePayload struct {
	Content    []responseBlock `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Infer sends the projected history plus the full action catalog and parses
// the structured reply.
func (c *Client) Infer(ctx context.Context, task string, turns []schemas.Turn, catalog []schemas.ActionSpec) (*schemas.ReasoningReply, error) {
	payload := c.buildRequestPayload(task, turns, catalog)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &schemas.BackendError{Err: fmt.Errorf("marshal request payload: %w", err), Permanent: true}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseInterval
	b.Multiplier = c.cfg.RetryMultiplier
	b.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(c.cfg.MaxAttempts-1))

	var reply *schemas.ReasoningReply
	permanent := false

	operation := func() error {
		permanent = false
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			permanent = true
			return backoff.Permanent(fmt.Errorf("create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				permanent = true
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during backend request, retrying...", zap.Error(err))
			return fmt.Errorf("execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := c.handleAPIError(resp.StatusCode, respBody)
			if _, isPerm := apiErr.(*backoff.PermanentError); isPerm {
				permanent = true
			}
			return apiErr
		}

		var responseData responsePayload
		if err := json.Unmarshal(respBody, &responseData); err != nil {
			permanent = true
			return backoff.Permanent(fmt.Errorf("decode response payload: %w", err))
		}

		c.logger.Info("Backend inference complete",
			zap.Duration("duration", duration),
			zap.String("stop_reason", responseData.StopReason),
			zap.Int("input_tokens", responseData.Usage.InputTokens),
			zap.Int("output_tokens", responseData.Usage.OutputTokens),
		)

		reply = parseReply(&responseData)
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		// backoff unwraps Permanent markers before returning; the closure
		// records which class the final failure was.
		return nil, &schemas.BackendError{Err: err, Permanent: permanent}
	}

	return reply, nil
}

func (c *Client) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Backend returned error status", zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("backend API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}

// buildRequestPayload lays the turns out as alternating user/assistant
// messages: each user message carries the tool results of the previous turn
// (plus the task text on the first turn) and the screenshot the backend is
// reasoning about; each assistant message replays that turn's reply.
func (c *Client) buildRequestPayload(task string, turns []schemas.Turn, catalog []schemas.ActionSpec) requestPayload {
	msgs := make([]message, 0, len(turns)*2)

	var prevResults []schemas.ActionResult
	for i, t := range turns {
		user := message{Role: "user"}

		for _, res := range prevResults {
			user.Content = append(user.Content, toolResultBlock(res))
		}
		if i == 0 {
			user.Content = append(user.Content, contentBlock{Type: "text", Text: "Task: " + task})
		}
		if t.Snapshot != nil {
			user.Content = append(user.Content, imageBlock(t.Snapshot))
		}
		msgs = append(msgs, user)

		prevResults = t.Results

		// The in-flight turn has no reply yet; it contributes only the user
		// message above.
		if t.Reply.Text == "" && len(t.Reply.Actions) == 0 && !t.Reply.TaskComplete {
			continue
		}

		assistant := message{Role: "assistant"}
		if t.Reply.Text != "" {
			assistant.Content = append(assistant.Content, contentBlock{Type: "text", Text: t.Reply.Text})
		}
		for _, act := range t.Reply.Actions {
			assistant.Content = append(assistant.Content, contentBlock{
				Type:  "tool_use",
				ID:    act.ID,
				Name:  string(act.Name),
				Input: act.Params,
			})
		}
		msgs = append(msgs, assistant)
	}

	return requestPayload{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    c.system,
		Messages:  msgs,
		Tools:     toolParams(catalog),
	}
}

func toolResultBlock(res schemas.ActionResult) contentBlock {
	block := contentBlock{
		Type:      "tool_result",
		ToolUseID: res.ID,
	}
	if res.Status == schemas.ResultError {
		block.IsError = true
		block.Content = res.ErrorMsg
		return block
	}
	// A capture-screen result hands its screenshot back inside the tool
	// result, so the backend sees what it asked for within the same turn.
	if res.Image != nil {
		var nested []contentBlock
		if res.Output != "" {
			nested = append(nested, contentBlock{Type: "text", Text: res.Output})
		}
		nested = append(nested, imageBlock(res.Image))
		block.Content = nested
		return block
	}
	block.Content = res.Output
	return block
}

func imageBlock(snap *schemas.Snapshot) contentBlock {
	return contentBlock{
		Type: "image",
		Source: &imageSource{
			Type:      "base64",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(snap.PNG),
		},
	}
}

// toolParams renders the action catalog as JSON-schema tool declarations so
// the backend cannot request an unsupported action without detection.
func toolParams(catalog []schemas.ActionSpec) []toolParam {
	tools := make([]toolParam, 0, len(catalog))
	for _, spec := range catalog {
		properties := make(map[string]any, len(spec.Params))
		var required []string
		for _, p := range spec.Params {
			prop := map[string]any{
				"type":        string(p.Kind),
				"description": p.Description,
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		tools = append(tools, toolParam{
			Name:        string(spec.Name),
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return tools
}

// parseReply converts the raw response into the loop's reply form. A reply
// that stops without requesting tools signals task completion.
func parseReply(resp *responsePayload) *schemas.ReasoningReply {
	reply := &schemas.ReasoningReply{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if reply.Text != "" {
				reply.Text += "\n"
			}
			reply.Text += block.Text
		case "tool_use":
			reply.Actions = append(reply.Actions, schemas.ActionRequest{
				ID:     block.ID,
				Name:   schemas.ActionName(block.Name),
				Params: block.Input,
			})
		}
	}
	reply.TaskComplete = len(reply.Actions) == 0 && resp.StopReason == "end_turn"
	return reply
}
