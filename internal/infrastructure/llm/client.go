package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/domain/entity"
	"github.com/deltaengine/delta/internal/infrastructure/llm/openai"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

// Client is a non-streaming OpenAI-chat-completion-compatible HTTP client
// (§6.4). The Run Engine's scheduler is synchronous per iteration, so
// unlike the teacher this client has no streaming variant.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New returns a Client targeting baseURL (e.g. "https://api.openai.com/v1")
// with the given API key.
func New(baseURL, apiKey string, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		logger: logger,
	}
}

// ToolSchema is one entry for the request's tools[] array.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenerateRequest is the engine-facing request shape; Generate translates
// it to the wire format in internal/infrastructure/llm/openai.
type GenerateRequest struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Messages    []entity.Message
	Tools       []ToolSchema
}

// GenerateResponse is the engine-facing response shape.
type GenerateResponse struct {
	Content   string
	ToolCalls []entity.ToolCallDescriptor
}

// retryPolicy implements §4.1 step 3 / §6.4: three attempts total, base 1s,
// factor 2, jitter ±20%.
func retryPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     1 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// Generate calls the chat-completion endpoint, retrying transport failures
// and 5xx/timeout responses with exponential backoff; a 429 honors
// Retry-After when present.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	apiReq := c.buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return GenerateResponse{}, apperr.NewLLMTransportError("marshal request", err)
	}

	resp, err := backoff.Retry(ctx, func() (*openai.Response, error) {
		return c.attempt(ctx, body)
	}, backoff.WithBackOff(retryPolicy()), backoff.WithMaxTries(3))
	if err != nil {
		return GenerateResponse{}, apperr.NewLLMTransportError("chat completion request failed", err)
	}

	return c.toGenerateResponse(resp)
}

func (c *Client) attempt(ctx context.Context, body []byte) (*openai.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed openai.Response
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("parse response: %w", err))
		}
		return &parsed, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return nil, backoff.RetryAfter(d)
		}
		return nil, fmt.Errorf("rate limited: %s", string(respBody))

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))

	default:
		return nil, backoff.Permanent(fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody)))
	}
}

func parseRetryAfter(header string) (int, bool) {
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}

func (c *Client) buildAPIRequest(req GenerateRequest) *openai.Request {
	apiReq := &openai.Request{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		apiMsg := openai.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.CallID,
				Type: "function",
				Function: openai.ToolCallFunc{
					Name:      tc.Name,
					Arguments: openai.MarshalToolCallArgs(tc.Arguments),
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  openai.ConvertSchema(t.Parameters),
			},
		})
	}
	return apiReq
}

func (c *Client) toGenerateResponse(resp *openai.Response) (GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, apperr.NewLLMTransportError("empty response: no choices", nil)
	}
	choice := resp.Choices[0]
	out := GenerateResponse{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return GenerateResponse{}, apperr.NewLLMTransportError(
					fmt.Sprintf("parse tool call arguments for %s", tc.Function.Name), err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, entity.ToolCallDescriptor{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}
