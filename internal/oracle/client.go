// Package oracle talks to the LLM decision provider and parses its replies
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"trading_agent/internal/config"
	"trading_agent/internal/core"
	apperrors "trading_agent/pkg/errors"
	agenthttp "trading_agent/pkg/http"
	"trading_agent/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
)

// Client calls an OpenAI-compatible chat-completions endpoint
type Client struct {
	http     *agenthttp.Client
	model    string
	executor failsafe.Executor[string]
	logger   core.ILogger
}

// bearerSigner adds the Authorization header
type bearerSigner struct {
	apiKey string
}

func (s *bearerSigner) SignRequest(req *http.Request, body []byte) error {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	return nil
}

// NewClient creates an oracle client. The per-call budget is enforced with a
// failsafe timeout policy so a hung provider cannot stall a cycle.
func NewClient(cfg *config.OracleConfig, logger core.ILogger) *Client {
	callTimeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if callTimeout <= 0 {
		callTimeout = 90 * time.Second
	}

	return &Client{
		http:     agenthttp.NewClient(NormalizeBaseURL(cfg.BaseURL), callTimeout, &bearerSigner{apiKey: cfg.APIKey}),
		model:    cfg.Model,
		executor: failsafe.With[string](timeout.New[string](callTimeout)),
		logger:   logger.WithField("component", "oracle"),
	}
}

// NormalizeBaseURL accepts a base URL with or without trailing /v1 or
// /chat/completions and reduces it to the bare host prefix.
func NormalizeBaseURL(baseURL string) string {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	u = strings.TrimRight(u, "/")
	u = strings.TrimSuffix(u, "/v1")
	return strings.TrimRight(u, "/")
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one system+user exchange and returns the reply content
func (c *Client) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()

	content, err := c.executor.GetWithExecution(func(exec failsafe.Execution[string]) (string, error) {
		return c.complete(ctx, systemPrompt, userPrompt)
	})

	elapsed := float64(time.Since(start).Milliseconds())
	if m := telemetry.GetGlobalMetrics(); m.OracleLatency != nil {
		m.OracleLatency.Record(ctx, elapsed)
	}

	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrOracleUnavailable, err)
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: false,
	}

	raw, err := c.http.Post(ctx, "/v1/chat/completions", req)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("chat response decode failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("provider error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat response")
	}

	return resp.Choices[0].Message.Content, nil
}
