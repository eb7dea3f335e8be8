package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for the conditions callers handle differently.
var (
	// ErrRateLimited means the gateway returned 429. Retryable.
	ErrRateLimited = errors.New("llm gateway: rate limited")
	// ErrQuotaExhausted means the gateway returned 402. Not retryable.
	ErrQuotaExhausted = errors.New("llm gateway: quota exhausted")
)

// GatewayClient performs streaming chat-completion requests against an
// OpenAI-compatible endpoint.
type GatewayClient struct {
	config GatewayConfig
	client *http.Client
	logger *zap.Logger
}

// NewGatewayClient creates a gateway client.
func NewGatewayClient(cfg GatewayConfig, logger *zap.Logger) *GatewayClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &GatewayClient{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ChatStream sends a streaming chat request. The returned channel yields
// token and tool-call-fragment events and is closed after the Done event.
func (c *GatewayClient) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	streamReq := map[string]interface{}{
		"model":    model,
		"messages": req.Messages,
		"stream":   true,
	}
	if req.Temperature > 0 {
		streamReq["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		streamReq["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		streamReq["tools"] = req.Tools
	}
	if req.ToolChoice != "" {
		streamReq["tool_choice"] = req.ToolChoice
	}

	body, err := json.Marshal(streamReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
		case http.StatusPaymentRequired:
			return nil, fmt.Errorf("%w: %s", ErrQuotaExhausted, string(respBody))
		default:
			return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, string(respBody))
		}
	}

	ch := make(chan *StreamEvent, 64)
	go c.readSSEStream(resp.Body, ch)
	return ch, nil
}

// streamChunk is the wire shape of one SSE data frame.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *GatewayClient) readSSEStream(body io.ReadCloser, ch chan<- *StreamEvent) {
	defer close(ch)
	defer body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 1024)
	for {
		n, err := body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				line := string(buf[:idx])
				buf = buf[idx+2:]

				if len(line) > 6 && line[:6] == "data: " {
					data := line[6:]
					if data == "[DONE]" {
						ch <- &StreamEvent{Done: true}
						return
					}
					if ev := c.parseChunk(data); ev != nil {
						ch <- ev
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// parseChunk converts one data frame into a StreamEvent. Malformed frames
// are skipped, never fatal.
func (c *GatewayClient) parseChunk(data string) *StreamEvent {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		c.logger.Debug("skipping malformed stream chunk", zap.Error(err))
		return nil
	}
	if len(chunk.Choices) == 0 {
		return nil
	}

	choice := chunk.Choices[0]
	ev := &StreamEvent{
		Token:        choice.Delta.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Delta.ToolCalls {
		ev.ToolDeltas = append(ev.ToolDeltas, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if ev.Token == "" && len(ev.ToolDeltas) == 0 && ev.FinishReason == "" {
		return nil
	}
	return ev
}
