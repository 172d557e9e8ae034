// Package completion sends assembled conversations to the chat proxy and
// classifies the outcome.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/chaterr"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/conversation"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/utils"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

// FallbackReply replaces an empty or missing completion in a successful response.
const FallbackReply = "Maaf, aku lagi error nih. Coba lagi ya!"

const DefaultTimeout = 25 * time.Second

type ModelConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Completer is satisfied by Client; the orchestrator depends on this.
type Completer interface {
	Complete(ctx context.Context, req conversation.Request, cfg ModelConfig) (string, error)
}

type Client struct {
	endpoint string
	timeout  time.Duration
	http     *resty.Client
}

var _ Completer = (*Client)(nil)

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// The per-call context carries the deadline; the transport timeout is only a backstop.
	httpClient := utils.NewHTTPClient(timeout + 5*time.Second)
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http: resty.NewWithClient(httpClient).
			SetHeader("Content-Type", "application/json"),
	}
}

// Complete posts {model, messages, temperature, max_tokens} to the proxy and
// returns the assistant text. It never retries.
func (c *Client) Complete(ctx context.Context, req conversation.Request, cfg ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := newChatPayload(req.Messages(), cfg, strings.TrimSpace(cfg.Model))

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.endpoint)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}

	status := resp.StatusCode()
	body := resp.Body()

	logger.WithFields(logger.Fields{
		"status":     status,
		"has_image":  req.HasImage(),
		"messages":   len(payload.Messages),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("completion response received")

	if status < 200 || status > 299 {
		return "", ClassifyStatus(status, string(body))
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		e := chaterr.FromResponse(chaterr.KindUpstream, status, string(body))
		e.Err = fmt.Errorf("decode completion: %w", err)
		return "", e
	}

	if len(completion.Choices) == 0 {
		return FallbackReply, nil
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return FallbackReply, nil
	}
	return content, nil
}

// ClassifyStatus maps a non-2xx proxy response onto the pipeline taxonomy.
func ClassifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return chaterr.FromResponse(chaterr.KindServerMisconfigured, status, body)
	case status == http.StatusTooManyRequests:
		return chaterr.FromResponse(chaterr.KindRateLimited, status, body)
	case status == http.StatusBadGateway || mentionsTimeout(body):
		return chaterr.FromResponse(chaterr.KindTimeout, status, body)
	case status >= 500:
		return chaterr.FromResponse(chaterr.KindUpstreamServer, status, body)
	default:
		return chaterr.FromResponse(chaterr.KindUpstream, status, body)
	}
}

func mentionsTimeout(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout")
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return chaterr.New(chaterr.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return chaterr.New(chaterr.KindTimeout, err)
	}
	return chaterr.New(chaterr.KindNetwork, err)
}
