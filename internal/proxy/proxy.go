// Package proxy implements the server-side chat function: it holds the
// OpenRouter credential and forwards completion requests verbatim.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/metrics"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/utils"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

const (
	DefaultUpstreamURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultTimeout     = 24 * time.Second

	errInternal    = "Internal Server Error"
	errUpstream    = "OpenRouter API Error"
	errRateLimited = "Too Many Requests"

	detailInvalidJSON  = "Invalid JSON in request body"
	detailBadUpstream  = "Invalid JSON from OpenRouter API"
	detailNoKey        = "OPENROUTER_API_KEY is not configured"
	detailUnreachable  = "Unable to connect to OpenRouter API"
	detailTimedOut     = "Upstream request timed out"
	detailRateLimited  = "Rate limit exceeded"
	timestampLayout    = "2006-01-02T15:04:05.000Z"
	methodNotAllowed   = "Method Not Allowed"
	contentTypeJSON    = "application/json"
	headerAllowOrigin  = "Access-Control-Allow-Origin"
	headerAllowHeaders = "Access-Control-Allow-Headers"
)

type Options struct {
	UpstreamURL string
	APIKey      string
	// Referer and Title are sent as OpenRouter's optional attribution headers.
	Referer string
	Title   string
	Timeout time.Duration

	// RequestsPerMinute > 0 enables a token bucket shared by all callers.
	RequestsPerMinute int
	Burst             int
}

// ErrorResponse is the JSON body of every non-2xx answer except 405.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

type Handler struct {
	opts    Options
	http    *resty.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func New(opts Options) *Handler {
	if opts.UpstreamURL == "" {
		opts.UpstreamURL = DefaultUpstreamURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.APIKey = strings.TrimSpace(opts.APIKey)

	h := &Handler{
		opts: opts,
		http: resty.NewWithClient(utils.NewHTTPClient(opts.Timeout + 5*time.Second)).
			SetHeader("Content-Type", contentTypeJSON).
			SetRetryCount(0),
		now: time.Now,
	}
	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), burst)
	}
	return h
}

// Register mounts the function on every method so non-POST calls get a 405
// instead of gin's 404.
func (h *Handler) Register(r gin.IRoutes, path string) {
	r.Any(path, h.Handle)
}

// requestShape is only used for logging; the body is forwarded untouched.
type requestShape struct {
	Model    string `json:"model"`
	Messages []struct {
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func (s requestShape) hasImage() bool {
	for _, m := range s.Messages {
		var parts []struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m.Content, &parts); err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == string(openai.ChatMessagePartTypeImageURL) {
				return true
			}
		}
	}
	return false
}

func (h *Handler) Handle(c *gin.Context) {
	c.Header(headerAllowOrigin, "*")
	c.Header(headerAllowHeaders, "Content-Type")

	if c.Request.Method != http.MethodPost {
		h.observe(http.StatusMethodNotAllowed)
		c.String(http.StatusMethodNotAllowed, methodNotAllowed)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.fail(c, http.StatusTooManyRequests, errRateLimited, detailRateLimited)
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, errInternal, err.Error())
		return
	}
	if !json.Valid(raw) {
		h.fail(c, http.StatusBadRequest, errInternal, detailInvalidJSON)
		return
	}

	var shape requestShape
	_ = json.Unmarshal(raw, &shape)
	log := logger.WithFields(logger.Fields{
		"model":       shape.Model,
		"messages":    len(shape.Messages),
		"has_image":   shape.hasImage(),
		"key_present": strings.TrimSpace(h.opts.APIKey) != "",
		"body_bytes":  len(raw),
	})
	log.Info("chat function called")

	if strings.TrimSpace(h.opts.APIKey) == "" {
		log.Error("upstream credential missing")
		h.fail(c, http.StatusInternalServerError, errInternal, detailNoKey)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.Timeout)
	defer cancel()

	req := h.http.R().
		SetContext(ctx).
		SetAuthToken(h.opts.APIKey).
		SetBody(raw)
	if h.opts.Referer != "" {
		req.SetHeader("HTTP-Referer", h.opts.Referer)
	}
	if h.opts.Title != "" {
		req.SetHeader("X-Title", h.opts.Title)
	}

	start := h.now()
	resp, err := req.Post(h.opts.UpstreamURL)
	elapsed := h.now().Sub(start)
	metrics.UpstreamDuration.Observe(elapsed.Seconds())
	if err != nil {
		status, detail := classifyUpstreamError(ctx, err)
		log.WithError(err).WithField("latency_ms", elapsed.Milliseconds()).Error("upstream request failed")
		h.fail(c, status, errInternal, detail)
		return
	}

	status := resp.StatusCode()
	body := resp.Body()
	log = log.WithFields(logger.Fields{"status": status, "latency_ms": elapsed.Milliseconds()})

	if status < 200 || status > 299 {
		log.WithField("details", string(body)).Error("upstream returned an error")
		h.fail(c, status, errUpstream, string(body))
		return
	}

	if !json.Valid(body) {
		log.Error("upstream returned a non-JSON body")
		h.fail(c, http.StatusInternalServerError, errInternal, detailBadUpstream)
		return
	}

	var usage struct {
		Usage *openai.Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &usage); err == nil && usage.Usage != nil {
		metrics.UpstreamTokensTotal.WithLabelValues("prompt").Add(float64(usage.Usage.PromptTokens))
		metrics.UpstreamTokensTotal.WithLabelValues("completion").Add(float64(usage.Usage.CompletionTokens))
		log = log.WithFields(logger.Fields{
			"prompt_tokens":     usage.Usage.PromptTokens,
			"completion_tokens": usage.Usage.CompletionTokens,
		})
	}
	log.Info("upstream response received")

	h.observe(http.StatusOK)
	c.Data(http.StatusOK, contentTypeJSON, body)
}

func (h *Handler) fail(c *gin.Context, status int, title, details string) {
	h.observe(status)
	c.JSON(status, ErrorResponse{
		Error:     title,
		Details:   details,
		Status:    status,
		Timestamp: h.now().UTC().Format(timestampLayout),
	})
}

func (h *Handler) observe(status int) {
	metrics.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// classifyUpstreamError maps a transport failure to the proxy's answer.
func classifyUpstreamError(ctx context.Context, err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return http.StatusBadGateway, detailTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusBadGateway, detailTimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return http.StatusBadGateway, detailUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return http.StatusBadGateway, detailUnreachable
	}

	return http.StatusInternalServerError, err.Error()
}
