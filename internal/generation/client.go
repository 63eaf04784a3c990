package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
	"itinerary-service/internal/httpx"
	"itinerary-service/internal/retry"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	maxResponseBody = 4 << 20
	maxErrorBody    = 4 << 10
)

var ErrEmptyCompletion = errors.New("generation: completion has no content")

// UpstreamError is a non-2xx answer from the completion endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("generation: upstream status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Policy      retry.Policy
	HTTPClient  *http.Client
}

// Client asks a chat-completion endpoint for itineraries. The SDK's own
// retries are off; Generate applies Policy instead.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	policy      retry.Policy
	log         logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	hc := &http.Client{Timeout: 2 * time.Minute}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		hc = &cp
	}
	hc.Transport = httpx.LimitBody(hc.Transport, maxResponseBody)

	c := &Client{
		api: openai.NewClient(
			option.WithBaseURL(base),
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(hc),
			option.WithMaxRetries(0),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		policy:      cfg.Policy,
		log:         log,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature == 0 {
		c.temperature = 0.7
	}
	return c
}

// Generate produces a validated itinerary of durationDays days for
// destination, retrying transient upstream failures and malformed output.
func (c *Client) Generate(ctx context.Context, destination string, durationDays int) ([]entity.Day, error) {
	attempt := 0
	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]entity.Day, error) {
		attempt++
		days, err := c.generateOnce(ctx, destination, durationDays)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"destination": destination,
				"attempt":     attempt,
				"kind":        retry.KindOf(err),
			}).WithError(err).Warn("[generation] attempt failed")
		}
		return days, err
	}, retry.IsRetryable)
}

func (c *Client) generateOnce(ctx context.Context, destination string, durationDays int) ([]entity.Day, error) {
	text, err := c.complete(ctx, BuildPrompt(destination, durationDays))
	if err != nil {
		return nil, err
	}
	return ExtractItinerary(text, durationDays)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var httpResp *http.Response
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}, option.WithResponseInto(&httpResp))
	if err != nil {
		if uerr := upstreamError(err, httpResp); uerr != nil {
			if uerr.StatusCode == http.StatusTooManyRequests || uerr.StatusCode >= 500 {
				return "", retry.Retryable(uerr)
			}
			return "", retry.Fatal(uerr)
		}
		if ctx.Err() != nil {
			return "", retry.Fatal(fmt.Errorf("generation: %w", err))
		}
		return "", retry.Retryable(fmt.Errorf("generation: %w", err))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", retry.Fatal(ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// upstreamError returns nil when err carries no HTTP status. Bodies that are
// not an OpenAI error envelope come back as a plain error from the SDK, so
// the status and body are taken from the raw response then.
func upstreamError(err error, httpResp *http.Response) *UpstreamError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &UpstreamError{StatusCode: apiErr.StatusCode, Body: body}
	}
	if httpResp == nil || httpResp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
	return &UpstreamError{StatusCode: httpResp.StatusCode, Body: string(data)}
}
