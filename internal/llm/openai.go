package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const (
	defaultModel           = "gpt-4.1-mini"
	defaultCallTimeout     = 45 * time.Second
	defaultMaxElapsed      = 60 * time.Second
	defaultInitialInterval = 500 * time.Millisecond
)

// Options configures an OpenAIClient.
type Options struct {
	APIKey          string
	Model           string
	BaseURL         string
	CallTimeout     time.Duration
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	HTTPClient      *http.Client
	Recorder        Recorder
	Logger          *logrus.Entry
}

// OpenAIClient calls an OpenAI-compatible Chat Completions endpoint with a
// strict JSON schema response format.
type OpenAIClient struct {
	api             *openai.Client
	model           string
	callTimeout     time.Duration
	maxElapsed      time.Duration
	initialInterval time.Duration
	recorder        Recorder
	log             *logrus.Entry
}

// NewOpenAIClient creates a client with sane defaults.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is empty")
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	c := &OpenAIClient{
		api:             openai.NewClientWithConfig(cfg),
		model:           strings.TrimSpace(opts.Model),
		callTimeout:     opts.CallTimeout,
		maxElapsed:      opts.MaxElapsed,
		initialInterval: opts.InitialInterval,
		recorder:        opts.Recorder,
		log:             opts.Logger,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.maxElapsed <= 0 {
		c.maxElapsed = defaultMaxElapsed
	}
	if c.initialInterval <= 0 {
		c.initialInterval = defaultInitialInterval
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return c, nil
}

// Generate sends req, retrying transient failures with exponential backoff
// until the elapsed budget is spent. Every attempt is audited.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	chatReq := c.buildRequest(req)
	requestJSON, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = c.maxElapsed

	var (
		content string
		attempt int
	)
	operation := func() error {
		attempt++
		started := time.Now()
		text, status, callErr := c.call(ctx, chatReq)

		event := Event{
			JobID:        JobIDFrom(ctx),
			Unit:         req.Unit,
			Index:        req.Index,
			Attempt:      attempt,
			Model:        c.model,
			RequestJSON:  string(requestJSON),
			ResponseText: text,
			HTTPStatus:   status,
			Duration:     time.Since(started),
		}
		if callErr == nil {
			_, parseErr := ExtractJSONObject(text)
			event.ParseOK = parseErr == nil
			if parseErr != nil {
				event.ErrorMessage = fmt.Sprintf("parse_error: %v", parseErr)
			}
		} else {
			event.ErrorMessage = fmt.Sprintf("call_error: %v", callErr)
		}
		c.record(ctx, event)

		if callErr != nil {
			if !retryable(status) {
				return backoff.Permanent(callErr)
			}
			return callErr
		}
		content = text
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{
			"unit":    req.Unit,
			"index":   req.Index,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("llm call failed, retrying")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return "", fmt.Errorf("%s call failed after %d attempt(s): %w", req.Unit, attempt, err)
	}
	return content, nil
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = req.Unit
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		}
	} else {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}

func (c *OpenAIClient) call(ctx context.Context, chatReq openai.ChatCompletionRequest) (string, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		return "", statusOf(err), err
	}
	if len(resp.Choices) == 0 {
		return "", http.StatusOK, errors.New("openai returned no choices")
	}
	message := resp.Choices[0].Message
	if refusal := strings.TrimSpace(message.Refusal); refusal != "" {
		return "", http.StatusOK, fmt.Errorf("openai refusal: %s", refusal)
	}
	if strings.TrimSpace(message.Content) == "" {
		return "", http.StatusOK, errors.New("openai returned empty content")
	}
	return message.Content, http.StatusOK, nil
}

func (c *OpenAIClient) record(ctx context.Context, event Event) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.InsertLLMEvent(context.WithoutCancel(ctx), event); err != nil {
		c.log.WithError(err).WithField("unit", event.Unit).Warn("write llm event failed")
	}
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryable reports whether a failed call is worth another attempt: network
// errors, timeouts, 429 and 5xx.
func retryable(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= http.StatusInternalServerError:
		return true
	case status == http.StatusOK:
		return true
	default:
		return false
	}
}
