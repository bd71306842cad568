// Package summarizer turns channel messages into a digest using an
// OpenAI-compatible chat completion endpoint (OpenRouter by default).
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrUnavailable covers timeouts, rate limits, non-2xx responses and
// malformed completions.
var ErrUnavailable = errors.New("summarization unavailable")

// BlockSeparator divides channel blocks inside one request.
const BlockSeparator = "\n\n======== NEXT CHANNEL ========\n\n"

const systemPrompt = `You write digests of Telegram channels.
You receive the recent posts of one or more channels, grouped per channel and separated by a divider line.
Produce a structured, per-channel digest:
- For every channel, start with the channel title in bold: <b>Title</b>
- Then a numbered list (1. 2. 3.) of the most important posts, one short line each with concrete facts, numbers and dates
- End every line with the post link in HTML: <a href="URL">post</a>, using the [post link: URL] given for that post
- Group similar topics together and skip ads and duplicates
- Use only Telegram HTML (<b>, <i>, <a href="...">). Never use Markdown.
- Write in the language most posts are written in.`

// Options configures the completion client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Engine calls the completion endpoint once per digest.
type Engine struct {
	client *openai.Client
	opts   Options
	log    *zap.Logger
}

// New builds an Engine. Every request is bounded by opts.Timeout.
func New(opts Options, log *zap.Logger) *Engine {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: attributionTransport{base: http.DefaultTransport},
	}
	return &Engine{client: openai.NewClientWithConfig(cfg), opts: opts, log: log}
}

// attributionTransport adds the OpenRouter app attribution headers.
type attributionTransport struct{ base http.RoundTripper }

func (t attributionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("HTTP-Referer", "https://github.com/ykvlv/digest-bot")
	r.Header.Set("X-Title", "Channel Digest Bot")
	return t.base.RoundTrip(r)
}

// BuildPrompt formats all blocks and joins them with BlockSeparator so the
// model sees every channel in one request.
func BuildPrompt(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, FormatMessages(b.Messages, b.Title, b.Handle))
	}
	return "Posts for the digest:\n\n" + strings.Join(parts, BlockSeparator)
}

// Summarize sends one completion request covering all blocks and returns the
// digest text. Any failure is reported as ErrUnavailable.
func (e *Engine) Summarize(ctx context.Context, blocks []Block) (string, error) {
	if len(blocks) == 0 {
		return "", fmt.Errorf("%w: nothing to summarize", ErrUnavailable)
	}
	prompt := BuildPrompt(blocks)

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	e.log.Debug("completion request",
		zap.String("model", e.opts.Model),
		zap.Int("channels", len(blocks)),
		zap.Int("prompt_len", len(prompt)),
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	e.log.Info("completion done",
		zap.String("model", e.opts.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)),
	)
	return text, nil
}
