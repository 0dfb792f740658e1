package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"talkstudio/internal/domain"
	"talkstudio/internal/infra"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Options controls how the Client is configured.
type Options struct {
	// Providers are tried in order; the first success wins.
	Providers   []Provider
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// Limiter paces every provider attempt. Nil means unlimited.
	Limiter *rate.Limiter
	Logger  *infra.Logger
}

// Client runs the provider failover chain.
type Client struct {
	providers   []Provider
	timeout     time.Duration
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	logger      *infra.Logger

	mu    sync.Mutex
	usage map[string]domain.Usage
}

var errNoProviders = errors.New("no providers configured")

func NewClient(opts Options) (*Client, error) {
	if len(opts.Providers) == 0 {
		return nil, errNoProviders
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Client{
		providers:   append([]Provider(nil), opts.Providers...),
		timeout:     timeout,
		temperature: temperature,
		maxTokens:   maxTokens,
		limiter:     opts.Limiter,
		logger:      logger,
		usage:       make(map[string]domain.Usage),
	}, nil
}

// ProviderNames lists the chain in order.
func (c *Client) ProviderNames() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate tries each provider with its own timeout. It returns a
// *GenerationFailure when every attempt failed.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := Prompt{
		System:      BuildSystemPrompt(req.Tone, req.Platform),
		User:        BuildUserPrompt(req),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Request:     req,
	}
	failure := &GenerationFailure{}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, classify(p.Name(), err))
			break
		}
		res, err := c.attempt(ctx, p, prompt, req.MessageCount)
		if err == nil {
			c.addUsage(res.Provider, res.Usage)
			return res, nil
		}
		attempt := classify(p.Name(), err)
		failure.Attempts = append(failure.Attempts, attempt)
		c.logger.Warn().
			Str("provider", p.Name()).
			Str("kind", string(attempt.Kind)).
			Int("status", attempt.StatusCode).
			Msg("chat: provider attempt failed")
	}
	return nil, failure
}

func (c *Client) attempt(ctx context.Context, p Provider, prompt Prompt, wantMessages int) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.limiter != nil {
		if err := c.limiter.Wait(attemptCtx); err != nil {
			return nil, err
		}
	}
	completion, err := p.Complete(attemptCtx, prompt)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	draft, err := ParseConversation(completion.Content, wantMessages)
	if err != nil {
		return nil, err
	}
	return &Result{
		Draft:    draft,
		Provider: p.Name(),
		Model:    completion.Model,
		Usage:    completion.Usage,
	}, nil
}

func (c *Client) addUsage(provider string, u domain.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.usage[provider]
	total.Add(u)
	c.usage[provider] = total
}

// Usage returns cumulative usage per provider since the client was built.
func (c *Client) Usage() map[string]domain.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Usage, len(c.usage))
	for k, v := range c.usage {
		out[k] = v
	}
	return out
}

var _ Generator = (*Client)(nil)
