package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"talkstudio/internal/domain"
)

const (
	ProviderUpstage = "upstage"
	ProviderOpenAI  = "openai"
)

const openAIDefaultTimeout = 60 * time.Second

type openAIPreset struct {
	baseURL string
	model   string
	price   float64
}

var openAIPresets = map[string]openAIPreset{
	ProviderUpstage: {baseURL: "https://api.upstage.ai/v1/solar", model: "solar-pro", price: 0.0006},
	ProviderOpenAI:  {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini", price: 0.0006},
}

var openAIModelAliases = map[string]string{
	"solar":         "solar-pro",
	"solar-pro":     "solar-pro",
	"solar-mini":    "solar-mini",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt4o-mini":    "gpt-4o-mini",
	"gpt4omini":     "gpt-4o-mini",
	"gpt-4o":        "gpt-4o",
	"gpt-3.5-turbo": "gpt-3.5-turbo",
	"gpt-3.5":       "gpt-3.5-turbo",
}

// OpenAIOptions configures any /chat/completions compatible backend.
// Name selects default base URL, model and price for known backends.
type OpenAIOptions struct {
	Name         string
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	// JSONMode sends response_format=json_object; Upstage rejects it.
	JSONMode bool
	// PricePer1KTokens feeds the best-effort cost estimate.
	PricePer1KTokens float64
	HTTPClient       *http.Client
	OnWarning        func(reason, detail string)
}

// OpenAICompatible calls an OpenAI-style chat completions endpoint.
type OpenAICompatible struct {
	name         string
	apiKey       string
	model        string
	baseURL      string
	organization string
	jsonMode     bool
	price        float64
	client       *http.Client
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAICompatible validates opts and applies per-backend defaults.
func NewOpenAICompatible(opts OpenAIOptions) (*OpenAICompatible, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Name))
	if name == "" {
		name = ProviderOpenAI
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%s api key is required", name)
	}
	preset := openAIPresets[name]
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = preset.baseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s base url is required", name)
	}
	model, reason := normalizeModel(opts.Model, preset.model)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("provider=%s requested=%s resolved=%s", name, opts.Model, model))
	}
	if model == "" {
		return nil, fmt.Errorf("%s model is required", name)
	}
	price := opts.PricePer1KTokens
	if price <= 0 {
		price = preset.price
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAICompatible{
		name:         name,
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		jsonMode:     opts.JSONMode,
		price:        price,
		client:       client,
	}, nil
}

func (o *OpenAICompatible) Name() string { return o.name }

// Model reports the resolved model name.
func (o *OpenAICompatible) Model() string { return o.model }

func (o *OpenAICompatible) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	payload := openAIChatRequest{
		Model:       o.model,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Messages: []openAIMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
	}
	if o.jsonMode {
		payload.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return Completion{}, fmt.Errorf("encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Completion{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Completion{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return Completion{}, &StatusError{Provider: o.name, StatusCode: resp.StatusCode}
	}
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, ErrEmptyResponse
	}
	usage := domain.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	usage.EstimatedCostUSD = float64(usage.TotalTokens) / 1000 * o.price
	model := out.Model
	if model == "" {
		model = o.model
	}
	return Completion{Content: text, Model: model, Usage: usage}, nil
}

var _ Provider = (*OpenAICompatible)(nil)

// normalizeModel resolves aliases. Unknown names are kept as given and
// reported so operators notice typos; empty names take the default.
func normalizeModel(name, fallback string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelAliases[normalized]; ok {
		if canonical == trimmed {
			return canonical, ""
		}
		return canonical, "alias"
	}
	return trimmed, "unrecognized"
}
