// Package anthropic provides the generative-text provider used by the
// audit pipeline's analysis stages.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Provider defines the analysis operations used by the pipeline. Prompt
// content is owned by the stages; the provider is a black box that
// returns text plus token usage.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// GenerateRequest is a single analysis call.
type GenerateRequest struct {
	Prompt    string
	System    string
	MaxTokens int64
}

// Generation is the provider's response.
type Generation struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	// model → {input $/MTok, output $/MTok}
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost computes an estimated cost in USD from a TokenUsage and
// model ID. Returns 0 for unknown models.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	inCost := (float64(u.InputTokens) / 1e6) * pricing[0]
	outCost := (float64(u.OutputTokens) / 1e6) * pricing[1]
	return inCost + outCost
}

// LogCost logs token usage and estimated cost with structured zap fields.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

// sdkProvider implements Provider using the official anthropic-sdk-go.
// Credentials are injected at construction; there is no package-level
// mutable state.
type sdkProvider struct {
	client sdk.Client
	model  string
}

// Option configures the SDK-backed provider.
type Option func(*sdkProvider)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(p *sdkProvider) {
		p.model = model
	}
}

// NewProvider creates an Anthropic-backed Provider.
func NewProvider(apiKey string, opts ...Option) Provider {
	p := &sdkProvider{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model: "claude-sonnet-4-5-20250929",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *sdkProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}

	return &Generation{
		Text: strings.Join(parts, "\n"),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
