package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
)

// Params carries the uniform per-call generation parameters. Field names are
// the same for every provider even where the underlying APIs differ.
type Params struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Provider is one interchangeable reasoning backend behind the gateway.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// ProviderError records a single provider's failure during a fallback chain.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every provider in the preference order
// failed. Callers must not retry at the gateway level; the diagnostic trail
// carries one entry per attempted provider.
type ExhaustedError struct {
	Attempts []ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Gateway routes generation requests across an ordered list of providers,
// falling back on failure. Providers with missing or placeholder credentials
// are excluded once at construction and never attempted.
type Gateway struct {
	providers []Provider
	skipped   []string
	defaults  Params
	logger    *log.Logger
	telemetry *telemetry.Telemetry
}

// New builds a gateway from configuration. Providers appear in
// cfg.PreferenceOrder; entries whose credential is absent or a recognized
// placeholder are skipped.
func New(cfg config.LLMConfig, tele *telemetry.Telemetry, logger *log.Logger) (*Gateway, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}

	g := &Gateway{
		defaults:  Params{MaxTokens: cfg.DefaultMaxTokens, Temperature: 0.7},
		logger:    logger,
		telemetry: tele,
	}

	order := cfg.PreferenceOrder
	if len(order) == 0 {
		for name := range cfg.Providers {
			order = append(order, name)
		}
	}

	for _, name := range order {
		pcfg, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		if !CredentialUsable(name, pcfg.APIKey) {
			g.skipped = append(g.skipped, name)
			logger.Printf("provider %s skipped: credential missing or placeholder", name)
			continue
		}
		p, err := newProvider(name, pcfg)
		if err != nil {
			return nil, err
		}
		g.providers = append(g.providers, p)
	}

	if len(g.providers) == 0 {
		return nil, fmt.Errorf("no usable LLM providers configured (skipped: %v)", g.skipped)
	}
	return g, nil
}

// NewWithProviders builds a gateway over explicit providers, preserving order.
func NewWithProviders(providers []Provider, defaults Params, tele *telemetry.Telemetry, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	return &Gateway{providers: providers, defaults: defaults, telemetry: tele, logger: logger}
}

// Blended USD rates per million estimated tokens, for cost telemetry only.
var providerCostPerMTok = map[string]float64{
	"openai":    5.0,
	"anthropic": 9.0,
}

const defaultCostPerMTok = 5.0

// estimateTokens approximates usage at four characters per token.
func estimateTokens(prompt, response string) int64 {
	return int64((len(prompt) + len(response) + 3) / 4)
}

func newProvider(name string, cfg config.LLMProvider) (Provider, error) {
	typ := cfg.Type
	if typ == "" {
		typ = name
	}
	switch typ {
	case "openai":
		return NewOpenAIProvider(name, cfg), nil
	case "anthropic":
		return NewAnthropicProvider(name, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", typ)
	}
}

// Providers returns the names of usable providers in attempt order.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// Skipped returns the provider names excluded for bad credentials.
func (g *Gateway) Skipped() []string { return g.skipped }

// Generate attempts providers strictly in preference order, starting from
// providerHint when it names a usable provider, and returns the first
// well-formed non-empty response after sanitization. When every provider
// fails the returned error is an *ExhaustedError.
func (g *Gateway) Generate(ctx context.Context, prompt string, providerHint string, params Params) (string, error) {
	if params.MaxTokens <= 0 {
		params.MaxTokens = g.defaults.MaxTokens
	}
	if params.Temperature == 0 {
		params.Temperature = g.defaults.Temperature
	}

	order := g.attemptOrder(providerHint)
	var attempts []ProviderError

	for _, p := range order {
		callCtx := ctx
		cancel := func() {}
		if params.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		}
		start := time.Now()
		raw, err := p.Generate(callCtx, prompt, params)
		cancel()

		if err == nil && strings.TrimSpace(raw) == "" {
			err = fmt.Errorf("empty response body")
		}
		if err != nil {
			g.logger.Printf("provider %s failed after %v: %v", p.Name(), time.Since(start), err)
			if g.telemetry != nil {
				g.telemetry.RecordGatewayAttempt(p.Name(), false)
			}
			attempts = append(attempts, ProviderError{Provider: p.Name(), Err: err})
			continue
		}

		if g.telemetry != nil {
			g.telemetry.RecordGatewayAttempt(p.Name(), true)
			tokens := estimateTokens(prompt, raw)
			rate, ok := providerCostPerMTok[p.Name()]
			if !ok {
				rate = defaultCostPerMTok
			}
			g.telemetry.RecordCost(tokens, float64(tokens)*rate/1e6)
		}
		return Sanitize(raw), nil
	}

	if g.telemetry != nil {
		g.telemetry.RecordGatewayExhausted()
	}
	return "", &ExhaustedError{Attempts: attempts}
}

// attemptOrder moves the hinted provider to the front when it is usable.
func (g *Gateway) attemptOrder(hint string) []Provider {
	if hint == "" {
		return g.providers
	}
	for i, p := range g.providers {
		if p.Name() == hint {
			order := make([]Provider, 0, len(g.providers))
			order = append(order, p)
			order = append(order, g.providers[:i]...)
			order = append(order, g.providers[i+1:]...)
			return order
		}
	}
	return g.providers
}

// CredentialUsable reports whether an API key is present and not a
// placeholder. The check is a pure format check: non-empty, not the
// provider's documented placeholder, not the generic YOUR_..._KEY shape.
func CredentialUsable(providerName, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	upper := strings.ToUpper(key)
	if upper == "YOUR_"+strings.ToUpper(providerName)+"_API_KEY" {
		return false
	}
	if strings.HasPrefix(upper, "YOUR_") && strings.Contains(upper, "_KEY") {
		return false
	}
	return true
}
