package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
)

type fakeProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestGenerateFallsBackInOrder(t *testing.T) {
	a := &fakeProvider{name: "alpha", err: fmt.Errorf("rate limited")}
	b := &fakeProvider{name: "beta", err: fmt.Errorf("connection refused")}
	c := &fakeProvider{name: "gamma", response: "```json\n{\"ok\": true}\n```"}

	g := NewWithProviders([]Provider{a, b, c}, Params{MaxTokens: 100}, nil, nil)

	got, err := g.Generate(context.Background(), "prompt", "", Params{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "{\"ok\": true}" {
		t.Fatalf("expected sanitized winner response, got %q", got)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("expected one attempt each, got a=%d b=%d c=%d", a.calls, b.calls, c.calls)
	}
}

func TestGenerateExhaustedKeepsDiagnostics(t *testing.T) {
	a := &fakeProvider{name: "alpha", err: fmt.Errorf("rate limited")}
	b := &fakeProvider{name: "beta", err: fmt.Errorf("connection refused")}

	g := NewWithProviders([]Provider{a, b}, Params{MaxTokens: 100}, nil, nil)

	_, err := g.Generate(context.Background(), "prompt", "", Params{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T: %v", err, err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Fatalf("expected 2 attempt records, got %d", len(exhausted.Attempts))
	}
	if exhausted.Attempts[0].Provider != "alpha" || exhausted.Attempts[1].Provider != "beta" {
		t.Fatalf("attempt order wrong: %+v", exhausted.Attempts)
	}
	if exhausted.Attempts[0].Err.Error() != "rate limited" {
		t.Fatalf("first diagnostic lost: %v", exhausted.Attempts[0].Err)
	}
}

func TestGenerateHonorsProviderHint(t *testing.T) {
	a := &fakeProvider{name: "alpha", response: "from alpha"}
	b := &fakeProvider{name: "beta", response: "from beta"}

	g := NewWithProviders([]Provider{a, b}, Params{MaxTokens: 100}, nil, nil)

	got, err := g.Generate(context.Background(), "prompt", "beta", Params{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "from beta" {
		t.Fatalf("expected hinted provider to win, got %q", got)
	}
	if a.calls != 0 {
		t.Fatalf("non-hinted provider attempted %d times", a.calls)
	}
}

func TestGenerateTreatsEmptyResponseAsFailure(t *testing.T) {
	a := &fakeProvider{name: "alpha", response: "   "}
	b := &fakeProvider{name: "beta", response: "real answer"}

	g := NewWithProviders([]Provider{a, b}, Params{MaxTokens: 100}, nil, nil)

	got, err := g.Generate(context.Background(), "prompt", "", Params{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "real answer" {
		t.Fatalf("expected fallback past empty response, got %q", got)
	}
}

func TestNewSkipsPlaceholderCredentials(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai":    {Type: "openai", APIKey: "YOUR_OPENAI_API_KEY", Model: "gpt-4o-mini"},
			"anthropic": {Type: "anthropic", APIKey: "sk-ant-real", Model: "claude-3-haiku", Timeout: time.Second},
		},
		PreferenceOrder:  []string{"openai", "anthropic"},
		DefaultMaxTokens: 800,
	}

	g, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if names := g.Providers(); len(names) != 1 || names[0] != "anthropic" {
		t.Fatalf("expected only anthropic usable, got %v", names)
	}
	if skipped := g.Skipped(); len(skipped) != 1 || skipped[0] != "openai" {
		t.Fatalf("expected openai skipped, got %v", skipped)
	}
}

func TestNewFailsWithNoUsableProviders(t *testing.T) {
	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{
			"openai": {Type: "openai", APIKey: ""},
		},
		PreferenceOrder: []string{"openai"},
	}
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected error when every credential is unusable")
	}
}

func TestCredentialUsable(t *testing.T) {
	cases := []struct {
		provider string
		key      string
		want     bool
	}{
		{"openai", "", false},
		{"openai", "   ", false},
		{"openai", "YOUR_OPENAI_API_KEY", false},
		{"anthropic", "YOUR_ANTHROPIC_API_KEY", false},
		{"openai", "YOUR_SECRET_KEY", false},
		{"openai", "sk-proj-abc123", true},
		{"anthropic", "sk-ant-xyz", true},
	}
	for _, tc := range cases {
		if got := CredentialUsable(tc.provider, tc.key); got != tc.want {
			t.Errorf("CredentialUsable(%q, %q) = %v, want %v", tc.provider, tc.key, got, tc.want)
		}
	}
}

func TestGenerateRecordsCostEstimate(t *testing.T) {
	tele := telemetry.New(config.TelemetryConfig{Enabled: true, CostTracking: true})
	p := &fakeProvider{name: "openai", response: "a perfectly ordinary answer"}
	g := NewWithProviders([]Provider{p}, Params{MaxTokens: 100}, tele, nil)

	if _, err := g.Generate(context.Background(), "write something", "", Params{}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if cost := tele.Snapshot().EstimatedCost; cost <= 0 {
		t.Fatalf("expected a positive cost estimate after a successful call, got %v", cost)
	}
}
