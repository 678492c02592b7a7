package config

import (
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{CycleInterval: 15 * time.Minute, MaxConcurrentAccounts: 3},
		Executors: ExecutorsConfig{TaskTimeout: 2 * time.Minute, MaxRetries: 3, MaxTasksPerCycle: 3, ConfidenceThreshold: 0.7},
		LLM: LLMConfig{
			Providers: map[string]LLMProvider{
				"openai": {Type: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			},
			PreferenceOrder: []string{"openai"},
		},
		Accounts: []AccountConfig{
			{AccountID: "acct-1", Username: "one", IsActive: true},
			{AccountID: "acct-2", Username: "two", IsActive: false},
		},
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	if err := validateConfig(validTestConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cycle interval", func(c *Config) { c.Scheduler.CycleInterval = 0 }},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrentAccounts = 0 }},
		{"negative retries", func(c *Config) { c.Executors.MaxRetries = -1 }},
		{"unknown provider type", func(c *Config) {
			c.LLM.Providers["weird"] = LLMProvider{Type: "palm"}
		}},
		{"missing account id", func(c *Config) { c.Accounts[0].AccountID = "" }},
		{"duplicate account id", func(c *Config) { c.Accounts[1].AccountID = "acct-1" }},
	}

	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestActiveAccounts(t *testing.T) {
	cfg := validTestConfig()
	active := cfg.ActiveAccounts()
	if len(active) != 1 || active[0].AccountID != "acct-1" {
		t.Fatalf("unexpected active accounts: %+v", active)
	}

	if _, ok := cfg.Account("acct-2"); !ok {
		t.Fatal("configured account not found")
	}
	if _, ok := cfg.Account("ghost"); ok {
		t.Fatal("unknown account reported as found")
	}
}
