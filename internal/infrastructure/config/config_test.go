package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 18080 {
		t.Errorf("port = %d, want 18080", cfg.Port)
	}
	if cfg.CommandPrefix != "!/" {
		t.Errorf("command_prefix = %q, want !/", cfg.CommandPrefix)
	}
	if cfg.Auth.Disabled {
		t.Error("auth.disabled should default to false")
	}
	if !cfg.LoopDetection.Enabled {
		t.Error("loop_detection.enabled should default to true")
	}
	if cfg.RateLimit.Scope != "backend_key" {
		t.Errorf("rate_limit.scope = %q, want backend_key", cfg.RateLimit.Scope)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LLMGATEWAY_PORT", "9999")
	t.Setenv("LLMGATEWAY_DEFAULT_BACKEND", "anthropic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("port = %d, want 9999 from env override", cfg.Port)
	}
	if cfg.DefaultBackend != "anthropic" {
		t.Errorf("default_backend = %q, want anthropic from env override", cfg.DefaultBackend)
	}
}
