package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 5550 {
		t.Errorf("Expected default addr 127.0.0.1:5550, got %s:%d", cfg.Host, cfg.Port)
	}
	if !cfg.AllowMultiLogin {
		t.Error("Expected multi-login to be allowed by default")
	}
}

func TestLoadEnvThenFlags(t *testing.T) {
	t.Setenv("LINECHAT_PORT", "6000")
	t.Setenv("LINECHAT_READ_TIMEOUT", "90s")
	t.Setenv("LINECHAT_HOST", "0.0.0.0")

	cfg, err := Load([]string{"--port", "7000"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Expected flag to override env port, got %d", cfg.Port)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host from env, got %q", cfg.Host)
	}
	if cfg.ReadTimeout != 90*time.Second {
		t.Errorf("Expected read timeout 90s, got %s", cfg.ReadTimeout)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad env port", map[string]string{"LINECHAT_PORT": "abc"}, nil},
		{"port out of range", nil, []string{"--port", "70000"}},
		{"bad multi login", map[string]string{"LINECHAT_ALLOW_MULTI_LOGIN": "maybe"}, nil},
		{"stray argument", nil, []string{"extra"}},
		{"zero write timeout", nil, []string{"--write-timeout", "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.args); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
