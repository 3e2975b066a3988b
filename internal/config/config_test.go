package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "widget.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
webhook:
  url: https://hooks.example.com/chat
  route: sales
  timeout: 5s
style:
  position: left
  primary_color: "#000000"
identity:
  driver: sqlite
  path: /tmp/widget.db
  geo_disabled: true
widget:
  greeting: Hello
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Webhook.URL != "https://hooks.example.com/chat" || cfg.Webhook.Route != "sales" {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if cfg.Webhook.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Webhook.Timeout)
	}
	if cfg.Style.Position != "left" || cfg.Style.PrimaryColor != "#000000" {
		t.Fatalf("unexpected style: %+v", cfg.Style)
	}
	if cfg.Style.FontColor != "#1a1a1a" {
		t.Fatalf("unset style fields should keep defaults, got %q", cfg.Style.FontColor)
	}
	if cfg.Identity.Driver != "sqlite" || !cfg.Identity.GeoDisabled {
		t.Fatalf("unexpected identity config: %+v", cfg.Identity)
	}
	if cfg.Widget.Greeting != "Hello" || cfg.Widget.TimeFormat != "15:04" || cfg.Widget.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected widget config: %+v", cfg.Widget)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "webhook:\n  url: https://file.example.com/hook\n")
	t.Setenv("WEBHOOK_URL", "https://env.example.com/hook")
	t.Setenv("WEBHOOK_TIMEOUT", "10s")
	t.Setenv("GEO_TIMEOUT", "500ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Webhook.URL != "https://env.example.com/hook" {
		t.Fatalf("env should win over file, got %q", cfg.Webhook.URL)
	}
	if cfg.Webhook.Timeout != 10*time.Second || cfg.Identity.GeoTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected timeouts: %v %v", cfg.Webhook.Timeout, cfg.Identity.GeoTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadPort(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/chat")

	cases := map[string]string{
		"9090":           ":9090",
		":7070":          ":7070",
		"127.0.0.1:6060": "127.0.0.1:6060",
	}
	for port, want := range cases {
		t.Setenv("PORT", port)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load(%q) err: %v", port, err)
		}
		if cfg.Server.Addr != want {
			t.Fatalf("PORT=%q: got %q want %q", port, cfg.Server.Addr, want)
		}
	}

	t.Setenv("PORT", "80 80")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for PORT with spaces")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "webhook.url is required") {
		t.Fatalf("expected missing url error, got %v", err)
	}

	cfg.Webhook.URL = "ftp://example.com/hook"
	cfg.Webhook.Timeout = 0
	cfg.Identity.Driver = "redis"
	cfg.Style.Position = "top"
	cfg.Widget.SessionTTL = -time.Second
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"absolute http(s)", "timeout must be positive", "unknown identity.driver", "style.position", "session_ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}

	cfg = Default()
	cfg.Webhook.URL = "https://hooks.example.com/chat"
	cfg.Identity.Driver = "file"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "identity.path") {
		t.Fatalf("expected missing path error, got %v", err)
	}
	cfg.Identity.Path = "identity.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
