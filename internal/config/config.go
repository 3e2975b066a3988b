package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Style    StyleConfig    `yaml:"style"`
	Identity IdentityConfig `yaml:"identity"`
	Widget   WidgetConfig   `yaml:"widget"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Port string `yaml:"-" env:"PORT"`
}

// WebhookConfig 描述消息转发的目标地址。
type WebhookConfig struct {
	URL     string        `yaml:"url" env:"WEBHOOK_URL"`
	Route   string        `yaml:"route" env:"WEBHOOK_ROUTE"`
	Timeout time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
}

// StyleConfig 只由前端展示层使用，服务端原样下发。
type StyleConfig struct {
	PrimaryColor    string `yaml:"primary_color" json:"primaryColor" env:"STYLE_PRIMARY_COLOR"`
	SecondaryColor  string `yaml:"secondary_color" json:"secondaryColor" env:"STYLE_SECONDARY_COLOR"`
	Position        string `yaml:"position" json:"position" env:"STYLE_POSITION"`
	BackgroundColor string `yaml:"background_color" json:"backgroundColor" env:"STYLE_BACKGROUND_COLOR"`
	FontColor       string `yaml:"font_color" json:"fontColor" env:"STYLE_FONT_COLOR"`
}

// IdentityConfig 描述身份持久化与地理位置查询。
type IdentityConfig struct {
	Driver      string        `yaml:"driver" env:"IDENTITY_DRIVER"`
	Path        string        `yaml:"path" env:"IDENTITY_PATH"`
	GeoURL      string        `yaml:"geo_url" env:"GEO_URL"`
	GeoTimeout  time.Duration `yaml:"geo_timeout" env:"GEO_TIMEOUT"`
	GeoDisabled bool          `yaml:"geo_disabled" env:"GEO_DISABLED"`
}

// WidgetConfig 描述会话界面行为。
type WidgetConfig struct {
	Greeting   string        `yaml:"greeting" env:"WIDGET_GREETING"`
	TimeFormat string        `yaml:"time_format" env:"WIDGET_TIME_FORMAT"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"WIDGET_SESSION_TTL"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Webhook: WebhookConfig{
			Route:   "general",
			Timeout: 30 * time.Second,
		},
		Style: StyleConfig{
			PrimaryColor:    "#2d2d2d",
			SecondaryColor:  "#4a4a4a",
			Position:        "right",
			BackgroundColor: "#ffffff",
			FontColor:       "#1a1a1a",
		},
		Identity: IdentityConfig{
			Driver:     "memory",
			GeoURL:     "https://ipapi.co",
			GeoTimeout: 3 * time.Second,
		},
		Widget: WidgetConfig{
			Greeting:   "Hi there! How can I help you today?",
			TimeFormat: "15:04",
			SessionTTL: 30 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 依次合并默认值、可选的 YAML 文件和环境变量，并校验结果。
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read 与 Load 相同，但不做校验，供只需部分配置的命令使用。
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Server.Port != "" {
		addr, err := normalizeAddr(cfg.Server.Port)
		if err != nil {
			return nil, err
		}
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080", nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Validate 检查配置是否可用于启动服务。
func (c *Config) Validate() error {
	var errs []error

	if c.Webhook.URL == "" {
		errs = append(errs, errors.New("webhook.url is required"))
	} else if u, err := url.Parse(c.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("webhook.url must be an absolute http(s) URL"))
	}
	if strings.TrimSpace(c.Webhook.Route) == "" {
		errs = append(errs, errors.New("webhook.route is required"))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}

	switch c.Identity.Driver {
	case "memory":
	case "file", "sqlite":
		if c.Identity.Path == "" {
			errs = append(errs, fmt.Errorf("identity.path is required for driver %q", c.Identity.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity.driver %q", c.Identity.Driver))
	}
	if c.Identity.GeoTimeout <= 0 {
		errs = append(errs, errors.New("identity.geo_timeout must be positive"))
	}

	if c.Widget.SessionTTL < 0 {
		errs = append(errs, errors.New("widget.session_ttl must not be negative"))
	}

	switch c.Style.Position {
	case "left", "right":
	default:
		errs = append(errs, fmt.Errorf("style.position must be left or right, got %q", c.Style.Position))
	}

	return errors.Join(errs...)
}
