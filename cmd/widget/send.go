package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/chat-widget/backend/internal/service/identity"
	"github.com/zhouzirui/chat-widget/backend/internal/service/webhook"
	"github.com/zhouzirui/chat-widget/backend/internal/storage/kv"
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message to the webhook and print the reply",
	Long: `Runs a single exchange from the terminal with a persistent identity
stored under the user config directory (or the configured identity store).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	if cfg.Identity.Driver == kv.DriverMemory {
		path, err := defaultIdentityPath()
		if err != nil {
			return err
		}
		cfg.Identity.Driver = kv.DriverFile
		cfg.Identity.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := kv.Open(cfg.Identity.Driver, cfg.Identity.Path)
	if err != nil {
		return err
	}
	defer closeStore()

	transport, err := webhook.NewClient(cfg.Webhook.URL,
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithLogger(logger.Named("webhook")))
	if err != nil {
		return err
	}

	resolver := identity.NewStore(store, newLocator(cfg.Identity), identity.Config{
		UserAgent:  fmt.Sprintf("chatwidget-cli (%s; %s)", runtime.GOOS, runtime.GOARCH),
		GeoTimeout: cfg.Identity.GeoTimeout,
	}, logger.Named("identity"))

	view := newConsoleView(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ex := exchange.New(resolver, transport, view, cfg.Webhook.Route,
		exchange.WithLogger(logger.Named("exchange")),
		exchange.WithTimeFormat(cfg.Widget.TimeFormat))

	res := ex.Send(cmd.Context(), strings.Join(args, " "))
	switch {
	case res.Skipped:
		return fmt.Errorf("message is empty")
	case res.State == exchange.Failed:
		logger.Debug("exchange failed", zap.Error(res.Err))
		return res.Err
	}
	return nil
}

func defaultIdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "chatwidget", "identity.json"), nil
}
