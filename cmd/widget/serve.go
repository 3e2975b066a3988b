package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/config"
	"github.com/zhouzirui/chat-widget/backend/internal/handler"
	"github.com/zhouzirui/chat-widget/backend/internal/handler/widget"
	"github.com/zhouzirui/chat-widget/backend/internal/service/chat"
	"github.com/zhouzirui/chat-widget/backend/internal/service/geo"
	"github.com/zhouzirui/chat-widget/backend/internal/service/identity"
	"github.com/zhouzirui/chat-widget/backend/internal/service/webhook"
	"github.com/zhouzirui/chat-widget/backend/internal/storage/kv"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the widget HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := kv.Open(cfg.Identity.Driver, cfg.Identity.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close identity store failed", zap.Error(err))
		}
	}()

	transport, err := webhook.NewClient(cfg.Webhook.URL,
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithLogger(logger.Named("webhook")))
	if err != nil {
		return err
	}

	connections := widget.NewConnections()
	transcript := chat.NewService(chat.WithIdleTTL(cfg.Widget.SessionTTL))
	identities := identity.NewRegistry(store, newLocator(cfg.Identity), cfg.Identity.GeoTimeout,
		logger.Named("identity"), identity.WithStoreTTL(cfg.Widget.SessionTTL))
	go sweepIdle(ctx, cfg.Widget.SessionTTL, transcript, identities, connections)

	widgetHandler := widget.New(widget.Deps{
		Route:       cfg.Webhook.Route,
		Style:       cfg.Style,
		Greeting:    cfg.Widget.Greeting,
		TimeFormat:  cfg.Widget.TimeFormat,
		Transcript:  transcript,
		Identities:  identities,
		Transport:   transport,
		Connections: connections,
		Logger:      logger.Named("websocket"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(widgetHandler),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(connections.CloseAll)

	logger.Info("chat widget backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("route", cfg.Webhook.Route),
		zap.String("identityDriver", cfg.Identity.Driver))
	return runServer(ctx, srv)
}

// sweepIdle drops idle transcript sessions and identity stores until ctx
// ends. Sessions with an open socket are kept.
func sweepIdle(ctx context.Context, ttl time.Duration, transcript *chat.Service, identities *identity.Registry, connections *widget.Connections) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := transcript.Sweep(connections.Has)
			stores := identities.Sweep()
			if sessions > 0 || stores > 0 {
				logger.Debug("idle state swept",
					zap.Int("sessions", sessions),
					zap.Int("identityStores", stores),
					zap.Int("liveSessions", transcript.Len()))
			}
		}
	}
}

func newLocator(identityCfg config.IdentityConfig) geo.Locator {
	if identityCfg.GeoDisabled {
		return geo.NewClient(identityCfg.GeoURL, geo.Disabled())
	}
	return geo.NewClient(identityCfg.GeoURL)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
