package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/gateway"
	"github.com/F-Prime-Capital/mcp-server/internal/config"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/sessions"
	"github.com/F-Prime-Capital/mcp-server/tools"
	"github.com/F-Prime-Capital/mcp-server/tools/builtin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	addr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Starts the gateway. Settings come from the environment (AZURE_TENANT_ID,
AZURE_CLIENT_ID, AZURE_CLIENT_SECRET, FPRIME_GROUP_ID, SESSION_SECRET_KEY and
friends). The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (defaults to SERVER_HOST:SERVER_PORT)")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	settings, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	level, _ := settings.SlogLevel()
	logHandler := logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})}
	log := slog.New(logHandler)

	store, err := settings.NewStore(ctx, log)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	mgr := sessions.NewManager(store,
		sessions.WithSessionTTL(settings.SessionTTL()),
		sessions.WithLogHandler(logHandler),
	)
	defer mgr.Close()

	providerOpts := []auth.ProviderOption{
		auth.WithPrivilegedGroup(settings.PrivilegedGroupID),
		auth.WithHTTPTimeout(settings.IdPTimeout),
		auth.WithLogHandler(logHandler),
	}
	if settings.PrivilegedRole != "" {
		providerOpts = append(providerOpts, auth.WithPrivilegedRole(settings.PrivilegedRole))
	}
	provider, err := auth.NewProvider(settings.Issuer(), settings.ClientID, settings.ClientSecret, providerOpts...)
	if err != nil {
		return fmt.Errorf("configure identity provider: %w", err)
	}
	if _, err := provider.Metadata(ctx); err != nil {
		return fmt.Errorf("discover identity provider: %w", err)
	}

	registry := tools.NewRegistry(tools.WithLogHandler(logHandler))
	if err := builtin.Register(registry); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	h, err := gateway.New(gateway.Config{
		Provider:      provider,
		Sessions:      mgr,
		Tools:         registry,
		PublicURL:     settings.PublicURL,
		SecureCookies: settings.IsProduction(),
		CookieSecret:  settings.SessionSecret,
		CORSOrigins:   settings.CORSOrigins(),
		Version:       version,
		LogHandler:    logHandler,

		AuthorizationServer: settings.Issuer(),
		Scopes:              auth.DefaultScopes(settings.ClientID),
	})
	if err != nil {
		return fmt.Errorf("configure gateway: %w", err)
	}

	addr := opts.addr
	if addr == "" {
		addr = settings.Addr()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.start",
			slog.String("addr", addr),
			slog.String("env", settings.Env),
			slog.Int("tools", registry.Len()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
