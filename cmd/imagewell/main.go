package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/term"

	"github.com/rlanders/imagewell/internal/api"
	"github.com/rlanders/imagewell/internal/config"
	"github.com/rlanders/imagewell/internal/credentials"
	"github.com/rlanders/imagewell/internal/event"
	"github.com/rlanders/imagewell/internal/gateway"
	"github.com/rlanders/imagewell/internal/gateway/duckduckgo"
	"github.com/rlanders/imagewell/internal/gateway/google"
	"github.com/rlanders/imagewell/internal/imageproxy"
	"github.com/rlanders/imagewell/internal/logging"
	"github.com/rlanders/imagewell/internal/search"
	"github.com/rlanders/imagewell/internal/version"
	"github.com/rlanders/imagewell/internal/webhook"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export-credentials":
			if err := exportCredentials(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "import-credentials":
			if err := importCredentials(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := resolveConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(cfg.Logging)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	logger.Info("starting imagewell",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	// Event bus and webhook fan-out
	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()

	if len(cfg.Webhooks) > 0 {
		dispatcher := webhook.NewDispatcher(cfg.Webhooks, logger)
		for _, t := range event.AllTypes() {
			eventBus.Subscribe(t, dispatcher.HandleEvent)
		}
	}

	// Gateways
	rateLimiters := gateway.NewRateLimiterMap()
	registry := gateway.NewRegistry()
	googleGW := google.New(rateLimiters, logger, cfg.Gateway.Google.APIKey, cfg.Gateway.Google.EngineID)
	registry.Register(googleGW)
	registry.Register(duckduckgo.New(rateLimiters, logger))

	activeGW := registry.Get(gateway.Name(cfg.Gateway.Name))
	if activeGW == nil {
		return fmt.Errorf("unknown gateway: %s", cfg.Gateway.Name)
	}
	if activeGW.RequiresAuth() && cfg.Gateway.Google.APIKey == "" {
		logger.Warn("gateway credentials missing; searches will fail until configured",
			slog.String("gateway", cfg.Gateway.Name))
	}

	// Search session manager
	sessions := search.NewManager(
		activeGW,
		cfg.Search.MaxOffset,
		time.Duration(cfg.Search.SessionTTLMinutes)*time.Minute,
		eventBus,
		logger,
	)

	// Image proxy
	proxy := imageproxy.New(imageproxy.Options{
		Timeout:      time.Duration(cfg.Proxy.TimeoutSeconds) * time.Second,
		MaxBodyBytes: int64(cfg.Proxy.MaxBodyMB) << 20,
		UserAgent:    cfg.Proxy.UserAgent,
		AllowedHosts: cfg.Proxy.AllowedHosts,
	}, eventBus, logger)

	router := api.NewRouter(api.RouterDeps{
		Sessions:   sessions,
		Gateway:    activeGW,
		ImageProxy: proxy,
		Logger:     logger,
		BasePath:   cfg.Server.BasePath,
		StaticDir:  "web/static",
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config hot reload: logging and gateway credentials apply in place.
	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		logManager.Reconfigure(next.Logging)
		googleGW.SetCredentials(next.Gateway.Google.APIKey, next.Gateway.Google.EngineID)
	}, logger)
	go watcher.Start(ctx)

	go sessions.StartSweeper(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.Server.MaxConns)
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("base_path", cfg.Server.BasePath),
			slog.String("gateway", cfg.Gateway.Name))
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func resolveConfigPath() string {
	if p := os.Getenv("IW_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

// exportCredentials seals the configured gateway credentials to a
// passphrase-protected file.
func exportCredentials() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	outPath := "imagewell-credentials.json"
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	passphrase, err := promptPassphrase("Passphrase for the export: ")
	if err != nil {
		return err
	}

	sealed, err := credentials.Seal(credentials.Payload{
		Gateway:        cfg.Gateway.Name,
		GoogleAPIKey:   cfg.Gateway.Google.APIKey,
		GoogleEngineID: cfg.Gateway.Google.EngineID,
	}, passphrase)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}

	if err := os.WriteFile(outPath, sealed, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	fmt.Printf("Credentials exported to %s\n", outPath)
	return nil
}

// importCredentials opens a sealed credentials file and writes the values
// into the config file.
func importCredentials() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: imagewell import-credentials <file>")
	}
	inPath := os.Args[2]

	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := os.ReadFile(inPath) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}

	passphrase, err := promptPassphrase("Passphrase: ")
	if err != nil {
		return err
	}

	payload, err := credentials.Open(data, passphrase)
	if err != nil {
		return fmt.Errorf("opening credentials: %w", err)
	}

	if payload.Gateway != "" {
		cfg.Gateway.Name = payload.Gateway
	}
	cfg.Gateway.Google.APIKey = payload.GoogleAPIKey
	cfg.Gateway.Google.EngineID = payload.GoogleEngineID

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Credentials imported into %s\n", configPath)
	return nil
}

// promptPassphrase reads a passphrase without echoing it.
func promptPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(raw), nil
}
