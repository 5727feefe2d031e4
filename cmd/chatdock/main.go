package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"chatdock/internal/browser"
	"chatdock/internal/config"
	"chatdock/internal/hub"
	"chatdock/internal/session"
)

var (
	// Global flags
	verbose    bool
	configPath string
	listenAddr string
	headed     bool

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatdock",
	Short: "chatdock - live-chat session supervisor",
	Long: `chatdock supervises automated live-chat sessions: each session drives a
headless browser through the vendor chat widget, classifies incoming agent
messages, and keeps the conversation alive with scripted replies until a
message calls for human judgment.

The dashboard connects over the /ws websocket endpoint to start and stop
sessions, watch their state, and take conversations over manually.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "chatdock.yaml", "path to the config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	rootCmd.Flags().BoolVar(&headed, "headed", false, "run browsers with a visible window")
}

func runServe(cmd *cobra.Command, args []string) error {
	file, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		file.Listen = listenAddr
	}
	if headed {
		f := false
		file.Headless = &f
	}
	store := config.NewStore(configPath, file)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg *session.Registry
	h := hub.New(nil, store, logger, stop)
	reg = session.NewRegistry(func(id string, cfg config.Session) *session.ChatSession {
		return session.New(id, cfg, func(opts browser.Options) browser.Driver {
			return browser.NewRodDriver(opts, logger)
		}, h, reg, logger)
	})
	h.SetRegistry(reg)

	watcher, err := config.NewWatcher(store, logger, nil)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher not started", zap.Error(err))
	}
	defer watcher.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              file.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", file.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		reg.StopAll()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
