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

	"chatwarden/internal/analytics"
	"chatwarden/internal/bot"
	"chatwarden/internal/challenge"
	"chatwarden/internal/clock"
	"chatwarden/internal/config"
	"chatwarden/internal/enforce"
	"chatwarden/internal/moderation"
	"chatwarden/internal/modules/audit"
	"chatwarden/internal/modules/channels"
	"chatwarden/internal/monitor"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v3"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:           "chatwarden",
	Short:         "Telegram group moderation bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		store.Close()
		logger.Info("migrations applied", zap.String("database", cfg.DatabasePath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return store, nil
}

func run() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tb, err := tele.NewBot(tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: &tele.LongPoller{
			Timeout:        config.Seconds(cfg.Telegram.PollTimeoutSeconds),
			AllowedUpdates: []string{"message", "edited_message", "callback_query", "my_chat_member"},
		},
		OnError: func(err error, c tele.Context) {
			logger.Warn("telegram handler error", zap.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	clk := clock.Real()
	runtime := config.NewRuntime(cfg)
	tr := transport.NewTelebot(tb, logger)
	janitor := transport.NewJanitor(tr, clk, logger)
	auditLogger := audit.NewLogger(store, logger)

	tracker := monitor.New(monitor.Options{
		Retention:     config.Seconds(cfg.Monitor.RetentionSeconds),
		Capacity:      cfg.Monitor.Capacity,
		SweepInterval: config.Seconds(cfg.Monitor.SweepIntervalSeconds),
		EvictFraction: cfg.Monitor.EvictFraction,
	}, clk, logger)
	scanner, err := channels.NewScanner(cfg.Profile.Patterns, tr, logger)
	if err != nil {
		return fmt.Errorf("profile patterns: %w", err)
	}
	executor := enforce.New(tr, store, auditLogger, janitor, config.Seconds(cfg.Enforcement.WarnNoticeSeconds), logger)
	engine := challenge.New(challenge.Options{
		Timeout:       config.Seconds(cfg.Captcha.TimeoutSeconds),
		SuccessNotice: config.Seconds(cfg.Captcha.SuccessNoticeSeconds),
		FailureNotice: config.Seconds(cfg.Captcha.FailureNoticeSeconds),
		Problems:      cfg.Captcha.Problems,
	}, challenge.Deps{
		Transport: tr,
		Store:     store,
		Fallback:  executor,
		Janitor:   janitor,
		Runtime:   runtime,
		Clock:     clk,
		Logger:    logger,
	})
	service := moderation.New(moderation.Deps{
		Store:     store,
		Transport: tr,
		Tracker:   tracker,
		Scanner:   scanner,
		Engine:    engine,
		Executor:  executor,
		Audit:     auditLogger,
		BotID:     tb.Me.ID,
		Logger:    logger,
	})
	botSvc := bot.New(tb, bot.Deps{
		Config:    cfg,
		Runtime:   runtime,
		Store:     store,
		Transport: tr,
		Service:   service,
		Engine:    engine,
		Tracker:   tracker,
		Analytics: analytics.New(store),
		Audit:     auditLogger,
		Clock:     clk,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker.Start()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		botSvc.Start()
		return nil
	})

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	logger.Info("bot started", zap.String("username", tb.Me.Username))
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if server != nil {
			_ = server.Shutdown(shutdownCtx)
		}
		botSvc.Stop()
		return nil
	})

	err = g.Wait()
	engine.Close()
	janitor.Close()
	tracker.Stop()
	return err
}
