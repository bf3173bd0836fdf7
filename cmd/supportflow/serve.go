package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tobiasgrim/supportflow/internal/config"
	"github.com/tobiasgrim/supportflow/internal/httpapi"
	"github.com/tobiasgrim/supportflow/pkg/llm"
	"github.com/tobiasgrim/supportflow/pkg/router"
	"github.com/tobiasgrim/supportflow/pkg/runtime"
	"github.com/tobiasgrim/supportflow/pkg/store"
	"github.com/tobiasgrim/supportflow/pkg/tools"
	"github.com/tobiasgrim/supportflow/pkg/workflow"
	"github.com/tobiasgrim/supportflow/pkg/workflow/orderstatus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the supportflow HTTP server",
	Long:  `Starts the conversation runtime and exposes the message and thread API over HTTP.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Log.Level)

		st, locker, err := buildStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		var client llm.Client
		if !cfg.LLM.Disabled {
			cliOpts := []llm.CLIOption{llm.WithPath(cfg.LLM.Path)}
			if cfg.LLM.Model != "" {
				cliOpts = append(cliOpts, llm.WithModel(cfg.LLM.Model))
			}
			if cfg.LLM.Timeout > 0 {
				cliOpts = append(cliOpts, llm.WithTimeout(cfg.LLM.Timeout.Std()))
			}
			client = llm.NewCLI(cliOpts...)
		} else {
			logger.Warn("llm disabled; replies use deterministic templates")
		}

		provider := tools.NewHTTPProvider(cfg.Orders.BaseURL, tools.WithAuthToken(cfg.Orders.Token))
		invoker := tools.NewInvoker(tools.WithInvokerLogger(logger))

		orderWf, err := orderstatus.New(orderstatus.Config{
			Provider: provider,
			Invoker:  invoker,
		})
		if err != nil {
			return err
		}
		registry, err := workflow.NewRegistry(workflow.GeneralName,
			workflow.NewGeneral(workflow.GeneralConfig{}),
			orderWf,
		)
		if err != nil {
			return err
		}

		rtOpts := []runtime.Option{
			runtime.WithLLM(client),
			runtime.WithLogger(logger),
			runtime.WithLockTTL(cfg.Lock.TTL.Std()),
		}
		if locker != nil {
			rtOpts = append(rtOpts, runtime.WithLocker(locker))
		}
		rt, err := runtime.New(st, registry, router.New(client, registry.Names(), workflow.GeneralName, logger), rtOpts...)
		if err != nil {
			return err
		}

		api := httpapi.New(rt, logger, httpapi.NewMetrics())
		srv := &http.Server{
			Addr:         cfg.Listen,
			Handler:      api.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", cfg.Listen, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("graceful shutdown did not complete", "error", err.Error())
				if err := srv.Close(); err != nil {
					return fmt.Errorf("force close: %w", err)
				}
			}
			logger.Info("server stopped")
		}
		return nil
	},
}

// buildStore creates the checkpoint store and, for the redis backend,
// the distributed locker that serializes turns across replicas.
func buildStore(cfg config.Config, logger *slog.Logger) (store.Store, runtime.Locker, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		st := store.NewRedisStore(client, store.WithPrefix(cfg.Store.Redis.Prefix))
		return st, store.NewRedisLocker(client, cfg.Store.Redis.Prefix), nil

	case config.BackendMemory:
		logger.Warn("memory store selected; conversations will not survive restarts")
		return store.NewMemoryStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
