package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketpulse/indicatorengine/internal/backtest"
	"github.com/marketpulse/indicatorengine/internal/bus"
	"github.com/marketpulse/indicatorengine/internal/cache"
	"github.com/marketpulse/indicatorengine/internal/config"
	"github.com/marketpulse/indicatorengine/internal/engine/streaming"
	httpapi "github.com/marketpulse/indicatorengine/internal/interfaces/http"
	"github.com/marketpulse/indicatorengine/internal/metrics"
	"github.com/marketpulse/indicatorengine/internal/registry"
	"github.com/marketpulse/indicatorengine/internal/store"
	"github.com/marketpulse/indicatorengine/internal/variant"
)

const (
	appName = "indicatorengine"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Streaming and backtest indicator engine",
		Version: version,
		Long: `indicatorengine computes technical indicators over streaming and
historical market data, evaluates strategy signals against them, and
replays strategies through a deterministic backtest engine.`,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a yaml config file (defaults built in)")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newBacktestCmd(&configPath))
	rootCmd.AddCommand(newVariantCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("indicatorengine.fatal")
	}
}

// loadConfig reads the config file pointed to by configPath, falling
// back to config.Default() when unset.
func loadConfig(configPath string) config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("indicatorengine.config_load_failed")
	}
	return cfg
}

// openDB connects to Postgres when cfg.Enabled, returning nil otherwise
// so callers can run entirely off an in-memory cache and caller-supplied
// test doubles. The same handle backs both the time-series store and the
// variant repository.
func openDB(cfg config.StoreConfig) *sqlx.DB {
	if !cfg.Enabled {
		log.Warn().Msg("indicatorengine.store_disabled")
		return nil
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("indicatorengine.store_connect_failed")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db
}

func newServeCmd(configPath *string) *cobra.Command {
	var httpPort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming engine and the monitoring HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)

			reg := registry.New()
			n := reg.AutoDiscover()
			log.Info().Int("algorithms", n).Msg("indicatorengine.algorithms_registered")

			metricsRegistry := metrics.NewRegistry()
			b := bus.New()
			b.SetMetrics(metricsRegistry)

			var variants streaming.VariantResolver
			var cachedStore store.Store
			if db := openDB(cfg.Store); db != nil {
				variants = variant.NewPostgresRepo(db, cfg.Store.QueryTimeout, reg)
				backing := store.NewPostgresStore(db, cfg.Store.QueryTimeout)
				cachedStore = cache.NewCachingStore(backing, cache.NewAuto(cfg.Cache.RedisAddr), cfg.Cache.TTL)
			}

			eng := streaming.New(reg, variants, b, cfg.Engine)
			ctx, cancel := context.WithCancel(context.Background())
			eng.Start(ctx)
			defer eng.Shutdown()

			httpCfg := httpapi.DefaultServerConfig()
			if httpPort != 0 {
				httpCfg.Port = httpPort
			}
			server, err := httpapi.NewServer(httpCfg, metricsRegistry, reg, cachedStore)
			if err != nil {
				cancel()
				return err
			}

			go func() {
				if err := server.Start(); err != nil {
					log.Error().Err(err).Msg("indicatorengine.http_server_failed")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Info().Msg("indicatorengine.shutting_down")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&httpPort, "port", 0, "HTTP server port (overrides the default/HTTP_PORT)")
	return cmd
}

func newBacktestCmd(configPath *string) *cobra.Command {
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest session commands",
	}

	var sessionID string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replay one backtest session to completion and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			dbHandle := openDB(cfg.Store)
			if dbHandle == nil {
				return fmt.Errorf("backtest run requires store.enabled: true (set INDICATORENGINE_STORE_DSN)")
			}
			ts := store.NewPostgresStore(dbHandle, cfg.Store.QueryTimeout)

			metricsRegistry := metrics.NewRegistry()
			b := bus.New()
			b.SetMetrics(metricsRegistry)

			om := backtest.NewOrderManager(b, 0, nowSeconds)
			om.SetMetrics(metricsRegistry)

			loader := backtest.NewStoreSessionConfigLoader(ts)
			candles := backtest.NewStoreCandleSource(ts)
			eng := backtest.NewEngine(sessionID, loader, candles, b, om, nowSeconds)

			result := eng.Run(cmd.Context())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	runCmd.Flags().StringVar(&sessionID, "session", "", "Backtest session id to replay")
	runCmd.MarkFlagRequired("session")

	backtestCmd.AddCommand(runCmd)
	return backtestCmd
}

func newVariantCmd() *cobra.Command {
	variantCmd := &cobra.Command{
		Use:   "variant",
		Short: "Indicator variant commands",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered algorithm indicator types",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New()
			reg.AutoDiscover()
			for _, id := range reg.IndicatorTypes() {
				fmt.Println(id)
			}
			return nil
		},
	}
	variantCmd.AddCommand(listCmd)
	return variantCmd
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }
