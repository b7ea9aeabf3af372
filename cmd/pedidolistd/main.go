// pedidolistd is the local sync daemon. It owns the record store, serves the
// WebSocket bridge for UI clients and runs the background sync scheduler
// against the remote PedidoList API.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pedidolist/pedidolist-core/internal/bridge"
	"github.com/pedidolist/pedidolist-core/internal/logging"
	"github.com/pedidolist/pedidolist-core/internal/store"
	syncengine "github.com/pedidolist/pedidolist-core/internal/sync"
	"github.com/pedidolist/pedidolist-core/internal/sync/api"
	"github.com/pedidolist/pedidolist-core/internal/sync/conflict"
	"github.com/pedidolist/pedidolist-core/internal/sync/queue"
	"github.com/pedidolist/pedidolist-core/internal/sync/scheduler"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pedidolistd",
	Short: "PedidoList local sync daemon",
	Long: `pedidolistd keeps a durable local copy of orders, products and
categories, queues offline mutations and synchronizes them with the remote
PedidoList API in the background.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pedidolistd", version)
	},
}

var version = "dev"

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.pedidolist/config.yaml)")
	rootCmd.Flags().String("data-dir", "", "directory for the local record store")
	rootCmd.Flags().String("api-base-url", "", "remote API base URL")
	rootCmd.Flags().String("bridge-listen", "", "WebSocket bridge listen address")
	rootCmd.Flags().Duration("sync-interval", 0, "periodic sync interval")
	rootCmd.Flags().String("log-file", "", "log file path (stdout when empty)")

	viper.BindPFlag("data_dir", rootCmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("api_base_url", rootCmd.Flags().Lookup("api-base-url"))
	viper.BindPFlag("bridge_listen", rootCmd.Flags().Lookup("bridge-listen"))
	viper.BindPFlag("sync_interval", rootCmd.Flags().Lookup("sync-interval"))
	viper.BindPFlag("log_file", rootCmd.Flags().Lookup("log-file"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	viper.SetDefault("data_dir", filepath.Join(home, ".pedidolist"))
	viper.SetDefault("api_base_url", "http://localhost:8080")
	viper.SetDefault("bridge_listen", "127.0.0.1:8091")
	viper.SetDefault("sync_interval", scheduler.DefaultInterval)
	viper.SetDefault("log_file", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("conflict_strategy", string(conflict.StrategyLastWriteWins))
	viper.SetDefault("order_retention_days", 90)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".pedidolist"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PEDIDOLIST")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	var out io.Writer = os.Stdout
	if logFile := viper.GetString("log_file"); logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	level := logging.LevelInfo
	switch viper.GetString("log_level") {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}

	logging.Init(out, level)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	initLogging()

	dataDir := viper.GetString("data_dir")
	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer db.Close()

	repo := store.NewRepository(db)
	defer repo.Close()

	q := queue.New(repo, 0)
	client := api.NewClient(viper.GetString("api_base_url"))
	engine := syncengine.NewEngine(repo, q, client,
		conflict.Strategy(viper.GetString("conflict_strategy")))

	hub := bridge.NewHub()
	sched := scheduler.New(engine, hub, hub, viper.GetDuration("sync_interval"))
	hub.OnSyncRequest(sched.Trigger)
	hub.OnNetworkStatus(sched.SetOnline)
	sched.Start()
	defer sched.Stop()

	stopPurge := startRetentionLoop(repo, viper.GetInt("order_retention_days"))
	defer stopPurge()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", bridge.Handler(hub))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              viper.GetString("bridge_listen"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Bridge listening",
			map[string]interface{}{"addr": srv.Addr, "data_dir": dataDir})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		return fmt.Errorf("bridge server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startRetentionLoop purges old closed orders once a day. Unsynced orders are
// never purged, so pending work survives any retention window.
func startRetentionLoop(repo *store.Repository, retentionDays int) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				purged, err := repo.PurgeOrdersOlderThan(retentionDays)
				if err != nil {
					logging.Error("Order retention purge failed", err, nil)
					continue
				}
				if purged > 0 {
					logging.Info("Purged old orders",
						map[string]interface{}{"count": purged, "retention_days": retentionDays})
				}
			}
		}
	}()
	return func() { close(stop) }
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
