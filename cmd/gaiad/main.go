package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/gaiadb/pkg/log"
	"github.com/cuemby/gaiadb/pkg/metrics"
	"github.com/cuemby/gaiadb/pkg/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gaiad",
	Short:   "gaiad - in-memory MVCC object store daemon",
	Long:    `gaiad serves a shared-memory-mapped, MVCC transactional object store over a Unix-domain SEQPACKET socket.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"gaiad version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().StringP("config", "c", "", "Path to a YAML config file (defaults applied if omitted)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, /live HTTP endpoints")
	rootCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	var cfg *server.Config
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = server.DefaultConfig()
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	collector := metrics.NewCollector(srv)
	collector.SetVersion(Version)
	collector.Start()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", collector.HealthHandler())
		mux.HandleFunc("/ready", collector.ReadyHandler())
		mux.HandleFunc("/live", collector.LivenessHandler())
		if pprofEnabled {
			// net/http/pprof registers its handlers on DefaultServeMux.
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("socket:  %s\n", cfg.SocketPath)
	fmt.Printf("metrics: http://%s/metrics\n", metricsAddr)
	if pprofEnabled {
		fmt.Printf("pprof:   http://%s/debug/pprof/\n", metricsAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
	}

	collector.Stop()
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Println("shutdown complete")
	return nil
}
