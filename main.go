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

	"trading-assistant/internal/api"
	"trading-assistant/internal/engine"
	"trading-assistant/pkg/config"
	"trading-assistant/pkg/logging"
	"trading-assistant/pkg/secrets"
)

// buildVersion can be overridden via -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "trading-assistant",
		Short: "Trading assistant core",
		Long: `trading-assistant connects to a trading host, streams quotes into a live
chart with overlays, and places risk-checked orders on the operator's behalf.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TA_CONFIG"), "Path to YAML config")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(sealCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var noConnect bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the core and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(*cfg, !noConnect)
		},
	}
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "Start without connecting to the host")
	return cmd
}

func serve(cfg config.Config, autoConnect bool) error {
	log := logging.New(cfg.Log.Level)
	if cfg.Log.Console {
		log = logging.NewConsole(cfg.Log.Level)
	}
	log.Info().Str("version", buildVersion).Str("transport", cfg.Transport.Kind).Msg("starting trading assistant")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(cfg, engine.Options{Version: buildVersion, Log: log})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	eng.Start(ctx)

	if autoConnect {
		if err := eng.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("initial connect failed")
		}
	}

	if cfg.API.JWTSecret == "" {
		log.Warn().Msg("api.jwt_secret is empty, the HTTP API is unauthenticated")
	}
	server := api.NewServer(eng, eng.Metrics(), cfg.API.JWTSecret, log)
	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		log.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	// Close drains the journal before the loop context goes away.
	if err := eng.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("engine close")
	}
	cancel()
	log.Info().Msg("stopped")
	return nil
}

func tokenCmd() *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			token, expiresAt, err := api.GenerateToken(operator, cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "Operator name embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func sealCmd() *cobra.Command {
	var genKey bool
	cmd := &cobra.Command{
		Use:   "seal [value]",
		Short: "Encrypt a secret for the config file with " + secrets.MasterKeyEnv,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if genKey {
				key, err := secrets.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			if len(args) != 1 {
				return errors.New("seal needs a value, or --generate-key")
			}
			ring, err := secrets.FromEnv()
			if err != nil {
				return err
			}
			sealed, err := ring.Seal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&genKey, "generate-key", false, "Print a new base64 master key instead")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trading-assistant %s\n", buildVersion)
		},
	}
}
