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
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentmesh/milestones-api/internal/auth"
	"github.com/talentmesh/milestones-api/internal/config"
	"github.com/talentmesh/milestones-api/internal/database"
	"github.com/talentmesh/milestones-api/internal/escrow"
	"github.com/talentmesh/milestones-api/internal/logging"
	"github.com/talentmesh/milestones-api/internal/negotiation"
	"github.com/talentmesh/milestones-api/internal/notify"
	"github.com/talentmesh/milestones-api/internal/parties"
	"github.com/talentmesh/milestones-api/internal/pdf"
	"github.com/talentmesh/milestones-api/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "milestones-api",
		Short: "Milestone negotiation backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("escrow-base-url", defaults.GetString("escrow.base_url"), "Escrow activation service base URL")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Dev token TTL in minutes")
	cmd.PersistentFlags().Bool("enable-dev-tokens", defaults.GetBool("auth.enable_dev_tokens"), "Expose the dev token mint endpoint")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "escrow.base_url", "escrow-base-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.enable_dev_tokens", "enable-dev-tokens")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})

	partyService, err := parties.NewService(parties.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	store, err := negotiation.NewStore(negotiation.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: negotiation.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var activator negotiation.Activator = escrow.NopActivator{}
	if appConfig.EscrowBaseURL != "" {
		httpActivator, err := escrow.NewHTTPActivator(appConfig.EscrowBaseURL, nil, logger)
		if err != nil {
			return err
		}
		activator = httpActivator
	}

	dispatcher := notify.NewDispatcher()

	negotiationService, err := negotiation.NewService(negotiation.ServiceConfig{
		Store:     store,
		Roles:     partyService,
		Activator: activator,
		Notifier:  dispatcher,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		TokenManager: tokenManager,
		Negotiations: negotiationService,
		Roles:        partyService,
		Dispatcher:   dispatcher,
		Schedule:     pdf.NewScheduleGenerator(),
		Logger:       logger,
	}
	if appConfig.EnableDevTokens {
		deps.DevTokenIssuer = tokenManager
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
