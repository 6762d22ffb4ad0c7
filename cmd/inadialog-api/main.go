package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/config"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/database"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/server"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inadialog-api",
		Short: "Collaborative diagram editor backend",
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
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("session-signing-secret", "", "Session cookie signing secret; enables cookie sessions")
	cmd.PersistentFlags().Duration("fade-interval", defaults.GetDuration("presence.fade_interval"), "Delay between ink trail fade steps")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "session.signing_secret", "session-signing-secret")
	bindFlag(cmd, "presence.fade_interval", "fade-interval")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.Migrate(db, time.Now, logger); err != nil {
		return err
	}

	documents, err := docstore.NewService(docstore.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: docstore.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	editors, err := diagram.NewManager(diagram.ManagerConfig{
		Store:  documents,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.TokenSigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Tokens:         tokenManager,
		Store:          documents,
		Editors:        editors,
		Presence:       realtime.NewStore(realtime.Config{Logger: logger}),
		FadeInterval:   appConfig.FadeInterval,
		CursorColor:    appConfig.CursorColor,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}
	if appConfig.SessionCookiesEnabled() {
		sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.SessionSigningSecret),
			Issuer:        appConfig.SessionIssuer,
			CookieName:    appConfig.SessionCookieName,
		})
		if err != nil {
			return err
		}
		identities, err := users.NewService(users.ServiceConfig{
			Database: db,
			Clock:    time.Now,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		deps.Sessions = sessions
		deps.Users = identities
		logger.Info("session cookies enabled", zap.String("cookie", appConfig.SessionCookieName))
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		// pending diagram writes are flushed after the last request finished
		if err := editors.Close(shutdownCtx); err != nil {
			logger.Error("failed to flush diagrams on shutdown", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		editors.Close(context.Background()) //nolint:errcheck
		return err
	}
}
