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
	"gorm.io/gorm"

	"civic-issue-tracker/pkg/config"
	"civic-issue-tracker/pkg/database"
	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/logger"
	"civic-issue-tracker/services/auth-service/utils"
)

const serviceName = "auth-service"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Registration, login and staff accounts",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDB(func(cfg *config.Config, db *gorm.DB, log *zap.Logger) error {
			return serve(cmd.Context(), cfg, db, log)
		})
	},
}

var adminFlags struct {
	email, name, password string
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDB(func(_ *config.Config, db *gorm.DB, log *zap.Logger) error {
			email := utils.NormalizeEmail(adminFlags.email)
			if !utils.IsValidEmail(email) {
				return fmt.Errorf("invalid email %q", adminFlags.email)
			}
			if ok, msg := utils.ValidatePassword(adminFlags.password); !ok {
				return errors.New(msg)
			}
			hash, err := utils.HashPassword(adminFlags.password)
			if err != nil {
				return err
			}
			u := &identity.User{Email: email, Password: hash, Name: adminFlags.name, Role: identity.RoleAdmin}
			if err := (&gormUsers{db: db}).Create(cmd.Context(), u); err != nil {
				return err
			}
			log.Info("admin created", zap.Int64("user_id", u.ID))
			return nil
		})
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminFlags.email, "email", "", "admin email")
	f.StringVar(&adminFlags.name, "name", "Administrator", "display name")
	f.StringVar(&adminFlags.password, "password", "", "initial password")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(createAdminCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withDB(fn func(cfg *config.Config, db *gorm.DB, log *zap.Logger) error) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return err
	}
	log, err := logger.New(serviceName, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	db, err := database.ConnectPostgres(cfg.Postgres, log)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&identity.User{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return fn(cfg, db, log)
}

func serve(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) error {
	s := &server{
		users:  &gormUsers{db: db},
		secret: []byte(cfg.JWTSecret),
		logger: log,
		now:    time.Now,
		health: func() error { return database.Ping(db) },
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("auth service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
