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

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"civic-issue-tracker/pkg/config"
	"civic-issue-tracker/pkg/database"
	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/logger"
	"civic-issue-tracker/pkg/queue"
	"civic-issue-tracker/pkg/security"
	"civic-issue-tracker/pkg/storage"
	"civic-issue-tracker/services/report-service/directory"
	"civic-issue-tracker/services/report-service/handlers"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/sink"
	"civic-issue-tracker/services/report-service/store"
)

const serviceName = "report-service"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Report lifecycle API for the civic issue tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck
		return serve(cmd.Context(), cfg, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the report tables and seed departments",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		db, err := database.ConnectPostgres(cfg.Postgres, log)
		if err != nil {
			return err
		}
		if err := store.Migrate(db); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No subcommand means serve, which is how the container starts us.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(serviceName, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, err := database.ConnectPostgres(cfg.Postgres, log)
	if err != nil {
		return err
	}
	if err := store.Migrate(db); err != nil {
		return err
	}

	key, err := security.DeriveKey(cfg.AnonEncKey, cfg.JWTSecret)
	if err != nil {
		return err
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return err
	}

	sinks := sink.Multi{sink.Log{Logger: log}, sink.NewMetrics(prometheus.DefaultRegisterer)}
	opts := handlers.Options{
		JWTSecret:       []byte(cfg.JWTSecret),
		ConflictRetries: cfg.Lifecycle.ConflictRetries,
		Health:          func(context.Context) error { return database.Ping(db) },
	}

	if cfg.RabbitMQ.Enabled {
		conn, ch, err := queue.ConnectRabbitMQ(ctx, cfg.RabbitMQ.AMQPURL(), log)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		if err := queue.DeclareExchange(ch, events.Exchange); err != nil {
			return err
		}
		sinks = append(sinks, sink.NewPublisher(ch, log))
		watchConnection(conn, log)
	}

	if cfg.Mongo.Enabled {
		mdb, err := database.ConnectMongo(ctx, cfg.Mongo.URI(), cfg.Mongo.DB, log)
		if err != nil {
			return err
		}
		defer mdb.Client().Disconnect(context.Background()) //nolint:errcheck
		archive := sink.NewMongoArchive(mdb, log)
		if err := archive.EnsureIndexes(ctx); err != nil {
			return err
		}
		sinks = append(sinks, archive)
		opts.Archive = archive
	}

	if cfg.MinIO.Enabled {
		objects, err := storage.NewObjectStore(ctx, cfg.MinIO, log)
		if err != nil {
			return err
		}
		opts.Uploader = objects
	}

	engine := newEngine(db, sealer, sinks, cfg, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.New(engine, opts, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runServer(ctx, srv, log)
}

func newEngine(db *gorm.DB, sealer *security.Sealer, sinks lifecycle.Sink, cfg *config.Config, log *zap.Logger) *lifecycle.Engine {
	return lifecycle.New(
		store.NewPostgres(db, sealer),
		directory.NewPostgres(db),
		sinks,
		lifecycle.Config{
			BatchLimit:     cfg.Lifecycle.BatchLimit,
			ErrorListLimit: cfg.Lifecycle.ErrorListLimit,
		},
		log,
	)
}

func watchConnection(conn *amqp.Connection, log *zap.Logger) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			log.Error("rabbitmq connection closed, events will not be published", zap.Error(err))
		}
	}()
}

func runServer(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("report service listening", zap.String("addr", srv.Addr))
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

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
