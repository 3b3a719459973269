package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/config"
	"civic-issue-tracker/pkg/database"
	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/logger"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/queue"
	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/pkg/security"
	"civic-issue-tracker/services/report-service/directory"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/sink"
	"civic-issue-tracker/services/report-service/store"
)

const (
	serviceName = "dispatcher-service"
	queueName   = "dispatcher_report_created"
)

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Routes new reports to departments and escalates overdue ones",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var sweepOnce bool

func init() {
	rootCmd.Flags().BoolVar(&sweepOnce, "sweep-once", false, "run a single SLA sweep and exit")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
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
	key, err := security.DeriveKey(cfg.AnonEncKey, cfg.JWTSecret)
	if err != nil {
		return err
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		return err
	}

	conn, ch, err := queue.ConnectRabbitMQ(ctx, cfg.RabbitMQ.AMQPURL(), log)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	// The dispatcher mutates reports through the same engine as the API, so
	// its assignments reach every other consumer as ordinary events.
	dir := directory.NewPostgres(db)
	sinks := sink.Multi{
		sink.Log{Logger: log},
		sink.NewMetrics(prometheus.DefaultRegisterer),
		sink.NewPublisher(ch, log),
	}
	engine := lifecycle.New(store.NewPostgres(db, sealer), dir, sinks, lifecycle.Config{
		BatchLimit:     cfg.Lifecycle.BatchLimit,
		ErrorListLimit: cfg.Lifecycle.ErrorListLimit,
	}, log)

	sweeper, err := NewSweeper(ctx, cfg.Dispatcher.SLASweep, engine, log)
	if err != nil {
		return err
	}
	if sweepOnce {
		sweeper.Run(ctx)
		return nil
	}

	// Deliveries get their own channel so consumer acks never interleave
	// with publishes from the engine.
	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer consumeCh.Close()
	msgs, err := queue.ConsumeMessages(consumeCh, queueName, events.Exchange, events.KeyReportCreated)
	if err != nil {
		return err
	}

	if cfg.Dispatcher.SweepEnabled {
		sweeper.Start()
		defer sweeper.Stop()
		log.Info("sla sweep scheduled", zap.String("spec", cfg.Dispatcher.SLASweep))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           healthRouter(func() error { return database.Ping(db) }),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", zap.Error(err))
		}
	}()

	log.Info("waiting for new reports", zap.String("queue", queueName))
	NewDispatcher(engine, dir, log).Consume(ctx, msgs)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthRouter(ping func() error) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", middleware.GetMetricsHandler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := ping(); err != nil {
			response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "error": err.Error()})
			return
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "UP", "service": serviceName})
	})
	return r
}
