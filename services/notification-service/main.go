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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/config"
	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/logger"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/queue"
	"civic-issue-tracker/pkg/response"
)

const (
	serviceName = "notification-service"
	queueName   = "notifications"
)

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Pushes report lifecycle events to browsers over SSE",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
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

	conn, ch, err := queue.ConnectRabbitMQ(ctx, cfg.RabbitMQ.AMQPURL(), log)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	msgs, err := queue.ConsumeMessages(ch, queueName, events.Exchange,
		events.KeyAllReports, events.KeyAllAppeals, events.KeyAllEscalation)
	if err != nil {
		return err
	}
	log.Info("listening for lifecycle events", zap.String("queue", queueName))

	hub := NewHub([]byte(cfg.JWTSecret), prometheus.DefaultRegisterer, log)
	go hub.Run(ctx)
	go hub.Consume(ctx, msgs)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("notification service listening", zap.String("addr", srv.Addr))
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

// routes keeps the SSE endpoints outside the request logger and metrics so a
// long-lived stream is not recorded as one slow request.
func routes(hub *Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)

	r.Get("/notifications/subscribe", hub.Subscribe)
	r.Get("/subscribe", hub.Subscribe)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MetricsMiddleware)
		r.Use(middleware.RequestLogger(log))
		r.Handle("/metrics", middleware.GetMetricsHandler())
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			response.JSON(w, http.StatusOK, map[string]interface{}{
				"status":            "UP",
				"service":           serviceName,
				"connected_clients": hub.Clients(),
			})
		})
	})
	return r
}
