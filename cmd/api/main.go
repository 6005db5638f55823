package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/ergorisk/internal/api"
	"example.com/ergorisk/internal/auth"
	"example.com/ergorisk/internal/config"
	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/outbox"
	"example.com/ergorisk/internal/persistence/memory"
	"example.com/ergorisk/internal/persistence/postgres"
	"example.com/ergorisk/internal/pose"
	httptransport "example.com/ergorisk/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	wristMode, err := pose.ParseWristMode(cfg.WristMode)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo       domain.AssessmentRepository
		dispatcher *outbox.Dispatcher
	)
	if cfg.PostgresURL == "" {
		log.Println("POSTGRES_URL not set; assessments are kept in memory and no events are published")
		repo = memory.NewRepository()
	} else {
		if cfg.MigrationsAuto {
			if err := postgres.Migrate(cfg.PostgresURL); err != nil {
				log.Fatalf("failed to apply migrations: %v", err)
			}
		}

		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		repo = postgres.NewRepository(pool)
	}

	service := domain.NewService(repo,
		domain.WithExtractor(pose.NewExtractor(pose.WithWristMode(wristMode))),
		domain.WithHighRiskThreshold(cfg.HighRiskThreshold),
	)

	handler := api.NewHandler(service, api.WithMaxFrames(cfg.MaxFrames))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.CORS(httptransport.AccessLog(nil, authMiddleware.Wrap(mux))))

	g, gctx := errgroup.WithContext(ctx)
	if dispatcher != nil {
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		log.Printf("ergorisk api listening on %s (wrist=%s, high risk >= %d)", cfg.HTTPAddress, wristMode, cfg.HighRiskThreshold)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("api stopped with error: %v", err)
	}
	log.Println("ergorisk api stopped")
}
