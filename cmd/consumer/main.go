package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/ergorisk/internal/config"
	"example.com/ergorisk/internal/consumer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if cfg.PostgresURL == "" {
		log.Fatal("POSTGRES_URL is required for the audit consumer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	handler := consumer.NewPersistenceHandler(pool)
	g, gctx := errgroup.WithContext(ctx)

	for _, topic := range cfg.ConsumerTopics {
		reader := newReader(cfg, topic)
		proc := consumer.NewProcessor(reader, handler,
			consumer.WithLogger(log.New(os.Stderr, "consumer["+topic+"] ", log.LstdFlags)),
		)
		g.Go(func() error {
			defer reader.Close()
			log.Printf("consuming %s as group %s", topic, cfg.ConsumerGroupID)
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("consumer stopped with error: %v", err)
	}
	log.Println("consumer stopped")
}

func newReader(cfg config.Config, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        10 << 20,
		MaxWait:         time.Second,
		CommitInterval:  time.Second,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})
}
