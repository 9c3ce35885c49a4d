package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/YogaNavi-Refactoring/YogaNavi-User-Service/docs"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/account"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/api"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/auth"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/saga"
	storepg "github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/store/postgres"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/config"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/logging"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/postgres"
)

// @title           YogaNavi User Service API
// @version         1.0
// @description     User registration, profile and session API. Lifecycle changes are published to Kafka for downstream synchronization.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.LoadForService("USER")
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("user-service")
	log.Info("starting user-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to PostgreSQL")
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, postgres.ServiceUser); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}
	st := storepg.New(db)

	kc := cfg.Kafka
	topics := kafka.TopicConfigs(kc.Partitions, kc.ReplicationFactor, append(kc.Topics.Lifecycle(), kc.Topics.SyncResult)...)
	if err := kafka.EnsureTopics(ctx, kc.Brokers, topics...); err != nil {
		log.WithError(err).Fatal("failed to provision kafka topics")
	}

	writerCfg := kafka.WriterConfig{
		Brokers:        kc.Brokers,
		ClientID:       kc.ClientID,
		RequestTimeout: kc.RequestTimeout,
		MaxBlock:       kc.MaxBlock,
		Retries:        kc.ProducerRetries,
	}
	eventWriter := kafka.NewWriter(writerCfg)
	defer eventWriter.Close()
	dlqWriter := kafka.NewDeadLetterWriter(writerCfg)
	defer dlqWriter.Close()

	publisher := saga.NewPublisher(eventWriter, kc.Topics, kc.DeliveryTimeout)
	coordinator := saga.NewCoordinator(st, time.Now)

	var classifier kafka.Classifier = kafka.NeverRetry
	if kc.RetryTransient {
		classifier = kafka.RetryTransient(postgres.IsTransient)
	}
	router := kafka.NewDeadLetterRouter(dlqWriter,
		kafka.FixedBackOff{Interval: kc.RetryBackoff, MaxRetries: kc.RetryAttempts}, classifier)

	resultReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.GroupID,
		Topics:   []string{kc.Topics.SyncResult},
		ClientID: kc.ClientID,
	})
	defer resultReader.Close()

	dlqReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.Brokers,
		GroupID:  kc.GroupID + "-dlq",
		Topics:   []string{kafka.DeadLetterTopic(kc.Topics.SyncResult)},
		ClientID: kc.ClientID,
	})
	defer dlqReader.Close()

	var sessions auth.KV
	if cfg.RedisAddr != "" {
		rkv, err := auth.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer rkv.Close()
		sessions = rkv
	} else {
		log.Warn("REDIS_ADDR not set, sessions are kept in memory")
		sessions = auth.NewMemoryKV()
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	accounts := account.NewService(st, publisher, issuer, sessions, cfg.DeletionGrace)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).WithField("task", name).Error("background task stopped")
				stop()
			}
		}()
	}

	run("sync-result", kafka.NewWorker("sync-result", resultReader, coordinator.HandleMessage, router).Run)
	run("sync-result-dlq", kafka.NewWorker("sync-result-dlq", dlqReader, saga.NewDLQObserver().HandleMessage, nil).Run)
	run("purge", func(ctx context.Context) error {
		accounts.RunPurger(ctx, cfg.PurgeInterval)
		return nil
	})

	srv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewRouter(api.NewUserHandler(accounts), issuer),
	}

	go func() {
		log.WithField("port", cfg.APIPort).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	wg.Wait()
	log.Info("user-service exited gracefully")
}
