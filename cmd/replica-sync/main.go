package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/internal/replica"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/config"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/logging"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/postgres"
)

func main() {
	cfg := config.LoadForService("REPLICA")
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("replica-sync")
	log.Info("starting replica-sync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to PostgreSQL")
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, postgres.ServiceReplica); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	kc := cfg.Kafka
	topics := kafka.TopicConfigs(kc.Partitions, kc.ReplicationFactor, append(kc.Topics.Lifecycle(), kc.Topics.SyncResult)...)
	if err := kafka.EnsureTopics(ctx, kc.Brokers, topics...); err != nil {
		log.WithError(err).Fatal("failed to provision kafka topics")
	}

	writerCfg := kafka.WriterConfig{
		Brokers:        kc.Brokers,
		ClientID:       kc.ClientID + "-replica",
		RequestTimeout: kc.RequestTimeout,
		MaxBlock:       kc.MaxBlock,
		Retries:        kc.ProducerRetries,
	}
	results := kafka.NewWriter(writerCfg)
	defer results.Close()
	dlqWriter := kafka.NewDeadLetterWriter(writerCfg)
	defer dlqWriter.Close()

	consumer := replica.NewConsumer(db, results, kc.Topics.SyncResult, cfg.ReplicaFailureRate)
	consumer.Timeout = kc.DeliveryTimeout

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.Brokers,
		GroupID:  "replica-sync",
		Topics:   kc.Topics.Lifecycle(),
		ClientID: kc.ClientID + "-replica",
	})
	defer reader.Close()

	router := kafka.NewDeadLetterRouter(dlqWriter,
		kafka.FixedBackOff{Interval: kc.RetryBackoff, MaxRetries: kc.RetryAttempts},
		kafka.RetryTransient(postgres.IsTransient))

	log.WithField("failure_rate", cfg.ReplicaFailureRate).Info("consumer is running")
	if err := kafka.NewWorker("replica-sync", reader, consumer.HandleMessage, router).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("worker stopped")
	}
	log.Info("replica-sync exited")
}
