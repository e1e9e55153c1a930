package main

import (
	"context"
	"errors"
	"time"

	"tutordesk/internal/instant/handler"
	"tutordesk/internal/instant/repository"
	"tutordesk/internal/instant/service"
	"tutordesk/internal/instant/stream"
	"tutordesk/internal/instant/validator"
	"tutordesk/pkg/app"
	"tutordesk/pkg/config"
	"tutordesk/pkg/kafka"
	kafka_config "tutordesk/pkg/kafka/config"
	kafka_middleware "tutordesk/pkg/kafka/middleware"

	"github.com/google/uuid"
)

const ServiceName = "instant"

// Relayed events are deduplicated within this window.
const relayDedupeTTL = 10 * time.Minute

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting instant service")

	hub := stream.NewHub(cfg.StreamBufferSize, cfg.Log)
	dedupe := stream.NewDedupe(relayDedupeTTL)
	defer dedupe.Stop()

	serverApp := app.NewApplication()

	var kafkaCfg *kafka_config.Config
	var producer *kafka.Producer
	if cfg.EventsEnabled {
		kafkaCfg = loadKafkaConfig(cfg)
		producer = initProducer(cfg, kafkaCfg)
		defer producer.Close()

		relayConsumer := initRelayConsumer(cfg, kafkaCfg, hub, dedupe)
		defer relayConsumer.Close()
		serverApp.RegisterWorker(func(ctx context.Context) {
			if err := relayConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				cfg.Log.Error("Relay consumer stopped", "error", err)
			}
		})
	} else {
		cfg.Log.Info("Event bus disabled, running single-instance fan-out only")
	}

	requestService := initServices(cfg, hub, dedupe, producer)

	serverApp.SetApp(cfg, handler.NewRouter(
		handler.NewRequestHandler(requestService, cfg.Log),
		handler.NewStreamHandler(requestService, hub, cfg.StreamHeartbeat, cfg.Log),
	), handler.StreamPathPrefix)
	serverApp.Run()
}

func loadKafkaConfig(cfg *config.Config) *kafka_config.Config {
	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)
	return kafkaCfg
}

func initProducer(cfg *config.Config, kafkaCfg *kafka_config.Config) *kafka.Producer {
	producer, err := kafka.NewProducer(kafkaCfg, cfg.EventsTopic, cfg.EventsTopic+".dlq", cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		producer.Use(kafka_middleware.MetricsProducerMiddleware(kafka_middleware.NewMetrics()))
	}
	return producer
}

// initRelayConsumer builds the bridge that re-injects events published
// by other instances into the local hub. Every instance consumes the
// whole topic, so the group ID is unique per process.
func initRelayConsumer(cfg *config.Config, kafkaCfg *kafka_config.Config, hub *stream.Hub, dedupe *stream.Dedupe) *kafka.Consumer {
	relay := stream.NewRelay(hub, dedupe, cfg.Log)
	groupID := "instant-relay-" + uuid.New().String()

	consumer, err := kafka.NewConsumer(kafkaCfg, cfg.EventsTopic, groupID, "", relay.Handle, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create relay consumer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
		consumer.Use(kafka_middleware.MetricsConsumerMiddleware(kafka_middleware.NewMetrics()))
	}
	return consumer
}

func initServices(cfg *config.Config, hub *stream.Hub, dedupe *stream.Dedupe, producer *kafka.Producer) service.RequestService {
	requestValidator := validator.NewRequestValidator(cfg.Log)
	requestRepo := repository.NewMongoRequestRepository(cfg)
	matchRepo := repository.NewMongoMatchRepository(cfg)

	var publisher service.EventPublisher
	if producer != nil {
		publisher = producer
	}

	requestService := service.NewRequestService(
		requestRepo,
		matchRepo,
		requestValidator,
		hub,
		dedupe,
		publisher,
		cfg,
	)

	cfg.Log.Info("Instant services initialized", "database", cfg.MongoDatabaseName)
	return requestService
}
