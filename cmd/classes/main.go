package main

import (
	"tutordesk/internal/classes/handler"
	"tutordesk/internal/classes/repository"
	"tutordesk/internal/classes/service"
	"tutordesk/internal/classes/validator"
	"tutordesk/pkg/app"
	"tutordesk/pkg/config"
	"tutordesk/pkg/kafka"
	kafka_config "tutordesk/pkg/kafka/config"
	kafka_middleware "tutordesk/pkg/kafka/middleware"
)

const ServiceName = "classes"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting classes service")

	producer := initProducer(cfg)
	if producer != nil {
		defer producer.Close()
	}

	bookingService, sessionService := initServices(cfg, producer)

	serverApp := app.NewApplication()
	serverApp.RegisterWorker(bookingService.RunReconciler)
	serverApp.SetApp(cfg, handler.NewRouter(
		handler.NewBookingHandler(bookingService, cfg.Log),
		handler.NewSessionHandler(sessionService, cfg.Log),
	))
	serverApp.Run()
}

func initProducer(cfg *config.Config) *kafka.Producer {
	if !cfg.EventsEnabled {
		cfg.Log.Info("Event publishing disabled")
		return nil
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)

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

func initServices(cfg *config.Config, producer *kafka.Producer) (service.BookingService, service.SessionService) {
	classesValidator := validator.NewClassesValidator(cfg.Log)
	sessionRepo := repository.NewMongoSessionRepository(cfg)
	bookingRepo := repository.NewMongoBookingRepository(cfg)

	var publisher service.EventPublisher
	if producer != nil {
		publisher = producer
	}

	bookingService := service.NewBookingService(
		bookingRepo,
		sessionRepo,
		classesValidator,
		publisher,
		cfg,
	)
	sessionService := service.NewSessionService(
		sessionRepo,
		classesValidator,
		cfg,
	)

	cfg.Log.Info("Classes services initialized", "database", cfg.MongoDatabaseName)
	return bookingService, sessionService
}
