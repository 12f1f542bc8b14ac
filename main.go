package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "commhub-backend/cmd/api"
	calldelivery "commhub-backend/internal/call/delivery"
	callRepo "commhub-backend/internal/call/repository"
	callUsecase "commhub-backend/internal/call/usecase"
	conversationdelivery "commhub-backend/internal/conversation/delivery"
	conversationdomain "commhub-backend/internal/conversation/domain"
	conversationRepo "commhub-backend/internal/conversation/repository"
	conversationUsecase "commhub-backend/internal/conversation/usecase"
	ingestdelivery "commhub-backend/internal/ingestion/delivery"
	ingestRepo "commhub-backend/internal/ingestion/repository"
	"commhub-backend/internal/ingestion/scheduler"
	ingestUsecase "commhub-backend/internal/ingestion/usecase"
	"commhub-backend/internal/notification"
	"commhub-backend/internal/provider"
	syncdelivery "commhub-backend/internal/sync/delivery"
	syncRepo "commhub-backend/internal/sync/repository"
	"commhub-backend/pkg/ai"
	"commhub-backend/pkg/config"
	"commhub-backend/pkg/database"
	"commhub-backend/pkg/fcm"
	"commhub-backend/pkg/gmail"
	"commhub-backend/pkg/logger"
	"commhub-backend/pkg/realtime"
	"commhub-backend/pkg/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.SourcesFile).Msg("Failed to load sources")
	}

	// Fan-out transports
	hub := realtime.NewHub()
	var rdb *redis.Client
	publishers := realtime.Multi{}
	if cfg.RedisAddr != "" {
		rdb, err = realtime.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()

		// Every instance serves SSE from the shared channel, including its own events
		redisPub := realtime.NewRedisPublisher(rdb, cfg.RedisChannel)
		if err := redisPub.Forward(ctx, func(event realtime.Event) {
			_ = hub.Publish(ctx, event.Topic, event)
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to redis fan-out")
		}
		publishers = append(publishers, redisPub)
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.RabbitMQURL != "" {
		rabbit, err := realtime.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, downstream fan-out disabled")
		} else {
			defer rabbit.Close()
			publishers = append(publishers, rabbit)
		}
	}

	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize FCM client, push notifications disabled")
		} else {
			publishers = append(publishers, fcm.NewPublisher(fcmClient, cfg.FCMTopicPrefix, "conversation.opened", "source.auth_failed"))
		}
	}

	// Media and recording mirror
	var mirror *storage.Mirror
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize S3, media stays at provider URLs")
		} else {
			mirror = storage.NewMirror(store, cfg.ProviderTimeout)
		}
	}

	// Provider adapters
	gmailTopic := cfg.GooglePubSubTopic
	if gmailTopic != "" && !strings.HasPrefix(gmailTopic, "projects/") && cfg.GoogleProjectID != "" {
		gmailTopic = "projects/" + cfg.GoogleProjectID + "/topics/" + gmailTopic
	}
	registry, err := provider.NewRegistry(sources,
		provider.NewGmailAdapter(provider.NewGmailOpener(gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)), gmailTopic, cfg.MailBatchSize, mirror),
		provider.NewImapAdapter(cfg.MailBatchSize, cfg.ProviderTimeout),
		provider.NewWuzapiAdapter(cfg.ProviderTimeout),
		provider.NewTwilioAdapter("", cfg.ProviderTimeout, mirror),
		provider.NewCloudPBXAdapter(cfg.ProviderTimeout, cfg.CallSyncOverlap, cfg.CallSyncLookback, cfg.CallSyncPageSize),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid source configuration")
	}
	log.Info().Int("sources", len(registry.All())).Msg("Sources loaded")

	// Repositories
	conversationRepository := conversationRepo.NewConversationRepository(db)
	callRepository := callRepo.NewCallRepository(db)
	cursorRepository := syncRepo.NewCursorRepository(db)
	subscriptionRepository := syncRepo.NewSubscriptionRepository(db)
	taskRepository := ingestRepo.NewTaskRepository(db)

	// Classification
	classifier, err := ai.NewClassifier(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiApiKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		Timeout:       cfg.ClassifyTimeout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Classifier unavailable, conversations stay unclassified")
	}
	classifyWorker := conversationUsecase.NewClassificationWorker(conversationRepository, classifier, publishers, cfg.Teams, cfg.DefaultTeam, cfg.ClassifyTimeout, 3)
	classifyWorker.Start()

	// Ingestion
	reconciler := callUsecase.NewReconciler(callRepository, mirror, publishers, callUsecase.ReconcilerConfig{
		PhoneFallback:  cfg.CallCallbackPhoneFallback,
		FallbackWindow: cfg.CallCallbackWindow,
	})
	deduper := ingestUsecase.NewDeduper(conversationRepository, cfg.DedupCacheTTL)
	engine := ingestUsecase.NewEngine(conversationRepository, deduper, reconciler, registry, mirror, classifyWorker, publishers, ingestUsecase.EngineConfig{
		ArchivedPolicy: conversationdomain.ParseArchivedPolicy(cfg.ArchivedInboundPolicy),
	})

	var locker scheduler.Locker
	if rdb != nil {
		locker = scheduler.NewRedisLocker(rdb, "")
	}
	poller := scheduler.NewPoller(registry, cursorRepository, subscriptionRepository, engine, publishers, locker, scheduler.PollerConfig{
		MailInterval:    cfg.MailPollInterval,
		CallInterval:    cfg.CallSyncInterval,
		RenewInterval:   cfg.WatchRenewInterval,
		RenewLookahead:  cfg.WatchRenewLookahead,
		ProviderTimeout: cfg.ProviderTimeout,
		Concurrency:     cfg.PollConcurrency,
		LockTTL:         cfg.PollLockTTL,
	})
	engine.SetSyncer(poller)

	queue := ingestUsecase.NewQueue(taskRepository, registry, engine, ingestUsecase.QueueConfig{
		Workers:       cfg.IngestWorkers,
		MaxAttempts:   cfg.IngestMaxAttempts,
		RetryBase:     cfg.IngestRetryBase,
		SweepInterval: cfg.IngestSweepInterval,
	})
	queue.Start()
	poller.Start()

	// Gmail notifications over Pub/Sub pull, when a project is configured
	if cfg.GoogleProjectID != "" && cfg.GooglePubSubTopic != "" {
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		notifService, err := notification.NewService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, registry, queue)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize notification service")
		} else {
			defer notifService.Close()
			go notifService.Start(ctx)
		}
	} else {
		log.Info().Msg("Pub/Sub not configured, Gmail changes arrive by webhook and polling")
	}

	// HTTP
	handler := api.NewHandler(
		hub,
		conversationdelivery.NewConversationHandler(conversationUsecase.NewConversationService(conversationRepository, registry, publishers, cfg.ProviderTimeout)),
		calldelivery.NewCallHandler(reconciler),
		syncdelivery.NewSyncHandler(registry, cursorRepository, subscriptionRepository, poller),
		ingestdelivery.NewWebhookHandler(registry, queue, cfg.PublicBaseURL),
		ingestdelivery.NewDeadLetterHandler(queue),
	)
	server := handler.Server(":" + cfg.Port)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	poller.Stop()
	queue.Stop()
	classifyWorker.Stop()
}
