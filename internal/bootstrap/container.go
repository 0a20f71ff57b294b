package bootstrap

import (
	"context"

	"focusroom-be/internal/config"
	"focusroom-be/internal/controller"
	"focusroom-be/internal/handler"
	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/repository/implementation"
	"focusroom-be/internal/repository/memory"
	"focusroom-be/internal/service"
	"focusroom-be/internal/websocket"
	"focusroom-be/pkg/intervention"
	"focusroom-be/pkg/llm/factory"
	pktNats "focusroom-be/pkg/nats"
	"focusroom-be/pkg/opennote"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	InterventionController controller.IInterventionController
	AdminController        controller.IAdminController
	NotificationHandler    *handler.NotificationHandler

	// Background services, started by Run
	InterventionService *service.InterventionService
	NotificationService *service.NotificationService
	ConsumerService     service.IConsumerService
	Notifier            *service.InterventionNotifier
	WebSocketHub        *websocket.Hub

	Logger logger.ILogger

	cfg     *config.Config
	pubSub  *gochannel.GoChannel
	natsPub *pktNats.Publisher
	natsSub *pktNats.Subscriber
	rdb     *redis.Client
}

// NewContainer wires everything. db may be nil, in which case jobs live in
// memory and decision history and notifications are unavailable.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// In-process bus for decision persistence
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)

	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "Failed to connect to NATS publisher, using direct delivery", map[string]interface{}{"error": err.Error()})
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "Failed to connect to NATS subscriber", map[string]interface{}{"error": err.Error()})
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "Failed to parse Redis URL, using it as an address", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		sysLogger.Warn("BOOTSTRAP", "Redis unavailable, websocket fan-out is local only", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		rdb = nil
	}

	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	wsHub := websocket.NewHub(rdb, wsLogger)

	// Repositories
	var (
		jobRepo      contract.InterventionJobRepository
		decisionRepo contract.DecisionLogRepository
		notifRepo    contract.NotificationRepository
	)
	if db != nil {
		jobRepo = implementation.NewInterventionJobRepository(db)
		decisionRepo = implementation.NewDecisionLogRepository(db)
		notifRepo = implementation.NewNotificationRepository(db)
	}

	notificationService := service.NewNotificationService(notifRepo, natsSub, wsHub, wsLogger)

	// A typed nil publisher must not reach the interface.
	var eventPublisher service.EventPublisher
	if natsPub != nil {
		eventPublisher = natsPub
	}
	notifier := service.NewInterventionNotifier(eventPublisher, notificationService.HandleEvent, sysLogger)

	// Generation backends
	policy := cfg.Scheduler.ToIntervention()
	dispatchOpts := []intervention.DispatcherOption{intervention.WithDispatchLogger(sysLogger)}
	if jobRepo != nil {
		dispatchOpts = append(dispatchOpts, intervention.WithJobStore(jobRepo))
	}

	if cfg.OpenNote.APIKey != "" {
		on := opennote.NewClient(cfg.OpenNote.BaseURL, cfg.OpenNote.APIKey, cfg.OpenNote.Timeout)
		dispatchOpts = append(dispatchOpts,
			intervention.WithBackend(intervention.KindVideo, opennote.NewVideoBackend(on)),
			intervention.WithBackend(intervention.KindFlashcards, opennote.NewFlashcardsBackend(on)),
			intervention.WithBackend(intervention.KindPractice, opennote.NewPracticeBackend(on)),
		)
	} else {
		sysLogger.Warn("BOOTSTRAP", "OPENNOTE_API_KEY not set, video, flashcards and practice jobs will fail", nil)
	}

	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.OllamaBaseURL,
		cfg.Keys.HuggingFace,
	)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "LLM provider unavailable, reprompt jobs will fail", map[string]interface{}{"error": err.Error()})
	} else {
		dispatchOpts = append(dispatchOpts, intervention.WithBackend(intervention.KindReprompt, service.NewRepromptBackend(llmProvider)))
		sysLogger.Info("BOOTSTRAP", "Using LLM provider", map[string]interface{}{"provider": cfg.Ai.LLMProvider, "model": cfg.Ai.LLMModel})
	}

	dispatcher := intervention.NewDispatcher(policy, dispatchOpts...)

	publisherService := service.NewPublisherService(service.DecisionTopic, pubSub)
	sessions := memory.NewSessionRepository(cfg.Scheduler.SessionTTL)
	scheduler := intervention.NewScheduler(policy, dispatcher,
		intervention.WithSessionStore(sessions),
		intervention.WithDecisionSink(service.NewDecisionSink(publisherService, sysLogger)),
		intervention.WithObserver(notifier),
		intervention.WithLogger(sysLogger),
	)

	interventionService := service.NewInterventionService(scheduler, decisionRepo, sysLogger)
	consumerService := service.NewConsumerService(pubSub, service.DecisionTopic, decisionRepo, sysLogger)

	return &Container{
		InterventionController: controller.NewInterventionController(interventionService),
		AdminController:        controller.NewAdminController(sysLogger, sessions),
		NotificationHandler:    handler.NewNotificationHandler(notificationService, wsHub, wsLogger),

		InterventionService: interventionService,
		NotificationService: notificationService,
		ConsumerService:     consumerService,
		Notifier:            notifier,
		WebSocketHub:        wsHub,
		Logger:              sysLogger,

		cfg:     cfg,
		pubSub:  pubSub,
		natsPub: natsPub,
		natsSub: natsSub,
		rdb:     rdb,
	}
}

// Run starts the background loops and blocks until ctx is cancelled or one
// of them fails.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.WebSocketHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		c.Notifier.Run(ctx)
		return nil
	})
	g.Go(func() error {
		// Without the subscriber, events still reach users through the notifier's direct path.
		if err := c.NotificationService.Start(ctx); err != nil {
			c.Logger.Warn("BOOTSTRAP", "Notification subscriber not started", map[string]interface{}{"error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		return c.ConsumerService.Consume(ctx)
	})
	g.Go(func() error {
		c.InterventionService.RunEvaluationLoop(ctx, c.cfg.Scheduler.PollInterval)
		return nil
	})
	g.Go(func() error {
		c.InterventionService.RunJobPoller(ctx, c.cfg.Scheduler.JobPollInterval)
		return nil
	})

	return g.Wait()
}

// Close waits for in-flight generation calls, then releases connections.
func (c *Container) Close() {
	c.InterventionService.Shutdown()
	if err := c.pubSub.Close(); err != nil {
		c.Logger.Warn("BOOTSTRAP", "Failed to close event bus", map[string]interface{}{"error": err.Error()})
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	_ = c.Logger.Sync()
}
