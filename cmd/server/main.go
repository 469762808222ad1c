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

	"github.com/google/uuid"
	"github.com/lalith-99/talksphere/internal/api"
	"github.com/lalith-99/talksphere/internal/audit"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/broker"
	"github.com/lalith-99/talksphere/internal/chat"
	"github.com/lalith-99/talksphere/internal/config"
	"github.com/lalith-99/talksphere/internal/db"
	"github.com/lalith-99/talksphere/internal/delivery"
	"github.com/lalith-99/talksphere/internal/observ"
	"github.com/lalith-99/talksphere/internal/presence"
	"github.com/lalith-99/talksphere/internal/repository"
	"github.com/lalith-99/talksphere/internal/repository/memory"
	"github.com/lalith-99/talksphere/internal/repository/postgres"
	"github.com/lalith-99/talksphere/internal/upload"
	"github.com/lalith-99/talksphere/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type stores struct {
	conversations repository.ConversationRepository
	users         repository.UserRepository
	groups        repository.GroupRepository
	ready         func(context.Context) error
	close         func()
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Each process needs its own broker consumer identity.
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observ.InitTracer(ctx, cfg.OTLPEndpoint, cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	// ---------------------------------------------------------------
	// 2. Stores
	// ---------------------------------------------------------------
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// The public conversation exists before the first message arrives.
	if err := st.conversations.EnsurePublic(ctx); err != nil {
		return fmt.Errorf("ensure public conversation: %w", err)
	}

	blobs, err := upload.Open(cfg.UploadDBPath, cfg.UploadMaxBytes, cfg.PublicBaseURL, logger)
	if err != nil {
		return err
	}
	defer blobs.Close()

	// ---------------------------------------------------------------
	// 3. Broker, domain events, delivery
	// ---------------------------------------------------------------
	bus, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	publisher := audit.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	logger.Info("domain events", zap.String("mode", audit.Mode(publisher)))

	registry := presence.NewRegistry()
	engine := delivery.NewEngine(registry, st.groups, logger)

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx, bus, cfg.Topic) }()

	svc := chat.NewService(chat.Deps{
		Conversations: st.conversations,
		Users:         st.users,
		Groups:        st.groups,
		Broker:        bus,
		Topic:         cfg.Topic,
		Events:        audit.NewEmitter(publisher, cfg.InstanceID, logger),
		Logger:        logger,
	})

	// ---------------------------------------------------------------
	// 4. HTTP and websocket
	// ---------------------------------------------------------------
	verifier := auth.NewVerifier(cfg.JWTSecret)
	uploads := api.NewUploadHandler(blobs, logger)
	wsHandler := ws.NewHandler(verifier, registry, svc, st.users, ws.Options{
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		Burst:             cfg.WSBurst,
	}, logger)

	router := api.NewRouter(verifier, api.Handlers{
		Auth:     api.NewAuthHandler(st.users, cfg.JWTSecret, cfg.JWTTTL, logger),
		Users:    api.NewUserHandler(st.users, uploads, logger),
		Messages: api.NewMessageHandler(svc, logger),
		Groups:   api.NewGroupHandler(svc, logger),
		Uploads:  uploads,
		WS:       wsHandler.Handle,
		Ready:    st.ready,
	}, cfg.UploadMaxBytes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting talksphere",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver),
			zap.String("broker", bus.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case err := <-engineDone:
		if err != nil {
			return fmt.Errorf("delivery engine: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stop()
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return &stores{
			conversations: memory.NewConversationStore(),
			users:         memory.NewUserStore(),
			groups:        memory.NewGroupStore(),
			close:         func() {},
		}, nil
	}

	database, err := db.New(ctx, db.PoolOptions{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool := database.Pool()
	return &stores{
		conversations: postgres.NewConversationStore(pool),
		users:         postgres.NewUserStore(pool),
		groups:        postgres.NewGroupStore(pool),
		ready:         database.Health,
		close:         database.Close,
	}, nil
}

func openBroker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (broker.Broker, error) {
	switch cfg.BrokerDriver {
	case "redis":
		b, err := broker.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return b, nil
	case "local":
		logger.Warn("using in-process broker, other instances will not see these messages")
		return broker.NewLocal(logger), nil
	default:
		return broker.NewKafka(broker.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupPrefix + "-" + cfg.InstanceID,
		}, logger), nil
	}
}
