package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm_chat/internal/config"
	"dm_chat/internal/repository/message"
	"dm_chat/internal/repository/user"
	"dm_chat/internal/service/fanout"
	"dm_chat/internal/service/gateway"
	"dm_chat/internal/service/identity"
	"dm_chat/internal/service/index"
	"dm_chat/internal/service/metrics"
	redisSvc "dm_chat/internal/service/redis"
	"dm_chat/internal/service/sequence"
	"dm_chat/internal/service/server"
	"dm_chat/internal/service/store"
	"dm_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type backend struct {
	users    user.Repository
	messages message.Repository
	ids      sequence.Generator
	cache    identity.Cache
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := log.Init(cfg.Log.Level, ""); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := initBackend(ctx, cfg)
	if err != nil {
		log.Fatal("init storage failed", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer b.close()

	ix := index.New(b.messages)
	if err := ix.Rebuild(ctx); err != nil {
		log.Fatal("rebuild conversation index failed", zap.Error(err))
	}
	log.Info("conversation index rebuilt", zap.Int("conversations", ix.Len()))

	maxID, err := sequence.Seed(ctx, b.ids, b.messages)
	if err != nil {
		log.Fatal("seed message id sequence failed", zap.Error(err))
	}
	log.Info("message id sequence seeded", zap.Int64("max_id", maxID))

	cursors, err := store.NewCursorCodec([]byte(cfg.Store.CursorSecret))
	if err != nil {
		log.Fatal("init cursor codec failed", zap.Error(err))
	}
	if cfg.Store.CursorSecret == "" {
		log.Warn("store.cursor_secret not set, cursors will not survive a restart")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	st := store.New(b.users, b.messages, ix, b.ids, cursors, m, store.Options{
		MaxBodyLen:  cfg.Store.MaxBodyLen,
		PageSize:    cfg.Store.PageSize,
		MaxPageSize: cfg.Store.MaxPageSize,
	})
	hub := fanout.NewHub(cfg.Fanout.QueueCapacity, m)
	gw := gateway.New(identity.NewResolver(b.users, b.cache), b.users, st, hub)

	verifier := identity.NewTokenVerifier([]byte(cfg.Identity.SigningKey))
	s := server.NewHttpServer(gw, verifier, cfg.WebSocket, prometheus.DefaultGatherer)
	if err := s.Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
		log.Error("http server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("bye")
}

func initBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return &backend{
			users:    user.NewMemoryRepo(),
			messages: message.NewMemoryRepo(),
			ids:      sequence.NewMemory(0),
			close:    func() {},
		}, nil
	}

	mongoDBClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	db := mongoDBClient.Database(cfg.Mongo.Database)

	userRepo := user.NewUserRepo(db)
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	messageRepo := message.NewMessageRepo(db)
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisService := redisSvc.NewRedis(rdb)
	if err := redisService.Ping(ctx); err != nil {
		return nil, err
	}

	return &backend{
		users:    userRepo,
		messages: messageRepo,
		ids:      sequence.NewRedis(redisService),
		cache:    identity.NewRedisCache(redisService, cfg.Identity.CacheTTL),
		close: func() {
			redisService.Close()
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mongoDBClient.Disconnect(dctx)
		},
	}, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
