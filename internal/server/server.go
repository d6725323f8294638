package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/tquiz/internal/api"
	"github.com/victornm/tquiz/internal/attempt"
	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/event"
	"github.com/victornm/tquiz/internal/leaderboard"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/store/memory"
	"github.com/victornm/tquiz/internal/store/postgres"
	"github.com/victornm/tquiz/internal/submission"
	"github.com/victornm/tquiz/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

func (c RedisConfig) enabled() bool { return len(c.Addrs) > 0 }

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string

	// Migrate applies the schema on start.
	Migrate bool
}

func (c PostgresConfig) enabled() bool { return c.Addr != "" }

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Auth struct {
		Secret string
		Issuer string
	}

	Quiz struct {
		Grace        time.Duration
		CallTimeout  time.Duration
		TickInterval time.Duration
		ResultTTL    time.Duration
	}

	// A Redis client without addresses is disabled: results are cached in memory and the
	// leaderboard and notifications are off.
	Redis struct {
		Cache       RedisConfig
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	// Without an address the server runs on an in-memory store seeded with a sample quiz.
	Postgres PostgresConfig
}

// DefaultConfig is the configuration Load starts from.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Auth.Issuer = "tquiz"
	c.Quiz.Grace = 5 * time.Second
	c.Quiz.CallTimeout = 5 * time.Second
	c.Quiz.TickInterval = time.Second
	c.Quiz.ResultTTL = 24 * time.Hour
	c.Redis.Cache.Prefix = "tquiz"
	c.Redis.Leaderboard.Prefix = "tquiz"
	c.Redis.Pubsub.Prefix = "tquiz"
	return c
}

type Server struct {
	c     Config
	clock clock.Clock

	eb *event.Bus

	infra struct {
		redis struct {
			cache       redis.UniversalClient
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		store    store.Store
	}

	service struct {
		attempt     *attempt.Service
		submission  *submission.Coordinator
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, clock: clock.System{}}

	if c.Auth.Secret == "" {
		return nil, fmt.Errorf("server: auth secret is required")
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, c RedisConfig) (redis.UniversalClient, error) {
		if !c.enabled() {
			slog.Info(fmt.Sprintf("server: redis %s disabled", name))
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect("cache", s.c.Redis.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	if !s.c.Postgres.enabled() {
		slog.Info("server: no postgres configured, using the in-memory store with the sample quiz")
		st := memory.NewStore()
		memory.SeedSample(st, s.clock.Now())
		s.infra.store = st
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := ConnectPostgres(ctx, s.c.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	s.infra.postgres = db

	if s.c.Postgres.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	s.infra.store = postgres.NewStore(db)
	return nil
}

// ConnectPostgres opens a pool and checks it with a ping.
func ConnectPostgres(ctx context.Context, c PostgresConfig) (*pgxpool.Pool, error) {
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Server) initService() {
	s.service.attempt = attempt.NewService(attempt.Config{
		Store:    s.infra.store,
		Clock:    s.clock,
		EventBus: s.eb,
	})

	var cache submission.ResultCache = submission.NewMemoryCache()
	if s.infra.redis.cache != nil {
		cache = submission.NewRedisCache(s.infra.redis.cache, s.c.Redis.Cache.Prefix, s.c.Quiz.ResultTTL)
	}

	s.service.submission = submission.NewCoordinator(submission.Config{
		Store:       s.infra.store,
		Cache:       cache,
		Clock:       s.clock,
		EventBus:    s.eb,
		Grace:       s.c.Quiz.Grace,
		CallTimeout: s.c.Quiz.CallTimeout,
	})

	if s.infra.redis.leaderboard != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis.leaderboard,
			Prefix:   s.c.Redis.Leaderboard.Prefix,
		})
	}
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	c := api.Config{
		EventBus:     s.eb,
		Store:        s.infra.store,
		Attempt:      s.service.attempt,
		Submission:   s.service.submission,
		Leaderboard:  s.service.leaderboard,
		Auth:         api.NewAuthenticator(s.c.Auth.Secret, s.c.Auth.Issuer, s.clock),
		Clock:        s.clock,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		TickInterval: s.c.Quiz.TickInterval,
	}
	if s.infra.redis.pubsub != nil {
		c.Redis = s.infra.redis.pubsub
	}
	api.New(c).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	for _, r := range []redis.UniversalClient{s.infra.redis.cache, s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
