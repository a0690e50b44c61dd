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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/jwtsession/handlers"
	"github.com/gogotex/jwtsession/internal/auth"
	"github.com/gogotex/jwtsession/internal/config"
	"github.com/gogotex/jwtsession/internal/database"
	"github.com/gogotex/jwtsession/internal/oidc"
	"github.com/gogotex/jwtsession/internal/revocation"
	"github.com/gogotex/jwtsession/internal/tokens"
	"github.com/gogotex/jwtsession/internal/transport"
	"github.com/gogotex/jwtsession/internal/users"
	"github.com/gogotex/jwtsession/pkg/logger"
	"github.com/gogotex/jwtsession/pkg/metrics"
	"github.com/gogotex/jwtsession/pkg/middleware"
)

var startTime = time.Now()

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.Log.JSON {
		logger.UseJSON()
	}
	logger.Init(cfg.Log.Level)
	logger.Infof("config loaded: mongo=%v postgres=%v redis=%v keycloak=%v revocation=%s",
		cfg.MongoDB.URI != "", cfg.Postgres.DSN != "", cfg.Redis.Addr() != "", cfg.Keycloak.Issuer() != "", cfg.Revocation.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// deps is reported by /ready; a false entry makes the service not ready
	deps := map[string]bool{}

	// Redis backs the rate limiter and, when selected, the revocation store
	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s): %v", addr, err)
			rdb = nil
		} else {
			logger.Infof("connected to Redis at %s", addr)
		}
		deps["redis"] = rdb != nil
	}

	var mongoDB *mongo.Database
	if cfg.MongoDB.URI != "" {
		client, err := connectMongo(ctx, cfg)
		if err != nil {
			logger.Warnf("could not connect to MongoDB: %v", err)
		} else {
			defer func() { _ = client.Disconnect(context.Background()) }()
			mongoDB = client.Database(cfg.MongoDB.Database)
		}
		deps["mongo"] = mongoDB != nil
	}

	var repo users.UserRepository
	if mongoDB != nil {
		mrepo := users.NewMongoUserRepository(mongoDB.Collection("users"))
		if err := mrepo.EnsureIndexes(ctx); err != nil {
			logger.Warnf("failed to ensure user indexes: %v", err)
		}
		repo = mrepo
	} else {
		logger.Warn("no user database configured, users are kept in memory")
		repo = users.NewMemoryUserRepository()
	}
	userSvc := users.NewService(repo)

	store, err := openRevocationStore(ctx, cfg, rdb, mongoDB)
	if err != nil {
		logger.Fatalf("revocation store: %v", err)
	}
	deps["revocation"] = cfg.Revocation.Backend == "none" || store != nil

	codec, err := tokens.NewCodec([]byte(cfg.JWT.Secret))
	if err != nil {
		logger.Fatalf("token codec: %v", err)
	}
	issuer := tokens.NewIssuer(codec, cfg.JWT.AccessTokenTTL)

	opts := []auth.Option{}
	if store != nil {
		opts = append(opts, auth.WithRevocationStore(store))
	}
	if iss := cfg.Keycloak.Issuer(); iss != "" {
		ver, err := oidc.NewVerifier(ctx, iss, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			opts = append(opts, auth.WithIDTokenVerifier(ver))
		}
		deps["oidc"] = err == nil
	}
	authSvc := auth.NewService(codec, issuer, userSvc, opts...)
	tr := transport.New(transport.CookieOptions{
		Path:       cfg.Cookie.Path,
		Domain:     cfg.Cookie.Domain,
		Secure:     cfg.Cookie.Secure,
		RefreshTTL: cfg.Cookie.RefreshTTL,
	})

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins), gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	// token endpoints are rate limited per subject, or per client IP before login
	authRoutes := r.Group("/")
	if cfg.RateLimit.Enabled {
		if rdb != nil {
			authRoutes.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
		} else {
			authRoutes.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}
	handlers.NewAuthHandler(authSvc, tr).Register(authRoutes)
	handlers.RegisterSwagger(r)

	api := r.Group("/api/v1", middleware.AuthMiddleware(authSvc, tr))
	api.GET("/me", func(c *gin.Context) {
		claims, _ := middleware.Claims(c)
		c.JSON(http.StatusOK, gin.H{"success": claims.User})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting token service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

// connectMongo retries with backoff to tolerate startup races with the database container.
func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	const maxAttempts = 5
	backoff := time.Second
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var client *mongo.Client
		client, err = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err == nil {
			return client, nil
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, err
}

// openRevocationStore builds the configured store. A nil store with a nil error means
// the service runs stateless.
func openRevocationStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, mongoDB *mongo.Database) (revocation.Store, error) {
	switch cfg.Revocation.Backend {
	case "none":
		logger.Warn("no revocation store configured, logout cannot invalidate issued tokens")
		return nil, nil
	case "memory":
		return revocation.NewMemoryStore(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis backend selected but Redis is unavailable")
		}
		return revocation.NewRedisStore(rdb, "auth:"), nil
	case "mongo":
		if mongoDB == nil {
			return nil, errors.New("mongo backend selected but MongoDB is unavailable")
		}
		ms := revocation.NewMongoStore(mongoDB)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo revocation indexes: %w", err)
		}
		return ms, nil
	case "postgres":
		db, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ps := revocation.NewPostgresStore(db)
		if cfg.Postgres.AutoMigrate {
			if err := ps.Migrate(); err != nil {
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		go purgeLoop(ctx, ps)
		return ps, nil
	}
	return nil, fmt.Errorf("unknown revocation backend %q", cfg.Revocation.Backend)
}

// purgeLoop drops expired revocation rows; Redis and Mongo expire them on their own.
func purgeLoop(ctx context.Context, ps *revocation.PostgresStore) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := ps.PurgeExpired(ctx)
			if err != nil {
				logger.Warnf("purge expired revocations: %v", err)
				continue
			}
			logger.Debugf("purged %d expired revocations", n)
		}
	}
}
