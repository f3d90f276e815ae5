// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"

	"kvitto-service/internal/config"
	"kvitto-service/internal/db"
	authHandler "kvitto-service/internal/handlers/auth"
	wsHandler "kvitto-service/internal/handlers/ws"
	"kvitto-service/internal/middleware"
	"kvitto-service/internal/pkg/kv"
	"kvitto-service/internal/pkg/session"
	"kvitto-service/internal/pkg/token"
	"kvitto-service/internal/repository/postgres"
	authUsecase "kvitto-service/internal/service/auth"
	"kvitto-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	// ----- Logger -----
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	s.logger = logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool

	// ----- TTL store -----
	var store kv.Store
	if s.cfg.KVBackend == "memory" {
		// Single-process store for local development; revocations do
		// not survive a restart and never propagate across replicas.
		logger.Warn("using in-memory kv store; not suitable for production")
		store = kv.NewMemStore()
	} else {
		redisClient, err := db.NewRedisClient(db.RedisConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPass,
			DB:       s.cfg.RedisDB,
			PoolSize: 10,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.redis = redisClient
		log.Println("[REDIS] connected")
		store = kv.NewRedisStore(redisClient)
	}

	// ----- Signing keys -----
	var keys *token.KeySet
	switch s.cfg.Auth.KeyMode {
	case "shared-secret":
		keys, err = token.NewSharedSecretKeys([]byte(s.cfg.Auth.SharedSecret), logger)
	default:
		keys, err = token.LoadOrGenerateKeys(s.cfg.Auth.KeyDir, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	issuer := token.NewIssuer(keys,
		s.cfg.Auth.Issuer, s.cfg.Auth.AccessAud, s.cfg.Auth.RefreshAud,
		s.cfg.Auth.AccessTTL, s.cfg.Auth.RefreshTTL,
	)
	verifier := token.NewVerifier(keys,
		s.cfg.Auth.Issuer, s.cfg.Auth.AccessAud, s.cfg.Auth.RefreshAud,
	)

	// ----- Session stores -----
	registry := session.NewRegistry(store, s.cfg.Auth.RefreshTTL)
	blacklist := session.NewBlacklist(store)
	csrf := session.NewCSRF(store, s.cfg.Auth.CSRFTTL)

	// ----- Repositories -----
	principalRepo := postgres.NewPrincipalRepository(pool)

	// ----- WebSocket Hub -----
	hub := ws.NewHub(logger)

	// ----- Services -----
	authService := authUsecase.NewAuthService(
		principalRepo,
		issuer,
		verifier,
		registry,
		blacklist,
		csrf,
		hub,
		logger,
	)

	// ----- Handlers -----
	authHandlerInst := authHandler.NewAuthHandler(authService, logger)
	wsHandlerInst := wsHandler.NewWebSocketHandler(hub, authService, logger)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(authService, logger)
	csrfMiddleware := middleware.NewCSRFMiddleware(authService, logger)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.AllowedOrigins),
	)

	// ----- Router -----
	handlers := &Handlers{
		AuthHandler:    authHandlerInst,
		WSHandler:      wsHandlerInst,
		AuthMiddleware: authMiddleware,
		CSRFMiddleware: csrfMiddleware,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}

// Shutdown closes the store connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			return err
		}
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return nil
}
