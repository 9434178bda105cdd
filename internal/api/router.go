package api

import (
	"net/http"

	"github.com/airelay/chat-gateway/internal/ai"
	aigemini "github.com/airelay/chat-gateway/internal/ai/gemini"
	aiopenai "github.com/airelay/chat-gateway/internal/ai/openai"
	"github.com/airelay/chat-gateway/internal/api/handler"
	customMiddleware "github.com/airelay/chat-gateway/internal/api/middleware"
	"github.com/airelay/chat-gateway/internal/config"
	"github.com/airelay/chat-gateway/internal/repository/postgres"
	"github.com/airelay/chat-gateway/internal/repository/redis"
	"github.com/airelay/chat-gateway/internal/security"
	"github.com/airelay/chat-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware. No global timeout: the chat endpoint holds its
	// connection open for the whole stream.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize security components
	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(db.Pool)
	messageRepo := postgres.NewMessageRepository(db.Pool)
	usageRepo := postgres.NewUsageRepository(db.Pool)

	// Initialize rate limiter
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)

	// Select the upstream AI provider
	var aiClient ai.Client
	switch cfg.AI.Provider {
	case "gemini":
		log.Info().Str("model", cfg.AI.Model).Msg("using gemini provider")
		aiClient = aigemini.NewClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.ChatTimeout, cfg.AI.SummaryTimeout)
	default:
		log.Info().Str("model", cfg.AI.Model).Str("base_url", cfg.AI.BaseURL).Msg("using openai-compatible provider")
		aiClient = aiopenai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.ChatTimeout, cfg.AI.SummaryTimeout)
	}

	// Initialize services
	chatService := service.NewChatService(
		sessionRepo,
		messageRepo,
		usageRepo,
		aiClient,
		cfg.AI.HistoryLimit,
		cfg.AI.SummaryRetries,
	)

	// Initialize handlers
	chatHandler := handler.NewChatHandler(chatService)

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.Route("/ai", func(r chi.Router) {
				r.Post("/chat", chatHandler.Chat)
				r.Post("/summarize", chatHandler.Summarize)
			})
		})
	})

	return r
}
