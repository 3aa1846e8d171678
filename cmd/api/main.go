package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Patraschu/mbtichatbotori/cmd/api/config"
	"github.com/Patraschu/mbtichatbotori/internal/api"
	"github.com/Patraschu/mbtichatbotori/internal/conversation"
	"github.com/Patraschu/mbtichatbotori/internal/services"
	"github.com/Patraschu/mbtichatbotori/internal/utils/broker"
	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
	"github.com/Patraschu/mbtichatbotori/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	redisPrefix     = "mbtichat"
	shutdownTimeout = 10 * time.Second
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg := config.Load()
	setupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := services.LoadPersonaCatalog(cfg.PersonaDir, log.With().Str("component", "personas").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load persona catalog")
	}

	// Session state and transcripts share one Redis when it is configured
	var (
		store services.SessionStore
		kv    conversation.KV
	)
	switch cfg.SessionStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		store = services.NewRedisSessionStore(client, redisPrefix)
		kv = conversation.NewRedisKV(client, redisPrefix)
	default:
		store = services.NewMemorySessionStore()
		kv = conversation.NewMemoryKV()
	}

	var generator services.Generator
	if cfg.HasAPIKey() {
		genaiClient, err := services.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GenAI client")
		}
		defer genaiClient.Close()
		generator = services.NewGeminiGenerator(genaiClient, services.GeminiConfig{
			ModelName: cfg.GeminiModel,
			Timeout:   cfg.ModelTimeout,
		}, log.With().Str("component", "gemini").Logger())
	} else {
		log.Warn().Msg("GEMINI_API_KEY is not set; chat requests will fail with a configuration error")
	}

	rand := random.NewTimeSeeded()
	guard := services.NewGuardService(store, services.GuardConfig{
		Passphrase:      cfg.DeveloperPassphrase,
		MaxAttempts:     cfg.MaxLoginAttempts,
		LockoutDuration: cfg.LockoutDuration,
	}, log.With().Str("component", "guard").Logger())
	chatService := services.NewChatService(guard, generator, catalog, rand, log.With().Str("component", "chat").Logger())
	sweeper := services.NewSessionSweeper(store, cfg.SessionSweepInterval, log.With().Str("component", "sweeper").Logger())

	messageBroker := broker.NewBroker(log.With().Str("component", "broker").Logger())
	manager := conversation.NewManager(conversation.ManagerOptions{
		Responder: chatService,
		Personas:  catalog,
		Publisher: messageBroker,
		KV:        kv,
		Rand:      rand,
		Logger:    log.With().Str("component", "conversation").Logger(),
	})
	defer manager.Close()

	r := gin.Default()

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
	wsHandler := wsocket.NewHandler(manager, messageBroker, upgrader, log.With().Str("component", "wsocket").Logger())

	api.SetupRoutes(r, api.Dependencies{
		Chat:     chatService,
		Personas: catalog,
		APIKey:   cfg.GeminiAPIKey,
	})
	r.GET("/ws", func(c *gin.Context) {
		wsHandler.HandleWebSocket(c.Writer, c.Request)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Bool("model_configured", chatService.HasModel()).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
}
