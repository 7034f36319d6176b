package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debugsync/config"
	"debugsync/internal/cache"
	"debugsync/internal/presence"
	"debugsync/internal/repository"
	"debugsync/internal/service"
	"debugsync/internal/transport/rest"
	"debugsync/internal/transport/ws"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	log.Println("started")
	ctx := context.Background()

	cfg := config.Load()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(ctx)

	// Ping MongoDB
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("Failed to ping MongoDB:", err)
	}
	log.Println("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	redisAddr := cfg.RedisAddr
	// Remove redis:// prefix if present
	if len(redisAddr) > 8 && redisAddr[:8] == "redis://" {
		redisAddr = redisAddr[8:]
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	defer rdb.Close()

	// Ping Redis
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Connected to Redis")

	// Initialize repositories
	roomRepo := repository.NewRoomRepo(db)
	if err := roomRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to create room indexes:", err)
	}

	// Initialize caches
	bufferCache := cache.NewBufferCache(rdb)
	chatCache := cache.NewChatCache(rdb)
	sessionCache := cache.NewSessionCache(rdb)
	presenceCache := cache.NewPresenceCache(rdb)

	// Initialize WebSocket hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	// Initialize services
	presenceTable := presence.NewTable()
	identity := service.NewJWTIdentity(cfg.JWTSecret)
	roomSvc := service.NewRoomService(roomRepo, bufferCache, chatCache, sessionCache, presenceCache, presenceTable)
	chatReq := service.NewChatRequestTracker()
	runner := service.NewRunnerClient(cfg.RunnerURL)
	assistant := service.NewAssistClient(cfg.AssistURL)
	if cfg.AssistURL == "" {
		log.Println("Warning: ASSIST_URL not set, /v1/assist disabled")
	}

	// Inject broadcaster (wsHub implements service.Broadcaster)
	roomSvc.SetBroadcaster(wsHub)

	// Create router with container
	container := &rest.Container{
		RoomService: roomSvc,
		ChatReq:     chatReq,
		Identity:    identity,
		Runner:      runner,
		Assistant:   assistant,
		WSHub:       wsHub,
	}

	router := rest.NewRouter(container)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		log.Println("Endpoints:")
		log.Println("  POST   /v1/rooms")
		log.Println("  GET    /v1/rooms/{code}/chat")
		log.Println("  GET    /v1/rooms/{code}/history")
		log.Println("  DELETE /v1/rooms/{code}")
		log.Println("  POST   /v1/run")
		log.Println("  POST   /v1/assist")
		log.Println("  WS     /v1/ws")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
