package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go-chat-lobby/internal/config"
	"go-chat-lobby/internal/db"
	"go-chat-lobby/internal/devserver"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	addr := flag.String("addr", cfg.Addr, "http service address")
	requestLog := flag.Bool("log-requests", true, "log every http request")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage: Postgres when DB_DSN is set, memory otherwise
	var store devserver.Store = devserver.NewMemoryStore()
	if cfg.DSN != "" {
		database, err := db.NewDatabase(cfg.DSN)
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		defer database.Close()
		log.Println("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(); err != nil {
			log.Fatalf("❌ Migration failed: %v", err)
		}
		log.Println("✅ Database Schema Initialized")
		store = devserver.NewPostgresStore(database.Conn)
	} else {
		log.Println("⚠️ DB_DSN not set, accounts are kept in memory")
	}

	// 3. Fan-out: Redis pub/sub when REDIS_ADDR is set, local otherwise
	hubOpts := []devserver.HubOption{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✅ Connected to Redis")
		hubOpts = append(hubOpts, devserver.WithRelay(devserver.NewRedisRelay(redisClient, nil)))
	}

	// 4. Hub + HTTP
	hub := devserver.NewHub(hubOpts...)
	go hub.Run(ctx)

	tokens := devserver.NewTokens(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, time.Now)
	opts := []devserver.Option{devserver.WithBaseURL(cfg.BaseURL)}
	if *requestLog {
		opts = append(opts, devserver.WithRequestLogging())
	}
	server := devserver.New(store, tokens, hub, opts...)

	srv := &http.Server{Addr: *addr, Handler: server.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Server starting on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("👋 Server stopped")
}
