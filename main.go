package main

import (
	"context"
	"log"
	"os"
	"time"

	"taskchat/internal/api"
	"taskchat/internal/auth"
	"taskchat/internal/config"
	"taskchat/internal/redis"
	"taskchat/internal/service/ai"
	"taskchat/internal/service/chat"
	"taskchat/internal/service/task"
	"taskchat/internal/service/user"
	"taskchat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("TASKCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("TASKCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	// Create necessary tables: users, user_tokens, tasks, conversations, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	userService := user.NewService(db)
	taskService := task.NewService(db)
	authService := auth.NewService(db, rdb, 24*time.Hour)

	chatModel, err := ai.NewChatModel(context.Background(), cfg.BasicConfig.Provider, cfg)
	if err != nil {
		log.Fatalf("init chat model: %v", err)
	}
	chatTimeout := time.Duration(cfg.BasicConfig.ChatTimeout) * time.Second
	if chatTimeout <= 0 {
		chatTimeout = 30 * time.Second
	}
	agent, err := ai.NewAgent(chatModel, ai.NewRegistry(taskService), chatTimeout)
	if err != nil {
		log.Fatalf("init agent: %v", err)
	}

	rateLimit := cfg.BasicConfig.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = chat.DefaultRateLimit
	}
	chatService := chat.NewService(chat.NewStore(db), chat.NewRateLimiter(rateLimit), agent)

	handlers := api.NewHandler(userService, taskService, chatService, authService)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
