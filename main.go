package main

import (
	"log"
	"os"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/redis"
	"chatsync/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CHATSYNC_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CHATSYNC_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var cacheClient *redis.Client
	if cfg.Redis.Host != "" {
		cacheClient, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cacheClient.Close()
	} else {
		log.Printf("redis not configured, history cache disabled")
	}

	handler := api.NewHandler(storage.NewStore(db), cacheClient)

	router := gin.Default()
	handler.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
