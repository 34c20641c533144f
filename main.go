package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/moyuka/groundedchat/internal/api"
	"github.com/moyuka/groundedchat/internal/config"
	"github.com/moyuka/groundedchat/internal/redis"
	"github.com/moyuka/groundedchat/internal/retrieval"
	"github.com/moyuka/groundedchat/internal/service/ai"
	"github.com/moyuka/groundedchat/internal/service/chat"
	"github.com/moyuka/groundedchat/internal/session"
	"github.com/moyuka/groundedchat/internal/storage"
)

func main() {
	cfgPath := os.Getenv("GROUNDEDCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	store, closeStore, err := buildSessionStore(cfg)
	if err != nil {
		log.Fatalf("init session store: %v", err)
	}
	defer closeStore()

	chatModel, err := ai.NewChatModel(ctx, cfg, cfg.Chat.Provider)
	if err != nil {
		log.Fatalf("init chat model: %v", err)
	}

	retriever, err := buildRetriever(ctx, cfg)
	if err != nil {
		log.Fatalf("init retrieval gateway: %v", err)
	}

	counter := chat.NewTokenCounter(cfg.Providers[cfg.Chat.Provider].Model)
	budget := chat.NewBudgetManager(chatModel, counter,
		cfg.Chat.MaxTokens, cfg.Chat.SafetyMargin, cfg.Chat.SummaryWindow)

	var orch *chat.Orchestrator

	tools := ai.NewRegistry()
	if cfg.Chat.EnableTools {
		imageClient, err := ai.NewImageClient(cfg.Image)
		if err != nil {
			log.Fatalf("init image client: %v", err)
		}
		imageTool, err := ai.NewImageTool(ai.ImageToolConfig{
			Client: imageClient,
			Expand: func(ctx context.Context, prompt string) (string, error) {
				return orch.ExpandImagePrompt(ctx, prompt)
			},
		})
		if err != nil {
			log.Fatalf("init image tool: %v", err)
		}
		if err := tools.Register(ctx, imageTool); err != nil {
			log.Fatalf("register image tool: %v", err)
		}
	}

	orch = chat.NewOrchestrator(chatModel, retriever, store, tools, budget, chat.Options{
		SystemPrompt:         cfg.Chat.SystemPrompt,
		TopK:                 cfg.Retrieval.TopK,
		RankingConfiguration: cfg.Retrieval.RankingConfiguration,
		EnableTools:          cfg.Chat.EnableTools,
		EnableRewrite:        cfg.Chat.EnableRewrite,
		MaxOutputTokens:      cfg.Chat.MaxOutputTokens,
		Temperature:          cfg.Chat.Temperature,
		TopP:                 cfg.Chat.TopP,
	})

	handlers := api.NewHandler(orch)
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

func buildSessionStore(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionStore.Backend {
	case "sql":
		dbType := os.Getenv("GROUNDEDCHAT_DB")
		if dbType == "" {
			dbType = "sqlite3"
		}
		log.Printf("dbType: %s\n", dbType)
		db, err := storage.Open(dbType, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, dbType); err != nil {
			db.Close()
			return nil, nil, err
		}
		store, err := session.NewSQLStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "redis":
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := session.NewRedisStore(rdb, 0)
		if err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return store, func() { rdb.Close() }, nil
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store backend: %s", cfg.SessionStore.Backend)
	}
}

func buildRetriever(ctx context.Context, cfg *config.Config) (retrieval.Retriever, error) {
	switch cfg.Retrieval.Backend {
	case "index":
		embedder, err := ai.NewEmbedder(ctx, cfg.Retrieval.Embedding)
		if err != nil {
			return nil, err
		}
		return retrieval.NewIndexClient(cfg.Retrieval, embedder)
	case "web":
		return retrieval.NewWebRetriever(ctx, cfg.Retrieval)
	case "local":
		return retrieval.NewLocalRetriever(ctx, cfg.Retrieval.LocalDir)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported retrieval backend: %s", cfg.Retrieval.Backend)
	}
}
