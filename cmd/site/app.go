package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/finetuning-llms/companion/internal/config"
	"github.com/finetuning-llms/companion/internal/handler"
	"github.com/finetuning-llms/companion/internal/model/page"
	"github.com/finetuning-llms/companion/internal/render"
	"github.com/finetuning-llms/companion/internal/service/ai"
	"github.com/finetuning-llms/companion/internal/service/chat"
	"github.com/finetuning-llms/companion/internal/service/feedback"
)

type app struct {
	Handler http.Handler
	redis   *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	var repo chat.Repository
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client, err := chat.DialRedis(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		repo = chat.NewRedisRepository(client, cfg.Session.TTL, cfg.LLM.Timeout+30*time.Second)
		logger.Info("sessions stored in redis", zap.String("addr", cfg.Session.RedisAddr))
	default:
		repo = chat.NewMemoryRepository()
		logger.Info("sessions stored in memory")
	}

	completer := ai.NewClient(cfg.LLM.NewChatModel, cfg.LLM.Timeout, logger)
	logger.Info("completion provider configured",
		zap.String("provider", string(cfg.LLM.Provider)),
		zap.String("model", cfg.LLM.Model),
	)

	var sink chat.FeedbackSink = feedback.Disabled{}
	if cfg.Feedback.Enabled() {
		sink = feedback.NewHTTPCollector(feedback.Config{
			BaseURL:  cfg.Feedback.BaseURL,
			Email:    cfg.Feedback.Email,
			Password: cfg.Feedback.Password,
			Timeout:  cfg.Feedback.Timeout,
		}, nil, logger)
		logger.Info("feedback collection enabled", zap.String("endpoint", cfg.Feedback.BaseURL))
	} else {
		logger.Info("feedback collector credentials not configured, feedback will not be forwarded")
	}

	chatSvc := chat.NewService(repo, completer, sink, chat.Options{
		Component: cfg.Feedback.Component,
		Model:     cfg.Feedback.Model,
		Logger:    logger,
	})

	pages := page.NewMemoryStore(page.Seed())
	renderer, err := render.New(pages)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Handler = handler.NewRouter(pages, chatSvc, renderer, logger)
	return a, nil
}
