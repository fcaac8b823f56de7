package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"delayd/internal/adapter/telegram"
	"delayd/internal/adapter/telegram/handlers"
	"delayd/internal/adapter/telegram/middleware"
	"delayd/internal/config"
	"delayd/internal/delay"
)

type telegramBot struct {
	unbind func()
	close  func()
}

// startTelegram runs the reminder bot. With a webhook URL, updates arrive on
// POST /telegram/webhook of router; otherwise the bot long-polls.
func startTelegram(ctx context.Context, cfg config.Config, log *slog.Logger, sched *delay.Scheduler, router *gin.Engine) (*telegramBot, error) {
	rate := middleware.NewRateLimiter(time.Second)
	acl := middleware.NewACL(cfg.Telegram.AllowedIDs)
	commands := handlers.NewRouter(sched, time.Now, log)
	handler := middleware.Chain(commands.Handle, rate.Middleware, acl.Middleware)

	var disp *telegram.Dispatcher
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, upd *models.Update) {
			disp.Dispatch(ctx, upd)
		}),
		bot.WithAllowedUpdates([]string{"message"}),
	}
	if cfg.Telegram.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.Telegram.WebhookSecret))
	}

	b, err := bot.New(cfg.Telegram.Token, opts...)
	if err != nil {
		return nil, err
	}
	disp = telegram.NewDispatcher(b, 8, handler)
	notifier := telegram.NewNotifier(b, log)

	if cfg.Telegram.WebhookURL != "" {
		if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         cfg.Telegram.WebhookURL,
			SecretToken: cfg.Telegram.WebhookSecret,
		}); err != nil {
			disp.Close()
			notifier.Close()
			return nil, err
		}
		router.POST("/telegram/webhook", gin.WrapH(b.WebhookHandler()))
		go b.StartWebhook(ctx)
		log.Info("telegram bot started", "mode", "webhook")
	} else {
		go b.Start(ctx)
		log.Info("telegram bot started", "mode", "polling")
	}

	return &telegramBot{
		unbind: notifier.Bind(sched),
		close: func() {
			disp.Close()
			notifier.Close()
		},
	}, nil
}
