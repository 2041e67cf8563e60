package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"grok-bot/internal/adapters/bot"
	"grok-bot/internal/app"
	"grok-bot/internal/domain"
	"grok-bot/internal/infra/config"
	httpinfra "grok-bot/internal/infra/http"
	"grok-bot/internal/infra/log"
	"grok-bot/internal/infra/metrics"
)

const webhookPath = "/telegram/webhook"

func main() {
	cfg := config.Load()
	if err := cfg.Validate(domain.PlatformTelegram); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, domain.PlatformTelegram, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram: не удалось собрать сервисы")
	}
	defer core.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram: не удалось создать бота")
	}
	if _, err := botAPI.Request(tgbotapi.NewSetMyCommands(bot.Commands()...)); err != nil {
		logger.Error().Err(err).Msg("telegram: меню команд не обновлено")
	}

	core.Digest.SetPublisher(bot.NewPublisher(botAPI, log.Component(logger, "digest_publisher")))
	h := bot.NewHandler(botAPI, botAPI.Self, bot.Services{
		Chat:     core.Chat,
		Personas: core.Personas,
		Digest:   core.Digest,
		Admin:    core.Admin,
		Errors:   core.Repo,
	}, domain.NewAdminSet(cfg.Telegram.AdminIDs), log.Component(logger, "telegram"))

	if err := core.RunDigest(ctx); err != nil {
		logger.Fatal().Err(err).Msg("telegram: планировщик дайджестов")
	}

	srv := httpinfra.NewServer(log.Component(logger, "http"))
	if cfg.Telegram.WebhookURL != "" {
		runWebhook(ctx, botAPI, h, srv, cfg.Telegram.WebhookURL, cfg.MetricsAddr, logger)
	} else {
		srv.Start(ctx, cfg.MetricsAddr)
		runPolling(ctx, botAPI, h, logger)
	}
	logger.Info().Msg("telegram: остановка")
}

func runWebhook(ctx context.Context, api *tgbotapi.BotAPI, h *bot.Handler, srv *httpinfra.Server, url, addr string, logger zerolog.Logger) {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram: неверный адрес вебхука")
	}
	if _, err := api.Request(wh); err != nil {
		logger.Fatal().Err(err).Msg("telegram: не удалось установить вебхук")
	}
	srv.Router.Post(webhookPath, func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		go h.HandleUpdate(ctx, update)
		w.WriteHeader(http.StatusOK)
	})
	srv.Start(ctx, addr)
	logger.Info().Str("url", url).Msg("telegram: бот запущен в режиме вебхука")
	<-ctx.Done()
}

func runPolling(ctx context.Context, api *tgbotapi.BotAPI, h *bot.Handler, logger zerolog.Logger) {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("telegram: не удалось снять вебхук")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	logger.Info().Str("user", api.Self.UserName).Msg("telegram: бот запущен в режиме long polling")
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update := <-updates:
			go h.HandleUpdate(ctx, update)
		}
	}
}
