package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"grok-bot/internal/adapters/discord"
	"grok-bot/internal/app"
	"grok-bot/internal/domain"
	"grok-bot/internal/infra/config"
	httpinfra "grok-bot/internal/infra/http"
	"grok-bot/internal/infra/log"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/usecase/emoji"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(domain.PlatformDiscord); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, domain.PlatformDiscord, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("discord: не удалось собрать сервисы")
	}
	defer core.Close()

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("discord: не удалось создать сессию")
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildEmojis
	if err := session.Open(); err != nil {
		logger.Fatal().Err(err).Msg("discord: не удалось подключиться к шлюзу")
	}
	defer session.Close()

	emojis := emoji.NewService(core.Repo, core.Model, core.Cache, discord.EmojiURL, log.Component(logger, "emoji"))
	core.Digest.SetPublisher(discord.NewPublisher(session, log.Component(logger, "digest_publisher")))

	bot := discord.New(ctx, session, session.State.User.ID, discord.Services{
		Chat:     core.Chat,
		Personas: core.Personas,
		Digest:   core.Digest,
		Admin:    core.Admin,
		Emoji:    emojis,
		Errors:   core.Repo,
	}, log.Component(logger, "discord"))
	bot.Attach(session)
	if err := bot.RegisterCommands(); err != nil {
		logger.Error().Err(err).Msg("discord: slash-команды не зарегистрированы")
	}

	if err := core.RunDigest(ctx); err != nil {
		logger.Fatal().Err(err).Msg("discord: планировщик дайджестов")
	}
	httpinfra.NewServer(log.Component(logger, "http")).Start(ctx, cfg.MetricsAddr)

	logger.Info().Str("user", session.State.User.Username).Msg("discord: бот запущен")
	<-ctx.Done()
	logger.Info().Msg("discord: остановка")
}
