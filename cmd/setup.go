package main

import (
	"context"
	"fmt"

	"claimhub/backend/internal/config"
	"claimhub/backend/internal/jobqueue"
	"claimhub/backend/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// openDatabase connects to PostgreSQL. Without DATABASE_DSN chat history and
// the job archive are disabled and nil is returned.
func openDatabase(cfg *config.Config, logger zerolog.Logger) *gorm.DB {
	if cfg.DatabaseDSN == "" {
		logger.Warn().Msg("DATABASE_DSN not set, chat history and job archive disabled")
		return nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}
	logger.Info().Msg("connected to PostgreSQL")
	return db
}

// openRedis connects to Redis when the queue or the fanout needs it.
func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.Queue.Backend != config.QueueBackendRedis && cfg.Realtime.Fanout != config.FanoutRedis {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect Redis")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	return rdb
}

func newQueue(cfg *config.Config, rdb *redis.Client) (jobqueue.Queue, error) {
	backoff, err := jobqueue.NewBackoff(cfg.Queue.BackoffPolicy, cfg.Queue.BackoffBase, cfg.Queue.BackoffMax)
	if err != nil {
		return nil, err
	}
	opts := jobqueue.Options{RetryCeiling: cfg.Queue.RetryCeiling, Backoff: backoff}

	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return jobqueue.NewMemoryQueue(opts), nil
	case config.QueueBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis queue backend needs a redis client")
		}
		return jobqueue.NewRedisQueue(rdb, cfg.Queue.Prefix, opts), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// senderOptions picks a sender per channel. E-mail falls back to logging when
// no SMTP host is configured; Telegram is only enabled with a bot token.
func senderOptions(cfg *config.Config, logger zerolog.Logger) []notify.DispatcherOption {
	var opts []notify.DispatcherOption
	if cfg.SMTP.Host != "" {
		opts = append(opts, notify.WithSender(notify.ChannelEmail, notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})))
	} else {
		logger.Warn().Msg("SMTP_HOST not set, e-mail notifications are only logged")
		opts = append(opts, notify.WithSender(notify.ChannelEmail, notify.NewLogSender(logger)))
	}

	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramBotToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram sender disabled")
		} else {
			opts = append(opts, notify.WithSender(notify.ChannelTelegram, tg))
		}
	}
	return opts
}
