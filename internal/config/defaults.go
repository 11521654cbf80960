package config

import "time"

const (
	// Room namespaces. A user room is private to one identity, a conversation
	// room is shared by every participant of one claim.
	UserRoomPrefix         = "user:"
	ConversationRoomPrefix = "conversation:"

	// Queue backends
	QueueBackendRedis  = "redis"
	QueueBackendMemory = "memory"

	// Fanout modes
	FanoutLocal = "local"
	FanoutRedis = "redis"

	// Backoff policies
	BackoffNone        = "none"
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

const (
	DefaultHTTPAddr          = ":8080"
	DefaultEnv               = "development"
	DefaultRedisAddr         = "localhost:6379"
	DefaultQueuePrefix       = "jobs"
	DefaultWorkers           = 4
	DefaultRetryCeiling      = 3
	DefaultBackoffBase       = time.Second
	DefaultBackoffMax        = time.Minute
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultPubSubChannel     = "rooms:broadcast"
	DefaultSMTPPort          = 587
)

// Default returns a Config populated with default values for every setting.
func Default() *Config {
	return &Config{
		HTTPAddr: DefaultHTTPAddr,
		Env:      DefaultEnv,
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Queue: QueueConfig{
			Backend:           QueueBackendRedis,
			Prefix:            DefaultQueuePrefix,
			Workers:           DefaultWorkers,
			RetryCeiling:      DefaultRetryCeiling,
			BackoffPolicy:     BackoffFixed,
			BackoffBase:       DefaultBackoffBase,
			BackoffMax:        DefaultBackoffMax,
			PollInterval:      DefaultPollInterval,
			VisibilityTimeout: DefaultVisibilityTimeout,
		},
		Realtime: RealtimeConfig{
			Fanout:        FanoutLocal,
			PubSubChannel: DefaultPubSubChannel,
		},
		SMTP: SMTPConfig{
			Port: DefaultSMTPPort,
		},
	}
}
