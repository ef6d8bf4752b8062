package config

const (
	defaultConfigPath       = "~/.config/taskbeat/config.toml"
	defaultDataDir          = "~/.local/share/taskbeat"
	defaultAPIBind          = "127.0.0.1:7488"
	defaultQueueName        = "TaskQueue"
	defaultPendingQuota     = 100
	defaultSkippedQuota     = 50
	defaultTaskPriority     = 10
	defaultRedisChannel     = "taskbeat:beat"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

func defaultPollQuotas() []PollQuota {
	return []PollQuota{
		{Status: "pending", Limit: defaultPendingQuota},
		{Status: "skipped", Limit: defaultSkippedQuota},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Queue: Queue{
			Name:       defaultQueueName,
			PollQuotas: defaultPollQuotas(),
		},
		Tasks: Tasks{
			DefaultPriority:  defaultTaskPriority,
			DefaultImmediate: true,
		},
		Beat: Beat{
			RedisChannel: defaultRedisChannel,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
