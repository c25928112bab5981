package config

// DefaultMaxRetries is the per-job retry budget applied when neither the
// configuration nor the submission overrides it.
const DefaultMaxRetries = 3

const (
	defaultDataDir              = "~/.local/share/conveyor"
	defaultLogDir               = "~/.local/share/conveyor/logs"
	defaultItemSpoolDir         = "~/.local/share/conveyor/items"
	defaultAPIBind              = "127.0.0.1:7518"
	defaultStreamBind           = "127.0.0.1:7519"
	defaultWorkers              = 4
	defaultIdlePollInterval     = 2
	defaultSendTimeout          = 5
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultLLMTitle             = "Conveyor Processing Engine"
	defaultLLMTimeoutSeconds    = 60
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
)

func defaultJobPlan() []string {
	return []string{"analysis", "extraction", "categorization"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			ItemSpoolDir: defaultItemSpoolDir,
			APIBind:      defaultAPIBind,
			StreamBind:   defaultStreamBind,
		},
		Engine: Engine{
			Workers:           defaultWorkers,
			IdlePollInterval:  defaultIdlePollInterval,
			DefaultMaxRetries: DefaultMaxRetries,
			JobPlan:           defaultJobPlan(),
			SendTimeout:       defaultSendTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyRequestTimeout,
			PipelineCompleted: true,
			PipelineFailed:    true,
			PipelineCancelled: true,
			EngineLifecycle:   true,
			Errors:            true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
