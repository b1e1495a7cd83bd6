package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Moscow"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	APIToken    string `envconfig:"API_TOKEN"`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Instagram struct {
		BaseURL string        `envconfig:"IG_API_URL" default:"http://localhost:8090"`
		Token   string        `envconfig:"IG_API_TOKEN"`
		Timeout time.Duration `envconfig:"IG_API_TIMEOUT" default:"5m"`
	} `envconfig:""`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr  string `envconfig:"REDIS_ADDR"`
	RabbitURL  string `envconfig:"RABBITMQ_URL"`
	IntakeKind string `envconfig:"INTAKE_KIND" default:"redis"`

	Queues struct {
		Tasks string `envconfig:"TASK_QUEUE_KEY" default:"publish_jobs"`
	} `envconfig:""`

	TaskQueue struct {
		MaxWorkers        int           `envconfig:"TASK_MAX_WORKERS" default:"50"`
		BufferSize        int           `envconfig:"TASK_BUFFER_SIZE" default:"1000"`
		LoadCheckInterval time.Duration `envconfig:"TASK_LOAD_CHECK_INTERVAL" default:"30s"`
		OverloadPause     time.Duration `envconfig:"TASK_OVERLOAD_PAUSE" default:"30s"`
		StopTimeout       time.Duration `envconfig:"TASK_STOP_TIMEOUT" default:"5s"`
		PublishTimeout    time.Duration `envconfig:"TASK_PUBLISH_TIMEOUT" default:"5m"`
	} `envconfig:""`

	Load struct {
		Profile  string        `envconfig:"HARDWARE_PROFILE" default:"server"`
		CacheTTL time.Duration `envconfig:"LOAD_CACHE_TTL" default:"5s"`
	} `envconfig:""`

	Automation struct {
		OptimizeInterval time.Duration `envconfig:"OPTIMIZE_INTERVAL" default:"5m"`
		ManageInterval   time.Duration `envconfig:"AUTO_MANAGE_INTERVAL" default:"1h"`
		ManageLockTTL    time.Duration `envconfig:"AUTO_MANAGE_LOCK_TTL" default:"50m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
