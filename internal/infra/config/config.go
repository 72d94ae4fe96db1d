package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"content-radar/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	OpenAI struct {
		APIKey      string        `envconfig:"OPENAI_API_KEY"`
		BaseURL     string        `envconfig:"OPENAI_BASE_URL"`
		Model       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Temperature float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.3"`
		MaxTokens   int           `envconfig:"OPENAI_MAX_TOKENS" default:"4000"`
		Timeout     time.Duration `envconfig:"OPENAI_TIMEOUT" default:"120s"`
		MaxRetries  int           `envconfig:"OPENAI_MAX_RETRIES" default:"3"`
		RetryDelay  time.Duration `envconfig:"OPENAI_RETRY_DELAY" default:"2s"`
	} `envconfig:""`

	Batch struct {
		DefaultSize         int `envconfig:"BATCH_DEFAULT_SIZE" default:"5"`
		MinSize             int `envconfig:"BATCH_MIN_SIZE" default:"1"`
		MaxSize             int `envconfig:"BATCH_MAX_SIZE" default:"10"`
		TargetContentLength int `envconfig:"BATCH_TARGET_CONTENT_LENGTH" default:"6000"`
		MaxContentLength    int `envconfig:"BATCH_MAX_CONTENT_LENGTH" default:"8000"`
	} `envconfig:""`

	Crawl struct {
		MaxItemsPerKeyword int           `envconfig:"CRAWL_MAX_ITEMS_PER_KEYWORD" default:"100"`
		StartPage          int           `envconfig:"CRAWL_START_PAGE" default:"1"`
		EmptyPageThreshold int           `envconfig:"CRAWL_EMPTY_PAGE_THRESHOLD" default:"3"`
		ResumeEnabled      bool          `envconfig:"CRAWL_RESUME_ENABLED" default:"true"`
		MaxConcurrency     int           `envconfig:"CRAWL_MAX_CONCURRENCY" default:"4"`
		KeywordConcurrency int           `envconfig:"CRAWL_KEYWORD_CONCURRENCY" default:"1"`
		PageTimeout        time.Duration `envconfig:"CRAWL_PAGE_TIMEOUT" default:"30s"`
		RequestsPerSecond  float64       `envconfig:"CRAWL_RPS" default:"1"`
		FetchComments      bool          `envconfig:"CRAWL_FETCH_COMMENTS" default:"true"`
		SearchURL          string        `envconfig:"CRAWL_SEARCH_URL"`
		CommentsURL        string        `envconfig:"CRAWL_COMMENTS_URL"`
		UserAgent          string        `envconfig:"CRAWL_USER_AGENT" default:"content-radar/1.0"`
		DedupTTL           time.Duration `envconfig:"CRAWL_DEDUP_TTL" default:"72h"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_REPORT_CHAT_ID"`
	} `envconfig:""`

	Queues struct {
		Analysis string `envconfig:"ANALYSIS_QUEUE_KEY" default:"analysis_jobs"`
	} `envconfig:""`

	Metrics struct {
		Enabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
		Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`

	Port     int    `envconfig:"PORT" default:"8080"`
	APIToken string `envconfig:"API_TOKEN"`
}

// Load загружает конфиг из окружения, предварительно подхватив .env при наличии.
func Load() AppConfig {
	cfg, err := Process(".env")
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Process читает .env (если файл есть) и переменные окружения.
func Process(envFile string) (AppConfig, error) {
	var cfg AppConfig
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidateBatch проверяет границы разбиения на пачки.
func (c AppConfig) ValidateBatch() error {
	b := c.Batch
	if b.MinSize <= 0 {
		return domain.NewConfigError("BATCH_MIN_SIZE", "must be positive")
	}
	if b.MaxSize < b.MinSize {
		return domain.NewConfigError("BATCH_MAX_SIZE", "must be >= BATCH_MIN_SIZE")
	}
	if b.DefaultSize < b.MinSize || b.DefaultSize > b.MaxSize {
		return domain.NewConfigError("BATCH_DEFAULT_SIZE", "must be within [BATCH_MIN_SIZE, BATCH_MAX_SIZE]")
	}
	if b.TargetContentLength <= 0 {
		return domain.NewConfigError("BATCH_TARGET_CONTENT_LENGTH", "must be positive")
	}
	if b.MaxContentLength < b.TargetContentLength {
		return domain.NewConfigError("BATCH_MAX_CONTENT_LENGTH", "must be >= BATCH_TARGET_CONTENT_LENGTH")
	}
	return nil
}

// ValidateAnalyzer проверяет то, без чего анализ невозможен.
func (c AppConfig) ValidateAnalyzer() error {
	if c.OpenAI.APIKey == "" {
		return domain.NewConfigError("OPENAI_API_KEY", "is required")
	}
	if c.OpenAI.MaxRetries < 0 {
		return domain.NewConfigError("OPENAI_MAX_RETRIES", "must not be negative")
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	return c.ValidateBatch()
}

// ValidateStorage проверяет подключение к БД.
func (c AppConfig) ValidateStorage() error {
	if c.PGDSN == "" {
		return domain.NewConfigError("PG_DSN", "is required")
	}
	return nil
}

// ValidateCrawler проверяет настройки сборщика; БД проверяется отдельно.
func (c AppConfig) ValidateCrawler() error {
	if c.Crawl.SearchURL == "" {
		return domain.NewConfigError("CRAWL_SEARCH_URL", "is required")
	}
	if c.Crawl.MaxItemsPerKeyword <= 0 {
		return domain.NewConfigError("CRAWL_MAX_ITEMS_PER_KEYWORD", "must be positive")
	}
	if c.Crawl.EmptyPageThreshold <= 0 {
		return domain.NewConfigError("CRAWL_EMPTY_PAGE_THRESHOLD", "must be positive")
	}
	if c.Crawl.StartPage < 0 {
		return domain.NewConfigError("CRAWL_START_PAGE", "must not be negative")
	}
	return nil
}
