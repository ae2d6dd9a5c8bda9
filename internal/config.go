package internal

import (
	"file-relay/domain"
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	LogLevel   string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	Host       string `env:"HOST,default=0.0.0.0"`
	Port       int    `env:"PORT,default=3000" validate:"gt=0,lte=65535"`
	HealthPort int    `env:"HEALTH_PORT,default=50051" validate:"gt=0,lte=65535,nefield=Port"`
	DebugPort  int    `env:"DEBUG_PORT,default=8081" validate:"gt=0,lte=65535"`

	BrokerURL          string `env:"BROKER_URL,required=true" validate:"url"`
	BrokerEagerConnect bool   `env:"BROKER_EAGER_CONNECT,default=true"`
	UploadQueue        string `env:"UPLOAD_QUEUE,default=upload" validate:"required"`
	DownloadQueue      string `env:"DOWNLOAD_QUEUE,default=download" validate:"required,nefield=UploadQueue"`

	StorageRoot    string `env:"STORAGE_ROOT,default=." validate:"required"`
	StorageDir     string `env:"STORAGE_DIR,default=public" validate:"required"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/catalog" validate:"required"`

	MaxConcurrentProcessing int           `env:"MAX_CONCURRENT_PROCESSING,default=5" validate:"gte=1"`
	MaxAttempts             int           `env:"MAX_ATTEMPTS,default=3" validate:"gte=1"`
	BackoffUnit             time.Duration `env:"BACKOFF_UNIT,default=1s" validate:"gt=0"`
	ChunkSize               int           `env:"CHUNK_SIZE,default=65536" validate:"gte=1024"`
	MaxUploadSizeMB         int           `env:"MAX_UPLOAD_SIZE_MB,default=100" validate:"gte=1"`
	MaxParallelUploads      int           `env:"MAX_PARALLEL_UPLOADS,default=4" validate:"gte=1"`

	HealthInterval  time.Duration `env:"HEALTH_INTERVAL,default=5s" validate:"gt=0"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=30s" validate:"gt=0"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s" validate:"gt=0"`
}

// LoadConfig reads the environment and validates the result.
func LoadConfig() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) MaxUploadSize() int64 {
	return int64(c.MaxUploadSizeMB) * domain.MB
}

func (c Config) Queues() []string {
	return []string{c.UploadQueue, c.DownloadQueue}
}
