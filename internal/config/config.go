package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config структура для конфигурации приложения
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
}

// ServerConfig конфигурация HTTP-сервера статистики
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StorageConfig выбор бэкенда хранилища агрегатов
type StorageConfig struct {
	// Backend один из: memory, redis, postgres
	Backend string `mapstructure:"backend"`
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig конфигурация Postgres
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// QueueConfig конфигурация SQS-очереди
type QueueConfig struct {
	Name                     string `mapstructure:"name"`
	DeadLetterName           string `mapstructure:"dead_letter_name"`
	Region                   string `mapstructure:"region"`
	Endpoint                 string `mapstructure:"endpoint"`
	AccessKey                string `mapstructure:"access_key"`
	SecretKey                string `mapstructure:"secret_key"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
	MaxReceiveCount          int    `mapstructure:"max_receive_count"`
	BatchSize                int    `mapstructure:"batch_size"`
	WaitTimeSeconds          int    `mapstructure:"wait_time_seconds"`
}

// ProcessorConfig конфигурация цикла обработки
type ProcessorConfig struct {
	IdleSleep      time.Duration `mapstructure:"idle_sleep"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	HealthPort     string        `mapstructure:"health_port"`
}

func (q QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSeconds) * time.Second
}

func (q QueueConfig) WaitTime() time.Duration {
	return time.Duration(q.WaitTimeSeconds) * time.Second
}

// LoadConfig загружает конфигурацию из файла и переменных окружения
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/event-pipeline")

	// Устанавливаем значения по умолчанию
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("storage.backend", "redis")
	viper.SetDefault("redis.addr", "redis:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("queue.name", "events")
	viper.SetDefault("queue.dead_letter_name", "")
	viper.SetDefault("queue.region", "us-east-1")
	viper.SetDefault("queue.endpoint", "")
	viper.SetDefault("queue.access_key", "")
	viper.SetDefault("queue.secret_key", "")
	viper.SetDefault("queue.visibility_timeout_seconds", 300)
	viper.SetDefault("queue.max_receive_count", 3)
	viper.SetDefault("queue.batch_size", 10)
	viper.SetDefault("queue.wait_time_seconds", 20)
	viper.SetDefault("processor.idle_sleep", time.Second)
	viper.SetDefault("processor.connect_retries", 30)
	viper.SetDefault("processor.backoff_base", 100*time.Millisecond)
	viper.SetDefault("processor.backoff_max", 5*time.Second)
	viper.SetDefault("processor.health_port", "8081")

	// Читаем переменные окружения
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")

	// Для вложенных структур
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Пытаемся прочитать конфигурационный файл
	if err := viper.ReadInConfig(); err != nil {
		// Если файл не найден, используем значения по умолчанию и переменные окружения
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Warning: Could not read config file: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Имя DLQ по умолчанию выводится из имени основной очереди
	if config.Queue.DeadLetterName == "" {
		config.Queue.DeadLetterName = config.Queue.Name + "-dlq"
	}

	return &config, nil
}
