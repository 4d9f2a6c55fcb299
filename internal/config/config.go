package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App
	Database Database
	Redis    Redis
	JWT      JWT
	Bus      Bus
	Push     Push
	Delivery Delivery
	Presence Presence
}

type App struct {
	Port       string `env:"PORT" env-default:"8080"`
	InstanceID string `env:"INSTANCE_ID"`
	LogLevel   string `env:"LOG_LEVEL" env-default:"info"`

	// Drops the schema on shutdown. Development only.
	MigrateDownOnExit bool `env:"MIGRATE_DOWN_ON_EXIT" env-default:"false"`
}

type JWT struct {
	Secret string `env:"JWT_SECRET" env-required:"true"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST" env-default:"localhost"`
	Port     string `env:"REDIS_PORT" env-default:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

func (r Redis) Addr() string {
	return r.Host + ":" + r.Port
}

type Database struct {
	Host     string `env:"POSTGRES_HOST" env-required:"true"`
	Port     string `env:"POSTGRES_PORT" env-default:"5432"`
	User     string `env:"POSTGRES_USER" env-required:"true"`
	DBName   string `env:"POSTGRES_DB" env-required:"true"`
	Password string `env:"POSTGRES_PASSWORD" env-required:"true"`
	SSLMode  string `env:"POSTGRES_SSLMODE" env-default:"disable"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type Bus struct {
	Driver  string `env:"BUS_DRIVER" env-default:"redis"`
	Channel string `env:"BUS_CHANNEL" env-default:"chat:events"`
	NATSURL string `env:"NATS_URL" env-default:"nats://localhost:4222"`
}

type Push struct {
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	Subscriber      string `env:"VAPID_SUBSCRIBER" env-default:"mailto:admin@localhost"`
	TTL             int    `env:"PUSH_TTL" env-default:"60"`
}

// Enabled reports whether both VAPID keys are set.
func (p Push) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type Delivery struct {
	RecoveryBatchSize int           `env:"RECOVERY_BATCH_SIZE" env-default:"100"`
	MaxMessageLength  int           `env:"MAX_MESSAGE_LENGTH" env-default:"2000"`
	ClientSendBuffer  int           `env:"CLIENT_SEND_BUFFER" env-default:"256"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Presence tunes the instance heartbeat. An instance silent for longer
// than HeartbeatTTL is treated as dead and its presence entries swept.
type Presence struct {
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" env-default:"15s"`
	HeartbeatTTL      time.Duration `env:"PRESENCE_HEARTBEAT_TTL" env-default:"45s"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment variables: %w", err)
	}

	if cfg.App.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve instance id: %w", err)
		}
		cfg.App.InstanceID = host
	}

	switch cfg.Bus.Driver {
	case "redis", "nats":
	default:
		return nil, fmt.Errorf("unsupported BUS_DRIVER %q", cfg.Bus.Driver)
	}

	if cfg.Delivery.RecoveryBatchSize <= 0 {
		return nil, fmt.Errorf("RECOVERY_BATCH_SIZE must be positive, got %d", cfg.Delivery.RecoveryBatchSize)
	}

	if cfg.Presence.HeartbeatInterval <= 0 || cfg.Presence.HeartbeatTTL <= cfg.Presence.HeartbeatInterval {
		return nil, fmt.Errorf("PRESENCE_HEARTBEAT_TTL (%s) must exceed PRESENCE_HEARTBEAT_INTERVAL (%s)",
			cfg.Presence.HeartbeatTTL, cfg.Presence.HeartbeatInterval)
	}
	return cfg, nil
}
