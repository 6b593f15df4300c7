package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// Backend "memory" runs every store in-process (single node, local dev);
	// "remote" uses mongo/redis/pg.
	Backend string `mapstructure:"backend"`

	Mongo    DatabaseConfig `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres DatabaseConfig `mapstructure:"pg"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`

	Presence PresenceConfig `mapstructure:"presence"`
	Typing   TypingConfig   `mapstructure:"typing"`
	Paging   PagingConfig   `mapstructure:"paging"`
}

// RedisConfig definition redis setting. Sentinel is used when
// SentinelAddrs is set, otherwise Addr.
type RedisConfig struct {
	RedisDB       int      `mapstructure:"redis_db"`
	Addr          string   `mapstructure:"addr"`
	Password      string   `mapstructure:"password"`
	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// BlobConfig selects the attachment object store.
type BlobConfig struct {
	Driver        string `mapstructure:"driver"` // minio | s3
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition event export; disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// PresenceConfig .
type PresenceConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// TypingConfig .
type TypingConfig struct {
	Expiry time.Duration `mapstructure:"expiry"`
	// minimum interval between two published "is typing" events of one session
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// PagingConfig .
type PagingConfig struct {
	MessageLimit int `mapstructure:"message_limit"`
	SearchLimit  int `mapstructure:"search_limit"`
}

// Defaults fills zero values.
func (c *Chat) Defaults() {
	if c.Port == "" {
		c.Port = "8081"
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Presence.Timeout <= 0 {
		c.Presence.Timeout = 60 * time.Second
	}
	if c.Typing.Expiry <= 0 {
		c.Typing.Expiry = 5 * time.Second
	}
	if c.Typing.MinInterval <= 0 {
		c.Typing.MinInterval = 2 * time.Second
	}
	if c.Paging.MessageLimit <= 0 {
		c.Paging.MessageLimit = 50
	}
	if c.Paging.SearchLimit <= 0 {
		c.Paging.SearchLimit = 20
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = "minio"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat-events"
	}
}
