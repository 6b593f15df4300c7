package database

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Connection definition connect string + retry setting
type Connection struct {
	ConnectStr string

	RetryCount    int
	RetryInterval time.Duration
}

// MongoDB definition mongo db
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// RedisConnection definition redis, sentinel when SentinelAddrs is set
type RedisConnection struct {
	Addr          string
	Password      string
	MasterName    string
	SentinelAddrs []string
	DB            int
}

// ObjectStoreConnection definition minio / s3
type ObjectStoreConnection struct {
	Endpoint   string
	Region     string
	User       string
	Password   string
	BucketName string
	UseSSL     bool

	RetryCount    int
	RetryInterval time.Duration
}

// KafkaConnection definition kafka
type KafkaConnection struct {
	Brokers       []string
	Topic         string
	RetryCount    int
	RetryInterval time.Duration
}
