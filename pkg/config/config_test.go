package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatDefaults(t *testing.T) {
	var c Chat
	c.Defaults()

	assert.Equal(t, "8081", c.Port)
	assert.Equal(t, "memory", c.Backend)
	assert.Equal(t, 60*time.Second, c.Presence.Timeout)
	assert.Equal(t, 5*time.Second, c.Typing.Expiry)
	assert.Equal(t, 2*time.Second, c.Typing.MinInterval)
	assert.Equal(t, 50, c.Paging.MessageLimit)
	assert.Equal(t, 20, c.Paging.SearchLimit)
	assert.Equal(t, "minio", c.Blob.Driver)
	assert.Equal(t, "chat-events", c.Kafka.Topic)

	// 已設定的值不會被覆蓋
	c = Chat{Backend: "remote", Paging: PagingConfig{MessageLimit: 10}}
	c.Defaults()
	assert.Equal(t, "remote", c.Backend)
	assert.Equal(t, 10, c.Paging.MessageLimit)
}

// 測試 yaml 內的 ${VAR} 以環境變數替換
func TestLoadConfigExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
port: "9090"
jwt_secret: ${CHAT_TEST_SECRET}
backend: remote
redis:
  addr: ${CHAT_TEST_REDIS}
presence:
  timeout: 90s
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_test_service.yaml"), []byte(yaml), 0o600))
	t.Setenv("CHAT_TEST_SECRET", "s3cret")
	t.Setenv("CHAT_TEST_REDIS", "redis:6379")

	cfg, err := LoadConfig[Chat]("chat_test_service", dir)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "remote", cfg.Backend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig[Chat]("does_not_exist", t.TempDir())
	assert.Error(t, err)
}

func TestGetRedisSetting(t *testing.T) {
	t.Setenv("REDIS_MASTER_NAME", "chat-master")
	t.Setenv("REDIS_SENTINEL1_IP", "10.0.0.1")
	t.Setenv("REDIS_SENTINEL1_PORT", "26379")
	t.Setenv("REDIS_SENTINEL2_IP", "10.0.0.2")

	master, addrs := GetRedisSetting()
	assert.Equal(t, "chat-master", master)
	assert.Contains(t, addrs, "10.0.0.1:26379")
	assert.Len(t, addrs, 1)
}
