package repository

import (
	"os"
	"testing"

	"realtime_chat_service/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}
