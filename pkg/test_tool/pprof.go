package testtool

import (
	"net/http"
	_ "net/http/pprof" // 註冊 /debug/pprof
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof 非 production 環境時在 :6060 啟動 pprof
func StartPprof() {
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			logger.Log.Warn("pprof server stopped", zap.Error(err))
		}
	}()
}
