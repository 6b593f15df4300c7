package router

import (
	"context"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/pkg/metrics"
	"realtime_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册 chat 路由
func RegisterRoutes(r *fiber.App, chatWebsocket *app.ChatWebsocketHandler) {
	r.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	r.Get("/metrics", metrics.Handler())

	r.Get("/ws", middlewares.JWTMiddleware(), upgradeRequired, websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
