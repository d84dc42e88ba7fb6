package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"kiksy-chat-service/internal/db"
	"kiksy-chat-service/internal/handlers"
	"kiksy-chat-service/internal/middleware"
	"kiksy-chat-service/internal/observability"
	"kiksy-chat-service/internal/rabbitmq"
	"kiksy-chat-service/internal/repositories"
	"kiksy-chat-service/internal/telemetry"
	"kiksy-chat-service/internal/ws"
)

func main() {
	ctx := context.Background()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, "kiksy-chat-service", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "kiksy.events")
	publisher := rabbitmq.NewPublisher(amqpURL, exchange)
	defer publisher.Close()

	if amqpURL != "" {
		if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange); err == nil {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		} else {
			log.Printf("event publisher disabled: %v", err)
		}
	}

	audit := telemetry.NewAuditEmitter(publisher, "audit_log.chat", "kiksy-chat-service", getEnv("ENVIRONMENT", "development"))

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	relay := ws.NewRelay(chatRepo, messageRepo, hub)

	secret := middleware.Secret()
	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, relay, hub, audit)
	socketHandler := ws.NewSocketHandler(hub, relay, secret)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("kiksy-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(secret)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats", authMiddleware, chatHandler.CreateChat)
	router.GET("/chats/:chat_id", authMiddleware, chatHandler.GetChat)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)

	router.GET("/ws", socketHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
