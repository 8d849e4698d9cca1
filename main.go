package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"gowa-blast/config"
	"gowa-blast/database"
	"gowa-blast/internal/blast"
	"gowa-blast/internal/handler"
	"gowa-blast/internal/model"
	"gowa-blast/internal/queue"
	"gowa-blast/internal/store"
	"gowa-blast/internal/ws"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// API process: accepts blast requests, manages configs and tickets, and
// serves the websocket feed. Session lifecycles and delivery run in the
// worker process (cmd/worker); the two meet in the shared store and the
// job outbox.
func main() {
	// Load .env (ignore error when the file is absent, e.g. in production)
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.AppDBURL == "" {
		log.Fatal("APP_DATABASE_URL is not set")
	}

	database.InitAppDB(cfg.AppDBURL)
	database.InitSessionDB(cfg.SessionDBPath)

	ctx := context.Background()

	st, err := store.NewPostgres(database.AppDB, cfg.AppDBURL)
	if err != nil {
		log.Fatal("Failed to init shared store:", err)
	}

	q, err := queue.NewPostgres(database.AppDB)
	if err != nil {
		log.Fatal("Failed to init job queue:", err)
	}

	campaigns, err := model.NewCampaignRepo(database.AppDB, st)
	if err != nil {
		log.Fatal("Failed to init campaign repo:", err)
	}
	sessionConfigs := model.NewSessionConfigRepo(database.SessionDB)
	if err := sessionConfigs.EnsureDefaults(ctx, cfg.SessionIDs); err != nil {
		log.Printf("Warning: failed to seed session configs: %v", err)
	}

	blastService := blast.NewService(st, q, campaigns)
	tickets := ws.NewTicketManager(st)

	// WebSocket hub + store bridge
	hub := ws.NewHub()
	go hub.Run()
	if err := ws.RunBridge(ctx, st, hub); err != nil {
		log.Fatal("Failed to subscribe event bridge:", err)
	}

	// Setup Echo
	e := echo.New()
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.PUT,
			echo.PATCH,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
		AllowCredentials: true,
	}))
	e.OPTIONS("/*", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitPerSecond),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}

		c.JSON(code, response)
	}

	// WebSocket and health check
	e.GET("/ws", handler.WebSocketHandler(hub, tickets))
	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"success": true,
			"message": "Blast API is running",
			"clients": hub.ClientCount(),
		})
	})

	api := e.Group("/api")

	// Blasts
	api.POST("/blasts", handler.StartBlast(blastService, cfg.UploadDir))
	api.GET("/ws-ticket", handler.IssueTicket(tickets))

	// Sessions
	api.GET("/sessions", handler.ListSessions(st, sessionConfigs))
	api.POST("/sessions/:sessionId/connect", handler.ConnectSession(st, sessionConfigs))
	api.POST("/sessions/:sessionId/logout", handler.LogoutSession(st, sessionConfigs))

	// Session configs
	api.GET("/session-configs", handler.ListSessionConfigs(sessionConfigs))
	api.POST("/session-configs", handler.CreateSessionConfig(sessionConfigs))
	api.PATCH("/session-configs/:sessionId", handler.UpdateSessionConfig(sessionConfigs))
	api.DELETE("/session-configs/:sessionId", handler.DeleteSessionConfig(sessionConfigs))

	// Campaigns
	api.GET("/campaigns", handler.ListCampaigns(campaigns))
	api.GET("/campaigns/:campaignId/recipients", handler.ListCampaignRecipients(campaigns))

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(e.Start(":" + cfg.Port))
}
