package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/openipc-ragbot/internal/handler"
	"github.com/arturoeanton/openipc-ragbot/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and the MCP server when enabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("starting OpenIPC RAG bot",
			"port", cfg.Port,
			"index", cfg.IndexBackend,
			"llm", cfg.LLMProvider,
			"database", cfg.DatabaseDriver,
			"mcp_enabled", cfg.MCPEnabled,
		)

		comps := buildComponents(ctx, cfg)
		defer comps.Close()

		app := fiber.New(fiber.Config{
			AppName:     cfg.AppName,
			ReadTimeout: 30 * time.Second,
			// no write timeout: answers and ingestion progress are streamed
		})
		app.Use(recover.New())
		app.Use(fiberlogger.New())
		app.Use(cors.New(cors.Config{
			AllowOrigins: []string{cfg.FrontendURL},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
		}))

		handler.NewChatHandler(comps.chatService(cfg.TargetChats), comps.assembler(cfg)).Register(app)
		handler.NewSourcesHandler(comps.catalog, comps.checks).Register(app)

		if pipeline, err := comps.pipeline(cfg); err != nil {
			slog.Warn("ingestion endpoints disabled", "error", err)
		} else {
			handler.NewIngestHandler(handler.NewJobTracker(pipeline)).Register(app)
		}

		if cfg.MCPEnabled {
			mcpServer := mcp.NewServer(comps.index, comps.catalog, cfg.MCPPort)
			go func() {
				if err := mcpServer.Start(ctx); err != nil {
					slog.Error("MCP server failed", "error", err)
				}
			}()
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				slog.Warn("shutdown failed", "error", err)
			}
		}()

		slog.Info("fiber listening", "port", cfg.Port)
		return app.Listen(":" + cfg.Port)
	},
}
