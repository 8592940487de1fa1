// Command main is the entry point for the request registry server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registry/internal/config"
	"registry/internal/observability"
	"registry/internal/server"

	"github.com/gofiber/fiber/v2"
)

// @title Request Registry API
// @version 1.0
// @description Registry of copy and deletion requests for distributed data items

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8375
// @BasePath /
// @schemes http https

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "registry",
		ServiceVersion: "1.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.WatchEvents(); err != nil {
		log.Printf("Request event subscription disabled: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "Request Registry",
		BodyLimit: 1 * 1024 * 1024,
	})

	srv.SetupMiddleware(app)
	srv.SetupRoutes(app)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server resource shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	if cfg.ServesTLS() {
		log.Printf("Server starting on %s with client certificate verification...", addr)
		log.Fatal(app.ListenMutualTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSClientCAFile))
	}
	log.Printf("Server starting on %s...", addr)
	log.Fatal(app.Listen(addr))
}
