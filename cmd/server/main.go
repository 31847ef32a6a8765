package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jo-hoe/vehiclewatch/internal/backend"
	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/backend/detection"
	"github.com/jo-hoe/vehiclewatch/internal/common"
	"github.com/jo-hoe/vehiclewatch/internal/core"
	"github.com/jo-hoe/vehiclewatch/internal/events"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

func main() {
	// Load configuration
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		log.Printf("failed to load config from %s: %v", configPath, err)
		panic(err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.SlogLevel()})))

	location, err := config.Location()
	if err != nil {
		panic(err)
	}

	databaseService, err := database.NewDatabase(context.Background(), config.Database.Type, config.Database.ConnectionString, location)
	if err != nil {
		slog.Error("failed to initialize database service", "error", err)
		panic(err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := events.NewHub()
	go hub.Run(hubCtx)

	dispatcher := detection.NewDispatcher(
		detection.NewClient(config.Detection.URL, config.Detection.FormField, config.Detection.Timeout),
		databaseService,
		detection.Options{
			Workers:   config.Detection.Workers,
			QueueSize: config.Detection.QueueSize,
			Timeout:   config.Detection.Timeout,
		},
		hub,
	)

	coreService, err := core.NewCoreService(config, databaseService, dispatcher)
	if err != nil {
		slog.Error("failed to initialize core service", "error", err)
		panic(err)
	}

	server := defineServer()
	apiService := backend.NewAPIService(coreService, hub)
	apiService.SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		slog.Info("starting server", "port", config.Port, "images_directory", config.ImagesDirectory, "model_url", config.Detection.URL)
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Printf("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	// pending detections finish before the store closes
	if err := coreService.Close(); err != nil {
		log.Printf("core service close error: %v", err)
	}
	stopHub()
}

func defineServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Configure request logger to skip the probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/probe"
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRoutePath: true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				log.Printf("%s %s (route=%s) - Status: %d - Latency: %v - Error: %v - RemoteIP: %s",
					v.Method,
					v.URI,
					v.RoutePath,
					v.Status,
					v.Latency,
					v.Error,
					v.RemoteIP,
				)
			} else {
				log.Printf("%s %s (route=%s) - Status: %d - Latency: %v - RemoteIP: %s",
					v.Method,
					v.URI,
					v.RoutePath,
					v.Status,
					v.Latency,
					v.RemoteIP,
				)
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Pre(middleware.RemoveTrailingSlash())

	e.Validator = common.NewEchoValidator()

	return e
}
