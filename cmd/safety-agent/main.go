package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-safety-agent/internal/alerts"
	"github.com/mr1hm/go-safety-agent/internal/api"
	"github.com/mr1hm/go-safety-agent/internal/broadcast"
	"github.com/mr1hm/go-safety-agent/internal/config"
	"github.com/mr1hm/go-safety-agent/internal/heatmap"
	"github.com/mr1hm/go-safety-agent/internal/location"
	"github.com/mr1hm/go-safety-agent/internal/logging"
	"github.com/mr1hm/go-safety-agent/internal/proximity"
	"github.com/mr1hm/go-safety-agent/internal/repository"
	"github.com/mr1hm/go-safety-agent/internal/stream"
	"github.com/mr1hm/go-safety-agent/internal/tracking"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, "safety-agent")

	slog.Info("agent starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"env", cfg.Env,
		"platform", cfg.Location.Platform,
		"bus", cfg.Bus.Driver)

	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatalf("Failed to create database directory: %v", err)
		}
	}
	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	bus, closeBus, err := broadcast.Open(cfg.Bus, cfg.Proximity.UserID)
	if err != nil {
		logging.Fatalf("Failed to open broadcast channel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device position
	permissions := location.NewPermissionState()
	native := location.NewDeviceSource(location.PlatformNative, cfg.Location.HighAccuracyMeters, permissions)
	web := location.NewDeviceSource(location.PlatformWeb, cfg.Location.HighAccuracyMeters, permissions)
	cache := location.NewCache()
	acquirer := location.NewAcquirer(cfg, location.Strategies(cfg.Location, native, web), cache, permissions)

	// Proximity escalation
	dedup := proximity.NewDeduplicator()
	rescue := proximity.NewRescueState()
	hub := stream.NewHub()
	rescuer := proximity.NewMatcher(proximity.KindRescuer, cfg.Proximity.RescuerRadiusMeters,
		cfg.Proximity.UserID, acquirer, dedup, rescue, hub)
	neighbor := proximity.NewMatcher(proximity.KindNeighbor, cfg.Proximity.NeighborRadiusMeters,
		cfg.Proximity.UserID, acquirer, dedup, rescue, hub)

	mgr := alerts.NewManager(cfg, bus, rescuer, neighbor)
	if err := mgr.Start(ctx); err != nil {
		logging.Fatalf("Failed to start alerts manager: %v", err)
	}

	var relays sync.WaitGroup
	relays.Add(1)
	go func() {
		defer relays.Done()
		if err := hub.Relay(ctx, bus, cfg.Bus.TrackingTopic); err != nil {
			slog.Error("tracking relay failed", "error", err)
		}
	}()

	publisher := tracking.NewPublisher(cfg.Proximity.UserID, cfg.Bus.TrackingTopic,
		cfg.Tracking.PublishInterval, cache, db, bus)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(10, 20, "/api/location/:platform", "/ws"))

	handler := api.NewHandler(api.Deps{
		Location: acquirer,
		Sources: map[string]api.FixReporter{
			location.PlatformNative: native,
			location.PlatformWeb:    web,
		},
		Permissions: permissions,
		Publisher:   publisher,
		Rescue:      rescue,
		Store:       db,
		Heatmap:     heatmap.NewEngine(cfg.Heatmap),
		Bus:         bus,
		AlertTopic:  cfg.Bus.AlertTopic,
		Stream:      hub,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	publisher.Stop()
	acquirer.StopTracking()
	relays.Wait()
	hub.Close() // Close all UI streams gracefully

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	closeBus()
	dedup.Stop()

	slog.Info("shutdown complete")
}
