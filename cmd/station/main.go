package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/checkin/config"
	"github.com/Domenick1991/checkin/internal/bootstrap"
	"github.com/Domenick1991/checkin/internal/cache"
	"github.com/Domenick1991/checkin/internal/camera"
	"github.com/Domenick1991/checkin/internal/camera/httpcam"
	"github.com/Domenick1991/checkin/internal/domain"
	"github.com/Domenick1991/checkin/internal/monitoring"
	"github.com/Domenick1991/checkin/internal/qrdecode"
	"github.com/Domenick1991/checkin/internal/remote"
	"github.com/Domenick1991/checkin/internal/service/events"
	"github.com/Domenick1991/checkin/internal/service/scanner"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Printf("station: %v", err)
		os.Exit(1)
	}
	log.Println("station stopped")
}

// run owns every resource so that its defers finish before main exits.
func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := monitoring.NewMonitor()
	client := remote.NewClient(cfg.API)

	var eventCache events.EventCache
	var cachePinger bootstrap.Pinger
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, cfg.Events.CacheTTL())
		defer redisCache.Close()
		eventCache = redisCache
		cachePinger = redisCache
	}
	eventService := events.NewEventService(client, eventCache)

	scanService := scanner.NewService(
		client,
		cfg.Scanner.EventID,
		scanner.WithResetDelay(cfg.Scanner.ResetDelay()),
		scanner.WithRequestTimeout(cfg.Scanner.RequestTimeout()),
		scanner.WithRecorder(monitor),
	)
	defer scanService.Close()

	capture := camera.NewCapture(
		httpcam.NewProvider(cfg.Camera),
		qrdecode.NewDecoder(),
		scanService,
		domain.FacingMode(cfg.Camera.Facing),
		camera.WithRecorder(monitor),
	)
	defer capture.Stop()

	checkEvent(ctx, eventService, cfg.Scanner.EventID)

	if cfg.Camera.AutoStart {
		if err := capture.Start(ctx, capture.Facing()); err != nil {
			// The operator can retry from the UI.
			log.Printf("start camera: %v", err)
		}
	}

	log.Printf("station for event %d listening on %s", cfg.Scanner.EventID, cfg.HTTP.Address)
	if err := bootstrap.Run(ctx, cfg, bootstrap.Deps{
		Scanner: scanService,
		Camera:  capture,
		Events:  eventService,
		Cache:   cachePinger,
	}); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// checkEvent only warns: the ticketing API may be briefly unreachable at boot.
func checkEvent(ctx context.Context, svc events.EventUseCase, id int64) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	event, err := svc.GetByID(ctx, id)
	switch {
	case errors.Is(err, remote.ErrEventNotFound):
		log.Printf("warning: event %d does not exist, every check-in will fail", id)
	case err != nil:
		log.Printf("warning: could not verify event %d: %v", id, err)
	default:
		log.Printf("scanning for %q at %s", event.Title, event.Venue)
	}
}
