package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"drawsync-server/api"
	"drawsync-server/config"
	"drawsync-server/discovery"
	"drawsync-server/events"
	"drawsync-server/hub"
	"drawsync-server/protocol"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	sink, err := newSink(cfg.Events)
	if err != nil {
		slog.Error("event sink error", "backend", cfg.Events.Backend, "error", err)
		os.Exit(1)
	}
	publisher := events.NewPublisher(sink, cfg.Events.Buffer)

	rooms := hub.New(cfg.RoomGrace)
	handler := protocol.NewHandler(rooms, cfg.Palette, publisher)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.New(rooms, handler, api.Options{
			MaxMessageSize: cfg.MaxMessageSize,
			ExportWidth:    cfg.Export.Width,
			ExportHeight:   cfg.Export.Height,
			EventStats:     publisher.Stats,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Discovery.Enabled {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil {
			slog.Error("discovery needs a numeric port", "port", cfg.Port, "error", err)
			os.Exit(1)
		}
		mdnsServer, err := discovery.Advertise(cfg.Discovery.Instance, port)
		if err != nil {
			slog.Warn("mdns advertisement disabled", "error", err)
		} else {
			slog.Info("mdns advertisement started", "service", discovery.ServiceType)
			defer mdnsServer.Shutdown()
		}
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "events", cfg.Events.Backend, "grace", cfg.RoomGrace)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	rooms.Close()
	if err := publisher.Close(ctx); err != nil {
		slog.Error("event publisher shutdown error", "error", err)
	}
}

func setupLogger(name string) {
	level := slog.LevelInfo
	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func newSink(cfg config.EventsConfig) (events.Sink, error) {
	switch cfg.Backend {
	case "", "none":
		return events.Nop{}, nil
	case "kafka":
		return events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	case "mqtt":
		return events.NewMQTTSink(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
