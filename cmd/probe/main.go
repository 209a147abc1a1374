package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/client"
	"github.com/afroash/realtimeapp/internal/models"
)

// probe connects to a namespace, checks the acknowledgement and ping/pong
// exchange, optionally submits one reading, and prints every received event.
func main() {
	url := flag.String("url", "ws://localhost:8081/socket", "socket URL")
	namespace := flag.String("namespace", "/test", "namespace to connect to")
	token := flag.String("token", os.Getenv("SERVER_AUTH_TOKEN"), "bearer token")
	origin := flag.String("origin", "", "Origin header to send")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	readingID := flag.String("reading-id", "", "submit a reading with this id")
	room := flag.String("room", "probe", "room of the submitted reading")
	temperature := flag.String("temperature", "20", "temperature of the submitted reading")
	humidity := flag.String("humidity", "50", "humidity of the submitted reading")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var reading *models.SensorReading
	if *readingID != "" {
		reading = models.NewSensorReading(*readingID, *room, models.Number(*temperature), models.Number(*humidity))
	}

	if err := run(ctx, client.ConnectionConfig{URL: *url, AuthToken: *token, Origin: *origin}, *namespace, reading, logger); err != nil {
		logger.Error().Err(err).Msg("Probe failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg client.ConnectionConfig, namespace string, reading *models.SensorReading, logger zerolog.Logger) error {
	conn := client.NewConnection(cfg, logger)
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Join(namespace); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}
	if err := conn.Ping(namespace); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	expected := 2
	if reading != nil {
		if err := conn.SendReading(namespace, reading); err != nil {
			return fmt.Errorf("send reading failed: %w", err)
		}
		expected++
	}

	events, err := conn.WaitFor(ctx, namespace, expected)
	if err != nil {
		return fmt.Errorf("waiting for replies: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		enc.Encode(ev)
	}

	stats := conn.BufferStats()
	logger.Debug().
		Int64("received", stats.TotalPushed).
		Int64("dropped", stats.TotalDropped).
		Int("unread", conn.Pending()).
		Msg("Receive buffer")
	if stats.TotalDropped > 0 {
		logger.Warn().Int64("dropped", stats.TotalDropped).Msg("Events were dropped from the receive buffer")
	}

	var ack models.ConnectedPayload
	if events[0].Name != models.EventConnected || events[0].UnmarshalArg(0, &ack) != nil || ack.Data != models.ConnectedData {
		return fmt.Errorf("unexpected acknowledgement %q", events[0].Name)
	}
	if events[1].Name != models.EventPong {
		return fmt.Errorf("expected pong, got %q", events[1].Name)
	}
	if reading != nil && events[2].Name != models.EventReadingSaved {
		return fmt.Errorf("reading not saved: %s", events[2].Args)
	}
	return nil
}
