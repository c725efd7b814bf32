package main

import (
	"context"
	"encoding/json"
	"flag"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sanspareilsmyn/timelens/internal/window"
)

var (
	kafkaBroker = flag.String("broker", "localhost:9092", "Kafka broker address")
	topic       = flag.String("topic", "weather-rows", "Topic to write rows to")
	interval    = flag.Duration("interval", time.Second, "Delay between rows")
)

// WeatherRow is one JSON row as the kafka source expects it: a timestamp in
// seconds plus one field per column, null when the reading is missing.
type WeatherRow struct {
	Timestamp     float64  `json:"timestamp"`
	Temperature   *float64 `json:"temperature"`
	WindDirection *float64 `json:"wind_direction"`
}

// weather is a random walk whose wind direction drifts across north.
type weather struct {
	rng       *rand.Rand
	temp      float64
	direction float64
}

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	writer := &kafka.Writer{
		Addr:     kafka.TCP(*kafkaBroker),
		Topic:    *topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer func() {
		if err := writer.Close(); err != nil {
			sugar.Errorw("Error closing kafka writer", "error", err)
		}
	}()
	sugar.Infow("Starting sample producer", "topic", *topic, "broker", *kafkaBroker)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		sugar.Info("Shutdown signal received, stopping producer...")
		cancel()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	w := &weather{rng: rand.New(rand.NewSource(time.Now().UnixNano())), temp: 15, direction: 340}

	for {
		select {
		case now := <-ticker.C:
			row := w.next(now)
			rowBytes, err := json.Marshal(row)
			if err != nil {
				sugar.Warnw("Error marshalling row", "error", err)
				continue
			}

			err = writer.WriteMessages(ctx, kafka.Message{Value: rowBytes})
			if err != nil {
				if ctx.Err() != nil {
					sugar.Info("Context cancelled, exiting row loop.")
					return
				}
				sugar.Warnw("Error writing row", "error", err)
			} else {
				sugar.Debugw("Produced row", "row", string(rowBytes))
			}

		case <-ctx.Done():
			sugar.Info("Producer loop stopped.")
			return
		}
	}
}

// next advances the walk. About one temperature in ten and one direction in
// twenty is missing; a rare spike exercises trimmed averages.
func (w *weather) next(now time.Time) WeatherRow {
	row := WeatherRow{Timestamp: float64(now.UnixNano()) / 1e9}

	w.temp += w.rng.NormFloat64() * 0.3
	if w.rng.Float64() > 0.1 {
		t := w.temp
		if w.rng.Float64() < 0.02 {
			t += 20 + w.rng.Float64()*10
		}
		t = math.Round(t*100) / 100
		row.Temperature = &t
	}

	w.direction = window.NormalizeDegrees(w.direction + w.rng.NormFloat64()*8)
	if w.rng.Float64() > 0.05 {
		d := window.NormalizeDegrees(math.Round(w.direction*10) / 10)
		row.WindDirection = &d
	}
	return row
}
