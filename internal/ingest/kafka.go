package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/normalize"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.SensorReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			var raw normalize.RawReading
			if err := json.Unmarshal(m.Value, &raw); err != nil {
				if logger != nil {
					logger.Warn("kafka payload not a reading", "err", err)
				}
				continue
			}
			reading, err := normalize.Normalize(raw, cfg.Get())
			if err != nil {
				if logger != nil {
					logger.Warn("kafka normalize error", "err", err)
				}
				continue
			}
			if reading.Metadata == nil {
				reading.Metadata = map[string]string{}
			}
			reading.Metadata["source"] = "kafka"
			SendNonBlocking(ctx, out, reading, logger)
		}
	}()
}
