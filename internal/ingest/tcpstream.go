package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/normalize"
)

// StartTCPStream accepts newline-delimited JSON readings from device
// gateways over a plain TCP socket.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.SensorReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	listener, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen failed", "addr", current.Addr, "err", err)
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("tcp accept error", "err", err)
				}
				if !BackoffSleep(ctx, 200*time.Millisecond) {
					return
				}
				continue
			}
			go handleStream(ctx, conn, cfg, out, logger)
		}
	}()
}

func handleStream(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.SensorReading, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw normalize.RawReading
		if err := json.Unmarshal(line, &raw); err != nil {
			if logger != nil {
				logger.Warn("tcp line not a reading", "err", err)
			}
			continue
		}
		reading, err := normalize.Normalize(raw, cfg.Get())
		if err != nil {
			if logger != nil {
				logger.Warn("tcp normalize error", "err", err)
			}
			continue
		}
		if reading.Metadata == nil {
			reading.Metadata = map[string]string{}
		}
		reading.Metadata["source"] = "tcp"
		SendNonBlocking(ctx, out, reading, logger)
	}
}
