package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/normalize"
)

type RESTServer struct {
	cfg       *config.Manager
	processor Processor
	logger    *slog.Logger
}

type bulkRequest struct {
	TenantID string                 `json:"tenant_id,omitempty"`
	Readings []normalize.RawReading `json:"readings"`
}

func StartREST(ctx context.Context, cfg *config.Manager, processor Processor, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{cfg: cfg, processor: processor, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /readings", server.handleReading)
	mux.HandleFunc("POST /readings/bulk", server.handleBulk)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleReading(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		writeStatus(w, http.StatusBadRequest, "error", "empty or unreadable body")
		return
	}
	var raw normalize.RawReading
	if err := json.Unmarshal(body, &raw); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", "malformed JSON")
		return
	}
	reading, err := normalize.Normalize(raw, s.cfg.Get())
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	if err := s.processor.ProcessReading(r.Context(), reading); err != nil {
		if s.logger != nil {
			s.logger.Error("reading ingest failed", "sensor_id", reading.SensorID, "err", err)
		}
		writeStatus(w, http.StatusInternalServerError, "error", "storage failure, retry later")
		return
	}
	writeStatus(w, http.StatusOK, "ok", "reading accepted")
}

// handleBulk normalizes the whole batch first; rows failing validation
// count as errors without blocking the rest. The store write itself is
// all or nothing.
func (s *RESTServer) handleBulk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil || len(body) == 0 {
		writeStatus(w, http.StatusBadRequest, "error", "empty or unreadable body")
		return
	}
	var req bulkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", "malformed JSON")
		return
	}
	cfg := s.cfg.Get()
	result := model.BulkResult{TotalProcessed: len(req.Readings)}
	readings := make([]model.SensorReading, 0, len(req.Readings))
	for _, raw := range req.Readings {
		if raw.TenantID == "" {
			raw.TenantID = req.TenantID
		}
		reading, err := normalize.Normalize(raw, cfg)
		if err != nil {
			result.ErrorCount++
			continue
		}
		readings = append(readings, reading)
	}
	batch := s.processor.ProcessBatch(r.Context(), readings)
	result.SuccessCount = batch.SuccessCount
	result.ErrorCount += batch.ErrorCount
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func writeStatus(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"message": message,
	})
}
