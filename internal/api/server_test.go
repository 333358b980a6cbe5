package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assetsense/internal/alerting"
	"assetsense/internal/config"
	"assetsense/internal/feature"
	"assetsense/internal/model"
	"assetsense/internal/predict"
	"assetsense/internal/snapshot"
	"assetsense/internal/storage"
)

type emptyStore struct{}

var _ storage.Store = emptyStore{}

func (emptyStore) Init(ctx context.Context) error { return nil }
func (emptyStore) Close() error                   { return nil }
func (emptyStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	return nil
}
func (emptyStore) InsertReadings(ctx context.Context, rs []model.SensorReading) (int, error) {
	return len(rs), nil
}
func (emptyStore) RecentReadings(ctx context.Context, assetID int64, hoursBack int, minQuality float64, limit int) ([]model.SensorReading, error) {
	return nil, nil
}
func (emptyStore) AssetHistory(ctx context.Context, assetID int64, since time.Time, minQuality float64) ([]model.SensorReading, error) {
	return nil, nil
}
func (emptyStore) ActiveAssetIDs(ctx context.Context, since time.Time) ([]int64, error) {
	return nil, nil
}
func (emptyStore) Aggregates(ctx context.Context, assetID int64, metric model.MetricType, interval model.Interval, daysBack int) ([]model.SensorAggregate, error) {
	return nil, nil
}
func (emptyStore) RefreshRollups(ctx context.Context, since time.Time) error { return nil }
func (emptyStore) ApplyRetention(ctx context.Context, cfg config.RetentionConfig) error {
	return nil
}
func (emptyStore) SaveAlert(ctx context.Context, alert model.AlertEvent) error { return nil }
func (emptyStore) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	return nil
}
func (emptyStore) HasOpenPreventiveOrder(ctx context.Context, assetID int64, since time.Time) (bool, error) {
	return false, nil
}
func (emptyStore) CompletedWorkOrders(ctx context.Context, since time.Time) ([]model.WorkOrder, error) {
	return nil, nil
}

func newServerForTest() *Server {
	cfg := config.NewStaticManager(nil)
	store := emptyStore{}
	extractor := feature.NewExtractor()
	trainer := predict.NewTrainer(store, extractor, cfg, nil, nil)
	predictor := predict.NewPredictor(store, extractor, trainer, nil, cfg, nil, nil)
	return &Server{
		cfg:       cfg,
		store:     store,
		alerts:    alerting.NewStore(10),
		snapshots: snapshot.NewStore(10),
		predictor: predictor,
		generator: predict.NewGenerator(store, predictor, cfg, nil, nil),
		trainer:   trainer,
		version:   "test",
		started:   time.Now().UTC(),
	}
}

func TestHandleStatus(t *testing.T) {
	srv := newServerForTest()
	w := httptest.NewRecorder()
	srv.handleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
}

func TestHandlePredictOneNoData(t *testing.T) {
	srv := newServerForTest()
	req := httptest.NewRequest(http.MethodPost, "/predictions/5", nil)
	req.SetPathValue("id", "5")
	w := httptest.NewRecorder()
	srv.handlePredictOne(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandlePredictOneBadID(t *testing.T) {
	srv := newServerForTest()
	req := httptest.NewRequest(http.MethodPost, "/predictions/zero", nil)
	req.SetPathValue("id", "zero")
	w := httptest.NewRecorder()
	srv.handlePredictOne(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleRetrainAccepted(t *testing.T) {
	srv := newServerForTest()
	w := httptest.NewRecorder()
	srv.handleRetrain(w, httptest.NewRequest(http.MethodPost, "/model/retrain", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"initiated"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestHandleModelWithoutBundle(t *testing.T) {
	srv := newServerForTest()
	w := httptest.NewRecorder()
	srv.handleModel(w, httptest.NewRequest(http.MethodGet, "/model", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active"] != "threshold_heuristic" {
		t.Fatalf("active = %v", body["active"])
	}
}

func TestHandleAggregatesUnknownMetric(t *testing.T) {
	srv := newServerForTest()
	req := httptest.NewRequest(http.MethodGet, "/assets/1/aggregates?metric=mood", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	srv.handleAggregates(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleLatestNotFound(t *testing.T) {
	srv := newServerForTest()
	req := httptest.NewRequest(http.MethodGet, "/assets/3/latest", nil)
	req.SetPathValue("id", "3")
	w := httptest.NewRecorder()
	srv.handleLatest(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
