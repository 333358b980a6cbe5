package snapshot

import (
	"sync"
	"time"

	"assetsense/internal/model"
)

// Store keeps the latest reading per asset and metric for cheap status
// queries, evicting the stalest asset when the cap is hit.
type Store struct {
	mu        sync.RWMutex
	byAsset   map[int64]map[model.MetricType]model.SensorReading
	updatedAt map[int64]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byAsset:   make(map[int64]map[model.MetricType]model.SensorReading),
		updatedAt: make(map[int64]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(r model.SensorReading) {
	if r.AssetID <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byAsset[r.AssetID]
	if !ok {
		m = make(map[model.MetricType]model.SensorReading)
		s.byAsset[r.AssetID] = m
	}
	if prev, ok := m[r.MetricType]; !ok || !r.Timestamp.Before(prev.Timestamp) {
		m[r.MetricType] = r
	}
	s.updatedAt[r.AssetID] = time.Now().UTC()
	if len(s.byAsset) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(assetID int64) ([]model.SensorReading, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byAsset[assetID]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]model.SensorReading, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out, s.updatedAt[assetID], true
}

func (s *Store) AssetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAsset)
}

func (s *Store) evictOldest() {
	var oldestAsset int64
	var oldest time.Time
	first := true
	for asset, ts := range s.updatedAt {
		if first || ts.Before(oldest) {
			oldestAsset = asset
			oldest = ts
			first = false
		}
	}
	if !first {
		delete(s.byAsset, oldestAsset)
		delete(s.updatedAt, oldestAsset)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAsset = make(map[int64]map[model.MetricType]model.SensorReading)
	s.updatedAt = make(map[int64]time.Time)
}
