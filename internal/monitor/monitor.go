// Package monitor samples server health on an interval: account and map
// counts from the store plus connection pool statistics, shipped to the
// telemetry sink and the structured log.
package monitor

import (
	"context"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mapfy/mapfy/internal/logging"
	"github.com/mapfy/mapfy/internal/store"
)

// Sink receives sampled points. *influx.Manager satisfies this.
type Sink interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Stats is one sample of server state.
type Stats struct {
	Time      time.Time
	Users     int64
	Maps      int64
	Drafts    int64
	OpenConns int
	InUse     int
	Idle      int
}

// Dependencies holds everything the monitor needs.
type Dependencies struct {
	Store      *store.Manager
	Sink       Sink
	SinkBucket string
	LogManager *logging.SlogManager
	Interval   time.Duration
}

// Service runs the periodic sampler.
type Service struct {
	deps      Dependencies
	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
}

// NewService creates a monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning reports whether the sampler goroutine is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample reads the current server stats.
func (s *Service) Sample() (Stats, error) {
	stats := Stats{Time: time.Now()}

	db := s.deps.Store.DB
	if err := db.Model(&store.User{}).Count(&stats.Users).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&store.Map{}).Count(&stats.Maps).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&store.Map{}).Where("is_draft = ?", true).Count(&stats.Drafts).Error; err != nil {
		return stats, err
	}

	if s.deps.Store.SqlDB != nil {
		pool := s.deps.Store.SqlDB.Stats()
		stats.OpenConns = pool.OpenConnections
		stats.InUse = pool.InUse
		stats.Idle = pool.Idle
	}

	return stats, nil
}

func (s *Service) point(stats Stats) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("server_stats").
		AddField("users", stats.Users).
		AddField("maps", stats.Maps).
		AddField("drafts", stats.Drafts).
		AddField("db_open_conns", stats.OpenConns).
		AddField("db_in_use", stats.InUse).
		AddField("db_idle", stats.Idle).
		SetTime(stats.Time)
}

// Start launches the sampler goroutine. Calling Start on a running service
// is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting server stats monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				stats, err := s.Sample()
				if err != nil {
					logger.Error("Failed to sample server stats", "error", err)
					continue
				}

				logger.Debug("Server stats",
					"users", stats.Users,
					"maps", stats.Maps,
					"drafts", stats.Drafts,
					"dbOpenConns", stats.OpenConns)

				if s.deps.Sink != nil {
					if err := s.deps.Sink.WritePoint(context.Background(), s.deps.SinkBucket, s.point(stats)); err != nil {
						logger.Error("Failed to write stats point", "error", err)
					}
				}
			}
		}
	}()

	return nil
}

// Stop stops the sampler.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}
