package storage

import (
	"fmt"
	"strings"
	"time"

	"netflow-console/internal/client"
	"netflow-console/internal/filters"
	"netflow-console/internal/model"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Storage caches merged metric results so that repeated queries, e.g. from
// several dashboard panels, do not hit the backend again
type Storage struct {
	cache       *cache.Cache
	ttl         time.Duration
	relativeTTL time.Duration
	logger      *logrus.Logger
	metrics     *client.ConsoleMetrics
}

// NewStorage creates a result cache. Results of relative ranges ("last N
// seconds") are kept for relativeTTL at most, their window moving with time.
func NewStorage(ttl, relativeTTL, cleanupInterval time.Duration, logger *logrus.Logger, m *client.ConsoleMetrics) *Storage {
	if relativeTTL <= 0 || relativeTTL > ttl {
		relativeTTL = ttl
	}
	return &Storage{
		cache:       cache.New(ttl, cleanupInterval),
		ttl:         ttl,
		relativeTTL: relativeTTL,
		logger:      logger,
		metrics:     m,
	}
}

// Key identifies a metrics query by its backend filter strings, range and limit
func Key(plan filters.Plan, rng model.TimeRange, limit int) string {
	return fmt.Sprintf("%s|%s|%d", strings.Join(plan.Queries(), ";"), rng.String(), limit)
}

func (s *Storage) GetTopology(key string) (model.TopologyResult, bool) {
	v, ok := s.cache.Get(key)
	if ok {
		if result, isResult := v.(model.TopologyResult); isResult {
			s.record(true)
			s.logger.Debugf("Cache hit for %s", key)
			return result, true
		}
		s.logger.Warnf("Unexpected cached value type %T for %s", v, key)
	}
	s.record(false)
	return model.TopologyResult{}, false
}

func (s *Storage) SetTopology(key string, rng model.TimeRange, result model.TopologyResult) {
	ttl := s.ttl
	if rng.IsRelative() {
		ttl = s.relativeTTL
	}
	s.cache.Set(key, result, ttl)
}

func (s *Storage) ItemCount() int {
	return s.cache.ItemCount()
}

func (s *Storage) Flush() {
	s.cache.Flush()
}

func (s *Storage) record(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCache(hit)
	}
}
