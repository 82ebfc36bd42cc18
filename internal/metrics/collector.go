package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	countersKey   = []byte("counters")
)

// BatchStatsProvider reports the number of stored batches per status
type BatchStatsProvider interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// ShadowCounters stores counter values across restarts
type ShadowCounters struct {
	BatchesDispatched map[string]float64 `json:"batches_dispatched"`
	ContactsSent      float64            `json:"contacts_sent"`
	OpaqueDeliveries  float64            `json:"opaque_deliveries"`
	RateLimitDenied   float64            `json:"ratelimit_denied"`
	ClaimsSkipped     float64            `json:"claims_skipped"`
	WorkerPasses      float64            `json:"worker_passes"`
}

// Collector persists dispatch counters and refreshes the store gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	stats         BatchStatsProvider
	flushInterval time.Duration
	startTime     time.Time
	logger        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counters into m
func NewCollector(db *bolt.DB, m *Metrics, stats BatchStatsProvider, flushInterval time.Duration, logger *slog.Logger) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		stats:         stats,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		logger:        logger,
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the loop and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	c.refreshGauges(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refreshGauges(ctx)
			if err := c.persistCounters(); err != nil {
				c.logger.Error("failed to persist metrics", "error", err)
			}
		}
	}
}

func (c *Collector) refreshGauges(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.stats == nil {
		return
	}
	counts, err := c.stats.CountByStatus(ctx)
	if err != nil {
		c.logger.Warn("failed to count batches", "error", err)
		return
	}
	c.metrics.BatchesByStatus.Reset()
	for status, n := range counts {
		c.metrics.BatchesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// Snapshot reads the current counter values
func (c *Collector) Snapshot() ShadowCounters {
	m := c.metrics
	s := ShadowCounters{
		BatchesDispatched: make(map[string]float64),
		ContactsSent:      counterValue(m.ContactsSentTotal),
		OpaqueDeliveries:  counterValue(m.OpaqueDeliveriesTotal),
		RateLimitDenied:   counterValue(m.RateLimitDeniedTotal),
		ClaimsSkipped:     counterValue(m.ClaimsSkippedTotal),
		WorkerPasses:      counterValue(m.WorkerPassesTotal),
	}

	ch := make(chan prometheus.Metric, 16)
	go func() {
		m.BatchesDispatchedTotal.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, label := range pb.GetLabel() {
			if label.GetName() == "status" {
				s.BatchesDispatched[label.GetValue()] = pb.GetCounter().GetValue()
			}
		}
	}

	return s
}

func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(countersKey)
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		m := c.metrics
		for status, v := range shadow.BatchesDispatched {
			m.BatchesDispatchedTotal.WithLabelValues(status).Add(v)
		}
		m.ContactsSentTotal.Add(shadow.ContactsSent)
		m.OpaqueDeliveriesTotal.Add(shadow.OpaqueDeliveries)
		m.RateLimitDeniedTotal.Add(shadow.RateLimitDenied)
		m.ClaimsSkippedTotal.Add(shadow.ClaimsSkipped)
		m.WorkerPassesTotal.Add(shadow.WorkerPasses)
		return nil
	})
}

func (c *Collector) persistCounters() error {
	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(countersKey, data)
	})
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
