package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// Snapshot is a point-in-time view of application state exported as gauges
type Snapshot struct {
	Subscribed      int
	Unsubscribed    int
	NewslettersSent int
	AvgOpenRate     float64
	AvgClickRate    float64
	OutboxPending   int64
	OutboxSending   int64
	OutboxDeferred  int64
	OutboxFailed    int64
}

// SnapshotFunc produces the current application snapshot
type SnapshotFunc func(ctx context.Context) (*Snapshot, error)

// persistedCounter is one labelled counter sample stored in BoltDB
type persistedCounter struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	snapshot      SnapshotFunc
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time
	logger        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counter values
func NewCollector(db *bolt.DB, m *Metrics, snapshot SnapshotFunc, storagePath string, flushInterval time.Duration, logger *slog.Logger) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 30 * time.Second
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
		snapshot:      snapshot,
		storagePath:   storagePath,
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

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()
	gauges := time.NewTicker(5 * time.Second)
	defer gauges.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-gauges.C:
			c.collect(ctx)
		case <-flush.C:
			if err := c.persistCounters(); err != nil {
				c.logger.Warn("failed to persist metrics", "error", err)
			}
		}
	}
}

// loadCounters adds persisted values back onto the registered counters
func (c *Collector) loadCounters() error {
	var saved []persistedCounter

	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(keyCounters)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &saved); err != nil {
			c.logger.Warn("discarding unreadable persisted metrics", "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, pc := range saved {
		vec, ok := c.metrics.counters[pc.Name]
		if !ok {
			continue
		}
		counter, err := vec.GetMetricWith(prometheus.Labels(pc.Labels))
		if err != nil {
			continue // label set changed between versions
		}
		counter.Add(pc.Value)
	}
	return nil
}

// persistCounters gathers every persisted counter and stores its samples
func (c *Collector) persistCounters() error {
	families, err := c.metrics.registry.Gather()
	if err != nil {
		return err
	}

	var saved []persistedCounter
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if _, ok := c.metrics.counters[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			pc := persistedCounter{Name: mf.GetName(), Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				pc.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					pc.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			saved = append(saved, pc)
		}
	}

	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(keyCounters, data)
	})
}

// collect refreshes system and snapshot gauges
func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.snapshot == nil {
		return
	}
	snap, err := c.snapshot(ctx)
	if err != nil {
		c.logger.Debug("failed to collect snapshot", "error", err)
		return
	}

	c.metrics.AudienceSubscribed.Set(float64(snap.Subscribed))
	c.metrics.AudienceUnsubscribed.Set(float64(snap.Unsubscribed))
	c.metrics.ArchiveSent.Set(float64(snap.NewslettersSent))
	c.metrics.ArchiveAvgOpenRate.Set(snap.AvgOpenRate)
	c.metrics.ArchiveAvgClickRate.Set(snap.AvgClickRate)
	c.metrics.OutboxSize.Set(float64(snap.OutboxPending + snap.OutboxDeferred))
	c.metrics.OutboxActive.Set(float64(snap.OutboxSending))
	c.metrics.OutboxFailed.Set(float64(snap.OutboxFailed))
}
