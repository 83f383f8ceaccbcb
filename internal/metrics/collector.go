package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/arrsync/internal/models"
)

// InstanceProber reports reachability of every configured instance
type InstanceProber interface {
	AllStatus(ctx context.Context) []models.InstanceStatus
}

var bucketMetrics = []byte("metrics")

const labelSep = "|"

// ShadowCounters mirrors the counter vectors keyed by joined label values so
// they can be restored after a restart
type ShadowCounters struct {
	Deployments map[string]float64 `json:"deployments"`
	DeployItems map[string]float64 `json:"deploy_items"`
	Undeploys   map[string]float64 `json:"undeploys"`
	APIRequests map[string]float64 `json:"api_requests"`
	APIErrors   map[string]float64 `json:"api_errors"`
}

// Collector handles metrics persistence and system gauge updates
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	prober        InstanceProber
	storagePath   string
	flushInterval time.Duration
	probeInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, prober InstanceProber, storagePath string, flushInterval time.Duration) (*Collector, error) {
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
		prober:        prober,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		probeInterval: time.Minute,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			Deployments: make(map[string]float64),
			DeployItems: make(map[string]float64),
			Undeploys:   make(map[string]float64),
			APIRequests: make(map[string]float64),
			APIErrors:   make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.every(ctx, c.flushInterval, false, func() { _ = c.persistCounters() })
	c.every(ctx, 5*time.Second, true, c.collectSystemMetrics)
	if c.prober != nil {
		c.every(ctx, c.probeInterval, true, func() { c.collectInstanceMetrics(ctx) })
	}
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// every runs fn on each tick until ctx is done or the collector stops
func (c *Collector) every(ctx context.Context, interval time.Duration, immediate bool, fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if immediate {
			fn()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// loadCounters restores persisted counter values from bbolt. Undecodable
// data is ignored and counting starts from zero.
func (c *Collector) loadCounters() error {
	var saved ShadowCounters
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get([]byte("counters"))
		if data == nil {
			return nil
		}
		if json.Unmarshal(data, &saved) != nil {
			saved = ShadowCounters{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	restore(saved.Deployments, c.shadow.Deployments, 2, func(l []string, v float64) {
		c.metrics.DeploymentsTotal.WithLabelValues(l...).Add(v)
	})
	restore(saved.DeployItems, c.shadow.DeployItems, 2, func(l []string, v float64) {
		c.metrics.DeployItemsTotal.WithLabelValues(l...).Add(v)
	})
	restore(saved.Undeploys, c.shadow.Undeploys, 1, func(l []string, v float64) {
		c.metrics.UndeploysTotal.WithLabelValues(l...).Add(v)
	})
	restore(saved.APIRequests, c.shadow.APIRequests, 3, func(l []string, v float64) {
		c.metrics.APIRequestsTotal.WithLabelValues(l...).Add(v)
	})
	restore(saved.APIErrors, c.shadow.APIErrors, 1, func(l []string, v float64) {
		c.metrics.APIErrorsTotal.WithLabelValues(l...).Add(v)
	})
	return nil
}

func restore(src, dst map[string]float64, arity int, add func([]string, float64)) {
	for k, v := range src {
		dst[k] = v
		add(splitLabels(k, arity), v)
	}
}

func (c *Collector) persistCounters() error {
	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put([]byte("counters"), data)
	})
}

func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}
}

func (c *Collector) collectInstanceMetrics(ctx context.Context) {
	for _, st := range c.prober.AllStatus(ctx) {
		v := 0.0
		if st.Reachable {
			v = 1
		}
		c.metrics.InstanceReachable.WithLabelValues(st.ID).Set(v)
	}
}

func (c *Collector) bump(shadow map[string]float64, labels ...string) {
	c.mu.Lock()
	shadow[strings.Join(labels, labelSep)]++
	c.mu.Unlock()
}

// TrackDeployment counts a finished deployment and observes its duration
func (c *Collector) TrackDeployment(status, trigger string, duration time.Duration) {
	c.bump(c.shadow.Deployments, status, trigger)
	c.metrics.DeploymentsTotal.WithLabelValues(status, trigger).Inc()
	c.metrics.DeploymentDurationSeconds.WithLabelValues(trigger).Observe(duration.Seconds())
}

// TrackDeployItem counts one item outcome
func (c *Collector) TrackDeployItem(action, result string) {
	c.bump(c.shadow.DeployItems, action, result)
	c.metrics.DeployItemsTotal.WithLabelValues(action, result).Inc()
}

func (c *Collector) TrackUndeploy(result string) {
	c.bump(c.shadow.Undeploys, result)
	c.metrics.UndeploysTotal.WithLabelValues(result).Inc()
}

func (c *Collector) TrackAPIRequest(method, path, status string) {
	c.bump(c.shadow.APIRequests, method, path, status)
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func (c *Collector) TrackAPIError(errorType string) {
	c.bump(c.shadow.APIErrors, errorType)
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// splitLabels splits a shadow key into exactly arity label values
func splitLabels(key string, arity int) []string {
	parts := strings.SplitN(key, labelSep, arity)
	for len(parts) < arity {
		parts = append(parts, "")
	}
	return parts
}
