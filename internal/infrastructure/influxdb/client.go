package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client records instrument telemetry in InfluxDB v2.
//
// Points are queued on the non-blocking write API and flushed in batches,
// so a slow or unreachable server never stalls an exposure. A nil *Client
// drops every write; callers can hold one whether or not telemetry is
// enabled.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	site     string

	connected atomic.Bool

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and opens a batched writer for the configured
// bucket. Every point carries the site as a tag.
//
// Returns:
//   - *Client: Ready to write
//   - error: ErrDisabled when telemetry is off, ErrConnectionFailed when the
//     server does not answer healthy within the ping timeout
func Connect(ctx context.Context, cfg config.InfluxDBConfig, site string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if healthy, err := client.Ping(pingCtx); err != nil || !healthy {
		client.Close()
		if err == nil {
			err = fmt.Errorf("server not healthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		site:     site,
	}
	c.connected.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// Close flushes queued points and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.connected.Swap(false) {
		c.writeAPI.Flush()
	}
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb health check: %w", err)
	case !healthy:
		return fmt.Errorf("influxdb health check: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// SetOnError registers fn for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Flush sends queued points now. No-op once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

func (c *Client) writePoint(p *write.Point) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(p)
	}
}
