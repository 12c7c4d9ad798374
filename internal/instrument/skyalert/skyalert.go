// Package skyalert reads the cloud sensor's web interface.
package skyalert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/nightscan/internal/instrument"
)

const (
	// DefaultPort is the sensor's web port.
	DefaultPort = 81

	conditionsPath  = "/json"
	maxResponseSize = 64 << 10
)

// Client reads conditions from one sensor.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the sensor at address, e.g. "192.168.1.30".
func New(address string, port int, timeout time.Duration) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	base := address
	if !strings.Contains(base, "://") {
		base = fmt.Sprintf("http://%s:%d", address, port)
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Conditions fetches the current readings. Numeric, boolean and numeric
// string fields are kept; anything else is dropped.
func (c *Client) Conditions(ctx context.Context) (instrument.SkyConditions, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+conditionsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sky sensor: %w", instrument.ErrHardwareCommand, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sky sensor: %w", instrument.ErrHardwareCommand, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sky sensor: HTTP %d", instrument.ErrHardwareCommand, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: sky sensor: parsing reply: %w", instrument.ErrHardwareCommand, err)
	}
	return parseConditions(raw), nil
}

func parseConditions(raw map[string]any) instrument.SkyConditions {
	out := make(instrument.SkyConditions, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			out[k] = val
		case bool:
			if val {
				out[k] = 1
			} else {
				out[k] = 0
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				out[k] = f
			}
		}
	}
	return out
}
