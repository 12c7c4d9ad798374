package filterwheel

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

// maxResponseSize caps how much of a controller reply is read.
const maxResponseSize = 64 << 10

// Network talks to the filter wheel's HTTP controller.
type Network struct {
	baseURL string
	client  *http.Client
}

type networkReply struct {
	Status   string `json:"status"`
	Position int    `json:"position"`
	Error    string `json:"error,omitempty"`
}

// NewNetwork creates a client for the controller at address. A bare IP is
// combined with port.
func NewNetwork(address string, port int, timeout time.Duration) *Network {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
		if port > 0 && !strings.Contains(address, ":") {
			base += ":" + strconv.Itoa(port)
		}
	}
	return &Network{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *Network) Home(ctx context.Context) error {
	return n.get(ctx, "/home")
}

func (n *Network) Go(ctx context.Context, position int) error {
	return n.get(ctx, "/go?position="+strconv.Itoa(position))
}

func (n *Network) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

func (n *Network) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: filterwheel %s: %w", instrument.ErrHardwareCommand, path, err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: filterwheel %s: %w", instrument.ErrHardwareCommand, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: filterwheel %s: reading reply: %w", instrument.ErrHardwareCommand, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: filterwheel %s: HTTP %d", instrument.ErrHardwareCommand, path, resp.StatusCode)
	}

	var reply networkReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("%w: filterwheel %s: parsing reply: %w", instrument.ErrHardwareCommand, path, err)
	}
	if !strings.EqualFold(reply.Status, "ok") {
		return fmt.Errorf("%w: filterwheel %s: %s", instrument.ErrHardwareCommand, path, reply.Error)
	}
	return nil
}
