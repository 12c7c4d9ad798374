package power

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDriver drives a web power switch.
//
// The REST protocol addresses outlets from zero:
//
//	PUT /restapi/relay/outlets/{n-1}/state/   body: value=true
//
// The legacy protocol addresses them from one:
//
//	GET /outlet?{n}=ON
type HTTPDriver struct {
	base     string
	user     string
	password string
	legacy   bool
	client   *http.Client
}

// NewHTTPDriver creates a driver for the switch at address.
// A bare host is treated as http://host.
func NewHTTPDriver(address, user, password string, legacy bool, timeout time.Duration) *HTTPDriver {
	base := strings.TrimRight(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDriver{
		base:     base,
		user:     user,
		password: password,
		legacy:   legacy,
		client:   &http.Client{Timeout: timeout},
	}
}

// SetOutlet switches one outlet.
func (d *HTTPDriver) SetOutlet(ctx context.Context, port int, on bool) error {
	if port < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	req, err := d.request(ctx, port, on)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRelayFault, err)
	}
	if d.user != "" {
		req.SetBasicAuth(d.user, d.password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: outlet %d: %w", ErrRelayFault, port, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: outlet %d: status %s", ErrRelayFault, port, resp.Status)
	}
	return nil
}

func (d *HTTPDriver) request(ctx context.Context, port int, on bool) (*http.Request, error) {
	if d.legacy {
		state := "OFF"
		if on {
			state = "ON"
		}
		q := url.Values{}
		q.Set(fmt.Sprint(port), state)
		return http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/outlet?"+q.Encode(), nil)
	}

	endpoint := fmt.Sprintf("%s/restapi/relay/outlets/%d/state/", d.base, port-1)
	body := url.Values{"value": {fmt.Sprint(on)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF", "x")
	return req, nil
}

// Close releases idle connections.
func (d *HTTPDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
