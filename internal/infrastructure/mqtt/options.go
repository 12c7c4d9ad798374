package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

const (
	connectTimeout          = 10 * time.Second
	publishTimeout          = 5 * time.Second
	keepAlive               = 60 * time.Second
	disconnectQuiesceMillis = 1000

	maxQoS = 2
)

// Presence values published on Topics.SystemStatus.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown = "graceful_shutdown"
	reasonLost     = "unexpected_disconnect"
)

// buildClientOptions maps the broker config onto paho options. Sessions
// are clean; Client restores its own subscriptions.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// presenceMessage is the retained controller presence.
type presenceMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presence(clientID, status, reason string, at time.Time) []byte {
	data, _ := json.Marshal(presenceMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return data
}
