package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

const (
	// connectTimeout bounds the initial Connect call.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds publish, subscribe and unsubscribe acks.
	ackTimeout = 5 * time.Second

	// disconnectQuiesce gives in-flight operations time to finish on
	// Close, in milliseconds as paho wants it.
	disconnectQuiesce = 1000

	// fallbackKeepAlive applies when keep_alive_seconds is unset.
	fallbackKeepAlive = 60 * time.Second

	maxQoS = 2
)

// clientOptions translates the config and daemon identity into paho
// options, including the Last Will on the daemon's health topic.
//
// The will is what consumers see when this process dies without saying
// goodbye: the broker publishes "offline" with reason
// "unexpected_disconnect", retained, and anyone trusting our retained
// state knows to stop. Its timestamp is the connect time rather than
// the failure time; brokers store wills verbatim.
func clientOptions(cfg config.MQTTConfig, identity ConnectOptions) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(identity.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	keepAlive := time.Duration(cfg.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = fallbackKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will, err := json.Marshal(protocol.NewLWTMessage(identity.Component))
	if err != nil {
		will = []byte(`{"status":"offline","reason":"unexpected_disconnect"}`)
	}
	opts.SetWill(identity.StatusTopic, string(will), 1, true)

	return opts
}
