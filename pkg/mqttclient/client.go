// Package mqttclient builds paho MQTT clients configured for signaling traffic.
// Clients log through the zerolog logger carried by the context they are created with.
package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const clientKey = contextKey("mqtt_client")

// Client options.
const (
	writeTimeout   = 1 * time.Second
	pingTimeout    = 10 * time.Second
	connectTimeout = 5 * time.Second
)

// ErrConnectTimeout is returned by CheckConnectivity when the broker does not answer in time.
var ErrConnectTimeout = errors.New("timed out connecting to MQTT broker")

// ConfigOptions is config options for an MQTT client.
type ConfigOptions struct {
	Server   string
	ClientID string
	Username string
	Password string
}

// NewClient returns an unconnected client. The client id gets a random suffix so
// several peers may share one configuration file.
func NewClient(ctx context.Context, config ConfigOptions) mqtt.Client {
	logger := log.Ctx(ctx).With().Str("component", "mqtt-client").Logger()
	if env := os.Getenv("DEBUG_MQTT_CLIENT"); strings.ToLower(env) == "true" {
		setInternalLoggers(logger)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Server)
	opts.SetClientID(config.ClientID + "-" + uuid.NewString())

	// Blocking handlers deadlock the client when order matters.
	opts.SetOrderMatters(false)
	opts.SetCleanSession(true)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.Debug().Str("topic", msg.Topic()).Int("size", len(msg.Payload())).Msg("received a message without route")
	})
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("server", config.Server).Msg("client connected to broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("connection lost")
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info().Msg("attempting to reconnect")
	}

	opts.WriteTimeout = writeTimeout
	opts.PingTimeout = pingTimeout
	opts.ConnectTimeout = connectTimeout

	// Keep trying to connect and reconnect if the network drops.
	opts.ConnectRetry = true
	opts.AutoReconnect = true

	return mqtt.NewClient(opts)
}

// CheckConnectivity connects client and waits for the broker at most timeout.
func CheckConnectivity(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("could not connect to MQTT broker: %w", err)
	}
	return nil
}

// Watch logs the outcome of token once it completes without blocking the caller.
func Watch(logger *zerolog.Logger, token mqtt.Token, action, topic string) {
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			logger.Err(err).Str("topic", topic).Msgf("could not %s", action)
			return
		}
		logger.Debug().Str("topic", topic).Msgf("%s done", action)
	}()
}

// WithContext returns a copy of ctx carrying client.
func WithContext(ctx context.Context, client mqtt.Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// FromContext returns the MQTT client stored in context. If no such client exists, it returns nil.
func FromContext(ctx context.Context) mqtt.Client {
	if client, ok := ctx.Value(clientKey).(mqtt.Client); ok {
		return client
	}
	return nil
}

// pahoLogger routes paho's internal loggers to zerolog.
type pahoLogger struct {
	event func() *zerolog.Event
}

func (l pahoLogger) Println(v ...interface{}) {
	l.event().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.event().Msgf(format, v...)
}

func setInternalLoggers(logger zerolog.Logger) {
	internal := logger.With().Str("source", "paho").Logger()
	mqtt.ERROR = pahoLogger{internal.Error}
	mqtt.CRITICAL = pahoLogger{internal.Error}
	mqtt.WARN = pahoLogger{internal.Warn}
	mqtt.DEBUG = pahoLogger{internal.Debug}
}
