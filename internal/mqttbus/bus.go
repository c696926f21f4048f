package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"factory-edge/internal/observability/metrics"
	telemetry "factory-edge/internal/telemetry/domain"
)

const (
	publishQoS   = 1 // at-least-once
	connectRetry = 5 * time.Second
	maxBackoff   = 30 * time.Second
)

// Bus wraps the MQTT client used for live point publication and the
// inbound command subscription. Command payloads are forwarded raw to
// the configured callback; decoding and fault-state mutation happen in
// the command handler, not on the MQTT callback goroutine.
type Bus struct {
	client       mqtt.Client
	logger       *log.Logger
	commandTopic string
}

// Config holds the bus parameters.
type Config struct {
	BrokerURL    string
	ClientID     string
	CommandTopic string
	OnCommand    func(payload []byte)
	Logger       *log.Logger
}

// NewBus constructs the bus. The command subscription is (re)established
// on every successful connect, so it survives broker reconnects.
func NewBus(cfg Config) (*Bus, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqttbus: empty broker url")
	}
	if cfg.CommandTopic == "" {
		return nil, errors.New("mqttbus: empty command topic")
	}
	if cfg.OnCommand == nil {
		return nil, errors.New("mqttbus: nil command callback")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	bus := &Bus{logger: logger, commandTopic: cfg.CommandTopic}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(connectRetry)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Printf("mqtt connected to %s", cfg.BrokerURL)
		token := client.Subscribe(cfg.CommandTopic, publishQoS, func(_ mqtt.Client, msg mqtt.Message) {
			cfg.OnCommand(msg.Payload())
		})
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Printf("mqtt subscribe %s error: %v", cfg.CommandTopic, err)
				return
			}
			logger.Printf("mqtt subscribed to command topic %s", cfg.CommandTopic)
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("mqtt connection lost: %v", err)
	})

	bus.client = mqtt.NewClient(opts)
	return bus, nil
}

// Connect blocks until the broker accepts the connection or ctx is
// done, retrying with capped exponential backoff. The agent runs
// unattended, so a broker that is down at startup must not be fatal.
func (b *Bus) Connect(ctx context.Context) error {
	backoff := connectRetry
	for {
		token := b.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}
		b.logger.Printf("mqtt connect failed: %v, retrying in %s", err, backoff)

		select {
		case <-ctx.Done():
			return fmt.Errorf("mqttbus: connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// PublishPoint publishes a point on its derived topic at QoS 1,
// fire-and-forget. Publish errors are logged and counted, never
// propagated: live publication is independent of cloud delivery.
func (b *Bus) PublishPoint(point telemetry.Point) {
	payload, err := json.Marshal(point)
	if err != nil {
		b.logger.Printf("mqtt marshal point %s error: %v", point.ID, err)
		metrics.IncPublishError()
		return
	}
	token := b.client.Publish(point.Topic(), publishQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Printf("mqtt publish %s error: %v", point.Topic(), err)
			metrics.IncPublishError()
			return
		}
		metrics.IncPointPublished()
	}()
}

// Close disconnects from the broker, allowing in-flight messages a
// short grace period.
func (b *Bus) Close() {
	b.client.Disconnect(250)
}
