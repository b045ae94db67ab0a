/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otabroker is the MQTT transport shared by the cloud service and
// the robot daemon. It owns topic templating, durable connect/reconnect,
// and a handler-map based subscribe/publish surface, generalizing the
// in-process pub/sub shape used elsewhere in this codebase's lineage from
// ZeroMQ topics to MQTT topics.
package otabroker

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"fleetota/otaerr"

	"github.com/buildkite/roko"
)

const (
	robotIDToken   = "<robot_id>"
	operationToken = "<operation>"

	// DefaultPattern is used when a config omits an explicit pattern.
	DefaultPattern = "ota/<robot_id>/<operation>"

	opDeploy = "deploy"
	opState  = "state"
	opAck    = "ack"

	// connectBackoff is the fixed delay between connection attempts;
	// there is no attempt cap, matching the original service's
	// assumption that the broker eventually comes back.
	connectBackoff = 500 * time.Millisecond

	// QoS 1: at-least-once. The protocol above this package tolerates
	// redelivery and the loss of any single message.
	qos = 1
)

// Config names the MQTT broker to connect to and the topic pattern to
// expand.
type Config struct {
	Broker   string // e.g. "tcp://host:1883" or "ws://host:1883/mqtt"
	ClientID string
	Pattern  string // defaults to DefaultPattern if empty
}

type handlerFunc func(topic string, payload []byte)

// Broker wraps a paho MQTT client with topic templating and a
// topic->handler dispatch table.
type Broker struct {
	client  mqtt.Client
	pattern string
	log     *zap.Logger

	mu       chan struct{} // 1-buffered mutex guarding handlers during Subscribe
	handlers map[string]handlerFunc
}

func validatePattern(pattern string) error {
	if !strings.Contains(pattern, robotIDToken) {
		return otaerr.Newf(otaerr.Validation, "topic pattern %q missing %s", pattern, robotIDToken)
	}
	if !strings.Contains(pattern, operationToken) {
		return otaerr.Newf(otaerr.Validation, "topic pattern %q missing %s", pattern, operationToken)
	}
	return nil
}

// Topic expands the configured pattern for the given robot and
// operation, e.g. Topic("r1", "deploy") -> "ota/r1/deploy".
func (b *Broker) Topic(robotID, operation string) string {
	t := strings.ReplaceAll(b.pattern, robotIDToken, robotID)
	t = strings.ReplaceAll(t, operationToken, operation)
	return t
}

// StateTopicFilter returns the wildcard subscription the cloud side uses
// to hear state reports from every robot.
func (b *Broker) StateTopicFilter() string {
	return b.Topic("+", opState)
}

// RobotIDFromStateTopic extracts the robot ID substituted into a topic
// received on the StateTopicFilter subscription. It returns ok=false for
// a topic that does not match the configured pattern.
func (b *Broker) RobotIDFromStateTopic(topic string) (string, bool) {
	tmpl := strings.ReplaceAll(b.pattern, operationToken, opState)
	idx := strings.Index(tmpl, robotIDToken)
	if idx < 0 {
		return "", false
	}
	prefix, suffix := tmpl[:idx], tmpl[idx+len(robotIDToken):]
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	robotID := topic[len(prefix) : len(topic)-len(suffix)]
	if robotID == "" || strings.Contains(robotID, "/") {
		return "", false
	}
	return robotID, true
}

// DeployTopic, AckTopic, StateTopic expand the pattern for a single
// robot and a fixed operation.
func (b *Broker) DeployTopic(robotID string) string { return b.Topic(robotID, opDeploy) }
func (b *Broker) AckTopic(robotID string) string    { return b.Topic(robotID, opAck) }
func (b *Broker) StateTopic(robotID string) string  { return b.Topic(robotID, opState) }

// NewBroker validates cfg and connects, retrying forever on failure. The
// returned Broker's client keeps reconnecting (and resubscribing, via
// OnConnect) for its entire lifetime; callers only need to call Close
// once, at shutdown.
func NewBroker(ctx context.Context, cfg Config, log *zap.Logger) (*Broker, error) {
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	b := &Broker{
		pattern:  pattern,
		log:      log,
		mu:       make(chan struct{}, 1),
		handlers: make(map[string]handlerFunc),
	}
	b.mu <- struct{}{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectBackoff).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("broker connected", zap.String("broker", cfg.Broker))
			b.resubscribeAll()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("broker connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	b.client = client

	err := roko.NewRetrier(roko.TryForever(), roko.WithStrategy(roko.Constant(connectBackoff))).DoWithContext(ctx,
		func(r *roko.Retrier) error {
			token := client.Connect()
			if !token.WaitTimeout(10 * time.Second) {
				log.Warn("broker connect timed out, retrying")
				return fmt.Errorf("connect timeout")
			}
			if err := token.Error(); err != nil {
				log.Warn("broker connect failed, retrying", zap.Error(err))
				return err
			}
			return nil
		})
	if err != nil {
		return nil, otaerr.Wrap(otaerr.StorageError, err, "connecting to broker")
	}
	return b, nil
}

// Publish sends payload on the expanded topic at QoS 1 and waits for the
// publish token to settle.
func (b *Broker) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "publishing to %s", topic)
	}
	return nil
}

// Subscribe registers handler for topic (which may contain MQTT
// wildcards) and subscribes immediately. The handler is re-subscribed
// automatically on reconnect.
func (b *Broker) Subscribe(topic string, handler handlerFunc) error {
	<-b.mu
	b.handlers[topic] = handler
	b.mu <- struct{}{}
	return b.subscribeOne(topic, handler)
}

func (b *Broker) subscribeOne(topic string, handler handlerFunc) error {
	token := b.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return otaerr.Wrapf(otaerr.StorageError, err, "subscribing to %s", topic)
	}
	return nil
}

func (b *Broker) resubscribeAll() {
	<-b.mu
	handlers := make(map[string]handlerFunc, len(b.handlers))
	for t, h := range b.handlers {
		handlers[t] = h
	}
	b.mu <- struct{}{}

	for topic, handler := range handlers {
		if err := b.subscribeOne(topic, handler); err != nil {
			b.log.Warn("resubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Close disconnects cleanly, waiting up to 250ms for in-flight work.
func (b *Broker) Close() {
	b.client.Disconnect(250)
}
