// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// Publisher publishes JSON payloads through a Pub/Sub client. Topic handles
// are created lazily and reused; a fixed default topic serves callers that
// pass an empty topic name.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher for the provided client.
func New(client *pubsub.Client, defaultTopic string) *Publisher {
	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		topics:       make(map[string]*pubsub.Topic),
	}
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"content-type": "application/json"}}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages on every topic handle.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
