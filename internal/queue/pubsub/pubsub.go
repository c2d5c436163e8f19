// Package pubsub implements the job feed and event publisher on
// Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// Queue carries job references over a Pub/Sub topic. Enqueue
// publishes; the worker side consumes through Receive rather than the
// pull-style Dequeue, which Pub/Sub does not expose.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
}

// NewQueue connects to the topic and subscription. Authentication
// uses Application Default Credentials. The subscription ID may be
// empty for publish-only use.
func NewQueue(ctx context.Context, projectID, topicID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	q := &Queue{client: client, topic: topic, logger: logger}
	if subscriptionID != "" {
		q.sub = client.Subscription(subscriptionID)
	}
	return q, nil
}

// Enqueue publishes the queue item as JSON and waits for the server
// acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}

	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"priority": string(item.Priority)},
	})
	if _, err := result.Get(ctx); err != nil {
		return crawler.NewError(crawler.KindInfra, 0, "publish queue item", err)
	}
	return nil
}

// Dequeue is not supported; Pub/Sub delivery is push-style. Use
// Receive instead.
func (q *Queue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, fmt.Errorf("pubsub queue has no pull dequeue; use Receive")
}

// Receive consumes queue items until the context ends. A handler
// error nacks the message for redelivery; item processing is
// idempotent, so at-least-once delivery is safe.
func (q *Queue) Receive(ctx context.Context, handler func(ctx context.Context, item crawler.QueueItem) error) error {
	if q.sub == nil {
		return fmt.Errorf("pubsub queue has no subscription configured")
	}
	return q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var item crawler.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.Error("drop malformed queue message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			msg.Ack()
			return
		}
		if err := handler(ctx, item); err != nil {
			q.logger.Warn("queue handler failed, nacking",
				zap.String("job_id", item.JobID),
				zap.Error(err),
			)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Client exposes the underlying Pub/Sub client so a Publisher can
// share the connection.
func (q *Queue) Client() *pubsub.Client {
	return q.client
}

// Close flushes pending publishes and closes the client.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// Publisher publishes arbitrary payloads, used for job completion
// events.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher wraps an existing client.
func NewPublisher(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals the payload to JSON, publishes it to the topic and
// returns the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	t, ok := p.topics[topic]
	if !ok {
		t = p.client.Topic(topic)
		p.topics[topic] = t
	}
	p.mu.Unlock()
	id, err := t.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
