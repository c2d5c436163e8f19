// Package memory provides an in-process Publisher for single-binary
// deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is a published payload captured per topic.
type Message struct {
	ID      string
	Payload []byte
}

// Publisher records published events in memory. Messages can be read
// back per topic, which tests use to assert on completion events.
type Publisher struct {
	mu       sync.Mutex
	next     int
	messages map[string][]Message
}

// New builds an empty Publisher.
func New() *Publisher {
	return &Publisher{messages: make(map[string][]Message)}
}

// Publish marshals the payload and appends it to the topic's log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for topic %q: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := fmt.Sprintf("mem-%d", p.next)
	p.messages[topic] = append(p.messages[topic], Message{ID: id, Payload: data})
	return id, nil
}

// Messages returns a copy of everything published to the topic.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages[topic]))
	copy(out, p.messages[topic])
	return out
}
