// Package memory records published events for tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic     string
	EventType string
	Payload   any
}

// Publisher keeps events in memory with the same topic and event type rules as the
// Pub/Sub publisher.
type Publisher struct {
	defaultTopic string

	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// New returns a memory Publisher. An empty topic in Publish falls back to defaultTopic.
func New(defaultTopic ...string) *Publisher {
	p := &Publisher{}
	if len(defaultTopic) > 0 {
		p.defaultTopic = defaultTopic[0]
	}
	return p
}

// FailWith makes every later Publish return err. A nil err restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the event and returns a sequential id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", errors.New("memory publisher: topic is not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	msg := PublishedMessage{Topic: topic, Payload: payload}
	if typed, ok := payload.(interface{ EventType() string }); ok {
		msg.EventType = typed.EventType()
	}
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of every recorded event.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded events of one type in publish order.
func (p *Publisher) Events(eventType string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}
