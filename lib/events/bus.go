package events

import (
	"log/slog"
	"sync"
)

// Topic convention: "account/<account id>" is the room a given account's
// operators listen on. Scrape progress, results and challenge requests for
// that account are all published there.

type Message struct {
	Topic   string
	Kind    string
	Payload any
}

const subscriberBuffer = 64

// Bus is a minimal in-process publish/subscribe fanout. Delivery is
// asynchronous and non-blocking: a subscriber that falls more than
// subscriberBuffer messages behind starts losing the oldest ones.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: map[string][]*Subscription{}}
}

type Subscription struct {
	C chan Message

	topic string
	bus   *Bus
	once  sync.Once
}

func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		C:     make(chan Message, subscriberBuffer),
		topic: topic,
		bus:   b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		list := b.subs[s.topic]
		for i, other := range list {
			if other == s {
				b.subs[s.topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(s.C)
	})
}

func (b *Bus) Publish(topic, kind string, payload any) {
	msg := Message{Topic: topic, Kind: kind, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.C <- msg:
		default:
			// drop the oldest message to make room, the subscriber is
			// too far behind to care about ordering gaps
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- msg:
			default:
				slog.Warn("dropped bus message", "topic", topic, "kind", kind)
			}
		}
	}
}
