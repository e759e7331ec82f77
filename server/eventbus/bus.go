package eventbus

import (
	"sync"

	"github.com/cyclopcam/logs"
)

// Bus is a publish/subscribe transport.
// Delivery is best-effort to subscribers connected at publish time. There is
// no durable backlog: events published while nobody is subscribed are lost.
type Bus interface {
	Publish(topic string, payload []byte) error
	// Subscribe returns a channel of payloads, and a cancel function that
	// unsubscribes and closes the channel.
	Subscribe(topic string) (<-chan []byte, func())
}

// Size of each subscriber's buffer. If a subscriber falls this far behind,
// we drop payloads to it rather than stall the publisher.
const subscriberBufferSize = 64

type subscriber struct {
	ch chan []byte
}

// MemBus is an in-process Bus.
type MemBus struct {
	log    logs.Log
	lock   sync.Mutex
	topics map[string][]*subscriber
}

func NewMemBus(logger logs.Log) *MemBus {
	return &MemBus{
		log:    logs.NewPrefixLogger(logger, "MemBus"),
		topics: map[string][]*subscriber{},
	}
}

func (b *MemBus) Publish(topic string, payload []byte) error {
	// We hold the lock for the whole delivery. Sends are non-blocking, so
	// this can't stall, and it means cancel() can never close a channel
	// while a send to it is in flight.
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, s := range b.topics[topic] {
		select {
		case s.ch <- payload:
		default:
			b.log.Warnf("Dropping payload on topic '%v': subscriber too slow", topic)
		}
	}
	return nil
}

func (b *MemBus) Subscribe(topic string) (<-chan []byte, func()) {
	s := &subscriber{
		ch: make(chan []byte, subscriberBufferSize),
	}
	b.lock.Lock()
	b.topics[topic] = append(b.topics[topic], s)
	b.lock.Unlock()

	cancel := func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		subs := b.topics[topic]
		for i, existing := range subs {
			if existing == s {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return s.ch, cancel
}
