// broker/broker.go
package broker

import (
	"sync"

	"github.com/rs/zerolog"
)

const defaultBuffer = 64

// Broker fans messages out to every subscriber of a topic. Publishing never
// blocks; a subscriber whose buffer is full is closed and removed, so it
// resubscribes instead of missing messages silently.
type Broker struct {
	subscribers map[string][]chan interface{}
	buffer      int
	mu          sync.RWMutex
	logger      zerolog.Logger
}

func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		subscribers: make(map[string][]chan interface{}),
		buffer:      defaultBuffer,
		logger:      logger,
	}
}

func (b *Broker) Subscribe(topic string) <-chan interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan interface{}, b.buffer)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch <-chan interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if chans, ok := b.subscribers[topic]; ok {
		for i, c := range chans {
			if c == ch {
				b.subscribers[topic] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(b.subscribers[topic]) == 0 {
			delete(b.subscribers, topic)
		}
	}
}

// Publish returns the number of subscribers the message was delivered to.
func (b *Broker) Publish(topic string, msg interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans := b.subscribers[topic]
	kept := chans[:0]
	delivered := 0
	for _, ch := range chans {
		select {
		case ch <- msg:
			delivered++
			kept = append(kept, ch)
		default:
			b.logger.Warn().Str("topic", topic).Msg("Subscriber buffer full, closing subscriber")
			close(ch)
		}
	}
	if len(kept) < len(chans) {
		for i := len(kept); i < len(chans); i++ {
			chans[i] = nil
		}
		if len(kept) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = kept
		}
	}
	return delivered
}

func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
