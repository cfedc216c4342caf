package pubsub

import (
	"sync"

	"github.com/retailpulse/diagnose/internal/models"
)

const subscriberBuffer = 64

// Broker fans step events out to live stream subscribers, keyed by session
// id. Slow subscribers drop events rather than block the pipeline; the SSE
// handler recovers by replaying the persisted event log. The broker holds no
// state for sessions without subscribers: terminal state lives in the session
// record, and callers subscribing after a run ended re-derive it from there.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs map[chan models.StepEvent]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscribe registers for a session's live events. The returned channel is
// closed when the session's stream is closed or cancel is called.
func (b *Broker) Subscribe(sessionID string) (events <-chan models.StepEvent, cancel func()) {
	ch := make(chan models.StepEvent, subscriberBuffer)

	b.mu.Lock()
	t, ok := b.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[chan models.StepEvent]struct{})}
		b.topics[sessionID] = t
	}
	t.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			t, ok := b.topics[sessionID]
			if !ok {
				// Close already tore the topic down and closed ch.
				return
			}
			if _, subscribed := t.subs[ch]; !subscribed {
				return
			}
			delete(t.subs, ch)
			close(ch)
			if len(t.subs) == 0 {
				delete(b.topics, sessionID)
			}
		})
	}
}

// Publish delivers an event to every current subscriber of the session.
// Events to full subscriber buffers are dropped.
func (b *Broker) Publish(ev models.StepEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[ev.SessionID]
	if !ok {
		return
	}
	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends a session's stream: every subscriber channel closes and the
// topic is removed, so a finished session leaves nothing behind in the
// broker.
func (b *Broker) Close(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sessionID]
	if !ok {
		return
	}
	for ch := range t.subs {
		close(ch)
	}
	delete(b.topics, sessionID)
}
