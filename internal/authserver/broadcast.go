package authserver

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/barsnet/stopbars/internal/wire"
)

// broadcaster fans a per-aerodrome stream of envelopes out to every
// subscribed connection. Each subscriber channel is bounded at
// busCapacity; a slow reader's overflow is logged and dropped rather
// than blocking the publisher or disconnecting the subscriber.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan wire.Envelope]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan wire.Envelope]struct{})}
}

func (b *broadcaster) subscribe() chan wire.Envelope {
	ch := make(chan wire.Envelope, busCapacity)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan wire.Envelope) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *broadcaster) publish(msgType string, payload any, logger *zap.Logger) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("authserver: failed to marshal broadcast payload", zap.Error(err))
		return
	}
	env := wire.Envelope{Type: msgType, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			logger.Warn("authserver: broadcast bus overflow, dropping message for a slow subscriber",
				zap.String("type", msgType))
		}
	}
}
