package session

import (
	"context"
	"sync"

	"github.com/HsiangNianian/cumo/internal/protocol"
)

// eventQueue buffers events between the dispatcher and the handler
// goroutine so a slow handler never stalls reply delivery.
type eventQueue struct {
	mu     sync.Mutex
	items  []*protocol.ClientCommand
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(cmd *protocol.ClientCommand) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop(ctx context.Context, done <-chan struct{}) (*protocol.ClientCommand, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-done:
			return nil, false
		case <-q.notify:
		}
	}
}
