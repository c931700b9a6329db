package ws

import (
	"context"
	"sync"

	"github.com/HsiangNianian/cumo/internal/protocol"
)

// Outbox is an unbounded FIFO of encoded frames. Any number of goroutines
// may Push; exactly one goroutine may Pop.
type Outbox struct {
	mu     sync.Mutex
	items  []protocol.Frame
	notify chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{notify: make(chan struct{}, 1)}
}

func (o *Outbox) Push(f protocol.Frame) {
	o.mu.Lock()
	o.items = append(o.items, f)
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a frame is available or ctx is done.
func (o *Outbox) Pop(ctx context.Context) (protocol.Frame, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			f := o.items[0]
			o.items[0] = protocol.Frame{}
			o.items = o.items[1:]
			o.mu.Unlock()
			return f, nil
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return protocol.Frame{}, ctx.Err()
		case <-o.notify:
		}
	}
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
