package stream

import (
	"sync"

	"github.com/fwojciec/paystream"
)

// notifier delivers state snapshots to observers on its own goroutine,
// through an unbounded FIFO queue, so publishers never block on observers.
type notifier struct {
	mu     sync.Mutex
	queue  []paystream.State
	subs   []subscriber
	nextID int
	closed bool
	wake   chan struct{}
}

type subscriber struct {
	id int
	fn func(paystream.State)
}

func newNotifier() *notifier {
	n := &notifier{wake: make(chan struct{}, 1)}
	go n.run()
	return n
}

func (n *notifier) subscribe(fn func(paystream.State)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) publish(s paystream.State) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, s)
	n.mu.Unlock()
	n.signal()
}

// close stops delivery after the snapshots already queued.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	for {
		n.mu.Lock()
		for len(n.queue) == 0 {
			if n.closed {
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			<-n.wake
			n.mu.Lock()
		}
		s := n.queue[0]
		n.queue = n.queue[1:]
		subs := make([]subscriber, len(n.subs))
		copy(subs, n.subs)
		n.mu.Unlock()

		for _, sub := range subs {
			sub.fn(s)
		}
	}
}
