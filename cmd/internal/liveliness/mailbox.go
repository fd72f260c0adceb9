package liveliness

import "sync"

// mailbox delivers snapshots to the observer in order on its own goroutine, so the
// observer never runs under the machine lock and a slow observer never blocks a transition.
type mailbox struct {
	mu     sync.Mutex
	queue  []Snapshot
	closed bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	deliver func(Snapshot)
}

func newMailbox(deliver func(Snapshot)) *mailbox {
	mb := &mailbox{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	mb.wg.Add(1)
	go mb.run()
	return mb
}

func (mb *mailbox) push(s Snapshot) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.queue = append(mb.queue, s)
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox) run() {
	defer mb.wg.Done()
	for {
		select {
		case <-mb.wake:
			mb.drain()
		case <-mb.done:
			mb.drain()
			return
		}
	}
}

func (mb *mailbox) drain() {
	for {
		mb.mu.Lock()
		if len(mb.queue) == 0 {
			mb.mu.Unlock()
			return
		}
		s := mb.queue[0]
		mb.queue[0] = Snapshot{}
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()

		mb.deliver(s)
	}
}

// close stops accepting snapshots, delivers what is queued and waits for the goroutine.
func (mb *mailbox) close() {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.closed = true
	mb.mu.Unlock()

	close(mb.done)
	mb.wg.Wait()
}
