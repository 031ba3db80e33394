package table

import "sync"

// UpdateSender is the RIB's write side of one peer's unbounded outbound
// channel: the RIB (under its lock) pushes TableUpdates; the peer's session
// task drains them via C(). Built as a mutex-guarded queue feeding a
// single-slot relay channel, so a slow receiver never blocks the pusher —
// the queue simply grows (spec §4.2's "never block on slow receivers").
type UpdateSender struct {
	mu     sync.Mutex
	buf    []*TableUpdate
	notify chan struct{}
	out    chan *TableUpdate
	done   chan struct{}
	closed bool
}

func newUpdateSender() *UpdateSender {
	s := &UpdateSender{
		notify: make(chan struct{}, 1),
		out:    make(chan *TableUpdate),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues u without blocking, regardless of queue depth.
func (s *UpdateSender) Send(u *TableUpdate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, u)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// C returns the channel a session task selects on to receive broadcasted
// updates in FIFO order.
func (s *UpdateSender) C() <-chan *TableUpdate { return s.out }

// Close stops the relay goroutine. Safe to call once per UpdateSender, at
// session teardown.
func (s *UpdateSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

func (s *UpdateSender) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.closed {
			// Close has run: drop whatever is still buffered.
			s.mu.Unlock()
			return
		}
		if len(s.buf) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		item := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()

		// By teardown time the session task has already stopped draining
		// C(); without the done case this send would block forever on
		// whatever was still buffered, leaking this goroutine.
		select {
		case s.out <- item:
		case <-s.done:
			return
		}
	}
}
