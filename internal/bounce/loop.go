package bounce

import "sync"

// loop runs posted tasks one at a time, in order, on a single goroutine
type loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	running bool
	wake    chan struct{}
	done    chan struct{}
}

func newLoop() *loop {
	return &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post queues fn, reporting false once the loop is closed
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// start launches the loop goroutine
func (l *loop) start() {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	go l.run()
}

func (l *loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.mu.Unlock()

		fn()
	}
}

// close stops accepting tasks and waits for the queue to drain
func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		running := l.running
		l.mu.Unlock()
		if running {
			<-l.done
		}
		return
	}
	l.closed = true
	running := l.running
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	if running {
		<-l.done
	}
}
