package queue

import (
	"sync"

	"github.com/ibeckermayer/profilepulse/internal/metrics"
)

const progressBuffer = 256

// Progress is a job's status line sink. Send never blocks: when the consumer
// falls behind, messages beyond the buffer are dropped.
type Progress struct {
	mu      sync.Mutex
	ch      chan string
	closed  bool
	dropped int
}

func newProgress(size int) *Progress {
	return &Progress{ch: make(chan string, size)}
}

// Send queues a message for the consumer
func (p *Progress) Send(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case p.ch <- msg:
	default:
		p.dropped++
		metrics.ProgressDropped.Inc()
	}
}

// Dropped reports how many messages did not fit the buffer
func (p *Progress) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Progress) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
