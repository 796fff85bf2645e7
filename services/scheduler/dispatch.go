package scheduler

import "sync"

// dispatcher runs posted writes one at a time in post order on a
// background goroutine. The goroutine exits when the backlog is empty and
// is started again by the next post.
type dispatcher struct {
	mu      sync.Mutex
	backlog []func()
	running bool
	idle    chan struct{}
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backlog = append(d.backlog, fn)
	if d.running {
		return
	}
	d.running = true
	d.idle = make(chan struct{})
	go d.drain(d.idle)
}

func (d *dispatcher) drain(idle chan struct{}) {
	for {
		d.mu.Lock()
		if len(d.backlog) == 0 {
			d.running = false
			d.mu.Unlock()
			close(idle)
			return
		}
		fn := d.backlog[0]
		d.backlog[0] = nil
		d.backlog = d.backlog[1:]
		d.mu.Unlock()
		fn()
	}
}

// wait blocks until everything posted so far has run.
func (d *dispatcher) wait() {
	d.mu.Lock()
	idle, running := d.idle, d.running
	d.mu.Unlock()
	if running {
		<-idle
	}
}
