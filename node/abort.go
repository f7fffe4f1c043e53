package node

import (
	"errors"
	"sync"
)

// abortGate is the one-shot abort signal of an in-flight acquisition.
// Listener tasks fire it with a cause; the acquisition task selects on
// its channel between blocking waits. Arm installs a fresh gate for the
// next acquisition.
type abortGate struct {
	mu  sync.Mutex
	ch  chan struct{}
	err error
}

func (g *abortGate) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ch = make(chan struct{})
	g.err = nil
}

// fire closes the gate with the given cause. Only the first cause sticks;
// firing an unarmed gate is a no-op.
func (g *abortGate) fire(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ch == nil || g.err != nil {
		return
	}
	g.err = cause
	close(g.ch)
}

// c returns the gate channel. A nil channel, before the first arm, blocks
// forever in a select.
func (g *abortGate) c() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.ch
}

func (g *abortGate) reason() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return g.err
	}

	return errors.New("acquisition aborted")
}
