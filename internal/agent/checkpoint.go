package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is returned by Checkpoint.Wait after Abort.
var ErrAborted = errors.New("execution aborted")

// Checkpoint is the cooperative pause point polled between steps. The zero
// value is ready to use; a nil *Checkpoint only honours ctx.
type Checkpoint struct {
	mu      sync.Mutex
	paused  bool
	aborted bool
	resume  chan struct{}
}

func NewCheckpoint() *Checkpoint { return &Checkpoint{} }

func (c *Checkpoint) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.aborted {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
}

func (c *Checkpoint) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
}

// Abort makes every later Wait fail, including ones blocked in a pause.
func (c *Checkpoint) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	c.release()
}

// Reset clears pause and abort for the next run.
func (c *Checkpoint) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
	c.aborted = false
}

// release must be called with mu held.
func (c *Checkpoint) release() {
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

func (c *Checkpoint) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Wait blocks while paused. It returns ErrAborted after Abort and ctx.Err()
// when ctx ends first.
func (c *Checkpoint) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		c.mu.Lock()
		if c.aborted {
			c.mu.Unlock()
			return ErrAborted
		}
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		ch := c.resume
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
