package fiber

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	goerrors "github.com/go-errors/errors"
)

var errCoroutineExited = errors.New("coroutine exited")

// coroutine runs a function on its own goroutine, handing control back and forth with
// the caller. Only one side runs at any time.
type coroutine struct {
	blocking   chan bool // coroutine is going to be blocked
	unblock    chan bool // channel to unblock blocked coroutine
	blocked    atomic.Bool
	finished   atomic.Bool
	shouldExit atomic.Bool

	err error
}

func newCoroutine(fn func() error) *coroutine {
	c := &coroutine{
		blocking: make(chan bool, 1),
		unblock:  make(chan bool),
	}

	// Start out as blocked
	c.blocked.Store(true)

	go func() {
		defer c.finish() // Ensure we always mark the coroutine as finished
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					if errors.Is(err, errCoroutineExited) {
						return
					}

					if errors.Is(err, ErrNonDeterministic) {
						c.err = err
						return
					}
				}

				c.err = &PanicError{
					Message: fmt.Sprintf("flow panicked: %v", r),
					Stack:   string(goerrors.Wrap(r, 2).Stack()),
				}
			}
		}()

		// yield before the first execution
		c.wait()

		c.err = fn()
	}()

	return c
}

func (c *coroutine) finish() {
	c.finished.Store(true)
	c.blocking <- true
}

func (c *coroutine) Finished() bool {
	return c.finished.Load()
}

func (c *coroutine) Blocked() bool {
	return c.blocked.Load()
}

// yield hands control back to the caller of execute and blocks until the next execute.
func (c *coroutine) yield() {
	if c.shouldExit.Load() {
		panic(errCoroutineExited)
	}

	c.blocked.Store(true)
	c.blocking <- true

	c.wait()
}

func (c *coroutine) wait() {
	<-c.unblock

	if c.shouldExit.Load() {
		// Goexit runs all deferred functions, which marks the coroutine as finished
		runtime.Goexit()
	}

	c.blocked.Store(false)
}

// execute continues a blocked coroutine and waits until it is finished or blocked again.
func (c *coroutine) execute() {
	if c.Finished() {
		return
	}

	c.unblock <- true

	// Run until blocked (which is also true when finished)
	<-c.blocking
}

// exit stops a blocked coroutine. The coroutine goroutine ends before exit returns.
func (c *coroutine) exit() {
	if c.Finished() {
		return
	}

	c.shouldExit.Store(true)
	c.execute()
}

// interrupt marks a running coroutine to exit the next time it yields. It does not wait.
func (c *coroutine) interrupt() {
	c.shouldExit.Store(true)
}

func (c *coroutine) Error() error {
	return c.err
}

// PanicError is the failure reported for a flow that panicked.
type PanicError struct {
	Message string
	Stack   string
}

func (pe *PanicError) Error() string {
	return pe.Message
}
