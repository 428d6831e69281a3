// Package mux correlates outgoing commands with their (possibly multi-part)
// results over a single session.Session: an atomic id
// counter, one receive loop owning the socket, and a shared pending-result
// slice behind a mutex and condition variable that callers block on until
// their id's result arrives or the session is cancelled.
package mux

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldroot-labs/barc/internal/barcerr"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/wire"
)

// ResultHandler receives each result line for a pending command as it
// arrives. Multi-part results (Completed == false) may be delivered more
// than once; the final call always has Completed == true. Returning an
// error aborts waiting for that command and propagates to Execute/Wait.
type ResultHandler func(res *wire.Result) error

// pending tracks one in-flight command in the mux's owned slice.
type pending struct {
	id        uint64
	handler   ResultHandler
	done      bool
	err       error
}

// Mux owns the read loop of one session.Session and dispatches incoming
// result lines to whichever caller issued the matching command id. It also
// hands off incoming command lines (master receiving client commands, or
// slave receiving master commands) to an optional command handler.
type Mux struct {
	sess *session.Session

	nextID uint64

	mu         sync.Mutex
	resultCond *sync.Cond
	pending    []*pending
	closed     bool
	closeErr   error

	// onCommand is invoked for every incoming line classified as a
	// command (slave and interactive-client directions).
	// Nil means this side never receives commands (a pure client).
	onCommand func(cmd *wire.Command)
}

// New wraps sess with a Mux. If onCommand is non-nil the mux also
// dispatches incoming command lines (as opposed to result lines) to it —
// used on the slave and interactive-server sides of the protocol.
func New(sess *session.Session, onCommand func(cmd *wire.Command)) *Mux {
	m := &Mux{sess: sess, onCommand: onCommand}
	m.resultCond = sync.NewCond(&m.mu)
	return m
}

// Run drives the read loop until the session disconnects or stop is
// closed. It must run in its own goroutine — the single receive
// thread that owns the socket.
func (m *Mux) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			m.shutdown(barcerr.New(barcerr.CodeDisconnected, "mux stopped"))
			return nil
		default:
		}

		line, err := m.sess.ReadLine(time.Now().Add(250 * time.Millisecond))
		if err != nil {
			if barcerr.Has(err, barcerr.CodeNetworkTimeoutReceive) {
				continue
			}
			m.shutdown(err)
			return err
		}
		if line == "" {
			continue
		}
		m.dispatch(line)
	}
}

func (m *Mux) dispatch(line string) {
	switch wire.Classify(line) {
	case wire.LineResult:
		res, err := wire.ParseResult(line)
		if err != nil {
			return
		}
		m.deliver(res)
	case wire.LineCommand:
		cmd, err := wire.ParseCommand(line)
		if err != nil {
			return
		}
		if m.onCommand != nil {
			m.onCommand(cmd)
		}
	default:
		// Greetings and unclassifiable lines outside the handshake are
		// silently dropped, matching server_io.c's tolerance of stray
		// lines rather than tearing down the session.
	}
}

func (m *Mux) findLocked(id uint64) *pending {
	for _, p := range m.pending {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (m *Mux) removeLocked(id uint64) {
	for i, p := range m.pending {
		if p.id == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Mux) deliver(res *wire.Result) {
	m.mu.Lock()
	p := m.findLocked(res.ID)
	if p == nil {
		m.mu.Unlock()
		return
	}
	handler := p.handler
	m.mu.Unlock()
	var err error
	if handler != nil {
		err = handler(res)
	}

	if !res.Completed && err == nil {
		return
	}

	m.mu.Lock()
	p.done = true
	p.err = err
	m.resultCond.Broadcast()
	m.mu.Unlock()
}

// NextID returns the next command id, monotonically increasing for the
// lifetime of the mux.
func (m *Mux) NextID() uint64 {
	return atomic.AddUint64(&m.nextID, 1)
}

// Send writes cmd and registers handler to receive its results, without
// blocking for completion. Use Wait to block for the terminal result, or
// Execute to do both in one call.
func (m *Mux) Send(cmd *wire.Command, handler ResultHandler) error {
	m.mu.Lock()
	if m.closed {
		err := m.closeErr
		m.mu.Unlock()
		return err
	}
	m.pending = append(m.pending, &pending{id: cmd.ID, handler: handler})
	m.mu.Unlock()
	if err := m.sess.WriteLine(cmd.Encode()); err != nil {
		m.mu.Lock()
		m.removeLocked(cmd.ID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Wait blocks until cmd's terminal result has been delivered to its
// handler, the session is closed, or timeout elapses (zero means no
// timeout).
func (m *Mux) Wait(id uint64, timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.findLocked(id)
	if p == nil {
		return barcerr.New(barcerr.CodeInvalidResponse, "no pending command with id %d", id)
	}

	for !p.done && !m.closed {
		if deadline.IsZero() {
			m.resultCond.Wait()
			continue
		}
		if time.Now().After(deadline) {
			m.removeLocked(id)
			return barcerr.New(barcerr.CodeNetworkTimeoutReceive, "timed out waiting for result of command %d", id)
		}
		// sync.Cond has no timed wait; poll on the remaining slice of the
		// deadline by releasing and reacquiring the lock periodically.
		m.mu.Unlock()
		time.Sleep(minDuration(25*time.Millisecond, time.Until(deadline)))
		m.mu.Lock()
	}

	if m.closed && !p.done {
		return m.closeErr
	}
	m.removeLocked(id)
	return p.err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	if b < 0 {
		return 0
	}
	return b
}

// Execute sends a command built from name and args, streams every result
// to handler, and blocks until the terminal result or timeout. It is the
// common case: fire a command, collect its output.
func (m *Mux) Execute(name string, args *wire.Args, handler ResultHandler, timeout time.Duration) error {
	cmd := &wire.Command{ID: m.NextID(), Name: name, Args: args}
	if err := m.Send(cmd, handler); err != nil {
		return err
	}
	return m.Wait(cmd.ID, timeout)
}

// Reply sends a result line for an incoming command id — used by the side
// that handles incoming commands (slave, interactive server).
func (m *Mux) Reply(id uint64, completed bool, errorCode uint64, args *wire.Args) error {
	res := &wire.Result{ID: id, Completed: completed, ErrorCode: errorCode, Args: args}
	return m.sess.WriteLine(res.Encode())
}

// shutdown marks the mux closed and wakes every waiter so pending commands
// fail instead of hanging, matching the session's disconnect contract.
func (m *Mux) shutdown(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = err
	m.resultCond.Broadcast()
	m.mu.Unlock()
}

// Closed reports whether the mux has shut down its read loop.
func (m *Mux) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
