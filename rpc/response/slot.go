package response

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("response")

var (
	// ErrWrongSlotMode is returned when an operation of the other delivery mode is used
	ErrWrongSlotMode = errors.New("operation not supported by the slot's delivery mode")
	// ErrSlotCompleted is returned when a slot that already reached a terminal status is signaled again
	ErrSlotCompleted = errors.New("slot already completed")
)

// --------------------------------------------------------------------------
// Status / Mode
// --------------------------------------------------------------------------

// Status is the state of a single in-flight request
type Status int

const (
	StatusWaiting Status = iota
	// StatusOk means the reply was delivered to a blocking waiter
	StatusOk
	// StatusPushed means the reply was delivered to the callback
	StatusPushed
	// StatusResend means the request must be transmitted again, not terminal
	StatusResend
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusOk:
		return "Ok"
	case StatusPushed:
		return "Pushed"
	case StatusResend:
		return "Resend"
	case StatusDisconnected:
		return "Disconnected"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s != StatusWaiting && s != StatusResend
}

// NotWaiting is the predicate most callers pass to Await
func NotWaiting(s Status) bool {
	return s != StatusWaiting
}

// Mode selects how the reply of a slot is delivered
type Mode int

const (
	// ModeBlocking delivers to a goroutine blocked in Await
	ModeBlocking Mode = iota
	// ModeCallback delivers to a callback, nobody waits
	ModeCallback
)

func (m Mode) String() string {
	if m == ModeCallback {
		return "callback"
	}
	return "blocking"
}

// Callback receives the reply of a callback slot. It is called exactly once,
// either with the reply or with the error that ended the request. Both are
// nil if the request was dropped under an Ignore resend policy.
type Callback func(reply *common.Message, err error)

// --------------------------------------------------------------------------
// Slot
// --------------------------------------------------------------------------

// Slot correlates one outstanding request with its eventual reply.
//
// Waiters block on a notification channel that is closed and replaced on
// every status change, so only the waiters of this slot are woken.
type Slot struct {
	requestID uint64
	request   *common.Message
	mode      Mode
	callback  Callback

	mu      sync.Mutex
	status  Status
	reply   *common.Message
	err     error
	changed chan struct{}
	fired   bool
	// generation of the link the request was last written on (0: never)
	sentOn uint64
}

// NewBlocking creates a slot whose reply is picked up with Await
func NewBlocking(requestID uint64, request *common.Message) *Slot {
	return &Slot{
		requestID: requestID,
		request:   request,
		mode:      ModeBlocking,
		changed:   make(chan struct{}),
	}
}

// NewCallback creates a slot whose reply is handed to cb
func NewCallback(requestID uint64, request *common.Message, cb Callback) *Slot {
	return &Slot{
		requestID: requestID,
		request:   request,
		mode:      ModeCallback,
		callback:  cb,
		changed:   make(chan struct{}),
	}
}

func (s *Slot) RequestID() uint64 {
	return s.requestID
}

// Request returns the message the slot was created for (used for resends)
func (s *Slot) Request() *common.Message {
	return s.request
}

func (s *Slot) Mode() Mode {
	return s.mode
}

func (s *Slot) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkSent records that the request is about to be written on the link with
// generation gen. It reports false if the request was already written on that
// link or the slot is completed, the caller must not write it then.
func (s *Slot) MarkSent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || s.sentOn == gen {
		return false
	}
	s.sentOn = gen
	return true
}

// Reply returns the delivered reply or nil
func (s *Slot) Reply() *common.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply
}

// Err returns the error a failure status was signaled with
func (s *Slot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// --------------------------------------------------------------------------
// Receive side
// --------------------------------------------------------------------------

// Deliver hands the reply to the slot. A blocking slot moves to Ok and wakes
// its waiters, a callback slot moves to Pushed and invokes the callback.
func (s *Slot) Deliver(reply *common.Message) error {
	status := StatusOk
	if s.mode == ModeCallback {
		status = StatusPushed
	}
	return s.transition(status, reply, nil)
}

// Signal sets status and wakes the waiters of this slot. Ok is only valid for
// blocking slots and Pushed only for callback slots.
func (s *Slot) Signal(status Status) error {
	return s.transition(status, nil, nil)
}

// Fail ends the request with a failure status and the error that caused it
func (s *Slot) Fail(status Status, err error) error {
	return s.transition(status, nil, err)
}

// Reset returns a slot in Resend back to Waiting and clears the reply
func (s *Slot) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return ErrSlotCompleted
	}
	s.reply = nil
	s.err = nil
	s.status = StatusWaiting
	return nil
}

func (s *Slot) transition(status Status, reply *common.Message, err error) error {
	switch {
	case status == StatusWaiting:
		return s.Reset()
	case status == StatusOk && s.mode != ModeBlocking:
		return ErrWrongSlotMode
	case status == StatusPushed && s.mode != ModeCallback:
		return ErrWrongSlotMode
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ErrSlotCompleted
	}
	s.status = status
	s.reply = reply
	s.err = err

	// wake everybody blocked on this slot and arm a fresh channel for the next change
	close(s.changed)
	s.changed = make(chan struct{})

	fire := s.mode == ModeCallback && status.Terminal() && !s.fired
	if fire {
		s.fired = true
	}
	s.mu.Unlock()

	if fire && s.callback != nil {
		s.callback(reply, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Wait side
// --------------------------------------------------------------------------

// Await blocks until the status satisfies predicate or ctx is done. A done ctx
// yields common.ErrRequestTimeout (deadline) or common.ErrInterrupted (cancel).
func (s *Slot) Await(ctx context.Context, predicate func(Status) bool) (Status, error) {
	if s.mode != ModeBlocking {
		return StatusWaiting, ErrWrongSlotMode
	}

	for {
		s.mu.Lock()
		status := s.status
		changed := s.changed
		s.mu.Unlock()

		if predicate(status) {
			return status, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return status, common.WaitError(ctx, "awaiting reply")
		}
	}
}
