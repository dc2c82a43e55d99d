package packet

import (
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents a client session's protocol phase.
type SessionState int

const (
	StateConnected     SessionState = iota // connected, migrate-in pending
	StateInWorld                           // playing
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateInWorld:
		return "InWorld"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers. The
// session pointer is passed as an opaque interface to avoid import
// cycles with the net package.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps operation tags to handlers with state-based access
// control.
type Registry struct {
	handlers map[uint16]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[uint16]*handlerEntry),
		log:      log,
	}
}

// Register maps an op tag to a handler, restricted to the given
// session states.
func (reg *Registry) Register(op uint16, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[op] = &handlerEntry{fn: fn, allowedStates: allowed}
}

// Dispatch finds the handler for the tag in data[0:2], validates the
// session state, and calls the handler. Unknown tags are ignored; a
// tag arriving in a disallowed state is an error the caller converts
// into a disconnect.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("truncated packet (%d bytes)", len(data))
	}
	r := NewReader(data)
	op := r.Op()

	entry, ok := reg.handlers[op]
	if !ok {
		reg.log.Debug("unhandled op",
			zap.Uint16("op", op),
			zap.String("state", state.String()),
		)
		return nil
	}
	if !entry.allowedStates[state] {
		return fmt.Errorf("op 0x%04X not allowed in state %s", op, state)
	}
	return reg.safeCall(entry.fn, sess, r, op)
}

// safeCall executes a handler with panic recovery so one bad packet
// cannot take down the session's read goroutine.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, r *Reader, op uint16) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Uint16("op", op),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("handler panic for op 0x%04X: %v", op, rec)
		}
	}()
	fn(sess, r)
	return nil
}
